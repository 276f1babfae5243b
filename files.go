package main

import (
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/disiqueira/gotree/v3"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/mega-go/pkg/mega"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a folder",
		Long: `List the children of a remote folder. Without a path, lists the
account roots (/Root, /Inbox, /Trash) and contacts with shared folders.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLs,
	}

	cmd.Flags().BoolP("recursive", "r", false, "list the whole subtree")

	return cmd
}

func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree [path]",
		Short: "Show a folder as a tree",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTree,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show details of a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newMkdirCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}

	cmd.Flags().BoolP("parents", "p", false, "create missing parent folders")

	return cmd
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Move or rename a file or folder",
		Long: `Move src into dst when dst is an existing folder, otherwise move and
rename src to the path dst.`,
		Args: cobra.ExactArgs(2),
		RunE: runMv,
	}
}

func newRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <path> <new-name>",
		Short: "Rename a file or folder in place",
		Args:  cobra.ExactArgs(2),
		RunE:  runRename,
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Move to trash, or delete permanently if already in trash",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}
}

func newQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show storage usage",
		Args:  cobra.NoArgs,
		RunE:  runQuota,
	}
}

// cleanRemotePath makes a user-supplied remote path absolute.
func cleanRemotePath(p string) string {
	if p == "" || p == "/" {
		return "/"
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return strings.TrimSuffix(p, "/")
}

func runLs(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	remote := "/"
	if len(args) > 0 {
		remote = cleanRemotePath(args[0])
	}

	recursive, err := cmd.Flags().GetBool("recursive")
	if err != nil {
		return err
	}

	s, err := cc.Session(cmd.Context())
	if err != nil {
		return err
	}

	cc.Logger.Debug("ls", slog.String("path", remote), slog.Bool("recursive", recursive))

	nodes, err := s.List(remote, recursive)
	if err != nil {
		return fmt.Errorf("listing %q: %w", remote, err)
	}

	tree := s.Tree()

	if cc.Flags.JSON {
		return printNodesJSON(cmd.OutOrStdout(), nodes, tree.PathOf)
	}

	printNodesTable(cmd.OutOrStdout(), nodes, recursive, tree.PathOf)

	return nil
}

// nodeJSON is the JSON output schema for a node.
type nodeJSON struct {
	Name       string `json:"name"`
	Path       string `json:"path,omitempty"`
	Handle     string `json:"handle"`
	Kind       string `json:"kind"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at,omitempty"`
	Public     bool   `json:"public,omitempty"`
	Shared     bool   `json:"shared,omitempty"`
}

func toNodeJSON(n *mega.Node, pathOf func(string) string) nodeJSON {
	out := nodeJSON{
		Name:   n.Name,
		Handle: n.Handle,
		Kind:   n.Kind.String(),
		Size:   n.Size,
		Public: n.PublicHandle != "",
		Shared: n.ShareKey != nil,
	}

	if pathOf != nil {
		out.Path = pathOf(n.Handle)
	}

	if !n.Timestamp.IsZero() {
		out.ModifiedAt = n.Timestamp.UTC().Format("2006-01-02T15:04:05Z")
	}

	return out
}

func printNodesJSON(w io.Writer, nodes []*mega.Node, pathOf func(string) string) error {
	out := make([]nodeJSON, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toNodeJSON(n, pathOf))
	}

	return printJSON(w, out)
}

func printNodesTable(w io.Writer, nodes []*mega.Node, fullPaths bool, pathOf func(string) string) {
	if !fullPaths {
		// Folders first, then alphabetical.
		sort.SliceStable(nodes, func(i, j int) bool {
			if nodes[i].IsFolder() != nodes[j].IsFolder() {
				return nodes[i].IsFolder()
			}

			return nodes[i].Name < nodes[j].Name
		})
	}

	headers := []string{"NAME", "SIZE", "MODIFIED", "HANDLE"}
	rows := make([][]string, 0, len(nodes))

	for _, n := range nodes {
		name := n.Name
		if fullPaths && pathOf != nil {
			name = pathOf(n.Handle)
		}

		size := formatSize(n.Size)
		if n.IsFolder() {
			name += "/"
			size = "-"
		}

		rows = append(rows, []string{name, size, formatTime(n.Timestamp), n.Handle})
	}

	printTable(w, headers, rows)
}

func runTree(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	remote := "/Root"
	if len(args) > 0 {
		remote = cleanRemotePath(args[0])
	}

	s, err := cc.Session(cmd.Context())
	if err != nil {
		return err
	}

	tree := s.Tree()

	n := tree.Stat(remote)
	if n == nil {
		return fmt.Errorf("%w: %s", mega.ErrNotFound, remote)
	}

	fmt.Fprint(cmd.OutOrStdout(), renderTree(n, tree.Children))

	return nil
}

// renderTree draws the subtree under root.
func renderTree(root *mega.Node, children func(handle string) []*mega.Node) string {
	t := gotree.New(treeLabel(root))
	addSubtree(t, root, children)

	return t.Print()
}

func addSubtree(parent gotree.Tree, n *mega.Node, children func(string) []*mega.Node) {
	for _, c := range children(n.Handle) {
		child := parent.Add(treeLabel(c))
		if c.IsFolder() {
			addSubtree(child, c, children)
		}
	}
}

func treeLabel(n *mega.Node) string {
	if n.IsFolder() {
		return n.Name + "/"
	}

	return fmt.Sprintf("%s (%s)", n.Name, formatSize(n.Size))
}

func runStat(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	remote := cleanRemotePath(args[0])

	s, err := cc.Session(cmd.Context())
	if err != nil {
		return err
	}

	n := s.Stat(remote)
	if n == nil {
		return fmt.Errorf("%w: %s", mega.ErrNotFound, remote)
	}

	return printNode(cmd.OutOrStdout(), n, s.Tree().PathOf, cc.Flags.JSON)
}

func printNode(w io.Writer, n *mega.Node, pathOf func(string) string, asJSON bool) error {
	out := toNodeJSON(n, pathOf)

	if asJSON {
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "Name:     %s\n", out.Name)
	fmt.Fprintf(w, "Path:     %s\n", out.Path)
	fmt.Fprintf(w, "Kind:     %s\n", out.Kind)
	fmt.Fprintf(w, "Handle:   %s\n", out.Handle)

	if n.IsFile() {
		fmt.Fprintf(w, "Size:     %s (%d bytes)\n", formatSize(n.Size), n.Size)
	}

	if out.ModifiedAt != "" {
		fmt.Fprintf(w, "Modified: %s\n", out.ModifiedAt)
	}

	if out.Public {
		fmt.Fprintf(w, "Public:   yes\n")
	}

	return nil
}

func runMkdir(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	remote := cleanRemotePath(args[0])

	parents, err := cmd.Flags().GetBool("parents")
	if err != nil {
		return err
	}

	s, err := cc.Session(ctx)
	if err != nil {
		return err
	}

	if !parents {
		if _, err := s.Mkdir(ctx, remote); err != nil {
			return err
		}

		cc.Statusf("Created %s\n", remote)

		return nil
	}

	// Walk down from the top, creating whatever is missing.
	segs := strings.Split(strings.TrimPrefix(remote, "/"), "/")
	cur := ""

	for _, seg := range segs {
		cur += "/" + seg

		if n := s.Stat(cur); n != nil {
			if !n.IsFolder() {
				return fmt.Errorf("%w: %s is a file", mega.ErrConflict, cur)
			}

			continue
		}

		if _, err := s.Mkdir(ctx, cur); err != nil {
			return err
		}

		cc.Statusf("Created %s\n", cur)
	}

	return nil
}

func runMv(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	src, dst := cleanRemotePath(args[0]), cleanRemotePath(args[1])

	s, err := cc.Session(ctx)
	if err != nil {
		return err
	}

	if err := s.Mv(ctx, src, dst); err != nil {
		return err
	}

	cc.Statusf("Moved %s to %s\n", src, dst)

	return nil
}

func runRename(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	remote := cleanRemotePath(args[0])

	s, err := cc.Session(ctx)
	if err != nil {
		return err
	}

	if err := s.Rename(ctx, remote, args[1]); err != nil {
		return err
	}

	cc.Statusf("Renamed %s to %s\n", remote, path.Join(path.Dir(remote), args[1]))

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	remote := cleanRemotePath(args[0])

	s, err := cc.Session(ctx)
	if err != nil {
		return err
	}

	inTrash := strings.HasPrefix(remote+"/", "/Trash/")

	if err := s.Rm(ctx, remote); err != nil {
		return err
	}

	if inTrash {
		cc.Statusf("Deleted %s\n", remote)
	} else {
		cc.Statusf("Moved %s to trash\n", remote)
	}

	return nil
}

// quotaJSON is the JSON output schema for quota.
type quotaJSON struct {
	Total int64 `json:"total"`
	Used  int64 `json:"used"`
}

func runQuota(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	s, err := cc.Session(ctx)
	if err != nil {
		return err
	}

	q, err := s.Quota(ctx)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), quotaJSON(q))
	}

	pct := 0.0
	if q.Total > 0 {
		pct = float64(q.Used) * 100 / float64(q.Total)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Used %s of %s (%.1f%%)\n", formatSize(q.Used), formatSize(q.Total), pct)

	return nil
}
