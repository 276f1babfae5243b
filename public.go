package main

import (
	"context"
	"fmt"
	"path"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mega-go/pkg/mega"
)

// The public commands never touch the session file.
func newPublicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "public",
		Short: "Read public file and folder links without logging in",
	}

	cmd.AddCommand(newPublicInfoCmd(), newPublicLsCmd(), newPublicGetCmd())

	return cmd
}

func newPublicInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <url>",
		Short: "Show the name and size behind a link",
		Args:  cobra.ExactArgs(1),
		RunE:  runPublicInfo,
	}
}

func newPublicLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls <folder-url> [path]",
		Short: "List a public folder",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runPublicLs,
	}

	cmd.Flags().BoolP("recursive", "r", false, "list the whole subtree")

	return cmd
}

func newPublicGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <url> [path] [local]",
		Short: "Download from a public link",
		Long: `Download the file behind a file link, or a file inside a folder link.

  mega-go public get <file-url> [local]
  mega-go public get <folder-url> <path> [local]`,
		Args: cobra.RangeArgs(1, 3),
		RunE: runPublicGet,
	}
}

// publicInfoJSON is the JSON output schema for public info.
type publicInfoJSON struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Handle string `json:"handle"`
	Size   int64  `json:"size"`
	Files  int    `json:"files,omitempty"`
}

func runPublicInfo(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	link, err := mega.ParsePublicURL(args[0])
	if err != nil {
		return err
	}

	var out publicInfoJSON

	if link.Folder {
		f, err := mega.OpenFolder(ctx, args[0], cc.MegaConfig(ctx))
		if err != nil {
			return err
		}

		nodes, err := f.List("/", true)
		if err != nil {
			return err
		}

		out = publicInfoJSON{Kind: "folder", Name: f.Root().Name, Handle: link.Handle}

		for _, n := range nodes {
			if n.IsFile() {
				out.Files++
				out.Size += n.Size
			}
		}
	} else {
		info, err := mega.GetPublicFileInfo(ctx, args[0], cc.MegaConfig(ctx))
		if err != nil {
			return err
		}

		out = publicInfoJSON{Kind: "file", Name: info.Name, Handle: info.Handle, Size: info.Size}
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Name:   %s\n", out.Name)
	fmt.Fprintf(w, "Kind:   %s\n", out.Kind)
	fmt.Fprintf(w, "Size:   %s (%d bytes)\n", formatSize(out.Size), out.Size)

	if link.Folder {
		fmt.Fprintf(w, "Files:  %d\n", out.Files)
	}

	return nil
}

func runPublicLs(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	remote := "/"
	if len(args) > 1 {
		remote = cleanRemotePath(args[1])
	}

	recursive, err := cmd.Flags().GetBool("recursive")
	if err != nil {
		return err
	}

	f, err := mega.OpenFolder(ctx, args[0], cc.MegaConfig(ctx))
	if err != nil {
		return err
	}

	nodes, err := f.List(remote, recursive)
	if err != nil {
		return fmt.Errorf("listing %q: %w", remote, err)
	}

	if cc.Flags.JSON {
		return printNodesJSON(cmd.OutOrStdout(), nodes, f.PathOf)
	}

	printNodesTable(cmd.OutOrStdout(), nodes, recursive, f.PathOf)

	return nil
}

func runPublicGet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	link, err := mega.ParsePublicURL(args[0])
	if err != nil {
		return err
	}

	if !link.Folder {
		if len(args) > 2 {
			return fmt.Errorf("%w: a file link takes at most one local path", mega.ErrInvalidArgument)
		}

		local := "."
		if len(args) > 1 {
			local = args[1]
		}

		return publicFileGet(ctx, cc, args[0], local)
	}

	if len(args) < 2 {
		return fmt.Errorf("%w: a folder link needs the path of a file inside it", mega.ErrInvalidArgument)
	}

	remote := cleanRemotePath(args[1])

	local := "."
	if len(args) > 2 {
		local = args[2]
	}

	f, err := mega.OpenFolder(ctx, args[0], cc.MegaConfig(ctx))
	if err != nil {
		return err
	}

	job, err := runJob(ctx, cc, func(ctx context.Context) (*mega.Job, error) {
		return f.StartDownload(ctx, remote, local)
	})
	if err != nil {
		return err
	}

	cc.Statusf("Downloaded %s to %s (%s)\n", path.Base(remote), job.LocalPath, formatSize(job.Size()))

	return nil
}

func publicFileGet(ctx context.Context, cc *CLIContext, rawURL, local string) error {
	cfg := cc.MegaConfig(ctx)

	info, err := mega.GetPublicFileInfo(ctx, rawURL, cfg)
	if err != nil {
		return err
	}

	// File links have no job handle, so a signal cancels the download
	// outright; partial data is kept only when resume is configured.
	watch, stop := context.WithCancel(ctx)
	defer stop()

	sigCtx := shutdownContext(watch, cc.Logger)

	if err := mega.DownloadPublicFile(sigCtx, rawURL, local, cfg); err != nil {
		return err
	}

	cc.Statusf("Downloaded %s (%s)\n", info.Name, formatSize(info.Size))

	return nil
}
