package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mega-go/pkg/mega"
)

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Create a public link",
		Long: `Create (or return the existing) public link for a file or folder.
Anyone holding the link can read the item; the key is in the URL fragment.`,
		Args: cobra.ExactArgs(1),
		RunE: runExport,
	}
}

func newShareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share <path> <email>",
		Short: "Share a folder with another user",
		Args:  cobra.ExactArgs(2),
		RunE:  runShare,
	}

	cmd.Flags().String("access", "read", "access level: read, write or full")

	return cmd
}

func newContactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "List contacts and the folders they share with you",
		Args:  cobra.NoArgs,
		RunE:  runContacts,
	}
}

// exportJSON is the JSON output schema for export.
type exportJSON struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

func runExport(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	remote := cleanRemotePath(args[0])

	s, err := cc.Session(ctx)
	if err != nil {
		return err
	}

	link, err := s.Export(ctx, remote)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), exportJSON{Path: remote, URL: link})
	}

	fmt.Fprintln(cmd.OutOrStdout(), link)

	return nil
}

func runShare(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	remote, email := cleanRemotePath(args[0]), args[1]

	access, err := cmd.Flags().GetString("access")
	if err != nil {
		return err
	}

	level, err := mega.ParseAccessLevel(access)
	if err != nil {
		return err
	}

	s, err := cc.Session(ctx)
	if err != nil {
		return err
	}

	if err := s.ShareFolder(ctx, remote, email, level); err != nil {
		return err
	}

	cc.Statusf("Shared %s with %s (%s access)\n", remote, email, level)

	return nil
}

// contactJSON is the JSON output schema for one contact.
type contactJSON struct {
	Email  string     `json:"email"`
	Handle string     `json:"handle"`
	Shares []shareJSON `json:"shares"`
}

type shareJSON struct {
	Name   string `json:"name"`
	Handle string `json:"handle"`
	Access string `json:"access"`
}

func runContacts(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	s, err := cc.Session(cmd.Context())
	if err != nil {
		return err
	}

	tree := s.Tree()
	contacts := s.ListContacts()
	out := make([]contactJSON, 0, len(contacts))

	for _, c := range contacts {
		entry := contactJSON{Email: c.Name, Handle: c.Handle, Shares: []shareJSON{}}

		for _, sh := range tree.Children(c.Handle) {
			entry.Shares = append(entry.Shares, shareJSON{
				Name:   sh.Name,
				Handle: sh.Handle,
				Access: sh.ShareAccess.String(),
			})
		}

		out = append(out, entry)
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	if len(out) == 0 {
		cc.Statusf("No contacts.\n")

		return nil
	}

	rows := make([][]string, 0, len(out))
	for _, c := range out {
		rows = append(rows, []string{c.Email, strconv.Itoa(len(c.Shares)), c.Handle})

		for _, sh := range c.Shares {
			rows = append(rows, []string{"  /" + c.Email + "/" + sh.Name + "/", sh.Access, sh.Handle})
		}
	}

	printTable(cmd.OutOrStdout(), []string{"CONTACT", "SHARES", "HANDLE"}, rows)

	return nil
}
