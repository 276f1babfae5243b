package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mega-go/internal/sessionfile"
	"github.com/tonimelisma/mega-go/pkg/mega"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [email]",
		Short: "Log in and save the session",
		Long: `Log in with email and password and save the encrypted session.

The password is read from MEGA_GO_PASSWORD or prompted for.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in account",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func newPasswdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the account password",
		Args:  cobra.NoArgs,
		RunE:  runPasswd,
	}
}

func newRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register <email>",
		Short: "Create a new account",
		Long: `Create a new account. The service emails a signup code; confirm it
with 'mega-go verify <code>'.`,
		Args: cobra.ExactArgs(1),
		RunE: runRegister,
	}

	cmd.Flags().String("name", "", "display name")

	return cmd
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <signup-code>",
		Short: "Confirm a pending registration",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	email := cc.Env.Email
	if len(args) > 0 {
		email = args[0]
	}

	email, err := readValue(cmd, "Email: ", email)
	if err != nil {
		return err
	}

	password, err := readSecret(cmd, "Password: ", cc.Env.Password)
	if err != nil {
		return err
	}

	s, err := mega.Login(ctx, strings.TrimSpace(email), password, cc.MegaConfig(ctx))
	if err != nil {
		return err
	}

	if err := s.SaveFile(cc.Cfg.SessionFile); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	cc.Logger.Info("login successful", slog.String("email", s.Email()))
	cc.Statusf("Logged in as %s.\n", s.Email())

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	meta, err := sessionfile.ReadMeta(cc.Cfg.SessionFile)
	if err != nil {
		cc.Logger.Warn("unreadable session file", slog.String("error", err.Error()))
	}

	if err := sessionfile.Remove(cc.Cfg.SessionFile); err != nil {
		return err
	}

	if email := meta["email"]; email != "" {
		cc.Statusf("Logged out %s.\n", email)
	} else {
		cc.Statusf("Logged out.\n")
	}

	return nil
}

// whoamiJSON is the JSON output schema for whoami.
type whoamiJSON struct {
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	Handle      string `json:"handle,omitempty"`
	SessionFile string `json:"session_file"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	// Reads cached metadata only; no network round trip.
	meta, err := sessionfile.ReadMeta(cc.Cfg.SessionFile)
	if err != nil {
		return err
	}

	if meta == nil || meta["email"] == "" {
		return errNotLoggedIn
	}

	out := whoamiJSON{
		Email:       meta["email"],
		Name:        meta["name"],
		Handle:      meta["handle"],
		SessionFile: cc.Cfg.SessionFile,
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Email:   %s\n", out.Email)

	if out.Name != "" {
		fmt.Fprintf(w, "Name:    %s\n", out.Name)
	}

	fmt.Fprintf(w, "Handle:  %s\n", out.Handle)
	fmt.Fprintf(w, "Session: %s\n", out.SessionFile)

	return nil
}

func runPasswd(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	s, err := cc.Session(ctx)
	if err != nil {
		return err
	}

	first, err := readSecret(cmd, "New password: ", "")
	if err != nil {
		return err
	}

	second, err := readSecret(cmd, "Repeat new password: ", "")
	if err != nil {
		return err
	}

	if first != second {
		return errors.New("passwords do not match")
	}

	if err := s.ChangePassword(ctx, first); err != nil {
		return err
	}

	cc.Statusf("Password changed.\n")

	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	name, err := cmd.Flags().GetString("name")
	if err != nil {
		return err
	}

	password, err := readSecret(cmd, "Password: ", cc.Env.Password)
	if err != nil {
		return err
	}

	st, err := mega.Register(ctx, args[0], password, name, cc.MegaConfig(ctx))
	if err != nil {
		return err
	}

	encoded, err := st.Serialize()
	if err != nil {
		return err
	}

	path := cc.Cfg.RegistrationFile

	if err := os.MkdirAll(filepath.Dir(path), sessionfile.DirPerms); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(encoded), sessionfile.FilePerms); err != nil {
		return fmt.Errorf("saving registration: %w", err)
	}

	cc.Statusf("Check %s for a signup code, then run 'mega-go verify <code>'.\n", st.Email)

	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	path := cc.Cfg.RegistrationFile

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return errors.New("no pending registration: run 'mega-go register' first")
	}

	if err != nil {
		return fmt.Errorf("reading registration: %w", err)
	}

	st, err := mega.DeserializeRegistration(string(data))
	if err != nil {
		return err
	}

	if err := mega.VerifyRegistration(ctx, st, args[0], cc.MegaConfig(ctx)); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		cc.Logger.Warn("could not remove registration state", slog.String("error", err.Error()))
	}

	cc.Statusf("Account %s confirmed. Run 'mega-go login' to start.\n", st.Email)

	return nil
}
