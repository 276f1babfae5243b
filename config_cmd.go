package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/mega-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	cmd.AddCommand(newConfigShowCmd(), newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Print every setting after applying the config file, environment
variables and flags, in that order.`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with every option commented out",
		Args:  cobra.NoArgs,
		// The file may not exist yet, or may be the broken one being replaced.
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigInit,
	}

	cmd.Flags().Bool("force", false, "overwrite an existing config file")

	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	return config.RenderEffective(cc.Cfg, cmd.OutOrStdout())
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	path := cc.Flags.ConfigPath
	if path == "" {
		path = cc.Env.ConfigPath
	}

	if path == "" {
		path = config.DefaultConfigPath()
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	err = config.WriteDefault(path)
	if errors.Is(err, config.ErrConfigExists) && force {
		err = config.OverwriteDefault(path)
	}

	if errors.Is(err, config.ErrConfigExists) {
		return fmt.Errorf("%w (use --force to replace it)", err)
	}

	if err != nil {
		return err
	}

	cc.Statusf("Wrote %s\n", path)

	return nil
}
