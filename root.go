package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/mega-go/internal/config"
	"github.com/tonimelisma/mega-go/internal/ledger"
	"github.com/tonimelisma/mega-go/internal/metrics"
	"github.com/tonimelisma/mega-go/pkg/mega"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that must run even when the config
// file is broken or absent.
const skipConfigAnnotation = "skipConfig"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath  string
	flagSessionFile string
	flagJSON        bool
	flagVerbose     bool
	flagDebug       bool
	flagQuiet       bool
	flagWorkers     int
	flagProxy       string
	flagBandwidth   string
)

// CLIFlags are the global flags as seen by a single command invocation.
type CLIFlags struct {
	ConfigPath  string
	SessionFile string
	JSON        bool
	Verbose     bool
	Debug       bool
	Quiet       bool
}

// CLIContext carries per-invocation state to subcommands through the
// command's context.
type CLIContext struct {
	Flags    CLIFlags
	Env      config.EnvOverrides
	Cfg      *config.Resolved
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Recorder

	// progress receives job events for the terminal progress line.
	progress mega.JobObserver

	ledger  *ledger.Ledger
	logFile *os.File
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// cliContextFrom returns the CLIContext stored in ctx, or nil.
func cliContextFrom(ctx context.Context) *CLIContext {
	if ctx == nil {
		return nil
	}

	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)

	return cc
}

// mustCLIContext returns the CLIContext set by the root pre-run. Commands
// only run after it, so a missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mega-go",
		Short:   "Encrypted cloud storage client",
		Long:    "A command-line client for end-to-end encrypted MEGA cloud storage.",
		Version: version,
		// Errors and usage are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "config file path")
	pf.StringVar(&flagSessionFile, "session", "", "session file path")
	pf.BoolVar(&flagJSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "show informational logs")
	pf.BoolVar(&flagDebug, "debug", false, "show debug logs")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")
	pf.IntVar(&flagWorkers, "workers", 0, "concurrent chunk transfers per job")
	pf.StringVar(&flagProxy, "proxy", "", "http, https or socks5 proxy URL")
	pf.StringVar(&flagBandwidth, "bandwidth-limit", "", `throughput cap, e.g. "5MB/s"`)

	cmd.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newPasswdCmd(),
		newRegisterCmd(),
		newVerifyCmd(),
		newQuotaCmd(),
		newLsCmd(),
		newTreeCmd(),
		newStatCmd(),
		newMkdirCmd(),
		newMvCmd(),
		newRenameCmd(),
		newRmCmd(),
		newPutCmd(),
		newGetCmd(),
		newExportCmd(),
		newShareCmd(),
		newContactsCmd(),
		newPublicCmd(),
		newTransfersCmd(),
		newConfigCmd(),
	)

	return cmd
}

func newCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	flags := CLIFlags{
		ConfigPath:  flagConfigPath,
		SessionFile: flagSessionFile,
		JSON:        flagJSON,
		Verbose:     flagVerbose,
		Debug:       flagDebug,
		Quiet:       flagQuiet,
	}

	cc := &CLIContext{
		Flags:  flags,
		Env:    config.ReadEnvOverrides(),
		Logger: bootstrapLogger(),
	}

	if cmd.Annotations[skipConfigAnnotation] != "true" {
		resolved, err := config.Resolve(cc.Env, cliOverrides(cmd, flags))
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}

		cc.Cfg = resolved

		if err := cc.setupLogging(); err != nil {
			return nil, err
		}
	}

	cc.Registry = prometheus.NewRegistry()
	cc.Metrics = metrics.New(cc.Registry)

	if !flags.Quiet && !flags.JSON && isTerminal(os.Stderr) {
		cc.progress = newProgressPrinter(os.Stderr)
	}

	return cc, nil
}

// cliOverrides collects the flags the user actually set.
func cliOverrides(cmd *cobra.Command, flags CLIFlags) config.CLIOverrides {
	cli := config.CLIOverrides{
		ConfigPath:  flags.ConfigPath,
		SessionFile: flags.SessionFile,
	}

	pf := cmd.Flags()

	if pf.Changed("workers") {
		cli.Workers = &flagWorkers
	}

	if pf.Changed("proxy") {
		cli.Proxy = &flagProxy
	}

	if pf.Changed("bandwidth-limit") {
		cli.BandwidthLimit = &flagBandwidth
	}

	return cli
}

func (cc *CLIContext) setupLogging() error {
	if cc.Cfg.LogFile == "" {
		cc.Logger = buildLogger(cc.Cfg, cc.Flags)
		return nil
	}

	f, err := os.OpenFile(cc.Cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	cc.logFile = f
	cc.Logger = newLogger(f, false, cc.Cfg, cc.Flags)

	return nil
}

// Close flushes the ledger, writes the metrics textfile and closes the log
// file. It runs after every command, including failed ones.
func (cc *CLIContext) Close() error {
	var errs []error

	if cc.ledger != nil {
		errs = append(errs, cc.ledger.Close())
	}

	if cc.Cfg != nil && cc.Cfg.MetricsTextfile != "" && cc.Registry != nil {
		if err := metrics.WriteTextfile(cc.Cfg.MetricsTextfile, cc.Registry); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics: %w", err))
		}
	}

	if cc.logFile != nil {
		errs = append(errs, cc.logFile.Close())
	}

	return errors.Join(errs...)
}

// bootstrapLogger is used before config is loaded and by commands that
// skip config. Default level is Warn.
func bootstrapLogger() *slog.Logger {
	flags := CLIFlags{Verbose: flagVerbose, Debug: flagDebug, Quiet: flagQuiet}

	return newLogger(os.Stderr, isTerminal(os.Stderr), nil, flags)
}

// buildLogger creates the stderr logger for a resolved config.
func buildLogger(cfg *config.Resolved, flags CLIFlags) *slog.Logger {
	return newLogger(os.Stderr, isTerminal(os.Stderr), cfg, flags)
}

// newLogger picks the handler and level. Stderr logs default to Warn so
// commands stay quiet; a log file uses the configured level. --verbose,
// --debug and --quiet always win.
func newLogger(w io.Writer, tty bool, cfg *config.Resolved, flags CLIFlags) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil && cfg.LogFile != "" {
		level = parseLevel(cfg.LogLevel)
	}

	switch {
	case flags.Debug:
		level = slog.LevelDebug
	case flags.Verbose:
		level = slog.LevelInfo
	case flags.Quiet:
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	format := "auto"
	if cfg != nil {
		format = cfg.LogFormat
	}

	if format == "json" || (format == "auto" && !tty) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
