package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/graphfiles/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagUser       string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// CLIFlags is a snapshot of the persistent flags for one invocation.
type CLIFlags struct {
	ConfigPath string
	User       string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext carries everything a command needs after the root pre-run:
// the resolved config, the flags and a logger whose level can change when
// the config is reloaded.
type CLIContext struct {
	Flags      CLIFlags
	Cfg        *config.Config
	ConfigPath string
	Overrides  config.CLIOverrides
	Logger     *slog.Logger
	LogLevel   *slog.LevelVar
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. Every
// command runs after it, so a missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "graphfiles",
		Short:   "OneDrive file browser backed by delegated tokens",
		Long:    "Serve a small web application for listing, deleting and uploading OneDrive files, or do the same from the command line.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagUser, "user", "", "signed-in identity to act as (defaults to the last login)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newPutCmd())

	return cmd
}

func currentFlags() CLIFlags {
	return CLIFlags{
		ConfigPath: flagConfigPath,
		User:       flagUser,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}
}

// loadConfig resolves the effective configuration (defaults, file,
// environment, flags) and stores a CLIContext in the command's context.
func loadConfig(cmd *cobra.Command) error {
	flags := currentFlags()

	if flags.Verbose && flags.Quiet {
		return errors.New("--verbose and --quiet are mutually exclusive")
	}

	cli := cliOverrides(cmd, flags)

	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := new(slog.LevelVar)
	level.Set(logLevel(cfg, flags))

	cc := &CLIContext{
		Flags:      flags,
		Cfg:        cfg,
		ConfigPath: path,
		Overrides:  cli,
		Logger:     buildLogger(os.Stderr, isTerminal(os.Stderr), cfg, level),
		LogLevel:   level,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// cliOverrides collects config overrides from flags the user set
// explicitly. Only serve defines --listen and --cache.
func cliOverrides(cmd *cobra.Command, flags CLIFlags) config.CLIOverrides {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	if f := cmd.Flags().Lookup("listen"); f != nil && f.Changed {
		v := f.Value.String()
		cli.Listen = &v
	}

	if f := cmd.Flags().Lookup("cache"); f != nil && f.Changed {
		v := f.Value.String()
		cli.CacheBackend = &v
	}

	return cli
}

// logLevel returns the effective level. The config file provides the
// baseline; --verbose and --quiet override it because CLI flags always win.
func logLevel(cfg *config.Config, flags CLIFlags) slog.Level {
	switch {
	case flags.Verbose:
		return slog.LevelDebug
	case flags.Quiet:
		return slog.LevelError
	}

	if cfg == nil {
		return slog.LevelInfo
	}

	return parseLevel(cfg.Logging.LogLevel)
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

// buildLogger creates the process logger. log_format "auto" means text on
// a terminal and JSON otherwise, so service managers get parseable logs.
func buildLogger(w io.Writer, tty bool, cfg *config.Config, level slog.Leveler) *slog.Logger {
	format := "auto"
	if cfg != nil {
		format = cfg.Logging.LogFormat
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !tty) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// httpClient returns the client used for identity provider and drive calls.
func httpClient(cfg *config.Config) *http.Client {
	return &http.Client{Timeout: cfg.Graph.Timeout()}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
