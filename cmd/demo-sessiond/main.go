package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/al-bashkir/demo-sessiond/internal/config"
	"github.com/al-bashkir/demo-sessiond/internal/daemon"
	"github.com/al-bashkir/demo-sessiond/internal/ipc"
)

// Version information (set via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
	socketPath string
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitConfig  = 3
)

var rootCmd = &cobra.Command{
	Use:   "demo-sessiond",
	Short: "Time-boxed demo session daemon",
	Long: `Runs time-boxed, role-scoped demo sessions for browser clients.

Each browser tab gets its own session scope. A session is validated
against a remote endpoint (falling back to local checks when the endpoint
is unreachable), counts down to a hard ceiling, and reports its analytics
when it ends.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the demo session daemon",
	Long: `Start the daemon.

The daemon:
  - Serves the demo session API over HTTP
  - Revalidates running sessions and ends them when their time is up
  - Unloads idle tabs
  - Listens on a Unix socket for admin commands

This mode is typically run as a systemd service.`,
	RunE: runServe,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List tabs and their demo sessions",
	Long:  `Ask the running daemon for every tracked tab over the admin socket.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var endSessionCmd = &cobra.Command{
	Use:   "end-session <tab-id>",
	Short: "End the demo session of a tab",
	Long: `Force the demo session of one tab to end with reason "admin".

The tab's analytics are flushed as for any other ending.`,
	Args: cobra.ExactArgs(1),
	RunE: runEndSession,
}

// overrideExitCode is set by subcommands (check-config) so main() can call
// os.Exit() after cobra finishes. -1 means "use default".
var overrideExitCode = -1

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display version, commit hash, and build date.`,
	Run:   runVersion,
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	Long: `Load and validate the configuration file without starting the daemon.

Exit codes:
  0 = Configuration is valid
  3 = Configuration error`,
	RunE: runCheckConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "/etc/demo-sessiond/config.yaml",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error) - overrides config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Log format (json, text) - overrides config file")

	for _, c := range []*cobra.Command{statusCmd, endSessionCmd} {
		c.Flags().StringVar(&socketPath, "socket", "",
			"Admin socket path - overrides config file")
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(endSessionCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}

	if overrideExitCode >= 0 {
		os.Exit(overrideExitCode)
	}
}

// runServe starts the daemon
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	config.SetupLogging(&cfg.Log)

	slog.Info("starting demo-sessiond",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"config", configFile,
	)
	slog.Debug("effective configuration", "config", cfg.Redact())

	d, err := daemon.New(cfg, version)
	if err != nil {
		slog.Error("failed to create daemon", "error", err)
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	return d.Run()
}

// adminSocket resolves the admin socket: flag, then config, then default.
func adminSocket() string {
	if socketPath != "" {
		return socketPath
	}
	if cfg, err := config.Load(configFile); err == nil {
		return cfg.Listen.Socket
	}
	return config.DefaultConfig().Listen.Socket
}

// runStatus prints every tab the daemon tracks
func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := ipc.NewClient(adminSocket()).Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to query daemon: %w", err)
	}
	if resp.Status != ipc.StatusOK {
		return fmt.Errorf("daemon error: %s", resp.Error)
	}

	w := out(cmd)
	if len(resp.Tabs) == 0 {
		fmt.Fprintln(w, "No tabs")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TAB\tSTATE\tROLE\tREMAINING\tLAST SEEN")
	for _, tab := range resp.Tabs {
		role := tab.Role
		if role == "" {
			role = "-"
		}
		remaining := "-"
		if tab.RemainingSeconds > 0 {
			remaining = (time.Duration(tab.RemainingSeconds) * time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			tab.TabID,
			tab.State,
			role,
			remaining,
			time.UnixMilli(tab.LastSeen).Format(time.RFC3339),
		)
	}
	return tw.Flush()
}

// runEndSession ends one tab's session through the admin socket
func runEndSession(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := ipc.NewClient(adminSocket()).EndSession(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to reach daemon: %w", err)
	}
	if resp.Status != ipc.StatusOK {
		return fmt.Errorf("daemon error: %s", resp.Error)
	}

	if resp.Ended {
		fmt.Fprintf(out(cmd), "Demo session of tab %s ended\n", args[0])
	} else {
		fmt.Fprintf(out(cmd), "Tab %s has no running demo session\n", args[0])
	}
	return nil
}

// runVersion displays version information
func runVersion(cmd *cobra.Command, args []string) {
	w := out(cmd)
	fmt.Fprintf(w, "demo-sessiond version %s\n", version)
	fmt.Fprintf(w, "  Commit:     %s\n", commit)
	fmt.Fprintf(w, "  Build date: %s\n", buildDate)
	fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
}

// runCheckConfig validates the configuration
func runCheckConfig(cmd *cobra.Command, args []string) error {
	w := out(cmd)
	fmt.Fprintf(w, "Checking configuration: %s\n\n", configFile)

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed:\n")
		fmt.Fprintf(os.Stderr, "   %v\n", err)
		overrideExitCode = ExitConfig
		return nil // exit code handled via overrideExitCode
	}

	fmt.Fprintln(w, "✅ Configuration is valid")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration summary:")
	fmt.Fprintf(w, "  HTTP Listen:         %s\n", cfg.Listen.HTTP)
	fmt.Fprintf(w, "  Admin Socket:        %s\n", cfg.Listen.Socket)
	fmt.Fprintf(w, "  Max Duration:        %s\n", cfg.Demo.MaxDuration)
	fmt.Fprintf(w, "  Revalidate Every:    %s\n", cfg.Demo.RevalidateInterval)
	fmt.Fprintf(w, "  Activation Limit:    %d per %s\n", cfg.Demo.ActivationLimit.MaxAttempts, cfg.Demo.ActivationLimit.Window)
	fmt.Fprintf(w, "  Validation Limit:    %d per %s\n", cfg.Demo.ValidationLimit.MaxAttempts, cfg.Demo.ValidationLimit.Window)
	fmt.Fprintf(w, "  Event Cap:           %d\n", cfg.Demo.EventCap)
	fmt.Fprintf(w, "  Tab Idle Timeout:    %s\n", cfg.Demo.TabIdleTimeout)
	fmt.Fprintf(w, "  Validate URL:        %s\n", orNone(cfg.Remote.ValidateURL))
	fmt.Fprintf(w, "  Analytics URL:       %s\n", orNone(cfg.Remote.AnalyticsURL))
	fmt.Fprintf(w, "  OIDC Issuer:         %s\n", orNone(cfg.Remote.Issuer))
	fmt.Fprintf(w, "  Log Level:           %s\n", cfg.Log.Level)
	fmt.Fprintf(w, "  Log Format:          %s\n", cfg.Log.Format)
	fmt.Fprintf(w, "  TLS Enabled:         %v\n", cfg.TLS.Enabled)

	if cfg.Store.Secret != "" {
		fmt.Fprintln(w, "\n  Store Secret:        [SET]")
	} else {
		fmt.Fprintln(w, "\n  Store Secret:        [NOT SET] (random key per process)")
	}

	fmt.Fprintln(w, "\n✅ Ready to start daemon")

	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// out returns the command's output writer, stdout when called without a
// command.
func out(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}
