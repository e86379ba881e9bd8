// Package main is the CLI entry point for sitegate.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/site_gate/internal/config"
	"github.com/eliteGoblin/focusd/site_gate/internal/daemon"
	"github.com/eliteGoblin/focusd/site_gate/internal/domain"
	"github.com/eliteGoblin/focusd/site_gate/internal/infra"
	"github.com/eliteGoblin/focusd/site_gate/internal/policy"
	"github.com/eliteGoblin/focusd/site_gate/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

const (
	envStore    = "SITEGATE_STORE"
	envLogLevel = "SITEGATE_LOG_LEVEL"
)

func main() {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	// Browsers start the host with the caller origin (or manifest path) as
	// the only arguments; route those to the hidden host command.
	if args := os.Args[1:]; infra.IsHostInvocation(args) {
		rootCmd.SetArgs(append([]string{"host"}, args...))
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sitegate",
	Short: "Site gate - blocks distracting websites behind a deliberate ritual",
	Long: `sitegate is the native-messaging host of the sitegate browser extension.
It decides whether a page may be shown, records hard activations and soft
routines, and tracks how long you spend on blocked sites.

The browser starts it automatically; the other commands inspect and
configure the shared state.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var hostCmd = &cobra.Command{
	Use:                "host",
	Hidden:             true,
	DisableFlagParsing: true,
	RunE:               runHost,
}

var checkCmd = &cobra.Command{
	Use:   "check <url>",
	Short: "Show whether a URL would be allowed right now",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show time spent on blocked sites over the last 7 days",
	RunE:  runStats,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show host status, soft routines and configuration summary",
	RunE:  runStatus,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show, import or watch the gate configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current configuration",
	RunE:  runConfigShow,
}

var configImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a TOML, YAML, JSON or JSONC config file",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigImport,
}

var configWatchCmd = &cobra.Command{
	Use:   "watch <file>",
	Short: "Import a config file and re-import it whenever it changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigWatch,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Register sitegate as the native-messaging host of a browser",
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the native-messaging host registration",
	RunE:  runUninstall,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	storeBackend string
	dataDir      string
	logLevel     string
	checkHost    string
	showFormat   string
	browsers     []string
	extensionIDs []string
	jsonOutput   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&storeBackend, "store", envOr(envStore, storeEncrypted), "State store backend (encrypted/file/memory)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: detected, or $"+infra.EnvDataDir+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", envOr(envLogLevel, "info"), "Log level (debug/info/warn/error)")

	checkCmd.Flags().StringVar(&checkHost, "host", "", "Host to check activations for (default: the URL's host)")
	configShowCmd.Flags().StringVar(&showFormat, "format", "json", "Output format (json/yaml/toml)")
	installCmd.Flags().StringSliceVar(&browsers, "browser", []string{string(infra.BrowserChrome)}, "Browsers to register with")
	installCmd.Flags().StringSliceVar(&extensionIDs, "extension-id", nil, "Extension ids allowed to connect")
	_ = installCmd.MarkFlagRequired("extension-id")
	uninstallCmd.Flags().StringSliceVar(&browsers, "browser", []string{string(infra.BrowserChrome)}, "Browsers to unregister from")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configImportCmd)
	configCmd.AddCommand(configWatchCmd)

	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(versionCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func runHost(cmd *cobra.Command, args []string) error {
	// Flags are not parsed for the host: the browser owns its arguments.
	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.close()

	env.logger.Info("host invoked", zap.Strings("args", args))

	ctx, cancel := signalContext(env.logger)
	defer cancel()

	gate := usecase.NewGate(env.engine, env.logger)
	exemptions := usecase.NewExemptionManager(env.engine, env.logger)
	dispatcher := usecase.NewDispatcher(gate, exemptions, env.engine, env.logger)
	tracker := usecase.NewSessionTracker(env.engine, env.logger)

	hostConfig := daemon.DefaultHostConfig()
	hostConfig.Version = Version

	host := daemon.NewHost(hostConfig, env.engine, dispatcher, tracker,
		infra.NewProcessInspector(), os.Stdin, os.Stdout, env.logger)
	if err := host.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		env.logger.Error("host stopped", zap.Error(err))
		return err
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.close()

	u, err := url.Parse(args[0])
	if err != nil || u.Host == "" {
		return fmt.Errorf("not an absolute URL: %s", args[0])
	}
	host := checkHost
	if host == "" {
		host = u.Hostname()
	}

	gate := usecase.NewGate(env.engine, env.logger)
	decision, err := gate.Decide(cmd.Context(), domain.DecisionRequest{Host: host, Origin: args[0]})
	if err != nil {
		return fmt.Errorf("decision failed: %w", err)
	}

	matchers := env.engine.Snapshot().Matchers
	verdict := "BLOCK"
	if decision.Access {
		verdict = "ALLOW"
	}
	fmt.Printf("%s %s\n", verdict, args[0])
	if idx, ok := matchers.FirstMatch(args[0]); ok {
		site := matchers.Site(idx)
		strategy := string(site.Strategy)
		if strategy == "" {
			strategy = string(domain.StrategySoft)
		}
		fmt.Printf("  matched: %s (%s)\n", matchers.PatternAt(idx), strategy)
	} else {
		fmt.Println("  matched: none")
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.close()
	ctx := cmd.Context()

	tracker := usecase.NewSessionTracker(env.engine, env.logger)
	stats, err := tracker.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute stats: %w", err)
	}

	fmt.Println("\n=== Time on blocked sites (7 days) ===")
	if len(stats) == 0 {
		fmt.Println("Nothing recorded.")
	}
	var total time.Duration
	for _, s := range stats {
		total += s.Total
		fmt.Printf("  %-40s %10s  %s sessions\n", s.Pattern, s.Total.Round(time.Second), humanize.Comma(int64(s.Sessions)))
	}
	if len(stats) > 0 {
		fmt.Printf("  %-40s %10s\n", "total", total.Round(time.Second))
	}

	now := env.engine.Now()
	store := env.engine.Store()
	fmt.Println("\nEvents:")
	if err := printLogSummary[domain.Interception](ctx, store, domain.KeyInterceptions, "interceptions", now); err != nil {
		return err
	}
	if err := printLogSummary[domain.Activation](ctx, store, domain.KeyActivations, "activations", now); err != nil {
		return err
	}
	if err := printLogSummary[domain.Peek](ctx, store, domain.KeyPeeks, "peeks", now); err != nil {
		return err
	}
	fmt.Println("======================================")
	return nil
}

func printLogSummary[T domain.Timestamped](ctx context.Context, store domain.Store, key, label string, now time.Time) error {
	var log []T
	if _, err := store.Get(ctx, key, &log); err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	log = usecase.Trim(log, now, usecase.RetentionWindow)
	if len(log) == 0 {
		fmt.Printf("  %-14s 0\n", label)
		return nil
	}
	last := time.Unix(log[len(log)-1].Timestamp(), 0)
	fmt.Printf("  %-14s %s (last %s)\n", label, humanize.Comma(int64(len(log))), humanize.RelTime(last, now, "ago", "from now"))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.close()
	ctx := cmd.Context()
	now := env.engine.Now()

	fmt.Println("\n=== sitegate Status ===")

	inst, err := daemon.CheckInstance(ctx, env.engine.Store(), infra.NewProcessInspector(),
		daemon.DefaultHostConfig().HeartbeatInterval, now)
	if err != nil {
		return err
	}
	switch {
	case !inst.Found:
		fmt.Println("Host: NEVER STARTED (is the extension installed? see 'sitegate install')")
	case inst.Alive():
		fmt.Printf("Host: RUNNING (pid %d, up %s)\n", inst.Record.PID,
			humanize.RelTime(time.Unix(inst.Record.StartedAt, 0), now, "", ""))
	case inst.Running:
		fmt.Printf("Host: UNRESPONSIVE (pid %d)\n", inst.Record.PID)
	default:
		fmt.Println("Host: NOT RUNNING (starts with the browser)")
	}
	if inst.Found {
		fmt.Printf("Last heartbeat: %s\n", humanize.RelTime(time.Unix(inst.Record.LastHeartbeat, 0), now, "ago", "from now"))
	}

	fmt.Printf("\nExecution mode: %s\n", env.mode.Mode)
	fmt.Printf("Data dir: %s\n", env.mode.DataDir)
	fmt.Printf("Store: %s\n", storeBackend)

	exemptions := usecase.NewExemptionManager(env.engine, env.logger)
	routines, err := exemptions.RoutineAvailability(ctx)
	if err != nil {
		return err
	}
	fmt.Println("\nSoft routines:")
	for _, r := range routines {
		line := fmt.Sprintf("  - %-16s %-9s", r.Routine.Label, r.State)
		if r.Remaining > 0 {
			line += " " + (time.Duration(r.Remaining) * time.Second).String() + " left"
		}
		fmt.Println(line)
	}

	cfg := env.engine.Snapshot().Config
	patterns := policy.MatchListGenerator(cfg.Filters())
	fmt.Printf("\nBlocked sites: %d\n", len(cfg.Sites))
	for i, s := range cfg.Sites {
		if s.Strategy == domain.StrategyHard {
			fmt.Printf("  - %-24s %s (hard)\n", s.Filter, patterns[i])
		} else {
			fmt.Printf("  - %-24s %s\n", s.Filter, patterns[i])
		}
	}
	fmt.Printf("Hard activation: hold %ds, lasts %s\n", cfg.Activation.HoldSeconds,
		(time.Duration(cfg.Activation.TimeSeconds) * time.Second).String())
	fmt.Println("=======================")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.close()

	cfg := env.engine.Snapshot().Config
	switch strings.ToLower(showFormat) {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "yaml", "yml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	case "toml":
		return toml.NewEncoder(os.Stdout).Encode(cfg)
	default:
		return fmt.Errorf("%w: %s", config.ErrUnsupportedFormat, showFormat)
	}
}

func runConfigImport(cmd *cobra.Command, args []string) error {
	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.close()

	cfg, err := config.LoadFile(args[0])
	if err != nil {
		return err
	}
	if err := env.engine.ImportConfig(cmd.Context(), cfg); err != nil {
		return err
	}
	fmt.Printf("Imported %s: %d sites, %d soft routines\n", args[0], len(cfg.Sites), len(cfg.SoftRoutines))
	return nil
}

func runConfigWatch(cmd *cobra.Command, args []string) error {
	if err := runConfigImport(cmd, args); err != nil {
		return err
	}

	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.close()

	ctx, cancel := signalContext(env.logger)
	defer cancel()

	watcher := config.NewWatcher(args[0])
	watcher.OnChange(func(cfg domain.Config) {
		if err := env.engine.ImportConfig(ctx, cfg); err != nil {
			env.logger.Warn("failed to import config", zap.Error(err))
			fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
			return
		}
		fmt.Printf("%s re-imported: %d sites\n", time.Now().Format(time.Kitchen), len(cfg.Sites))
	})
	go func() {
		for err := range watcher.Errors() {
			env.logger.Warn("config reload failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
		}
	}()

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", args[0])
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	home := infra.GetRealUserHome()

	for _, name := range browsers {
		browser, err := infra.ParseBrowser(name)
		if err != nil {
			return err
		}
		m := infra.NewManifestManager(browser, home)
		switch {
		case !m.IsInstalled():
			if err := m.Install(execPath, extensionIDs); err != nil {
				return fmt.Errorf("failed to install %s manifest: %w", browser, err)
			}
			fmt.Printf("Installed native messaging host for %s: %s\n", browser, m.Path())
		case m.NeedsUpdate(execPath, extensionIDs):
			if err := m.Install(execPath, extensionIDs); err != nil {
				return fmt.Errorf("failed to update %s manifest: %w", browser, err)
			}
			fmt.Printf("Updated native messaging host for %s: %s\n", browser, m.Path())
		default:
			fmt.Printf("Already installed for %s\n", browser)
		}
	}
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	home := infra.GetRealUserHome()
	for _, name := range browsers {
		browser, err := infra.ParseBrowser(name)
		if err != nil {
			return err
		}
		m := infra.NewManifestManager(browser, home)
		if err := m.Uninstall(); err != nil {
			return fmt.Errorf("failed to remove %s manifest: %w", browser, err)
		}
		fmt.Printf("Removed native messaging host for %s\n", browser)
	}
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("sitegate %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}

func createLogger(mode *infra.ExecModeConfig, level string) *zap.Logger {
	config := zap.NewProductionConfig()
	// stdout carries native messages; never log there.
	config.OutputPaths = []string{mode.LogPath()}
	config.ErrorOutputPaths = []string{mode.ErrorLogPath()}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	if err := os.MkdirAll(mode.DataDir, 0700); err != nil {
		return zap.NewNop()
	}
	logger, err := config.Build()
	if err != nil {
		// stderr is safe for the host too
		config.OutputPaths = []string{"stderr"}
		config.ErrorOutputPaths = []string{"stderr"}
		if logger, err = config.Build(); err != nil {
			return zap.NewNop()
		}
	}
	return logger
}
