package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cfgpkg "github.com/KaramelBytes/bmpopt/internal/config"
	"github.com/KaramelBytes/bmpopt/internal/logging"
)

var (
	// Global flags
	cfgFile  string
	debug    bool
	logLevel string
	// Overrides for config values (applied only when set)
	flagDataDir          string
	flagSolver           string
	flagSolverURL        string
	flagSolverTimeoutSec int
	flagRetryMaxAttempts int
	flagRetryBaseDelayMs int
	flagRetryMaxDelayMs  int

	// Loaded configuration
	cfg *cfgpkg.Global
	// Process logger; a no-op until loadConfig succeeds
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "bmpopt",
	Short: "bmpopt: cost- and load-optimal BMP portfolios for watershed nutrient targets",
	Long: `bmpopt assembles watershed reference tables into an optimization model that selects
Best Management Practices across land parcels, solves it, and reports the portfolio,
its cost and the resulting nitrogen, phosphorus and sediment loads.`,
	SilenceUsage: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute is the entry point called by main.main()
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	// Runs before every command execution so each invocation sees fresh config
	cobra.OnInitialize(loadConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ~/.bmpopt/config.yaml)")
	pf.BoolVar(&debug, "debug", false, "enable debug logging (same as --log-level debug)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
	pf.StringVar(&flagDataDir, "data-dir", "", "directory of reference tables (overrides config)")
	pf.StringVar(&flagSolver, "solver", "", "solver to use: slp|remote (overrides config and scenario)")
	pf.StringVar(&flagSolverURL, "solver-url", "", "remote solver endpoint (overrides config)")
	pf.IntVar(&flagSolverTimeoutSec, "solver-timeout", 0, "solver timeout in seconds (overrides config)")
	pf.IntVar(&flagRetryMaxAttempts, "retry-max", 0, "max retry attempts on 429/5xx from the remote solver (overrides config)")
	pf.IntVar(&flagRetryBaseDelayMs, "retry-base-ms", 0, "base retry backoff in ms (overrides config)")
	pf.IntVar(&flagRetryMaxDelayMs, "retry-max-ms", 0, "max retry backoff cap in ms (overrides config)")
}

func loadConfig() {
	// A missing .env is not an error
	_ = godotenv.Load()

	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: allow running commands that don't need config
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		return
	}
	cfg = c

	// Apply CLI overrides if provided
	f := rootCmd.PersistentFlags()
	if f.Changed("data-dir") && flagDataDir != "" {
		cfg.DataDir = flagDataDir
		cfg.DataSource = "dir"
	}
	if f.Changed("solver") && flagSolver != "" {
		cfg.Solver = flagSolver
	}
	if f.Changed("solver-url") && flagSolverURL != "" {
		cfg.SolverURL = flagSolverURL
	}
	if f.Changed("solver-timeout") && flagSolverTimeoutSec > 0 {
		cfg.SolverTimeoutSec = flagSolverTimeoutSec
	}
	if f.Changed("retry-max") && flagRetryMaxAttempts > 0 {
		cfg.RetryMaxAttempts = flagRetryMaxAttempts
	}
	if f.Changed("retry-base-ms") && flagRetryBaseDelayMs > 0 {
		cfg.RetryBaseDelayMs = flagRetryBaseDelayMs
	}
	if f.Changed("retry-max-ms") && flagRetryMaxDelayMs > 0 {
		cfg.RetryMaxDelayMs = flagRetryMaxDelayMs
	}
	if f.Changed("log-level") && logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if debug {
		cfg.LogLevel = "debug"
	}

	l, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠ Warning: %v; logging disabled\n", err)
		logger = zap.NewNop()
		return
	}
	logger = l
}
