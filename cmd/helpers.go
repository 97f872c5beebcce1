package cmd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	cfgpkg "github.com/KaramelBytes/bmpopt/internal/config"
	"github.com/KaramelBytes/bmpopt/internal/repository"
	"github.com/KaramelBytes/bmpopt/internal/scenario"
	"github.com/KaramelBytes/bmpopt/internal/solver"
	"github.com/KaramelBytes/bmpopt/internal/utils"
)

// currentConfig returns the loaded configuration, loading it on demand.
func currentConfig() (*cfgpkg.Global, error) {
	if cfg != nil {
		return cfg, nil
	}
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg = c
	return cfg, nil
}

func expandHome(dir string) (string, error) {
	if !strings.HasPrefix(dir, "~") {
		return filepath.Clean(dir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	dir = strings.TrimPrefix(dir, "~")
	dir = strings.TrimPrefix(dir, string(os.PathSeparator))
	dir = strings.TrimPrefix(dir, "/")
	return filepath.Join(home, dir), nil
}

func defaultScenariosDir() (string, error) {
	c, err := currentConfig()
	if err != nil {
		return "", err
	}
	dir, err := expandHome(c.ScenariosDir)
	if err != nil {
		return "", err
	}
	if err := utils.EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// resolveScenarioDirByName maps a scenario name to its directory under the
// scenarios dir. "." selects the scenario enclosing the working directory.
func resolveScenarioDirByName(name string) (string, error) {
	if name == "" {
		return "", errors.New("scenario name is required")
	}
	if name == "." {
		return utils.FindScenarioRoot("")
	}
	if strings.ContainsAny(name, `/\`) || name == ".." {
		return "", fmt.Errorf("invalid scenario name: %q", name)
	}
	root, err := defaultScenariosDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, name), nil
}

func loadScenarioByName(name string) (*scenario.Scenario, error) {
	dir, err := resolveScenarioDirByName(name)
	if err != nil {
		return nil, err
	}
	return scenario.Load(dir)
}

// newCache returns the snapshot cache selected by cache_backend.
func newCache(c *cfgpkg.Global) (repository.Cache, error) {
	dir, err := expandHome(c.CacheDir)
	if err != nil {
		return nil, err
	}
	switch c.CacheBackend {
	case "", "json":
		return repository.JSONCache{Path: filepath.Join(dir, "reference.json")}, nil
	case "sqlite":
		return repository.SQLiteCache{Path: filepath.Join(dir, "reference.db")}, nil
	case "none":
		return repository.NoCache{}, nil
	default:
		return nil, fmt.Errorf("unknown cache_backend: %s (use json, sqlite or none)", c.CacheBackend)
	}
}

// newRepository returns an unbuilt repository over the configured source.
func newRepository(ctx context.Context) (*repository.Repository, error) {
	c, err := currentConfig()
	if err != nil {
		return nil, err
	}
	var src repository.Source
	switch c.DataSource {
	case "postgres":
		src, err = repository.NewPostgresSource(ctx, c.DatabaseURL, c.DatabaseSchema)
	case "", "dir":
		if strings.TrimSpace(c.DataDir) == "" {
			return nil, fmt.Errorf("%w: data_dir not set (use --data-dir or 'bmpopt config set data_dir <dir>')", repository.ErrUnavailable)
		}
		var dir string
		if dir, err = expandHome(c.DataDir); err != nil {
			return nil, err
		}
		src, err = repository.NewDirSource(dir)
	default:
		return nil, fmt.Errorf("unknown data_source: %s (use dir or postgres)", c.DataSource)
	}
	if err != nil {
		return nil, err
	}
	cache, err := newCache(c)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return repository.New(src, repository.WithCache(cache), repository.WithLogger(logger))
}

// openRepository returns a repository restored from cache or built from source.
func openRepository(ctx context.Context) (*repository.Repository, error) {
	repo, err := newRepository(ctx)
	if err != nil {
		return nil, err
	}
	if err := repo.Load(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

// solverName picks the --solver flag, then the scenario's solver, then config.
func solverName(s *scenario.Scenario) string {
	if rootCmd.PersistentFlags().Changed("solver") && flagSolver != "" {
		return flagSolver
	}
	if s != nil && s.Solver != "" {
		return s.Solver
	}
	if cfg != nil && cfg.Solver != "" {
		return cfg.Solver
	}
	return solver.NameSLP
}

func newSolver(name string) (solver.Solver, error) {
	c, err := currentConfig()
	if err != nil {
		return nil, err
	}
	s, ok := solver.Get(name, solver.Config{
		MaxIter:     c.SolverMaxIter,
		Tolerance:   c.SolverTolerance,
		URL:         c.SolverURL,
		APIKey:      c.SolverAPIKey,
		HTTPTimeout: time.Duration(c.SolverTimeoutSec) * time.Second,
		RetryMax:    c.RetryMaxAttempts,
		BaseDelay:   time.Duration(c.RetryBaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(c.RetryMaxDelayMs) * time.Millisecond,
		Logger:      logger,
	})
	if !ok {
		return nil, fmt.Errorf("unknown solver: %s (available: %s)", name, strings.Join(solver.Names(), ", "))
	}
	return s, nil
}

// solveContext bounds a solve by solver_timeout_sec.
func solveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if cfg == nil || cfg.SolverTimeoutSec <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(cfg.SolverTimeoutSec)*time.Second)
}

// finite keeps NaN and Inf out of scenario.json.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.Abs(v) >= 1e6 || (v != 0 && math.Abs(v) < 1e-3):
		return fmt.Sprintf("%.4g", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}
