package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const dirName = ".bmpopt"

// Global configuration structure.
type Global struct {
	// Reference tables
	DataSource     string `mapstructure:"data_source" yaml:"data_source"`
	DataDir        string `mapstructure:"data_dir" yaml:"data_dir"`
	DatabaseURL    string `mapstructure:"database_url" yaml:"database_url"`
	DatabaseSchema string `mapstructure:"database_schema" yaml:"database_schema"`
	CacheBackend   string `mapstructure:"cache_backend" yaml:"cache_backend"`
	CacheDir       string `mapstructure:"cache_dir" yaml:"cache_dir"`
	ScenariosDir   string `mapstructure:"scenarios_dir" yaml:"scenarios_dir"`

	// Solver
	Solver           string  `mapstructure:"solver" yaml:"solver"`
	SolverURL        string  `mapstructure:"solver_url" yaml:"solver_url"`
	SolverAPIKey     string  `mapstructure:"solver_api_key" yaml:"solver_api_key"`
	SolverMaxIter    int     `mapstructure:"solver_max_iter" yaml:"solver_max_iter"`
	SolverTolerance  float64 `mapstructure:"solver_tolerance" yaml:"solver_tolerance"`
	SolverTimeoutSec int     `mapstructure:"solver_timeout_sec" yaml:"solver_timeout_sec"`

	// HTTP/Retry configuration for the remote solver
	RetryMaxAttempts int `mapstructure:"retry_max_attempts" yaml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms" yaml:"retry_max_delay_ms"`

	// Model and solution
	MaterialityTolerance float64  `mapstructure:"materiality_tolerance" yaml:"materiality_tolerance"`
	ExcludedBMPs         []string `mapstructure:"excluded_bmps" yaml:"excluded_bmps"`

	// Logging
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" yaml:"log_json"`
}

func homeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, dirName), nil
}

// Save writes the given configuration to the cfgFile path. If cfgFile is empty,
// it writes to ~/.bmpopt/config.yaml, creating the directory if necessary.
func Save(c *Global, cfgFile string) error {
	var path string
	if cfgFile != "" {
		path = cfgFile
	} else {
		dir, err := homeDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("BMPOPT")
	v.AutomaticEnv()

	v.SetDefault("data_source", "dir")
	v.SetDefault("data_dir", "")
	v.SetDefault("database_url", "")
	v.SetDefault("database_schema", "public")
	v.SetDefault("cache_backend", "json")
	v.SetDefault("cache_dir", "")
	v.SetDefault("scenarios_dir", "")
	v.SetDefault("solver", "slp")
	v.SetDefault("solver_url", "")
	v.SetDefault("solver_api_key", "")
	v.SetDefault("solver_max_iter", 200)
	v.SetDefault("solver_tolerance", 1e-7)
	v.SetDefault("solver_timeout_sec", 300)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 500)
	v.SetDefault("retry_max_delay_ms", 4000)
	v.SetDefault("materiality_tolerance", 1e-6)
	v.SetDefault("excluded_bmps", []string{})
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		dir, err := homeDir()
		if err != nil {
			return nil, err
		}
		_ = os.MkdirAll(dir, 0o755)
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if c.ScenariosDir == "" || c.CacheDir == "" {
		dir, err := homeDir()
		if err != nil {
			return nil, err
		}
		if c.ScenariosDir == "" {
			c.ScenariosDir = filepath.Join(dir, "scenarios")
		}
		if c.CacheDir == "" {
			c.CacheDir = filepath.Join(dir, "cache")
		}
	}
	return &c, nil
}

// field binds one config key to its string rendering and parser.
type field struct {
	get func(c *Global) string
	set func(c *Global, v string) error
}

func oneOf(key string, allowed ...string) func(string) (string, error) {
	return func(v string) (string, error) {
		v = strings.ToLower(strings.TrimSpace(v))
		for _, a := range allowed {
			if v == a {
				return v, nil
			}
		}
		return "", fmt.Errorf("invalid %s: %s (use %s)", key, v, strings.Join(allowed, ", "))
	}
}

func str(p func(*Global) *string, check func(string) (string, error)) field {
	return field{
		get: func(c *Global) string { return *p(c) },
		set: func(c *Global, v string) error {
			if check != nil {
				var err error
				if v, err = check(v); err != nil {
					return err
				}
			}
			*p(c) = v
			return nil
		},
	}
}

func integer(key string, p func(*Global) *int) field {
	return field{
		get: func(c *Global) string { return strconv.Itoa(*p(c)) },
		set: func(c *Global, v string) error {
			i, err := strconv.Atoi(v)
			if err != nil || i < 0 {
				return fmt.Errorf("invalid int for %s: %v", key, v)
			}
			*p(c) = i
			return nil
		},
	}
}

func float(key string, p func(*Global) *float64) field {
	return field{
		get: func(c *Global) string { return strconv.FormatFloat(*p(c), 'g', -1, 64) },
		set: func(c *Global, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 {
				return fmt.Errorf("invalid float for %s: %v", key, v)
			}
			*p(c) = f
			return nil
		},
	}
}

var fields = map[string]field{
	"data_source":     str(func(c *Global) *string { return &c.DataSource }, oneOf("data_source", "dir", "postgres")),
	"data_dir":        str(func(c *Global) *string { return &c.DataDir }, nil),
	"database_url":    str(func(c *Global) *string { return &c.DatabaseURL }, nil),
	"database_schema": str(func(c *Global) *string { return &c.DatabaseSchema }, nil),
	"cache_backend":   str(func(c *Global) *string { return &c.CacheBackend }, oneOf("cache_backend", "json", "sqlite", "none")),
	"cache_dir":       str(func(c *Global) *string { return &c.CacheDir }, nil),
	"scenarios_dir":   str(func(c *Global) *string { return &c.ScenariosDir }, nil),
	"solver":          str(func(c *Global) *string { return &c.Solver }, oneOf("solver", "slp", "remote")),
	"solver_url":      str(func(c *Global) *string { return &c.SolverURL }, nil),
	"solver_api_key":  str(func(c *Global) *string { return &c.SolverAPIKey }, nil),
	"log_level":       str(func(c *Global) *string { return &c.LogLevel }, oneOf("log_level", "debug", "info", "warn", "error")),

	"solver_max_iter":     integer("solver_max_iter", func(c *Global) *int { return &c.SolverMaxIter }),
	"solver_timeout_sec":  integer("solver_timeout_sec", func(c *Global) *int { return &c.SolverTimeoutSec }),
	"retry_max_attempts":  integer("retry_max_attempts", func(c *Global) *int { return &c.RetryMaxAttempts }),
	"retry_base_delay_ms": integer("retry_base_delay_ms", func(c *Global) *int { return &c.RetryBaseDelayMs }),
	"retry_max_delay_ms":  integer("retry_max_delay_ms", func(c *Global) *int { return &c.RetryMaxDelayMs }),

	"solver_tolerance":      float("solver_tolerance", func(c *Global) *float64 { return &c.SolverTolerance }),
	"materiality_tolerance": float("materiality_tolerance", func(c *Global) *float64 { return &c.MaterialityTolerance }),

	"log_json": {
		get: func(c *Global) string { return strconv.FormatBool(c.LogJSON) },
		set: func(c *Global, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid bool for log_json: %v", v)
			}
			c.LogJSON = b
			return nil
		},
	},
	"excluded_bmps": {
		get: func(c *Global) string { return strings.Join(c.ExcludedBMPs, ",") },
		set: func(c *Global, v string) error {
			c.ExcludedBMPs = nil
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					c.ExcludedBMPs = append(c.ExcludedBMPs, s)
				}
			}
			return nil
		},
	},
}

// Keys lists the settable keys, sorted.
func Keys() []string {
	out := make([]string, 0, len(fields))
	for k := range fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Get renders one key. Secrets are returned as stored.
func (c *Global) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("unknown key: %s", key)
	}
	return f.get(c), nil
}

// Set parses and assigns one key.
func (c *Global) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("unknown key: %s", key)
	}
	return f.set(c, value)
}
