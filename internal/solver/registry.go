package solver

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// Built-in solver names.
const (
	NameSLP    = "slp"
	NameRemote = "remote"
)

// Factory builds a Solver from the generic config below.
type Factory func(Config) Solver

// Config carries the knobs used by solvers.
type Config struct {
	// SLP
	MaxIter   int
	Tolerance float64
	// Remote
	URL         string
	APIKey      string
	HTTPTimeout time.Duration
	RetryMax    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	Logger *zap.Logger
}

var registry = map[string]Factory{}

// Register registers a solver name with its factory.
func Register(name string, f Factory) { registry[name] = f }

// Get creates the named Solver if registered.
func Get(name string, cfg Config) (Solver, bool) {
	if f, ok := registry[name]; ok {
		return f(cfg), true
	}
	return nil, false
}

// Names lists the registered solvers.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(NameSLP, func(c Config) Solver {
		if c.MaxIter <= 0 {
			c.MaxIter = 200
		}
		if c.Tolerance <= 0 {
			c.Tolerance = 1e-7
		}
		return NewSLP(c.MaxIter, c.Tolerance, c.Logger)
	})
	Register(NameRemote, func(c Config) Solver {
		if c.HTTPTimeout <= 0 {
			c.HTTPTimeout = 5 * time.Minute
		}
		if c.RetryMax <= 0 {
			c.RetryMax = 3
		}
		if c.BaseDelay <= 0 {
			c.BaseDelay = 500 * time.Millisecond
		}
		if c.MaxDelay <= 0 {
			c.MaxDelay = 4 * time.Second
		}
		return NewRemote(c.URL, c.APIKey, c.HTTPTimeout, c.RetryMax, c.BaseDelay, c.MaxDelay)
	})
}
