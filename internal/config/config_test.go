package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaultsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := "data_dir: /data/tables\ncache_backend: sqlite\nexcluded_bmps: [Credit, NutMan]\nscenarios_dir: " + filepath.Join(dir, "sc") + "\ncache_dir: " + filepath.Join(dir, "cache") + "\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BMPOPT_SOLVER", "remote")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.DataDir != "/data/tables" || c.CacheBackend != "sqlite" {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.Solver != "remote" {
		t.Fatalf("env override not applied: solver=%q", c.Solver)
	}
	if diff := cmp.Diff([]string{"Credit", "NutMan"}, c.ExcludedBMPs); diff != "" {
		t.Fatalf("excluded (-want +got):\n%s", diff)
	}
	if c.SolverMaxIter != 200 || c.MaterialityTolerance != 1e-6 || c.DataSource != "dir" || c.LogLevel != "info" {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestSetGetAndSave(t *testing.T) {
	c := &Global{}
	for k, v := range map[string]string{
		"solver":                "SLP",
		"solver_max_iter":       "50",
		"materiality_tolerance": "0.001",
		"excluded_bmps":         "a, b,,c",
		"log_json":              "true",
	} {
		if err := c.Set(k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if got, _ := c.Get("solver"); got != "slp" {
		t.Fatalf("solver = %q", got)
	}
	if got, _ := c.Get("excluded_bmps"); got != "a,b,c" {
		t.Fatalf("excluded_bmps = %q", got)
	}
	for k, v := range map[string]string{"solver": "cplex", "solver_max_iter": "-1", "log_json": "maybe", "nope": "1"} {
		if err := c.Set(k, v); err == nil {
			t.Fatalf("set %s=%s: expected error", k, v)
		}
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := Save(c, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if back.SolverMaxIter != 50 || back.MaterialityTolerance != 0.001 || !back.LogJSON {
		t.Fatalf("round trip: %+v", back)
	}
	for _, k := range Keys() {
		if _, err := back.Get(k); err != nil {
			t.Fatalf("get %s: %v", k, err)
		}
	}
}
