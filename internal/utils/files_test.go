package utils_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/KaramelBytes/bmpopt/internal/utils"
)

func TestSafeWriteFileReplacesContents(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	path := filepath.Join(dir, "out.json")
	for _, body := range []string{`{"ok":false,"long":true}`, `{"ok":true}`} {
		if err := utils.SafeWriteFile(path, []byte(body)); err != nil {
			t.Fatalf("write: %v", err)
		}
		b, err := os.ReadFile(path)
		if err != nil || string(b) != body {
			t.Fatalf("read back %q: %v", b, err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if diff := cmp.Diff([]string{"out.json"}, names); diff != "" {
		t.Fatalf("leftover files (-want +got):\n%s", diff)
	}
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm() != 0o644 {
		t.Fatalf("mode %v: %v", info.Mode(), err)
	}
}

func TestPrettyJSONEndsWithNewline(t *testing.T) {
	b, err := utils.PrettyJSON(map[string]int{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("{\n  \"a\": 1\n}\n", string(b)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestFindScenarioRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, utils.ScenarioFile), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "results", "deep")
	if err := utils.EnsureDir(nested); err != nil {
		t.Fatal(err)
	}
	csv := filepath.Join(nested, "r.csv")
	if err := os.WriteFile(csv, []byte("a\n1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, start := range []string{root, nested, csv} {
		got, err := utils.FindScenarioRoot(start)
		if err != nil {
			t.Fatalf("find from %s: %v", start, err)
		}
		if got != root {
			t.Fatalf("find from %s = %s, want %s", start, got, root)
		}
	}
	if _, err := utils.FindScenarioRoot(t.TempDir()); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected ErrNotFound outside any scenario, got %v", err)
	}
	if got, err := utils.FindUp(csv, "results"); err != nil || got != root {
		t.Fatalf("FindUp(results) = %s, %v", got, err)
	}
}
