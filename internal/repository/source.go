package repository

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/KaramelBytes/bmpopt/internal/table"
)

// Source provides raw reference tables by name.
type Source interface {
	// Name identifies the source in cache metadata, e.g. "dir:/data/cast".
	Name() string
	// Fingerprint changes whenever the underlying tables may have changed.
	Fingerprint(ctx context.Context) (string, error)
	ListTables(ctx context.Context) ([]string, error)
	// ReadTable returns ErrTableNotFound when the source lacks the table.
	ReadTable(ctx context.Context, name string) (*table.Frame, error)
	Close() error
}

// ErrTableNotFound is returned by sources for absent tables.
var ErrTableNotFound = errors.New("table not found")

// DirSource serves tables from a directory of CSV/TSV/XLSX files named after the table.
type DirSource struct {
	Dir string
}

// NewDirSource validates that dir exists.
func NewDirSource(dir string) (*DirSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrUnavailable, dir)
	}
	return &DirSource{Dir: dir}, nil
}

func (s *DirSource) Name() string { return "dir:" + s.Dir }

func (s *DirSource) files() (map[string]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.Dir, err)
	}
	out := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !table.Supported(e.Name()) {
			continue
		}
		name := table.NameOf(e.Name())
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("table %q provided by more than one file in %s", name, s.Dir)
		}
		out[name] = filepath.Join(s.Dir, e.Name())
	}
	return out, nil
}

// Fingerprint hashes file names, sizes and modification times.
func (s *DirSource) Fingerprint(_ context.Context) (string, error) {
	files, err := s.files()
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	h := sha1.New()
	for _, n := range names {
		info, err := os.Stat(files[n])
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s|%d|%d\n", filepath.Base(files[n]), info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *DirSource) ListTables(_ context.Context) ([]string, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(files))
	for n := range files {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (s *DirSource) ReadTable(_ context.Context, name string) (*table.Frame, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	p, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrTableNotFound, name, s.Dir)
	}
	f, err := table.ReadFile(p)
	if err != nil {
		return nil, err
	}
	f.Name = name
	return f, nil
}

func (s *DirSource) Close() error { return nil }
