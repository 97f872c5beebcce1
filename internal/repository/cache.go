package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/KaramelBytes/bmpopt/internal/table"
	"github.com/KaramelBytes/bmpopt/internal/utils"
)

// SnapshotVersion is bumped whenever the snapshot layout changes.
const SnapshotVersion = 1

// ErrCacheMiss is returned by caches that hold no snapshot.
var ErrCacheMiss = errors.New("repository cache miss")

// Meta describes where a snapshot came from.
type Meta struct {
	Version     int       `json:"version"`
	Source      string    `json:"source"`
	Fingerprint string    `json:"fingerprint"`
	Tables      []string  `json:"tables"`
	CreatedAt   time.Time `json:"created_at"`
}

// Snapshot is a built set of reference tables.
type Snapshot struct {
	Meta   Meta                    `json:"meta"`
	Tables map[string]*table.Frame `json:"tables"`
}

// Cache persists snapshots between runs.
type Cache interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// metaCompatible checks if a cached snapshot can stand in for the current source.
func metaCompatible(prev, cur Meta) bool {
	if prev.Version != cur.Version {
		return false
	}
	if prev.Source != "" && cur.Source != "" && prev.Source != cur.Source {
		return false
	}
	if prev.Fingerprint != "" && cur.Fingerprint != "" && prev.Fingerprint != cur.Fingerprint {
		return false
	}
	return true
}

func tableNames(tables map[string]*table.Frame) []string {
	out := make([]string, 0, len(tables))
	for n := range tables {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// JSONCache stores the snapshot as one JSON file.
type JSONCache struct {
	Path string
}

func (c JSONCache) Load(_ context.Context) (*Snapshot, error) {
	b, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", c.Path, err)
	}
	if snap.Tables == nil {
		snap.Tables = map[string]*table.Frame{}
	}
	// Backfill meta defaults for older snapshots
	if snap.Meta.Version == 0 {
		snap.Meta.Version = 1
	}
	return &snap, nil
}

func (c JSONCache) Save(_ context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return utils.SafeWriteFile(c.Path, b)
}

// NoCache never holds a snapshot.
type NoCache struct{}

func (NoCache) Load(context.Context) (*Snapshot, error) { return nil, ErrCacheMiss }
func (NoCache) Save(context.Context, *Snapshot) error { return nil }
