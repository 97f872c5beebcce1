// Package repository loads the normalized reference tables the optimizer
// reads from, and caches built snapshots between runs.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KaramelBytes/bmpopt/internal/table"
)

var (
	// ErrNotBuilt is returned by Table before Build or Load has succeeded.
	ErrNotBuilt = errors.New("repository not built")
	// ErrUnavailable is returned when the backing source cannot be reached.
	ErrUnavailable = errors.New("repository unavailable")
)

// MissingTableError reports a required table absent from the source.
type MissingTableError struct {
	Table  string
	Source string
}

func (e *MissingTableError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("reference table %q not available", e.Table)
	}
	return fmt.Sprintf("reference table %q not found in %s", e.Table, e.Source)
}

// Repository holds the reference tables for one source.
type Repository struct {
	src         Source
	cache       Cache
	log         *zap.Logger
	parallelism int

	mu     sync.RWMutex
	tables map[string]*table.Frame
	meta   Meta
}

// Option configures a Repository.
type Option func(*Repository)

// WithCache sets the snapshot cache used by Load.
func WithCache(c Cache) Option {
	return func(r *Repository) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.log = l
		}
	}
}

// WithParallelism bounds concurrent table reads during Build.
func WithParallelism(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// New returns an unbuilt repository over src.
func New(src Source, opts ...Option) (*Repository, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrUnavailable)
	}
	r := &Repository{src: src, cache: NoCache{}, log: zap.NewNop(), parallelism: 4}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// FromTables returns a built repository over in-memory tables.
// sourcegrouponesource is derived when absent.
func FromTables(tables map[string]*table.Frame) (*Repository, error) {
	r := &Repository{cache: NoCache{}, log: zap.NewNop(), parallelism: 1}
	built := make(map[string]*table.Frame, len(tables))
	for name, f := range tables {
		if err := validate(name, f); err != nil {
			return nil, err
		}
		built[name] = f
	}
	for _, name := range KnownTables() {
		if _, ok := built[name]; !ok && !Optional(name) {
			return nil, &MissingTableError{Table: name, Source: "memory"}
		}
	}
	if err := deriveSingleSourceGroups(built); err != nil {
		return nil, err
	}
	r.tables = built
	r.meta = Meta{Version: SnapshotVersion, Source: "memory", Tables: tableNames(built), CreatedAt: time.Now().UTC()}
	return r, nil
}

func validate(name string, f *table.Frame) error {
	if err := f.Require(RequiredColumns(name)...); err != nil {
		return fmt.Errorf("reference table %s: %w", name, err)
	}
	return nil
}

// Build reads every known table from the source in parallel and validates its columns.
func (r *Repository) Build(ctx context.Context) error {
	if r.src == nil {
		return fmt.Errorf("%w: no source", ErrUnavailable)
	}
	fp, err := r.src.Fingerprint(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	listed, err := r.src.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	present := make(map[string]bool, len(listed))
	for _, n := range listed {
		present[n] = true
	}
	var toRead []string
	for _, name := range KnownTables() {
		if present[name] {
			toRead = append(toRead, name)
			continue
		}
		if !Optional(name) {
			return &MissingTableError{Table: name, Source: r.src.Name()}
		}
	}

	start := time.Now()
	var mu sync.Mutex
	built := make(map[string]*table.Frame, len(toRead))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.parallelism)
	for _, name := range toRead {
		eg.Go(func() error {
			f, err := r.src.ReadTable(egCtx, name)
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			if err := validate(name, f); err != nil {
				return err
			}
			mu.Lock()
			built[name] = f
			mu.Unlock()
			r.log.Debug("reference table loaded", zap.String("table", name), zap.Int("rows", f.Len()))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if err := deriveSingleSourceGroups(built); err != nil {
		return err
	}

	r.mu.Lock()
	r.tables = built
	r.meta = Meta{
		Version:     SnapshotVersion,
		Source:      r.src.Name(),
		Fingerprint: fp,
		Tables:      tableNames(built),
		CreatedAt:   time.Now().UTC(),
	}
	r.mu.Unlock()
	r.log.Info("repository built",
		zap.String("source", r.src.Name()),
		zap.Int("tables", len(built)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Load restores a compatible cached snapshot, or builds from the source and
// refreshes the cache.
func (r *Repository) Load(ctx context.Context) error {
	cur := Meta{Version: SnapshotVersion}
	if r.src != nil {
		cur.Source = r.src.Name()
		fp, err := r.src.Fingerprint(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		cur.Fingerprint = fp
	}
	snap, err := r.cache.Load(ctx)
	switch {
	case err == nil && metaCompatible(snap.Meta, cur) && r.snapshotComplete(snap):
		r.mu.Lock()
		r.tables = snap.Tables
		r.meta = snap.Meta
		r.mu.Unlock()
		r.log.Info("repository loaded from cache", zap.String("source", snap.Meta.Source), zap.Int("tables", len(snap.Tables)))
		return nil
	case err == nil:
		r.log.Info("repository cache stale, rebuilding", zap.String("cached_source", snap.Meta.Source))
	case errors.Is(err, ErrCacheMiss):
		r.log.Debug("repository cache miss")
	default:
		r.log.Warn("repository cache unreadable, rebuilding", zap.Error(err))
	}
	if err := r.Build(ctx); err != nil {
		return err
	}
	if err := r.cache.Save(ctx, r.Snapshot()); err != nil {
		r.log.Warn("repository cache save failed", zap.Error(err))
	}
	return nil
}

func (r *Repository) snapshotComplete(snap *Snapshot) bool {
	for _, name := range KnownTables() {
		f, ok := snap.Tables[name]
		if !ok {
			if Optional(name) {
				continue
			}
			return false
		}
		if validate(name, f) != nil {
			return false
		}
	}
	return true
}

// Snapshot returns the built tables with their metadata.
func (r *Repository) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Snapshot{Meta: r.meta, Tables: r.tables}
}

// Built reports whether tables are available.
func (r *Repository) Built() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tables != nil
}

// Table returns a built reference table.
func (r *Repository) Table(name string) (*table.Frame, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.tables == nil {
		return nil, ErrNotBuilt
	}
	f, ok := r.tables[name]
	if !ok {
		return nil, &MissingTableError{Table: name, Source: r.meta.Source}
	}
	return f, nil
}

// Has reports whether a built table is present.
func (r *Repository) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tables[name]
	return ok
}

// Tables returns the built table names in sorted order.
func (r *Repository) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return tableNames(r.tables)
}

// Close releases the source.
func (r *Repository) Close() error {
	if r.src == nil {
		return nil
	}
	return r.src.Close()
}

// deriveSingleSourceGroups fills sourcegrouponesource from loadsourcegroupcomponents
// with the groups that have exactly one distinct member.
func deriveSingleSourceGroups(tables map[string]*table.Frame) error {
	if _, ok := tables[TableSourceGroupOneSource]; ok {
		return nil
	}
	comps, ok := tables[TableLoadSourceGroupComps]
	if !ok {
		return &MissingTableError{Table: TableLoadSourceGroupComps}
	}
	members := map[string]map[string]struct{}{}
	for i := 0; i < comps.Len(); i++ {
		g := comps.Value(i, "loadsourcegroupid")
		if members[g] == nil {
			members[g] = map[string]struct{}{}
		}
		members[g][comps.Value(i, "loadsourceid")] = struct{}{}
	}
	groups := make([]string, 0, len(members))
	for g, m := range members {
		if len(m) == 1 {
			groups = append(groups, g)
		}
	}
	sort.Strings(groups)
	out := table.New(TableSourceGroupOneSource, "loadsourcegroupid", "loadsourceid")
	for _, g := range groups {
		for ls := range members[g] {
			_ = out.Append(g, ls)
		}
	}
	tables[TableSourceGroupOneSource] = out
	return nil
}
