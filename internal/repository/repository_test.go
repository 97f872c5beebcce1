package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/KaramelBytes/bmpopt/internal/sample"
	"github.com/KaramelBytes/bmpopt/internal/table"
)

type countingSource struct {
	Source
	reads atomic.Int32
}

func (c *countingSource) ReadTable(ctx context.Context, name string) (*table.Frame, error) {
	c.reads.Add(1)
	return c.Source.ReadTable(ctx, name)
}

func sampleDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := sample.Write(dir, sample.Watershed()); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	return dir
}

func frameRows(f *table.Frame) [][]string {
	out := make([][]string, f.Len())
	for i := range out {
		out[i] = f.Row(i)
	}
	return out
}

func TestBuildFromDirDerivesSingleSourceGroups(t *testing.T) {
	src, err := NewDirSource(sampleDir(t))
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	repo, err := New(src)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := repo.Table(TableBMP); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("expected ErrNotBuilt before Build, got %v", err)
	}
	if err := repo.Build(context.Background()); err != nil {
		t.Fatalf("build: %v", err)
	}
	one, err := repo.Table(TableSourceGroupOneSource)
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	got, _ := one.Column("loadsourceid")
	if diff := cmp.Diff([]string{"1", "2", "5", "6"}, got); diff != "" {
		t.Fatalf("single-member groups (-want +got):\n%s", diff)
	}
	if repo.Has(TableBMPAnimal) {
		t.Fatalf("optional table bmpanimal should be absent")
	}
	var mt *MissingTableError
	if _, err := repo.Table(TableBMPAnimal); !errors.As(err, &mt) {
		t.Fatalf("expected MissingTableError, got %v", err)
	}
}

func TestBuildMissingRequiredTable(t *testing.T) {
	dir := sampleDir(t)
	if err := os.Remove(filepath.Join(dir, "bmpcost.csv")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	src, _ := NewDirSource(dir)
	repo, _ := New(src)
	err := repo.Build(context.Background())
	var mt *MissingTableError
	if !errors.As(err, &mt) || mt.Table != TableBMPCost {
		t.Fatalf("expected MissingTableError for bmpcost, got %v", err)
	}
}

func TestBuildRejectsMissingColumn(t *testing.T) {
	dir := sampleDir(t)
	if err := os.WriteFile(filepath.Join(dir, "bmpcost.csv"), []byte("bmpid,cost\n1,10\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	src, _ := NewDirSource(dir)
	repo, _ := New(src)
	var mc *table.MissingColumnError
	if err := repo.Build(context.Background()); !errors.As(err, &mc) || mc.Column != "costperunit" {
		t.Fatalf("expected MissingColumnError for costperunit, got %v", err)
	}
}

func TestUnavailableSource(t *testing.T) {
	if _, err := NewDirSource(filepath.Join(t.TempDir(), "absent")); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := New(nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for nil source, got %v", err)
	}
}

func TestLoadUsesJSONCacheOnSecondRun(t *testing.T) {
	dir := sampleDir(t)
	cachePath := filepath.Join(t.TempDir(), "snapshot.json")
	ctx := context.Background()

	base, _ := NewDirSource(dir)
	first := &countingSource{Source: base}
	repo, _ := New(first, WithCache(JSONCache{Path: cachePath}))
	if err := repo.Load(ctx); err != nil {
		t.Fatalf("first load: %v", err)
	}
	if first.reads.Load() == 0 {
		t.Fatalf("first load should read from source")
	}
	if _, err := os.Stat(cachePath); err != nil {
		t.Fatalf("cache not written: %v", err)
	}

	second := &countingSource{Source: base}
	repo2, _ := New(second, WithCache(JSONCache{Path: cachePath}))
	if err := repo2.Load(ctx); err != nil {
		t.Fatalf("second load: %v", err)
	}
	if n := second.reads.Load(); n != 0 {
		t.Fatalf("second load read %d tables, want cache hit", n)
	}
	want, _ := repo.Table(TableLoadingRate)
	got, _ := repo2.Table(TableLoadingRate)
	if diff := cmp.Diff(frameRows(want), frameRows(got)); diff != "" {
		t.Fatalf("cached table differs (-want +got):\n%s", diff)
	}
}

func TestLoadRebuildsWhenSourceChanges(t *testing.T) {
	dir := sampleDir(t)
	cachePath := filepath.Join(t.TempDir(), "snapshot.json")
	ctx := context.Background()
	src, _ := NewDirSource(dir)
	repo, _ := New(src, WithCache(JSONCache{Path: cachePath}))
	if err := repo.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bmpcost.csv"), []byte("bmpid,costperunit\n1,99\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	counting := &countingSource{Source: src}
	repo2, _ := New(counting, WithCache(JSONCache{Path: cachePath}))
	if err := repo2.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if counting.reads.Load() == 0 {
		t.Fatalf("stale cache should trigger a rebuild")
	}
	cost, _ := repo2.Table(TableBMPCost)
	if cost.Len() != 1 || cost.Value(0, "costperunit") != "99" {
		t.Fatalf("rebuilt table not refreshed: %v", frameRows(cost))
	}
}

func TestSQLiteCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := SQLiteCache{Path: filepath.Join(t.TempDir(), "cache", "snapshot.db")}
	if _, err := cache.Load(ctx); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss on empty cache, got %v", err)
	}
	repo, err := FromTables(sample.TwoBMP())
	if err != nil {
		t.Fatalf("from tables: %v", err)
	}
	snap := repo.Snapshot()
	if err := cache.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	back, err := cache.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(snap.Meta.Tables, back.Meta.Tables); diff != "" {
		t.Fatalf("meta tables (-want +got):\n%s", diff)
	}
	for name, f := range snap.Tables {
		g, ok := back.Tables[name]
		if !ok {
			t.Fatalf("table %s missing after round trip", name)
		}
		if diff := cmp.Diff(f.Columns(), g.Columns()); diff != "" {
			t.Fatalf("%s columns (-want +got):\n%s", name, diff)
		}
		if diff := cmp.Diff(frameRows(f), frameRows(g)); diff != "" {
			t.Fatalf("%s rows (-want +got):\n%s", name, diff)
		}
	}
}

func TestMetaCompatible(t *testing.T) {
	cur := Meta{Version: SnapshotVersion, Source: "dir:/a", Fingerprint: "x"}
	if !metaCompatible(cur, cur) {
		t.Fatalf("identical meta must be compatible")
	}
	if metaCompatible(Meta{Version: 0, Source: "dir:/a"}, cur) {
		t.Fatalf("version mismatch must be incompatible")
	}
	if metaCompatible(Meta{Version: SnapshotVersion, Source: "dir:/b"}, cur) {
		t.Fatalf("source mismatch must be incompatible")
	}
	if !metaCompatible(Meta{Version: SnapshotVersion, Source: "dir:/a"}, cur) {
		t.Fatalf("missing fingerprint should not invalidate")
	}
}
