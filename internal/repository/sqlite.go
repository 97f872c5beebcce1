package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/KaramelBytes/bmpopt/internal/table"
	"github.com/KaramelBytes/bmpopt/internal/utils"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshot_meta (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	meta  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_tables (
	name    TEXT PRIMARY KEY,
	columns TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_rows (
	name  TEXT NOT NULL,
	seq   INTEGER NOT NULL,
	cells TEXT NOT NULL,
	PRIMARY KEY (name, seq)
);`

// SQLiteCache stores the snapshot in a SQLite database, one row per table row.
type SQLiteCache struct {
	Path string
}

func (c SQLiteCache) open() (*sql.DB, error) {
	if err := utils.EnsureDir(filepath.Dir(c.Path)); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", c.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite cache: %w", err)
	}
	return db, nil
}

func (c SQLiteCache) Load(ctx context.Context) (*Snapshot, error) {
	if _, err := os.Stat(c.Path); errors.Is(err, os.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	db, err := c.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var rawMeta string
	if err := db.QueryRowContext(ctx, `SELECT meta FROM snapshot_meta WHERE id = 1`).Scan(&rawMeta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("read snapshot meta: %w", err)
	}
	snap := &Snapshot{Tables: map[string]*table.Frame{}}
	if err := json.Unmarshal([]byte(rawMeta), &snap.Meta); err != nil {
		return nil, fmt.Errorf("decode snapshot meta: %w", err)
	}

	trows, err := db.QueryContext(ctx, `SELECT name, columns FROM snapshot_tables ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("read snapshot tables: %w", err)
	}
	for trows.Next() {
		var name, rawCols string
		if err := trows.Scan(&name, &rawCols); err != nil {
			trows.Close()
			return nil, err
		}
		var cols []string
		if err := json.Unmarshal([]byte(rawCols), &cols); err != nil {
			trows.Close()
			return nil, fmt.Errorf("decode columns of %s: %w", name, err)
		}
		snap.Tables[name] = table.New(name, cols...)
	}
	trows.Close()
	if err := trows.Err(); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT name, cells FROM snapshot_rows ORDER BY name, seq`)
	if err != nil {
		return nil, fmt.Errorf("read snapshot rows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, rawCells string
		if err := rows.Scan(&name, &rawCells); err != nil {
			return nil, err
		}
		f, ok := snap.Tables[name]
		if !ok {
			return nil, fmt.Errorf("snapshot row for unknown table %q", name)
		}
		var cells []string
		if err := json.Unmarshal([]byte(rawCells), &cells); err != nil {
			return nil, fmt.Errorf("decode row of %s: %w", name, err)
		}
		if err := f.Append(cells...); err != nil {
			return nil, err
		}
	}
	return snap, rows.Err()
}

func (c SQLiteCache) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	db, err := c.open()
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{`DELETE FROM snapshot_meta`, `DELETE FROM snapshot_tables`, `DELETE FROM snapshot_rows`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear sqlite cache: %w", err)
		}
	}
	rawMeta, err := json.Marshal(snap.Meta)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_meta (id, meta) VALUES (1, ?)`, string(rawMeta)); err != nil {
		return fmt.Errorf("write snapshot meta: %w", err)
	}
	insRow, err := tx.PrepareContext(ctx, `INSERT INTO snapshot_rows (name, seq, cells) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insRow.Close()
	for _, name := range tableNames(snap.Tables) {
		f := snap.Tables[name]
		rawCols, _ := json.Marshal(f.Columns())
		if _, err := tx.ExecContext(ctx, `INSERT INTO snapshot_tables (name, columns) VALUES (?, ?)`, name, string(rawCols)); err != nil {
			return fmt.Errorf("write table %s: %w", name, err)
		}
		for i := 0; i < f.Len(); i++ {
			rawCells, _ := json.Marshal(f.Row(i))
			if _, err := insRow.ExecContext(ctx, name, i, string(rawCells)); err != nil {
				return fmt.Errorf("write row %d of %s: %w", i, name, err)
			}
		}
	}
	return tx.Commit()
}
