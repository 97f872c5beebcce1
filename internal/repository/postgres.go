package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KaramelBytes/bmpopt/internal/table"
)

// PostgresSource serves reference tables from one schema of a Postgres database.
type PostgresSource struct {
	pool   *pgxpool.Pool
	schema string
	name   string
}

// NewPostgresSource connects to databaseURL and verifies the connection.
func NewPostgresSource(ctx context.Context, databaseURL, schema string) (*PostgresSource, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("%w: database_url not set", ErrUnavailable)
	}
	if schema == "" {
		schema = "public"
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse database config: %v", ErrUnavailable, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	cc := cfg.ConnConfig
	return &PostgresSource{
		pool:   pool,
		schema: schema,
		name:   fmt.Sprintf("postgres:%s:%d/%s/%s", cc.Host, cc.Port, cc.Database, schema),
	}, nil
}

func (s *PostgresSource) Name() string { return s.name }

// Fingerprint is the source name; table contents are not hashed.
func (s *PostgresSource) Fingerprint(_ context.Context) (string, error) { return s.name, nil }

func (s *PostgresSource) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT lower(table_name) FROM information_schema.tables WHERE table_schema = $1 ORDER BY 1`, s.schema)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

// ReadTable selects every row of the table. The simple protocol returns
// text-format cells, which become frame values unchanged; NULL becomes "".
func (s *PostgresSource) ReadTable(ctx context.Context, name string) (*table.Frame, error) {
	present, err := s.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for _, n := range present {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s.%s", ErrTableNotFound, s.schema, name)
	}
	query := "SELECT * FROM " + pgx.Identifier{s.schema, name}.Sanitize()
	rows, err := s.pool.Query(ctx, query, pgx.QueryExecModeSimpleProtocol)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	defer rows.Close()
	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, fd := range fields {
		cols[i] = fd.Name
	}
	out := table.New(name, cols...)
	for rows.Next() {
		raw := rows.RawValues()
		cells := make([]string, len(raw))
		for i, b := range raw {
			if b != nil {
				cells[i] = string(b)
			}
		}
		if err := out.Append(cells...); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return out, nil
}

func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}
