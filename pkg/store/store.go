// Package store manages the DuckDB-backed medallion store for rental
// market data: bronze (raw ingest), silver (cleaned, single source of
// truth) and gold (star schema for analytics).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

// Layer names inside the database.
const (
	SchemaBronze = "bronze"
	SchemaSilver = "silver"
	SchemaGold   = "gold"
)

// SilverTable is the cleaned rent-contracts table, the single source of
// truth for downstream consumers.
const SilverTable = "silver.rent_contracts"

// Store manages a DuckDB database with bronze/silver/gold layers.
type Store struct {
	db   *sql.DB
	path string

	// now is the wall clock; injectable so cleaning runs can be made
	// deterministic in tests.
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the database file and ensures the medallion
// schemas exist. Use path "" for an in-memory store.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeStoreInit, "failed to open duckdb").
			WithContext("path", path)
	}

	s := &Store{db: db, path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	for _, schema := range []string{SchemaBronze, SchemaSilver, SchemaGold} {
		if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + schema); err != nil {
			db.Close()
			return nil, rferrors.Wrap(err, rferrors.CodeStoreInit, "failed to create schema").
				WithContext("schema", schema)
		}
	}

	slog.Debug("medallion store opened", "path", path)
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for read-only collaborators
// (validator, reporter).
func (s *Store) DB() *sql.DB {
	return s.db
}

// RowCount returns the row count of a table (schema-qualified name).
func (s *Store) RowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
	if err != nil {
		return 0, rferrors.Wrap(err, rferrors.CodeStoreQuery, "row count failed").
			WithContext("table", table)
	}
	return count, nil
}

// TableExists reports whether a schema-qualified table exists.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	schema, name, ok := strings.Cut(table, ".")
	if !ok {
		schema, name = "main", table
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?
	`, schema, name).Scan(&count)
	if err != nil {
		return false, rferrors.Wrap(err, rferrors.CodeStoreQuery, "table lookup failed")
	}
	return count > 0, nil
}

// Columns returns the column names of a table in definition order.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "DESCRIBE "+table)
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeStoreQuery, "describe failed").
			WithContext("table", table)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name, dtype string
		var null, key, dflt, extra interface{}
		if err := rows.Scan(&name, &dtype, &null, &key, &dflt, &extra); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// Summary maps layer -> table -> row count across the medallion store.
func (s *Store) Summary(ctx context.Context) (map[string]map[string]int64, error) {
	summary := map[string]map[string]int64{
		SchemaBronze: {},
		SchemaSilver: {},
		SchemaGold:   {},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_schema IN ('bronze', 'silver', 'gold')
		ORDER BY table_schema, table_name
	`)
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeStoreQuery, "listing tables failed")
	}
	defer rows.Close()

	type entry struct{ schema, name string }
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.schema, &e.name); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range entries {
		count, err := s.RowCount(ctx, e.schema+"."+e.name)
		if err != nil {
			return nil, err
		}
		summary[e.schema][e.name] = count
	}
	return summary, nil
}

// Fingerprint computes a stable content hash of a table: row count plus
// an md5 over an ordered, bounded projection of identifying columns.
// Used to key the gold-layer cache so stale dimensions are never served
// against a newer silver layer.
func (s *Store) Fingerprint(ctx context.Context, table string) (string, error) {
	columns, err := s.Columns(ctx, table)
	if err != nil {
		return "", err
	}
	if len(columns) > 4 {
		columns = columns[:4]
	}

	colExpr := make([]string, len(columns))
	for i, c := range columns {
		colExpr[i] = fmt.Sprintf(`COALESCE("%s"::VARCHAR, '')`, c)
	}
	joined := strings.Join(colExpr, " || ',' || ")

	query := fmt.Sprintf(`
		SELECT COUNT(*)::VARCHAR || ':' || COALESCE(md5(string_agg(v, '|' ORDER BY v)), '')
		FROM (SELECT %s AS v FROM %s LIMIT 100000)
	`, joined, table)

	var fingerprint string
	if err := s.db.QueryRowContext(ctx, query).Scan(&fingerprint); err != nil {
		return "", rferrors.Wrap(err, rferrors.CodeStoreQuery, "fingerprint failed").
			WithContext("table", table)
	}
	return fingerprint, nil
}

// escapePath escapes single quotes for safe embedding in SQL literals.
func escapePath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
