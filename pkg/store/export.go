package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

// ExportParquet writes a table to a Parquet file. The silver layer is
// the usual export target; downstream consumers read the file, not the
// database. Parent directories are created as needed.
func (s *Store) ExportParquet(ctx context.Context, table, outputPath, compression string) error {
	if compression == "" {
		compression = "zstd"
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return rferrors.Wrap(err, rferrors.CodeExportFailed, "creating output directory failed").
			WithContext("path", outputPath)
	}

	start := time.Now()
	query := fmt.Sprintf(`
		COPY %s TO '%s' (FORMAT PARQUET, COMPRESSION '%s')
	`, table, escapePath(outputPath), escapePath(compression))

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return rferrors.Wrap(err, rferrors.CodeExportFailed, "parquet export failed").
			WithContext("table", table).
			WithContext("path", outputPath)
	}

	count, err := s.RowCount(ctx, table)
	if err != nil {
		return err
	}
	var size int64
	if info, err := os.Stat(outputPath); err == nil {
		size = info.Size()
	}

	slog.Info("parquet export complete",
		"table", table,
		"path", outputPath,
		"rows", count,
		"bytes", size,
		"compression", compression,
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// CreateExpiringView creates silver.active_contracts, the contracts
// whose end date falls within the next N days. Consumers use it to
// chase leases that are about to lapse.
func (s *Store) CreateExpiringView(ctx context.Context, days int) error {
	query := fmt.Sprintf(`
		CREATE OR REPLACE VIEW silver.active_contracts AS
		SELECT *
		FROM %s
		WHERE contract_end_date IS NOT NULL
		  AND contract_end_date >= current_date
		  AND contract_end_date <= current_date + INTERVAL (%d) DAY
	`, SilverTable, days)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return rferrors.Wrap(err, rferrors.CodeStoreWrite, "expiring contracts view failed").
			WithContext("days", days)
	}
	slog.Debug("expiring contracts view refreshed", "window_days", days)
	return nil
}
