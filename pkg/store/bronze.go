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

// BronzeTable is the raw rent-contracts landing table.
const BronzeTable = "bronze.rent_contracts"

// IngestCSV loads a CSV file into the bronze layer exactly as delivered,
// letting DuckDB infer the schema from the full file. Two audit columns
// are appended: _ingestion_timestamp and _source_file. Re-running for the
// same table replaces the previous load.
func (s *Store) IngestCSV(ctx context.Context, csvPath string) (int64, error) {
	info, err := os.Stat(csvPath)
	if err != nil {
		return 0, rferrors.Wrap(err, rferrors.CodeStoreWrite, "source file not readable").
			WithContext("path", csvPath)
	}

	start := time.Now()
	ingestedAt := s.now().UTC().Format("2006-01-02 15:04:05")
	sourceFile := filepath.Base(csvPath)

	query := fmt.Sprintf(`
		CREATE OR REPLACE TABLE %s AS
		SELECT
			*,
			TIMESTAMP '%s' AS _ingestion_timestamp,
			'%s' AS _source_file
		FROM read_csv_auto('%s', nullstr='null', sample_size=-1)
	`, BronzeTable, ingestedAt, escapePath(sourceFile), escapePath(csvPath))

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return 0, rferrors.Wrap(err, rferrors.CodeStoreWrite, "bronze ingest failed").
			WithContext("path", csvPath)
	}

	count, err := s.RowCount(ctx, BronzeTable)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, rferrors.New(rferrors.CodeEmptyDataset, "source file contains no rows").
			WithContext("path", csvPath)
	}

	slog.Info("bronze layer loaded",
		"table", BronzeTable,
		"rows", count,
		"source_bytes", info.Size(),
		"duration", time.Since(start).Round(time.Millisecond))
	return count, nil
}
