package verify

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/marcboeker/go-duckdb"
)

func writeParquet(t *testing.T) (string, int64) {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	defer db.Close()

	path := filepath.Join(t.TempDir(), "contracts.parquet")
	_, err = db.ExecContext(context.Background(), fmt.Sprintf(`
		COPY (
			SELECT 'C-' || n::VARCHAR AS contract_id, n * 1000 AS annual_amount
			FROM generate_series(1, 25) AS t(n)
		) TO '%s' (FORMAT PARQUET, COMPRESSION 'zstd')
	`, path))
	if err != nil {
		t.Fatalf("write parquet: %v", err)
	}
	return path, 25
}

func TestReadInfo(t *testing.T) {
	path, rows := writeParquet(t)

	info, err := ReadInfo(path)
	if err != nil {
		t.Fatalf("read info: %v", err)
	}
	if info.Rows != rows {
		t.Errorf("rows: want %d, got %d", rows, info.Rows)
	}
	if len(info.Columns) != 2 || info.Columns[0] != "contract_id" {
		t.Errorf("unexpected columns: %v", info.Columns)
	}
	if info.Bytes == 0 {
		t.Error("expected a non-empty file")
	}
}

func TestExport(t *testing.T) {
	path, rows := writeParquet(t)

	if err := Export(path, rows, []string{"contract_id", "annual_amount"}); err != nil {
		t.Errorf("verification should pass: %v", err)
	}
	if err := Export(path, rows+1, nil); err == nil {
		t.Error("row count mismatch must fail verification")
	}
	if err := Export(path, rows, []string{"missing_column"}); err == nil {
		t.Error("missing column must fail verification")
	}
}

func TestReadInfoMissingFile(t *testing.T) {
	if _, err := ReadInfo("/nonexistent.parquet"); err == nil {
		t.Error("expected error for missing file")
	}
}
