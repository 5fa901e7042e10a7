package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

var frozenClock = func() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func writeCSV(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rent_contracts.csv")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("writing csv: %v", err)
	}
	return path
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", WithClock(frozenClock))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

const sampleHeader = "contract_id,contract_start_date,contract_end_date,property_usage_en,annual_amount,area_id,area_name_en,tenant_type_id,tenant_type_en,contract_reg_type_id,contract_reg_type_en"

var sampleRows = []string{
	"C-001,2024-01-01,2024-12-31,Residential,50000,101,Downtown,1,Person,1,New",
	"C-002,2024-02-01,2025-01-31,Residential,60000,101,Downtown,1,Person,2,Renew",
	"C-003,2024-03-15,2024-09-14,Commercial,75000,202,Marina,2,Company,1,New",
}

func ingestSample(t *testing.T, s *Store) {
	t.Helper()
	path := writeCSV(t, append([]string{sampleHeader}, sampleRows...)...)
	if _, err := s.IngestCSV(context.Background(), path); err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

func TestIngestCSV(t *testing.T) {
	s := openStore(t)
	path := writeCSV(t, append([]string{sampleHeader}, sampleRows...)...)

	count, err := s.IngestCSV(context.Background(), path)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 rows, got %d", count)
	}

	columns, err := s.Columns(context.Background(), BronzeTable)
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	for _, want := range []string{"_ingestion_timestamp", "_source_file"} {
		found := false
		for _, c := range columns {
			if c == want {
				found = true
			}
		}
		if !found {
			t.Errorf("audit column %s missing from bronze", want)
		}
	}
}

func TestIngestCSVMissingFile(t *testing.T) {
	s := openStore(t)

	_, err := s.IngestCSV(context.Background(), "/nonexistent/file.csv")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !rferrors.IsCode(err, rferrors.CodeStoreWrite) {
		t.Errorf("expected %s, got %s", rferrors.CodeStoreWrite, rferrors.GetCode(err))
	}
}

func TestIngestCSVEmpty(t *testing.T) {
	s := openStore(t)
	path := writeCSV(t, sampleHeader)

	_, err := s.IngestCSV(context.Background(), path)
	if !rferrors.IsCode(err, rferrors.CodeEmptyDataset) {
		t.Errorf("expected %s for header-only file, got %v", rferrors.CodeEmptyDataset, err)
	}
}

func TestCleanMissingColumns(t *testing.T) {
	s := openStore(t)
	path := writeCSV(t,
		"contract_start_date,annual_amount",
		"2024-01-01,50000",
	)
	if _, err := s.IngestCSV(context.Background(), path); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	_, err := s.Clean(context.Background())
	if err == nil {
		t.Fatal("expected error for missing columns")
	}
	if !rferrors.IsCode(err, rferrors.CodeMissingColumn) {
		t.Errorf("expected %s, got %s", rferrors.CodeMissingColumn, rferrors.GetCode(err))
	}
	if !strings.Contains(err.Error(), "Missing required columns") {
		t.Errorf("error should name the missing columns, got: %v", err)
	}
}

func TestCleanQualityFlags(t *testing.T) {
	s := openStore(t)
	path := writeCSV(t,
		sampleHeader,
		"C-001,2024-01-01,2024-12-31,Residential,50000,101,Downtown,1,Person,1,New",
		"C-002,null,2024-12-31,Residential,60000,101,Downtown,1,Person,1,New",
		"C-003,2024-01-01,2024-12-31,Residential,-100,101,Downtown,1,Person,1,New",
		"C-004,2024-01-01,2024-12-31,Residential,null,101,Downtown,1,Person,1,New",
	)
	if _, err := s.IngestCSV(context.Background(), path); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	count, err := s.Clean(context.Background())
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if count != 4 {
		t.Errorf("cleaning must not drop rows: want 4, got %d", count)
	}

	var dateIssues, amountIssues int64
	err = s.DB().QueryRow(`
		SELECT
			COUNT(*) FILTER (WHERE _has_date_issues),
			COUNT(*) FILTER (WHERE _has_amount_issues)
		FROM silver.rent_contracts
	`).Scan(&dateIssues, &amountIssues)
	if err != nil {
		t.Fatalf("flag counts: %v", err)
	}
	if dateIssues != 1 {
		t.Errorf("expected 1 date issue, got %d", dateIssues)
	}
	if amountIssues != 2 {
		t.Errorf("expected 2 amount issues (negative and null), got %d", amountIssues)
	}
}

func TestCleanDeterministic(t *testing.T) {
	s := openStore(t)
	ingestSample(t, s)

	if _, err := s.Clean(context.Background()); err != nil {
		t.Fatalf("clean: %v", err)
	}
	first, err := s.Fingerprint(context.Background(), SilverTable)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}

	if _, err := s.Clean(context.Background()); err != nil {
		t.Fatalf("re-clean: %v", err)
	}
	second, err := s.Fingerprint(context.Background(), SilverTable)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}

	if first != second {
		t.Errorf("re-cleaning with a frozen clock must be deterministic: %s != %s", first, second)
	}
}

func TestStarSchema(t *testing.T) {
	s := openStore(t)
	ingestSample(t, s)
	cleaned, err := s.Clean(context.Background())
	if err != nil {
		t.Fatalf("clean: %v", err)
	}

	result, err := s.StarSchema(context.Background())
	if err != nil {
		t.Fatalf("star schema: %v", err)
	}
	if result.Reused {
		t.Error("first build must not be a cache hit")
	}

	if got := result.Counts["fact_rent_contract"]; got != cleaned {
		t.Errorf("fact rows must equal cleaned rows: want %d, got %d", cleaned, got)
	}

	// Surrogate keys are dense 1..N over distinct non-null natural keys.
	for table, keyCol := range map[string]string{
		"gold.dim_location":      "location_key",
		"gold.dim_tenant":        "tenant_type_key",
		"gold.dim_contract_type": "contract_type_key",
	} {
		var n, minKey, maxKey int64
		query := fmt.Sprintf("SELECT COUNT(*), MIN(%s), MAX(%s) FROM %s", keyCol, keyCol, table)
		if err := s.DB().QueryRow(query).Scan(&n, &minKey, &maxKey); err != nil {
			t.Fatalf("%s: %v", table, err)
		}
		if n == 0 || minKey != 1 || maxKey != n {
			t.Errorf("%s: surrogate keys not contiguous 1..N (n=%d min=%d max=%d)",
				table, n, minKey, maxKey)
		}
	}

	// 2024 is a leap year: 2024-01-01 through 2025-01-31 is 397 days.
	if got := result.Counts["dim_date"]; got != 397 {
		t.Errorf("date dimension must cover the full span: want 397 days, got %d", got)
	}
	var distinctDates int64
	if err := s.DB().QueryRow("SELECT COUNT(DISTINCT full_date) FROM gold.dim_date").Scan(&distinctDates); err != nil {
		t.Fatalf("date dim: %v", err)
	}
	if distinctDates != result.Counts["dim_date"] {
		t.Errorf("date dimension has duplicate days: %d distinct of %d", distinctDates, result.Counts["dim_date"])
	}

	// Dimensions absent from the feed yield null foreign keys, not dropped rows.
	var nullProps int64
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM gold.fact_rent_contract WHERE property_key IS NULL").Scan(&nullProps); err != nil {
		t.Fatalf("fact: %v", err)
	}
	if nullProps != cleaned {
		t.Errorf("expected all %d fact rows to carry null property_key, got %d", cleaned, nullProps)
	}

	// Whole-month duration: C-001 runs 2024-01-01 to 2024-12-31.
	var months int64
	if err := s.DB().QueryRow(`
		SELECT contract_duration_months FROM gold.fact_rent_contract
		WHERE contract_start_date = DATE '2024-01-01' AND contract_end_date = DATE '2024-12-31'
	`).Scan(&months); err != nil {
		t.Fatalf("duration: %v", err)
	}
	if months != 11 {
		t.Errorf("expected 11 whole months, got %d", months)
	}
}

func TestStarSchemaReuse(t *testing.T) {
	s := openStore(t)
	ingestSample(t, s)
	if _, err := s.Clean(context.Background()); err != nil {
		t.Fatalf("clean: %v", err)
	}

	first, err := s.StarSchema(context.Background())
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := s.StarSchema(context.Background())
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !second.Reused {
		t.Error("unchanged silver layer must reuse the existing schema")
	}
	if second.Counts["fact_rent_contract"] != first.Counts["fact_rent_contract"] {
		t.Error("reused build must report the existing row counts")
	}

	// New data invalidates the cache through the fingerprint.
	path := writeCSV(t,
		sampleHeader,
		"C-900,2024-05-01,2025-04-30,Residential,99000,303,Creek,1,Person,1,New",
	)
	if _, err := s.IngestCSV(context.Background(), path); err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if _, err := s.Clean(context.Background()); err != nil {
		t.Fatalf("re-clean: %v", err)
	}
	third, err := s.StarSchema(context.Background())
	if err != nil {
		t.Fatalf("third build: %v", err)
	}
	if third.Reused {
		t.Error("changed silver layer must force a rebuild")
	}
	if third.Counts["fact_rent_contract"] != 1 {
		t.Errorf("rebuild must reflect new data: want 1 fact row, got %d", third.Counts["fact_rent_contract"])
	}
}

func TestExportParquetRoundTrip(t *testing.T) {
	s := openStore(t)
	ingestSample(t, s)
	cleaned, err := s.Clean(context.Background())
	if err != nil {
		t.Fatalf("clean: %v", err)
	}

	out := filepath.Join(t.TempDir(), "exports", "rent_contracts.parquet")
	if err := s.ExportParquet(context.Background(), SilverTable, out, "zstd"); err != nil {
		t.Fatalf("export: %v", err)
	}

	var rows int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM read_parquet('%s')", out)
	if err := s.DB().QueryRow(query).Scan(&rows); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if rows != cleaned {
		t.Errorf("round trip row count: want %d, got %d", cleaned, rows)
	}
}

func TestCreateExpiringView(t *testing.T) {
	s := openStore(t)
	soon := time.Now().AddDate(0, 0, 5).Format("2006-01-02")
	far := time.Now().AddDate(0, 0, 400).Format("2006-01-02")
	path := writeCSV(t,
		sampleHeader,
		fmt.Sprintf("C-001,2024-01-01,%s,Residential,50000,101,Downtown,1,Person,1,New", soon),
		fmt.Sprintf("C-002,2024-01-01,%s,Residential,60000,101,Downtown,1,Person,1,New", far),
	)
	if _, err := s.IngestCSV(context.Background(), path); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := s.Clean(context.Background()); err != nil {
		t.Fatalf("clean: %v", err)
	}

	if err := s.CreateExpiringView(context.Background(), 15); err != nil {
		t.Fatalf("view: %v", err)
	}
	var count int64
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM silver.active_contracts").Scan(&count); err != nil {
		t.Fatalf("query view: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 contract expiring within 15 days, got %d", count)
	}
}
