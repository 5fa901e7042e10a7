// Package report computes grouped rent statistics over the cleaned
// contracts table and writes them as CSV or XLSX.
package report

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

// Row is one report line: rent statistics for one group value, with
// area metrics populated only when the source carries an area column.
type Row struct {
	Group      string
	Count      int64
	MeanRent   float64
	MedianRent float64
	MinRent    float64
	MaxRent    float64
	StdRent    float64

	MeanArea         float64
	MedianArea       float64
	MeanRentPerSqm   float64
	MedianRentPerSqm float64
}

// Report holds the summary for one grouping column.
type Report struct {
	GroupColumn string
	HasArea     bool
	Rows        []Row
}

// Summarizer computes grouped statistics from a database handle. It
// only reads; the source table is never touched.
type Summarizer struct {
	db *sql.DB
}

// New creates a summarizer over a database handle.
func New(db *sql.DB) *Summarizer {
	return &Summarizer{db: db}
}

// Summarize aggregates annual rent per distinct value of groupColumn.
// Rows with a null group or a non-positive/null amount are discarded
// first, matching the validator's sanity rule. When the table has an
// actual_area column, per-area metrics are added; the rent-per-area
// ratio is computed per row before aggregation so rows with null or
// zero area drop out of the ratio only. Output is sorted by group key
// for reproducible reports.
func (s *Summarizer) Summarize(ctx context.Context, table, groupColumn string) (*Report, error) {
	hasArea, err := s.hasColumn(ctx, table, "actual_area")
	if err != nil {
		return nil, err
	}

	areaSelect := ""
	if hasArea {
		areaSelect = `,
			COALESCE(AVG(actual_area), 0),
			COALESCE(median(actual_area), 0),
			COALESCE(AVG(rent_per_sqm), 0),
			COALESCE(median(rent_per_sqm), 0)`
	}
	areaSource := ""
	if hasArea {
		areaSource = `,
			actual_area,
			CASE WHEN actual_area IS NOT NULL AND actual_area > 0
				THEN annual_amount::DOUBLE / actual_area
				ELSE NULL END AS rent_per_sqm`
	}

	query := fmt.Sprintf(`
		SELECT
			"%[1]s",
			COUNT(*),
			AVG(annual_amount),
			median(annual_amount),
			MIN(annual_amount),
			MAX(annual_amount),
			COALESCE(stddev(annual_amount), 0)%[2]s
		FROM (
			SELECT "%[1]s", annual_amount%[3]s
			FROM %[4]s
			WHERE "%[1]s" IS NOT NULL
			  AND annual_amount IS NOT NULL
			  AND annual_amount > 0
		)
		GROUP BY "%[1]s"
		ORDER BY "%[1]s"
	`, groupColumn, areaSelect, areaSource, table)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeStoreQuery, "summary query failed").
			WithContext("table", table).
			WithContext("group_column", groupColumn)
	}
	defer rows.Close()

	report := &Report{GroupColumn: groupColumn, HasArea: hasArea}
	for rows.Next() {
		var r Row
		dest := []any{
			&r.Group, &r.Count, &r.MeanRent, &r.MedianRent,
			&r.MinRent, &r.MaxRent, &r.StdRent,
		}
		if hasArea {
			dest = append(dest, &r.MeanArea, &r.MedianArea,
				&r.MeanRentPerSqm, &r.MedianRentPerSqm)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, rferrors.Wrap(err, rferrors.CodeStoreQuery, "summary scan failed")
		}
		report.Rows = append(report.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeStoreQuery, "summary iteration failed")
	}

	slog.Info("summary computed",
		"table", table,
		"group_column", groupColumn,
		"groups", len(report.Rows),
		"area_metrics", hasArea)
	return report, nil
}

func (s *Summarizer) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, "DESCRIBE "+table)
	if err != nil {
		return false, rferrors.Wrap(err, rferrors.CodeStoreQuery, "describe failed").
			WithContext("table", table)
	}
	defer rows.Close()

	for rows.Next() {
		var name, dtype string
		var null, key, dflt, extra interface{}
		if err := rows.Scan(&name, &dtype, &null, &key, &dflt, &extra); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Header returns the report's column names in output order.
func (r *Report) Header() []string {
	header := []string{
		r.GroupColumn, "contract_count",
		"mean_rent", "median_rent", "min_rent", "max_rent", "std_rent",
	}
	if r.HasArea {
		header = append(header,
			"mean_area", "median_area", "mean_rent_per_sqm", "median_rent_per_sqm")
	}
	return header
}

func (r *Report) record(row Row) []string {
	record := []string{
		row.Group,
		strconv.FormatInt(row.Count, 10),
		formatFloat(row.MeanRent),
		formatFloat(row.MedianRent),
		formatFloat(row.MinRent),
		formatFloat(row.MaxRent),
		formatFloat(row.StdRent),
	}
	if r.HasArea {
		record = append(record,
			formatFloat(row.MeanArea),
			formatFloat(row.MedianArea),
			formatFloat(row.MeanRentPerSqm),
			formatFloat(row.MedianRentPerSqm))
	}
	return record
}

// WriteCSV writes the report as CSV, header first.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(r.Header()); err != nil {
		return err
	}
	for _, row := range r.Rows {
		if err := cw.Write(r.record(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the report to a file.
func (r *Report) SaveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return rferrors.Wrap(err, rferrors.CodeExportFailed, "failed to create report file").
			WithContext("path", path)
	}
	defer f.Close()

	if err := r.WriteCSV(f); err != nil {
		return rferrors.Wrap(err, rferrors.CodeExportFailed, "failed to write report").
			WithContext("path", path)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
