package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

// requiredColumns must be present in the bronze layer for cleaning to
// proceed; their absence means the upstream feed changed shape.
var requiredColumns = []string{
	"contract_id",
	"contract_start_date",
	"contract_end_date",
	"property_usage_en",
	"annual_amount",
}

// integerColumns are coerced to BIGINT with TRY_CAST so malformed values
// become NULL instead of failing the whole load.
var integerColumns = map[string]bool{
	"contract_reg_type_id":       true,
	"contract_amount":            true,
	"annual_amount":              true,
	"no_of_prop":                 true,
	"line_number":                true,
	"is_free_hold":               true,
	"ejari_bus_property_type_id": true,
	"ejari_property_type_id":     true,
	"ejari_property_sub_type_id": true,
	"project_number":             true,
	"area_id":                    true,
	"actual_area":                true,
	"tenant_type_id":             true,
}

// Clean builds the silver layer from bronze: integer coercion via
// TRY_CAST, per-row quality flags and a _cleaned_timestamp audit column.
// No rows are dropped; flagged rows stay queryable. Columns not in the
// known set pass through untouched, so new upstream columns survive.
func (s *Store) Clean(ctx context.Context) (int64, error) {
	columns, err := s.Columns(ctx, BronzeTable)
	if err != nil {
		return 0, err
	}

	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	var missing []string
	for _, c := range requiredColumns {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return 0, rferrors.MissingColumns(missing)
	}

	start := time.Now()
	exprs := make([]string, 0, len(columns)+3)
	for _, c := range columns {
		switch {
		case c == "_ingestion_timestamp" || c == "_source_file":
			exprs = append(exprs, fmt.Sprintf(`"%s"`, c))
		case integerColumns[c]:
			exprs = append(exprs, fmt.Sprintf(`TRY_CAST("%s" AS BIGINT) AS "%s"`, c, c))
		default:
			exprs = append(exprs, fmt.Sprintf(`"%s"`, c))
		}
	}

	cleanedAt := s.now().UTC().Format("2006-01-02 15:04:05")
	exprs = append(exprs,
		fmt.Sprintf(`TIMESTAMP '%s' AS _cleaned_timestamp`, cleanedAt),
		`CASE WHEN "contract_start_date" IS NULL OR "contract_end_date" IS NULL
			THEN TRUE ELSE FALSE END AS _has_date_issues`,
		`CASE WHEN TRY_CAST("annual_amount" AS BIGINT) IS NULL
			 OR TRY_CAST("annual_amount" AS BIGINT) <= 0
			THEN TRUE ELSE FALSE END AS _has_amount_issues`,
	)

	query := fmt.Sprintf(`
		CREATE OR REPLACE TABLE %s AS
		SELECT %s
		FROM %s
	`, SilverTable, strings.Join(exprs, ",\n\t\t\t"), BronzeTable)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return 0, rferrors.Wrap(err, rferrors.CodeStoreWrite, "silver clean failed")
	}

	count, err := s.RowCount(ctx, SilverTable)
	if err != nil {
		return 0, err
	}

	var dateIssues, amountIssues int64
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE _has_date_issues),
			COUNT(*) FILTER (WHERE _has_amount_issues)
		FROM %s
	`, SilverTable)).Scan(&dateIssues, &amountIssues)
	if err != nil {
		return 0, rferrors.Wrap(err, rferrors.CodeStoreQuery, "quality flag count failed")
	}

	slog.Info("silver layer built",
		"table", SilverTable,
		"rows", count,
		"date_issues", dateIssues,
		"amount_issues", amountIssues,
		"duration", time.Since(start).Round(time.Millisecond))
	return count, nil
}
