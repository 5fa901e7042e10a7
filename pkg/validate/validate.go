// Package validate runs rule-based quality checks over the silver
// layer. The validator only reads; it never mutates the data it checks.
package validate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

// requiredColumns must be present for the dataset to be usable at all.
var requiredColumns = []string{
	"contract_id",
	"contract_start_date",
	"contract_end_date",
	"property_usage_en",
	"annual_amount",
}

// Result accumulates validation findings for one pass. Errors flip
// IsValid false; warnings and info never do.
type Result struct {
	Errors   []string
	Warnings []string
	Info     []string
}

// IsValid is true iff no rule produced an error.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) addInfo(format string, args ...any) {
	r.Info = append(r.Info, fmt.Sprintf(format, args...))
}

// Err converts a failed result into a single structured error, nil when
// the result is valid.
func (r *Result) Err() error {
	if r.IsValid() {
		return nil
	}
	return rferrors.New(rferrors.CodeValidationFailed, strings.Join(r.Errors, "; ")).
		WithContext("error_count", len(r.Errors))
}

// Validator checks a cleaned rent-contracts table.
type Validator struct {
	db     *sql.DB
	strict bool
}

// New creates a validator over a database handle. In strict mode, null
// contract dates are errors instead of warnings.
func New(db *sql.DB, strict bool) *Validator {
	return &Validator{db: db, strict: strict}
}

// Validate runs all rules against the named table and returns the
// accumulated result. Rules are independent; an empty dataset
// short-circuits since nothing else is worth checking.
func (v *Validator) Validate(ctx context.Context, table string) (*Result, error) {
	result := &Result{}

	var rows int64
	if err := v.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&rows); err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeStoreQuery, "validation query failed").
			WithContext("table", table)
	}
	if rows == 0 {
		result.addError("Dataset is empty")
		return result, nil
	}

	columns, err := v.columns(ctx, table)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, c := range requiredColumns {
		if !columns[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		result.addError("Missing required columns: %s", strings.Join(missing, ", "))
		// Column-dependent rules below would all fail on a broken schema.
		return result, nil
	}

	if err := v.checkAmounts(ctx, table, result); err != nil {
		return nil, err
	}
	if err := v.checkDates(ctx, table, result); err != nil {
		return nil, err
	}
	if err := v.describe(ctx, table, rows, result); err != nil {
		return nil, err
	}

	slog.Info("validation finished",
		"table", table,
		"valid", result.IsValid(),
		"errors", len(result.Errors),
		"warnings", len(result.Warnings))
	return result, nil
}

func (v *Validator) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := v.db.QueryContext(ctx, "DESCRIBE "+table)
	if err != nil {
		return nil, rferrors.Wrap(err, rferrors.CodeStoreQuery, "describe failed").
			WithContext("table", table)
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var name, dtype string
		var null, key, dflt, extra interface{}
		if err := rows.Scan(&name, &dtype, &null, &key, &dflt, &extra); err != nil {
			return nil, err
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

// checkAmounts flags contracts whose annual rent is null or not positive.
func (v *Validator) checkAmounts(ctx context.Context, table string, result *Result) error {
	var bad int64
	err := v.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE annual_amount IS NULL OR annual_amount <= 0
	`, table)).Scan(&bad)
	if err != nil {
		return rferrors.Wrap(err, rferrors.CodeStoreQuery, "amount check failed")
	}
	if bad > 0 {
		result.addError("Found %d rows with rent <= 0 or null annual_amount", bad)
	}
	return nil
}

// checkDates flags null contract dates (warning, or error in strict
// mode) and contracts that end on or before their start date.
func (v *Validator) checkDates(ctx context.Context, table string, result *Result) error {
	var nullDates, inverted int64
	err := v.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE contract_start_date IS NULL OR contract_end_date IS NULL),
			COUNT(*) FILTER (WHERE contract_start_date IS NOT NULL
				AND contract_end_date IS NOT NULL
				AND contract_end_date <= contract_start_date)
		FROM %s
	`, table)).Scan(&nullDates, &inverted)
	if err != nil {
		return rferrors.Wrap(err, rferrors.CodeStoreQuery, "date check failed")
	}

	if nullDates > 0 {
		if v.strict {
			result.addError("Found %d rows with null contract dates", nullDates)
		} else {
			result.addWarning("Found %d rows with null contract dates", nullDates)
		}
	}
	if inverted > 0 {
		result.addError("Found %d rows with end_date <= start_date", inverted)
	}
	return nil
}

// describe appends dataset statistics. These never affect validity.
func (v *Validator) describe(ctx context.Context, table string, rows int64, result *Result) error {
	var usages int64
	err := v.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT COUNT(DISTINCT property_usage_en) FROM %s", table)).Scan(&usages)
	if err != nil {
		return rferrors.Wrap(err, rferrors.CodeStoreQuery, "stats query failed")
	}

	result.addInfo("Total rows: %d", rows)
	result.addInfo("Distinct property usage categories: %d", usages)
	return nil
}
