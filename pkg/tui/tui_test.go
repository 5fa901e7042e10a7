package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/rentflow/rentflow/pkg/pipeline"
	"github.com/rentflow/rentflow/pkg/validate"
)

func TestRenderSummary(t *testing.T) {
	s := &pipeline.Summary{
		RunID: "run-2024-06-01-abcd1234",
		Rows: map[string]int64{
			"bronze":             3,
			"silver":             3,
			"fact_rent_contract": 3,
		},
		Artifacts: []string{"/out/rent_contracts_2024-06-01.parquet"},
		Duration:  1200 * time.Millisecond,
	}

	out := RenderSummary(s)
	for _, want := range []string{"run-2024-06-01-abcd1234", "silver", "3 rows", "rent_contracts_2024-06-01.parquet"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSummarySkipped(t *testing.T) {
	out := RenderSummary(&pipeline.Summary{RunID: "run-x", Skipped: true})
	if !strings.Contains(out, "Nothing to do") {
		t.Errorf("skipped summary should say so:\n%s", out)
	}
}

func TestRenderValidation(t *testing.T) {
	r := &validate.Result{
		Errors:   []string{"Found 2 rows with rent <= 0 or null annual_amount"},
		Warnings: []string{"Found 1 rows with null contract dates"},
		Info:     []string{"Total rows: 10"},
	}
	out := RenderValidation(r)
	for _, want := range []string{"invalid", "rent <= 0", "null contract dates", "Total rows"} {
		if !strings.Contains(out, want) {
			t.Errorf("validation output missing %q:\n%s", want, out)
		}
	}
}
