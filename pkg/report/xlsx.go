package report

import (
	"github.com/xuri/excelize/v2"

	rferrors "github.com/rentflow/rentflow/pkg/errors"
)

// SaveXLSX writes the report as a spreadsheet with a bold, frozen
// header row. Numbers are written as numbers so consumers can sort and
// chart without re-parsing.
func (r *Report) SaveXLSX(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Rent Summary"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return rferrors.Wrap(err, rferrors.CodeExportFailed, "failed to build header style")
	}

	header := r.Header()
	for i, name := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, name)
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	f.SetCellStyle(sheet, "A1", last, headerStyle)
	f.SetPanes(sheet, &excelize.Panes{
		Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft",
	})

	for i, row := range r.Rows {
		values := []any{
			row.Group, row.Count,
			row.MeanRent, row.MedianRent, row.MinRent, row.MaxRent, row.StdRent,
		}
		if r.HasArea {
			values = append(values,
				row.MeanArea, row.MedianArea, row.MeanRentPerSqm, row.MedianRentPerSqm)
		}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			f.SetCellValue(sheet, cell, v)
		}
	}

	if err := f.SetColWidth(sheet, "A", columnName(len(header)), 18); err != nil {
		return rferrors.Wrap(err, rferrors.CodeExportFailed, "failed to size columns")
	}

	if err := f.SaveAs(path); err != nil {
		return rferrors.Wrap(err, rferrors.CodeExportFailed, "failed to save spreadsheet").
			WithContext("path", path)
	}
	return nil
}

func columnName(n int) string {
	name, _ := excelize.ColumnNumberToName(n)
	return name
}
