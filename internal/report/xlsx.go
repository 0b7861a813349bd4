package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"credsweep/internal/model"
)

const (
	SheetAll        = "All Devices"
	SheetFailed     = "Reachable Failed"
	SheetSuccessful = "Successful"
	SheetSummary    = "Summary"
)

// WriteXLSX writes a workbook with one sheet per view plus the summary counts.
func WriteXLSX(path string, rs *model.ResultSet) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"366092"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}

	// The default sheet becomes the first view.
	if err := f.SetSheetName("Sheet1", SheetAll); err != nil {
		return err
	}

	views := []struct {
		name    string
		records []model.DeviceRecord
	}{
		{SheetAll, rs.All()},
		{SheetFailed, rs.ReachableButFailed()},
		{SheetSuccessful, rs.FullySuccessful()},
	}

	for i, v := range views {
		if i > 0 {
			if _, err := f.NewSheet(v.name); err != nil {
				return err
			}
		}

		if err := writeRecordSheet(f, v.name, v.records, header); err != nil {
			return fmt.Errorf("sheet %s: %w", v.name, err)
		}
	}

	if err := writeSummarySheet(f, rs, header); err != nil {
		return fmt.Errorf("sheet %s: %w", SheetSummary, err)
	}

	f.SetActiveSheet(0)

	return f.SaveAs(path)
}

func writeRecordSheet(f *excelize.File, sheet string, records []model.DeviceRecord, headerStyle int) error {
	if err := setRow(f, sheet, 1, Columns); err != nil {
		return err
	}

	for i := range records {
		if err := setRow(f, sheet, i+2, row(&records[i])); err != nil {
			return err
		}
	}

	last, err := excelize.CoordinatesToCellName(len(Columns), 1)
	if err != nil {
		return err
	}

	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return err
	}

	lastCol, _, err := excelize.SplitCellName(last)
	if err != nil {
		return err
	}

	if err := f.SetColWidth(sheet, "A", lastCol, 18); err != nil {
		return err
	}

	if err := f.AutoFilter(sheet, "A1:"+last, nil); err != nil {
		return err
	}

	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeSummarySheet(f *excelize.File, rs *model.ResultSet, headerStyle int) error {
	if _, err := f.NewSheet(SheetSummary); err != nil {
		return err
	}

	if err := setRow(f, SheetSummary, 1, []string{"Category", "Count"}); err != nil {
		return err
	}

	rowNum := 2

	for _, r := range rs.Summary() {
		if err := f.SetSheetRow(SheetSummary, cell(1, rowNum), &[]any{r.Category, r.Count}); err != nil {
			return err
		}

		rowNum++
	}

	meta := [][]any{
		{"Run ID", rs.RunID},
		{"Started", rs.StartedAt.UTC().Format("2006-01-02 15:04:05 MST")},
		{"Finished", rs.FinishedAt.UTC().Format("2006-01-02 15:04:05 MST")},
		{"Dry run", rs.DryRun},
	}

	rowNum++

	for _, m := range meta {
		if err := f.SetSheetRow(SheetSummary, cell(1, rowNum), &m); err != nil {
			return err
		}

		rowNum++
	}

	for _, re := range rs.RangeErrors {
		if err := f.SetSheetRow(SheetSummary, cell(1, rowNum), &[]any{"Invalid range " + re.Range, re.Reason}); err != nil {
			return err
		}

		rowNum++
	}

	if err := f.SetCellStyle(SheetSummary, "A1", "B1", headerStyle); err != nil {
		return err
	}

	return f.SetColWidth(SheetSummary, "A", "B", 30)
}

func setRow(f *excelize.File, sheet string, rowNum int, values []string) error {
	cells := make([]any, len(values))
	for i, v := range values {
		cells[i] = v
	}

	return f.SetSheetRow(sheet, cell(1, rowNum), &cells)
}

func cell(col, rowNum int) string {
	name, _ := excelize.CoordinatesToCellName(col, rowNum)
	return name
}
