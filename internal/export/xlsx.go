// Package export renders a payout report to an xlsx workbook.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"warchest.org/internal/report"
)

const sheetName = "Payouts"

var headers = []string{
	"Torn ID", "Name", "Hits", "Base Payout", "Bonus", "Bonus Reason", "Total Payout", "Status",
}

// WriteXLSX streams a report as a one-sheet workbook: header row, one row
// per member, then summary lines.
func WriteXLSX(w io.Writer, r *report.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	for i, header := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			return err
		}
	}

	rowIndex := 2
	for _, row := range r.Rows {
		values := []any{
			row.TornID, row.Name, row.HitCount,
			row.BasePayout, row.BonusAmount, row.BonusReason,
			row.TotalPayout, row.Status,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIndex)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return err
			}
		}
		rowIndex++
	}

	rowIndex++
	summary := [][2]string{
		{"Session", r.SessionName},
		{"Total Pool", r.PoolTotal},
		{"Price Per Hit", r.UnitPrice},
		{"Total Hits", fmt.Sprintf("%d", r.TotalHits)},
		{"Total Paid", r.TotalPaid},
		{"Remaining Balance", r.RemainingBalance},
	}
	for _, line := range summary {
		if err := f.SetCellValue(sheetName, fmt.Sprintf("A%d", rowIndex), line[0]); err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, fmt.Sprintf("B%d", rowIndex), line[1]); err != nil {
			return err
		}
		rowIndex++
	}

	return f.Write(w)
}
