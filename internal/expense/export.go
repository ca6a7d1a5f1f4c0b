package expense

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Expenses"

// ExportXLSX returns every expense as an XLSX workbook, newest first, with a
// total row at the bottom
func (s *Service) ExportXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()

	expenses, err := s.ListExpenses(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	headers := []string{"Date", "Category", "Merchant", "Amount", "Notes"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(exportSheet, cell, h)
	}

	row := 2
	for _, e := range expenses {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(exportSheet, cell, v)
		}
		write(1, e.Date)
		write(2, e.Category)
		write(3, e.Merchant)
		write(4, e.Amount.InexactFloat64())
		write(5, e.Notes)
		row++
	}

	totalLabel, _ := excelize.CoordinatesToCellName(3, row)
	_ = f.SetCellValue(exportSheet, totalLabel, "Total")
	if len(expenses) > 0 {
		totalCell, _ := excelize.CoordinatesToCellName(4, row)
		_ = f.SetCellFormula(exportSheet, totalCell, fmt.Sprintf("SUM(D2:D%d)", row-1))
	}

	if style, err := f.NewStyle(&excelize.Style{NumFmt: 4}); err == nil { // #,##0.00
		_ = f.SetColStyle(exportSheet, "D", style)
	}
	_ = f.SetColWidth(exportSheet, "A", "A", 12)
	_ = f.SetColWidth(exportSheet, "B", "B", 16)
	_ = f.SetColWidth(exportSheet, "C", "C", 28)
	_ = f.SetColWidth(exportSheet, "D", "D", 12)
	_ = f.SetColWidth(exportSheet, "E", "E", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	slog.Info("Exported expenses", "rows", len(expenses), "elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}
