// Package export renders settlement statements as Excel workbooks.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tourbook/internal/models"
	"tourbook/internal/money"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet     = "Summary"
	linesSheet       = "Bookings"
	adjustmentsSheet = "Adjustments"
)

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// FileName returns the download name for a settlement statement.
func FileName(s *models.Settlement) string {
	return fmt.Sprintf("settlement_%d_%s_to_%s.xlsx", s.ID, s.PeriodStart, s.PeriodEnd)
}

// Statement builds the workbook for s. The caller closes the file.
func Statement(s *models.Settlement) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(summarySheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	styles, err := newStyles(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	writeSummary(f, s, styles)
	if err := writeLines(f, s.Lines, styles); err != nil {
		_ = f.Close()
		return nil, err
	}
	if len(s.Adjustments) > 0 {
		if err := writeAdjustments(f, s.Adjustments, styles); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	_ = f.DeleteSheet("Sheet1")
	return f, nil
}

// Write streams the statement for s to w.
func Write(w io.Writer, s *models.Settlement) error {
	f, err := Statement(s)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing statement: %w", err)
	}
	return nil
}

// Save writes the statement into dir and returns the file path.
func Save(dir string, s *models.Settlement) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := Statement(s)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, FileName(s))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return path, nil
}

type statementStyles struct {
	title  int
	header int
	money  int
}

func newStyles(f *excelize.File) (statementStyles, error) {
	var st statementStyles
	var err error

	st.title, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14},
	})
	if err != nil {
		return st, fmt.Errorf("error creating style: %w", err)
	}

	st.header, err = f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return st, fmt.Errorf("error creating style: %w", err)
	}

	fmtCode := "#,##0.00"
	st.money, err = f.NewStyle(&excelize.Style{CustomNumFmt: &fmtCode})
	if err != nil {
		return st, fmt.Errorf("error creating style: %w", err)
	}
	return st, nil
}

func writeSummary(f *excelize.File, s *models.Settlement, st statementStyles) {
	_ = f.SetCellValue(summarySheet, "A1", fmt.Sprintf("Settlement %s", s.Reference))
	_ = f.SetCellStyle(summarySheet, "A1", "A1", st.title)
	_ = f.MergeCell(summarySheet, "A1", "B1")

	rows := []struct {
		label string
		value any
		money bool
	}{
		{"Settlement ID", s.ID, false},
		{"Merchant ID", s.MerchantID, false},
		{"Period", fmt.Sprintf("%s - %s", s.PeriodStart, s.PeriodEnd), false},
		{"Commission rate", s.CommissionRate.String(), false},
		{"Bookings", s.BookingCount, false},
		{"Total revenue", amount(s.TotalRevenue), true},
		{"Platform fee", amount(s.TotalPlatformFee), true},
		{"Merchant payout", amount(s.TotalMerchantPayout), true},
		{"Adjustments", s.AdjustmentCount, false},
		{"Adjustment payout", amount(s.AdjustmentPayout), true},
		{"Net payout", amount(s.NetPayout), true},
		{"Status", s.Status, false},
		{"Created at", s.CreatedAt.UTC().Format("2006-01-02 15:04:05"), false},
	}

	for i, r := range rows {
		row := i + 3
		label, _ := excelize.CoordinatesToCellName(1, row)
		value, _ := excelize.CoordinatesToCellName(2, row)
		_ = f.SetCellValue(summarySheet, label, r.label)
		_ = f.SetCellValue(summarySheet, value, r.value)
		if r.money {
			_ = f.SetCellStyle(summarySheet, value, value, st.money)
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 22)
	_ = f.SetColWidth(summarySheet, "B", "B", 40)
}

func writeLines(f *excelize.File, lines []models.SettlementLine, st statementStyles) error {
	if _, err := f.NewSheet(linesSheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	writeHeader(f, linesSheet, st, "Booking ID", "Date", "Revenue", "Platform fee", "Merchant payout")

	for i, l := range lines {
		row := i + 2
		setRow(f, linesSheet, row, l.BookingID, l.BookingDate.String(),
			amount(l.Revenue), amount(l.PlatformFee), amount(l.MerchantPayout))
		moneyCols(f, linesSheet, row, st, 3, 5)
	}
	return nil
}

func writeAdjustments(f *excelize.File, adjustments []models.SettlementAdjustment, st statementStyles) error {
	if _, err := f.NewSheet(adjustmentsSheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	writeHeader(f, adjustmentsSheet, st, "Booking ID", "Source settlement", "Revenue", "Platform fee", "Merchant payout", "Reason")

	for i, a := range adjustments {
		row := i + 2
		setRow(f, adjustmentsSheet, row, a.BookingID, a.SourceSettlementID,
			amount(a.Revenue), amount(a.PlatformFee), amount(a.MerchantPayout), a.Reason)
		moneyCols(f, adjustmentsSheet, row, st, 3, 5)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, st statementStyles, titles ...string) {
	for i, title := range titles {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, title)
		_ = f.SetCellStyle(sheet, cell, cell, st.header)
	}
	last, _ := excelize.ColumnNumberToName(len(titles))
	_ = f.SetColWidth(sheet, "A", last, 18)
}

func setRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func moneyCols(f *excelize.File, sheet string, row int, st statementStyles, from, to int) {
	start, _ := excelize.CoordinatesToCellName(from, row)
	end, _ := excelize.CoordinatesToCellName(to, row)
	_ = f.SetCellStyle(sheet, start, end, st.money)
}

// amount converts to float64 for display only. Totals are never recomputed
// from the sheet.
func amount(d decimal.Decimal) float64 {
	return float64(money.Cents(d)) / 100
}
