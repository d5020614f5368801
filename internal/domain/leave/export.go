package leave

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Leave Requests"

var exportHeaders = []string{
	"ID", "Requester", "Kind", "Category", "Start", "End", "Days",
	"Reason", "Status", "HR decision", "HR remarks", "Final decision", "Final by", "Final remarks", "Created",
}

// WriteXLSX renders requests as a single-sheet workbook.
func WriteXLSX(w io.Writer, reqs []LeaveRequest) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	for col, header := range exportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			return err
		}
	}
	lastCol, err := excelize.ColumnNumberToName(len(exportHeaders))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(exportSheet, "A1", lastCol+"1", style); err != nil {
		return err
	}
	if err := f.SetColWidth(exportSheet, "A", lastCol, 18); err != nil {
		return err
	}

	for i, r := range reqs {
		row := []any{
			r.ID, r.RequesterName, string(r.Kind), string(r.Category),
			r.StartDate.Format(dateLayout), r.EndDate.Format(dateLayout), r.Duration,
			r.Reason, string(r.Status),
			string(r.Stage1.Status), r.Stage1.Remarks,
			string(r.Stage2.Status), r.Stage2.ByName, r.Stage2.Remarks,
			r.CreatedAt.UTC().Format("2006-01-02 15:04"),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return err
		}
	}
	return f.Write(w)
}

// WriteSlipPDF renders a one-page leave slip with both approval stages.
func WriteSlipPDF(w io.Writer, r LeaveRequest) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Leave Slip")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	lines := []string{
		fmt.Sprintf("Request: %s", r.ID),
		fmt.Sprintf("Employee: %s", r.RequesterName),
		fmt.Sprintf("Type: %s (%s)", titleCase(string(r.Kind)), titleCase(string(r.Category))),
		fmt.Sprintf("Period: %s (%d %s)", r.Range(), r.Duration, plural(r.Duration, "day", "days")),
		fmt.Sprintf("Reason: %s", r.Reason),
	}
	if r.Description != "" {
		lines = append(lines, fmt.Sprintf("Description: %s", r.Description))
	}
	lines = append(lines, fmt.Sprintf("Status: %s", strings.ReplaceAll(string(r.Status), "_", " ")))
	for _, line := range lines {
		pdf.Cell(0, 8, line)
		pdf.Ln(7)
	}

	pdf.Ln(5)
	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, "Approvals")
	pdf.Ln(9)
	pdf.SetFont("Helvetica", "", 12)
	for _, stage := range []Stage{Stage1, Stage2} {
		rec := r.Record(stage)
		line := fmt.Sprintf("Stage %d: %s", stage, rec.Status)
		if rec.ByName != "" || rec.By != "" {
			by := rec.ByName
			if by == "" {
				by = rec.By
			}
			line += fmt.Sprintf(" by %s (%s)", by, rec.Role)
		}
		if rec.At != nil {
			line += " on " + rec.At.UTC().Format("2006-01-02 15:04")
		}
		pdf.Cell(0, 8, line)
		pdf.Ln(7)
		if rec.Remarks != "" {
			pdf.Cell(0, 8, "  Remarks: "+rec.Remarks)
			pdf.Ln(7)
		}
	}
	return pdf.Output(w)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
