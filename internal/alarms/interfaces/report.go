package interfaces

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alarms "equipment-alerts/internal/alarms/domain"
)

// Report is a set of alerts over a reporting period.
type Report struct {
	From        time.Time
	To          time.Time
	GeneratedAt time.Time
	Alerts      []alarms.Alert
}

// SeverityCounts returns the number of alerts per severity.
func (r Report) SeverityCounts() map[alarms.Severity]int {
	counts := make(map[alarms.Severity]int, 4)
	for _, alert := range r.Alerts {
		counts[alert.Severity]++
	}
	return counts
}

// ConsolidatedCount returns the number of window summary alerts.
func (r Report) ConsolidatedCount() int {
	n := 0
	for _, alert := range r.Alerts {
		if alert.Consolidated {
			n++
		}
	}
	return n
}

var reportHeader = []string{
	"unique_id",
	"equipment",
	"groups",
	"rule_id",
	"severity",
	"criticality",
	"event_type",
	"timestamp",
	"consolidated",
	"count",
	"first_occurrence",
	"last_occurrence",
	"message",
}

func reportRow(alert alarms.Alert) []string {
	return []string{
		alert.UniqueID,
		alert.Equipment,
		strings.Join(alert.EquipmentGroups, ";"),
		alert.RuleID,
		string(alert.Severity),
		strconv.Itoa(alert.CriticalityScore),
		alert.EventType,
		formatTime(alert.Timestamp),
		strconv.FormatBool(alert.Consolidated),
		strconv.Itoa(alert.ConsolidatedCount),
		formatTime(alert.FirstOccurrence),
		formatTime(alert.LastOccurrence),
		alert.Message,
	}
}

// BuildAlertsCSV renders alerts as CSV with a header row.
func BuildAlertsCSV(report Report) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(reportHeader); err != nil {
		return nil, err
	}
	for _, alert := range report.Alerts {
		if err := writer.Write(reportRow(alert)); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsXLSX renders a summary sheet and an alerts sheet.
func BuildAlertsXLSX(report Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	alertsSheet := "alerts"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(alertsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Equipment Alert Report")
	_ = f.SetCellValue(summarySheet, "A3", "From")
	_ = f.SetCellValue(summarySheet, "B3", formatTime(report.From))
	_ = f.SetCellValue(summarySheet, "A4", "To")
	_ = f.SetCellValue(summarySheet, "B4", formatTime(report.To))
	_ = f.SetCellValue(summarySheet, "A5", "Generated")
	_ = f.SetCellValue(summarySheet, "B5", formatTime(report.GeneratedAt))
	_ = f.SetCellValue(summarySheet, "A6", "Alerts")
	_ = f.SetCellValue(summarySheet, "B6", len(report.Alerts))
	_ = f.SetCellValue(summarySheet, "A7", "Consolidated")
	_ = f.SetCellValue(summarySheet, "B7", report.ConsolidatedCount())
	counts := report.SeverityCounts()
	for i, severity := range []alarms.Severity{alarms.SeverityLow, alarms.SeverityMedium, alarms.SeverityHigh, alarms.SeverityCritical} {
		row := 9 + i
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), string(severity))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), counts[severity])
	}

	for i, title := range reportHeader {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(alertsSheet, cell, title)
	}
	for r, alert := range report.Alerts {
		for c, value := range reportRow(alert) {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(alertsSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsPDF renders a landscape PDF listing alerts.
func BuildAlertsPDF(report Report) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Equipment Alert Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s - %s", formatTime(report.From), formatTime(report.To)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", formatTime(report.GeneratedAt)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Alerts: %d (consolidated %d)", len(report.Alerts), report.ConsolidatedCount()))
	pdf.Ln(8)

	widths := []float64{40, 35, 22, 18, 40, 122}
	pdf.SetFont("Arial", "B", 9)
	for i, title := range []string{"Timestamp", "Equipment", "Severity", "Score", "Rule", "Message"} {
		pdf.CellFormat(widths[i], 6, title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, alert := range report.Alerts {
		pdf.CellFormat(widths[0], 6, formatTime(alert.Timestamp), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, tr(clip(alert.Equipment, 20)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 6, string(alert.Severity), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[3], 6, strconv.Itoa(alert.CriticalityScore), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 6, tr(clip(alert.RuleID, 24)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[5], 6, tr(clip(alert.Message, 80)), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

// clip shortens s to limit runes so table cells stay on one line.
func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
