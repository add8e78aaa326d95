package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/SAP-F-2025/proctoring-service/internal/models"
	"github.com/xuri/excelize/v2"
)

// ExportReport renders the attempt's report as an XLSX workbook with a
// summary sheet, the violation log and the warnings issued.
func (s *proctoringService) ExportReport(ctx context.Context, testSessionID string) ([]byte, error) {
	report, err := s.GetReport(ctx, testSessionID)
	if err != nil {
		return nil, err
	}

	data, err := renderReportWorkbook(report)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Exported proctoring report",
		"test_session_id", testSessionID,
		"size", len(data))
	return data, nil
}

func renderReportWorkbook(report *models.ProctoringReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const summarySheet = "Summary"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}

	summary := [][]interface{}{
		{"Session ID", report.SessionID},
		{"Test Session ID", report.TestSessionID},
		{"User ID", report.UserID},
		{"Test ID", report.TestID},
		{"Start Time", report.StartTime.Format(time.RFC3339)},
		{"End Time", report.EndTime.Format(time.RFC3339)},
		{"Duration (s)", int64(report.Duration / time.Second)},
		{"End Reason", report.EndReason},
		{"Integrity Score", report.Integrity},
		{"Total Violations", report.Violations.Total},
		{"Screenshots", report.ScreenshotCount},
		{"Webcam Disabled", report.WebcamDisabled},
	}
	if report.Incomplete {
		summary = append(summary, []interface{}{"Incomplete", report.Error})
	}

	types := make([]string, 0, len(report.Violations.ByType))
	for t := range report.Violations.ByType {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		summary = append(summary, []interface{}{"Violations: " + t, report.Violations.ByType[models.ViolationType(t)]})
	}

	if err := writeRows(f, summarySheet, nil, summary); err != nil {
		return nil, err
	}

	violationRows := make([][]interface{}, 0, len(report.Violations.Details))
	for _, v := range report.Violations.Details {
		violationRows = append(violationRows, []interface{}{
			v.CreatedAt.Format(time.RFC3339),
			string(v.ViolationType),
			string(v.Severity),
			v.Description,
			string(v.Metadata),
		})
	}
	if err := writeSheet(f, "Violations",
		[]string{"Timestamp", "Type", "Severity", "Description", "Data"}, violationRows); err != nil {
		return nil, err
	}

	warningRows := make([][]interface{}, 0, len(report.Warnings))
	for _, w := range report.Warnings {
		warningRows = append(warningRows, []interface{}{
			w.Timestamp.Format(time.RFC3339),
			string(w.Type),
			w.Count,
			w.Message,
		})
	}
	if err := writeSheet(f, "Warnings",
		[]string{"Timestamp", "Type", "Count", "Message"}, warningRows); err != nil {
		return nil, err
	}

	// Save to buffer
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheetName string, headers []string, rows [][]interface{}) error {
	if _, err := f.NewSheet(sheetName); err != nil {
		return fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	return writeRows(f, sheetName, headers, rows)
}

func writeRows(f *excelize.File, sheetName string, headers []string, rows [][]interface{}) error {
	start := 1
	if len(headers) > 0 {
		for i, header := range headers {
			cell, err := excelize.CoordinatesToCellName(i+1, 1)
			if err != nil {
				return err
			}
			f.SetCellValue(sheetName, cell, header)
		}
		start = 2
	}

	for rowIndex, row := range rows {
		for colIndex, value := range row {
			cell, err := excelize.CoordinatesToCellName(colIndex+1, rowIndex+start)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return fmt.Errorf("failed to write cell %s: %w", cell, err)
			}
		}
	}
	return nil
}
