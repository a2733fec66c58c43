package httpapi

import (
	"bytes"
	"fmt"
	"time"

	"vitalguard-alarm/internal/models"

	"github.com/xuri/excelize/v2"
)

// AlertLogExportHeader 报警日志导出表头
var AlertLogExportHeader = []string{
	"Seq",
	"Alert ID",
	"Created At",
	"Patient ID",
	"Patient Name",
	"Bed",
	"Alert Type",
	"Metric",
	"Message",
	"Risk Score",
	"Confidence",
	"Sample Time",
	"Suppressed",
	"Suppressed Reason",
	"Suppressed At",
	"Suppression Source",
}

var alertLogColumnWidths = []float64{
	8,  // Seq
	38, // Alert ID
	20, // Created At
	12, // Patient ID
	20, // Patient Name
	8,  // Bed
	12, // Alert Type
	10, // Metric
	50, // Message
	12, // Risk Score
	12, // Confidence
	20, // Sample Time
	12, // Suppressed
	30, // Suppressed Reason
	20, // Suppressed At
	18, // Suppression Source
}

const alertLogSheet = "Alert Log"

// GenerateAlertLogExport 生成报警日志 Excel 文件（按日志顺序）
func GenerateAlertLogExport(alerts []models.Alert) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(alertLogSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range AlertLogExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(alertLogSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(alertLogSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}

		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(alertLogSheet, name, name, alertLogColumnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, a := range alerts {
		row := i + 2
		for col, value := range alertLogRow(a) {
			if value == nil || value == "" {
				continue
			}
			if err := setCellValue(f, alertLogSheet, col+1, row, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	if err := f.SetPanes(alertLogSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

// alertLogRow 按表头顺序输出一行
func alertLogRow(a models.Alert) []interface{} {
	suppressed := "No"
	if a.Suppressed {
		suppressed = "Yes"
	}
	var reason, suppressedAt string
	if a.SuppressedReason != nil {
		reason = *a.SuppressedReason
	}
	if a.SuppressedAt != nil {
		suppressedAt = formatTime(*a.SuppressedAt)
	}

	return []interface{}{
		a.Seq,
		a.ID,
		formatTime(a.CreatedAt),
		a.PatientID,
		a.PatientName,
		a.Bed,
		string(a.AlertType),
		string(a.Metric),
		a.Message,
		a.RiskScore,
		a.Confidence,
		formatTime(a.Timestamp),
		suppressed,
		reason,
		suppressedAt,
		string(a.SuppressionSource),
	}
}

func setCellValue(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
