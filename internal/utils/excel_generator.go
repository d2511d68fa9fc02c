package utils

import (
	"fmt"
	"io"
	"time"

	"sensorhub/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	dataSheet = "Telemetry"
	infoSheet = "Info"
)

// CreateExcelWorkbook renders the records as an XLSX workbook with a data
// sheet, a lux chart and an info sheet.
func CreateExcelWorkbook(w io.Writer, records []models.Telemetry, opts CSVOptions) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", dataSheet); err != nil {
		return err
	}

	header := make([]interface{}, 0, len(models.MeasurementFields)+1)
	for _, name := range CSVHeader() {
		header = append(header, name)
	}
	if err := f.SetSheetRow(dataSheet, "A1", &header); err != nil {
		return err
	}

	for rowIdx, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, rowIdx+2)
		if err != nil {
			return err
		}

		row := make([]interface{}, 0, len(header))
		row = append(row, FormatTimestamp(record.CreatedAt, opts))
		for _, v := range record.Values() {
			row = append(row, v)
		}
		if err := f.SetSheetRow(dataSheet, cell, &row); err != nil {
			return err
		}
	}

	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(dataSheet, "A", lastCol, 20); err != nil {
		return err
	}

	if len(records) > 1 {
		if err := createChart(f, len(records)); err != nil {
			return err
		}
	}

	if err := createInfoSheet(f, records, opts); err != nil {
		return err
	}

	return f.Write(w)
}

func createChart(f *excelize.File, rows int) error {
	chart := &excelize.Chart{
		Type: excelize.Line,
		Series: []excelize.ChartSeries{
			{
				Name:       dataSheet + "!$B$1",
				Categories: fmt.Sprintf("%s!$A$2:$A$%d", dataSheet, rows+1),
				Values:     fmt.Sprintf("%s!$B$2:$B$%d", dataSheet, rows+1),
			},
		},
		Title: []excelize.RichTextRun{
			{
				Text: "Illuminance Over Time",
			},
		},
		XAxis: excelize.ChartAxis{
			MajorGridLines: true,
		},
		YAxis: excelize.ChartAxis{
			MajorGridLines: true,
		},
		Dimension: excelize.ChartDimension{
			Width:  640,
			Height: 400,
		},
	}

	return f.AddChart(dataSheet, "G2", chart)
}

func createInfoSheet(f *excelize.File, records []models.Telemetry, opts CSVOptions) error {
	if _, err := f.NewSheet(infoSheet); err != nil {
		return err
	}

	summary := Summarize(records)

	rows := [][]interface{}{
		{"Report Generated", FormatTimestamp(time.Now(), opts)},
		{"Total Records", summary.Count},
	}
	if summary.From != nil {
		rows = append(rows, []interface{}{"Time Range", fmt.Sprintf("%s to %s",
			FormatTimestamp(*summary.From, opts), FormatTimestamp(*summary.To, opts))})
	}
	for _, field := range summary.Fields {
		rows = append(rows, []interface{}{field.Name + " Range",
			fmt.Sprintf("%s - %s (avg %s)", FormatValue(field.Min), FormatValue(field.Max), FormatValue(field.Avg))})
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(infoSheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(infoSheet, "A", "B", 28)
}
