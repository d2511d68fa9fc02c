package utils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestCreateExcelWorkbook(t *testing.T) {
	records := sampleRecords(3)

	var buf bytes.Buffer
	require.NoError(t, CreateExcelWorkbook(&buf, records, CSVOptions{}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Telemetry", "Info"}, f.GetSheetList())

	rows, err := f.GetRows("Telemetry")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, CSVHeader(), rows[0])
	assert.Equal(t, "2024-05-10 08:00:02", rows[3][0])

	total, err := f.GetCellValue("Info", "B2")
	require.NoError(t, err)
	assert.Equal(t, "3", total)
}

func TestCreateExcelWorkbookEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CreateExcelWorkbook(&buf, nil, CSVOptions{}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Telemetry")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
