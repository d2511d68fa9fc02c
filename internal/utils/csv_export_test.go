package utils

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"testing"
	"time"

	"sensorhub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var almaty = time.FixedZone("+05", 5*60*60)

func sampleRecords(n int) []models.Telemetry {
	start := time.Date(2024, 5, 10, 8, 0, 0, 0, almaty)
	records := make([]models.Telemetry, n)
	for i := range records {
		records[i] = models.Telemetry{
			CreatedAt: start.Add(time.Duration(i) * time.Second),
			Lux:       float64(i) + 0.1,
			Current:   float64(i) / 3,
			Power:     1e-7 * float64(i),
		}
	}
	return records
}

func TestWriteCSVSingleRow(t *testing.T) {
	records := []models.Telemetry{{
		CreatedAt: time.Date(2024, 5, 10, 8, 0, 0, 0, almaty),
		Lux:       12.5,
		Current:   0.3,
		Power:     3.75,
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records, CSVOptions{}))

	assert.Equal(t, "created_at,lux,current,power\n2024-05-10 08:00:00,12.5,0.3,3.75\n", buf.String())
}

func TestWriteCSVZoneLabelAndLocation(t *testing.T) {
	records := []models.Telemetry{{CreatedAt: time.Date(2024, 5, 10, 3, 0, 0, 0, time.UTC)}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records, CSVOptions{Location: almaty, ZoneLabel: true}))

	assert.Contains(t, buf.String(), "2024-05-10 08:00:00 +05:00,0,0,0")
}

func TestWriteCSVRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 1000} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			records := sampleRecords(n)

			var buf bytes.Buffer
			require.NoError(t, WriteCSV(&buf, records, CSVOptions{}))

			rows, err := csv.NewReader(&buf).ReadAll()
			require.NoError(t, err)
			require.Len(t, rows, n+1)
			assert.Equal(t, CSVHeader(), rows[0])

			for i, row := range rows[1:] {
				for j, want := range records[i].Values() {
					got, err := strconv.ParseFloat(row[j+1], 64)
					require.NoError(t, err)
					assert.Equal(t, want, got)
				}
			}
		})
	}
}

func TestWriteCSVDeterministic(t *testing.T) {
	records := sampleRecords(25)

	var a, b bytes.Buffer
	require.NoError(t, WriteCSV(&a, records, CSVOptions{ZoneLabel: true}))
	require.NoError(t, WriteCSV(&b, records, CSVOptions{ZoneLabel: true}))

	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestSummarize(t *testing.T) {
	records := []models.Telemetry{
		{CreatedAt: time.Unix(10, 0), Lux: 1, Current: 4, Power: -2},
		{CreatedAt: time.Unix(20, 0), Lux: 3, Current: 2, Power: 2},
	}

	summary := Summarize(records)

	assert.Equal(t, 2, summary.Count)
	assert.True(t, summary.From.Equal(time.Unix(10, 0)))
	assert.True(t, summary.To.Equal(time.Unix(20, 0)))
	assert.Equal(t, FieldSummary{Name: "lux", Min: 1, Max: 3, Avg: 2}, summary.Fields[0])
	assert.Equal(t, FieldSummary{Name: "current", Min: 2, Max: 4, Avg: 3}, summary.Fields[1])
	assert.Equal(t, FieldSummary{Name: "power", Min: -2, Max: 2, Avg: 0}, summary.Fields[2])
}

func TestSummarizeEmpty(t *testing.T) {
	summary := Summarize(nil)

	assert.Zero(t, summary.Count)
	assert.Nil(t, summary.From)
	assert.Len(t, summary.Fields, 3)
	assert.Zero(t, summary.Fields[0].Min)
}
