package utils

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"sensorhub/internal/models"
)

const timestampLayout = "2006-01-02 15:04:05"

type CSVOptions struct {
	// Location overrides the zone of each record's timestamp when set.
	Location *time.Location
	// ZoneLabel appends the numeric UTC offset to every timestamp.
	ZoneLabel bool
}

// CSVHeader is created_at followed by the measurement schema.
func CSVHeader() []string {
	return append([]string{"created_at"}, models.MeasurementFields...)
}

// WriteCSV writes the header and one row per record in the given order.
func WriteCSV(w io.Writer, records []models.Telemetry, opts CSVOptions) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(CSVHeader()); err != nil {
		return err
	}

	row := make([]string, 0, len(models.MeasurementFields)+1)
	for _, record := range records {
		row = row[:0]
		row = append(row, FormatTimestamp(record.CreatedAt, opts))
		for _, v := range record.Values() {
			row = append(row, FormatValue(v))
		}

		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func FormatTimestamp(t time.Time, opts CSVOptions) string {
	if opts.Location != nil {
		t = t.In(opts.Location)
	}
	if opts.ZoneLabel {
		return t.Format(timestampLayout + " -07:00")
	}
	return t.Format(timestampLayout)
}

// FormatValue renders the shortest representation that parses back to v.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
