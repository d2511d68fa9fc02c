package utils

import (
	"math"
	"time"

	"sensorhub/internal/models"
)

type FieldSummary struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Avg  float64 `json:"avg"`
}

type Summary struct {
	Count  int            `json:"count"`
	From   *time.Time     `json:"from,omitempty"`
	To     *time.Time     `json:"to,omitempty"`
	Fields []FieldSummary `json:"fields"`
}

// Summarize computes per-field ranges over an ordered record set.
func Summarize(records []models.Telemetry) Summary {
	summary := Summary{
		Count:  len(records),
		Fields: make([]FieldSummary, len(models.MeasurementFields)),
	}
	for i, name := range models.MeasurementFields {
		summary.Fields[i] = FieldSummary{Name: name, Min: math.Inf(1), Max: math.Inf(-1)}
	}

	if len(records) == 0 {
		for i := range summary.Fields {
			summary.Fields[i].Min, summary.Fields[i].Max = 0, 0
		}
		return summary
	}

	from := records[0].CreatedAt
	to := records[len(records)-1].CreatedAt
	summary.From, summary.To = &from, &to

	sums := make([]float64, len(models.MeasurementFields))
	for _, record := range records {
		for i, v := range record.Values() {
			f := &summary.Fields[i]
			f.Min = math.Min(f.Min, v)
			f.Max = math.Max(f.Max, v)
			sums[i] += v
		}
	}
	for i := range summary.Fields {
		summary.Fields[i].Avg = sums[i] / float64(len(records))
	}
	return summary
}
