package models

import (
	"time"
)

// MeasurementFields is the fixed, ordered measurement schema.
var MeasurementFields = []string{"lux", "current", "power"}

// Telemetry is one timestamped set of sensor measurements.
type Telemetry struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id,omitempty"`
	CreatedAt time.Time `gorm:"not null;index;autoCreateTime" json:"created_at"`
	Lux       float64   `gorm:"type:double precision;not null" json:"lux"`
	Current   float64   `gorm:"type:double precision;not null" json:"current"`
	Power     float64   `gorm:"type:double precision;not null" json:"power"`
}

func (Telemetry) TableName() string {
	return "telemetries"
}

// Values returns the measurements in MeasurementFields order.
func (t Telemetry) Values() []float64 {
	return []float64{t.Lux, t.Current, t.Power}
}

// SetValue assigns a measurement by schema name.
func (t *Telemetry) SetValue(field string, v float64) bool {
	switch field {
	case "lux":
		t.Lux = v
	case "current":
		t.Current = v
	case "power":
		t.Power = v
	default:
		return false
	}
	return true
}
