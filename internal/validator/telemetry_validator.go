package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"sensorhub/internal/models"

	"github.com/mitchellh/mapstructure"
)

type ErrorKind string

const MissingOrInvalidField ErrorKind = "MissingOrInvalidField"

// ValidationError reports the first schema field that could not be accepted.
type ValidationError struct {
	Kind   ErrorKind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: field %q %s", e.Kind, e.Field, e.Reason)
}

type TelemetryValidator struct {
	loc *time.Location
	now func() time.Time
}

func NewTelemetryValidator(loc *time.Location) *TelemetryValidator {
	if loc == nil {
		loc = time.UTC
	}
	return &TelemetryValidator{loc: loc, now: time.Now}
}

// WithClock replaces the wall clock, used by tests.
func (v *TelemetryValidator) WithClock(now func() time.Time) *TelemetryValidator {
	v.now = now
	return v
}

func (v *TelemetryValidator) Location() *time.Location {
	return v.loc
}

// Validate turns a decoded payload into a record stamped with the current
// time in the configured zone. Keys outside the schema are ignored.
func (v *TelemetryValidator) Validate(payload map[string]any) (*models.Telemetry, error) {
	record := &models.Telemetry{}

	for _, field := range models.MeasurementFields {
		raw, ok := payload[field]
		if !ok || raw == nil {
			return nil, &ValidationError{Kind: MissingOrInvalidField, Field: field, Reason: "is missing"}
		}

		value, err := decodeMeasurement(raw)
		if err != nil {
			return nil, &ValidationError{Kind: MissingOrInvalidField, Field: field, Reason: err.Error()}
		}
		record.SetValue(field, value)
	}

	record.CreatedAt = v.now().In(v.loc).Truncate(time.Second)
	return record, nil
}

func decodeMeasurement(raw any) (float64, error) {
	var value float64
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: numericStringHook,
		Result:     &value,
	})
	if err != nil {
		return 0, err
	}
	if err := decoder.Decode(raw); err != nil {
		return 0, fmt.Errorf("is not numeric")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("is not finite")
	}
	return value, nil
}

// numericStringHook accepts numeric strings and json.Number for float
// targets and rejects everything mapstructure would otherwise coerce.
func numericStringHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Float64 {
		return data, nil
	}

	switch d := data.(type) {
	case string:
		d = strings.TrimSpace(d)
		if isHexLiteral(d) {
			return nil, fmt.Errorf("hexadecimal literal %q is not a measurement", d)
		}
		f, err := strconv.ParseFloat(d, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	case json.Number:
		return d.Float64()
	case bool:
		return nil, fmt.Errorf("boolean is not a measurement")
	}
	return data, nil
}

// isHexLiteral reports a 0x/0X mantissa, which ParseFloat would accept.
func isHexLiteral(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
