package validator

import (
	"encoding/json"
	"errors"
	"io"
)

var (
	ErrNotObject    = errors.New("payload must be a JSON object")
	ErrTrailingData = errors.New("payload has data after the JSON object")
)

// DecodePayload reads exactly one JSON object from r. Numbers are kept as
// json.Number so Validate sees them unrounded.
func DecodePayload(r io.Reader) (map[string]any, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, ErrNotObject
	}

	var extra json.RawMessage
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}
	return payload, nil
}
