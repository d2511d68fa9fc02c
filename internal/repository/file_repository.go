package repository

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"sensorhub/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	fileTimeLayout = "2006-01-02 15:04:05 -07:00"
	// rows written without an offset are civil time in the configured zone
	legacyTimeLayout = "2006-01-02 15:04:05"
)

type fileTelemetryRepository struct {
	path string
	loc  *time.Location
	mu   sync.RWMutex
}

// NewFileTelemetryRepository stores records as a flat CSV file with a header
// row, timestamps in loc with their UTC offset and append order as the key.
func NewFileTelemetryRepository(path string, loc *time.Location) TelemetryRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &fileTelemetryRepository{path: path, loc: loc}
}

func (r *fileTelemetryRepository) Backend() string {
	return "file"
}

func fileHeader() []string {
	return append([]string{"created_at"}, models.MeasurementFields...)
}

func (r *fileTelemetryRepository) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return storeErr("file", "initialize", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return storeErr("file", "initialize", err)
		}
	}

	file, err := os.OpenFile(r.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return storeErr("file", "initialize", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return storeErr("file", "initialize", err)
	}
	if size := info.Size(); size > 0 {
		return storeErr("file", "initialize", terminateLastLine(file, size))
	}

	if err := writeRow(file, fileHeader()); err != nil {
		return storeErr("file", "initialize", err)
	}
	return storeErr("file", "initialize", file.Sync())
}

func (r *fileTelemetryRepository) Append(ctx context.Context, record *models.Telemetry) error {
	if err := ctx.Err(); err != nil {
		return storeErr("file", "append", err)
	}

	row := make([]string, 0, len(models.MeasurementFields)+1)
	row = append(row, record.CreatedAt.In(r.loc).Format(fileTimeLayout))
	for _, v := range record.Values() {
		row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.OpenFile(r.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return storeErr("file", "append", err)
	}
	defer file.Close()

	if err := writeRow(file, row); err != nil {
		return storeErr("file", "append", err)
	}
	return storeErr("file", "append", file.Sync())
}

// terminateLastLine appends a newline when the file does not end with one,
// so the next append starts on its own line.
func terminateLastLine(file *os.File, size int64) error {
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, size-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}

	if _, err := file.WriteAt([]byte("\n"), size); err != nil {
		return err
	}
	log.Warn().Str("path", file.Name()).Msg("Terminated unfinished last line of data file")
	return file.Sync()
}

// writeRow renders the row completely before issuing a single write.
func writeRow(w io.Writer, row []string) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(row); err != nil {
		return err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func (r *fileTelemetryRepository) ReadAll(ctx context.Context) ([]models.Telemetry, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("file", "read", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := os.Open(r.path)
	if err != nil {
		return nil, storeErr("file", "read", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	telemetries := make([]models.Telemetry, 0)
	var skipped int
	var firstBad error

	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		var parseErr *csv.ParseError
		switch {
		case errors.As(err, &parseErr):
		case err != nil:
			return nil, storeErr("file", "read", err)
		case line == 1:
			continue
		default:
			record, rowErr := r.parseRow(row)
			if rowErr == nil {
				telemetries = append(telemetries, record)
				continue
			}
			err = rowErr
		}

		skipped++
		if firstBad == nil {
			firstBad = fmt.Errorf("line %d: %w", line, err)
		}
	}

	if skipped > 0 {
		log.Warn().Err(firstBad).Int("skipped", skipped).Str("path", r.path).Msg("Skipped malformed rows in data file")
	}
	return telemetries, nil
}

func (r *fileTelemetryRepository) parseRow(row []string) (models.Telemetry, error) {
	var record models.Telemetry

	if len(row) != len(models.MeasurementFields)+1 {
		return record, fmt.Errorf("expected %d fields, got %d", len(models.MeasurementFields)+1, len(row))
	}

	createdAt, err := time.Parse(fileTimeLayout, row[0])
	if err != nil {
		createdAt, err = time.ParseInLocation(legacyTimeLayout, row[0], r.loc)
		if err != nil {
			return record, err
		}
	}
	record.CreatedAt = createdAt.In(r.loc)

	for i, field := range models.MeasurementFields {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return record, fmt.Errorf("%s: %w", field, err)
		}
		record.SetValue(field, v)
	}
	return record, nil
}

func (r *fileTelemetryRepository) Truncate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return storeErr("file", "truncate", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.OpenFile(r.path, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return storeErr("file", "truncate", err)
	}
	defer file.Close()

	if err := writeRow(file, fileHeader()); err != nil {
		return storeErr("file", "truncate", err)
	}
	return storeErr("file", "truncate", file.Sync())
}

func (r *fileTelemetryRepository) Count(ctx context.Context) (int64, error) {
	records, err := r.ReadAll(ctx)
	if err != nil {
		var sErr *StoreError
		if errors.As(err, &sErr) {
			sErr.Op = "count"
		}
		return 0, err
	}
	return int64(len(records)), nil
}
