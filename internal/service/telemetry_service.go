package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"sensorhub/internal/models"
	"sensorhub/internal/repository"
	"sensorhub/internal/utils"
	"sensorhub/internal/validator"

	"github.com/rs/zerolog/log"
)

type TelemetryService interface {
	Ingest(ctx context.Context, payload map[string]any) (*models.Telemetry, error)
	Records(ctx context.Context) ([]models.Telemetry, error)
	ExportCSV(ctx context.Context, w io.Writer) error
	ExportExcel(ctx context.Context, w io.Writer) error
	Summary(ctx context.Context) (*utils.Summary, error)
	Truncate(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	Backend() string
}

type TelemetryConfig struct {
	StoreTimeout time.Duration
	ZoneLabel    bool
}

type telemetryService struct {
	repo      repository.TelemetryRepository
	validator *validator.TelemetryValidator
	timeout   time.Duration
	csvOpts   utils.CSVOptions
}

func NewTelemetryService(
	repo repository.TelemetryRepository,
	v *validator.TelemetryValidator,
	config TelemetryConfig,
) TelemetryService {
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 5 * time.Second
	}

	return &telemetryService{
		repo:      repo,
		validator: v,
		timeout:   config.StoreTimeout,
		csvOpts: utils.CSVOptions{
			Location:  v.Location(),
			ZoneLabel: config.ZoneLabel,
		},
	}
}

func (s *telemetryService) Backend() string {
	return s.repo.Backend()
}

// Ingest validates the payload and appends the record. The append runs
// on its own timeout and is not aborted when the caller goes away.
func (s *telemetryService) Ingest(ctx context.Context, payload map[string]any) (*models.Telemetry, error) {
	record, err := s.validator.Validate(payload)
	if err != nil {
		return nil, err
	}

	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.repo.Append(appendCtx, record); err != nil {
		return nil, fmt.Errorf("failed to append telemetry: %w", err)
	}

	log.Debug().
		Time("created_at", record.CreatedAt).
		Float64("lux", record.Lux).
		Float64("current", record.Current).
		Float64("power", record.Power).
		Msg("Telemetry stored")
	return record, nil
}

func (s *telemetryService) Records(ctx context.Context) ([]models.Telemetry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	records, err := s.repo.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read telemetry: %w", err)
	}
	return records, nil
}

// ExportCSV reads the full record set before writing, so a store failure
// never yields a partial download.
func (s *telemetryService) ExportCSV(ctx context.Context, w io.Writer) error {
	records, err := s.Records(ctx)
	if err != nil {
		return err
	}
	return utils.WriteCSV(w, records, s.csvOpts)
}

func (s *telemetryService) ExportExcel(ctx context.Context, w io.Writer) error {
	records, err := s.Records(ctx)
	if err != nil {
		return err
	}
	return utils.CreateExcelWorkbook(w, records, s.csvOpts)
}

func (s *telemetryService) Summary(ctx context.Context) (*utils.Summary, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return nil, err
	}
	summary := utils.Summarize(records)
	return &summary, nil
}

func (s *telemetryService) Truncate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.repo.Truncate(ctx); err != nil {
		return fmt.Errorf("failed to truncate telemetry: %w", err)
	}

	log.Warn().Str("backend", s.repo.Backend()).Msg("Telemetry store truncated")
	return nil
}

func (s *telemetryService) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.repo.Count(ctx)
}
