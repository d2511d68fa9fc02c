package repository

import (
	"context"
	"fmt"
	"time"

	"sensorhub/internal/models"
	"sensorhub/pkg/database"

	"gorm.io/gorm"
)

//go:generate mockgen -source=telemetry_repository.go -destination=mocks/telemetry_repository_mock.go -package=mocks

// TelemetryRepository is the append-only record store. Every backend must
// serialize Append so concurrent callers never produce partial rows, and
// ReadAll must return records oldest first.
type TelemetryRepository interface {
	Initialize(ctx context.Context) error
	Append(ctx context.Context, record *models.Telemetry) error
	ReadAll(ctx context.Context) ([]models.Telemetry, error)
	Truncate(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	Backend() string
}

// StoreError wraps any I/O or connectivity failure of a backend.
type StoreError struct {
	Op      string
	Backend string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Backend: backend, Err: err}
}

type telemetryRepository struct {
	db      *gorm.DB
	dialect string
	loc     *time.Location
}

// NewTelemetryRepository returns the relational backend. Timestamps are
// written as UTC instants and converted back to loc on read.
func NewTelemetryRepository(db *gorm.DB, loc *time.Location) TelemetryRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &telemetryRepository{db: db, dialect: db.Dialector.Name(), loc: loc}
}

func (r *telemetryRepository) Backend() string {
	return r.dialect
}

func (r *telemetryRepository) Initialize(ctx context.Context) error {
	if err := database.Migrate(r.db.WithContext(ctx)); err != nil {
		return storeErr(r.dialect, "initialize", err)
	}
	return nil
}

func (r *telemetryRepository) Append(ctx context.Context, record *models.Telemetry) error {
	row := *record
	row.ID = 0
	row.CreatedAt = record.CreatedAt.UTC()

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return storeErr(r.dialect, "append", err)
	}
	record.ID = row.ID
	return nil
}

func (r *telemetryRepository) ReadAll(ctx context.Context) ([]models.Telemetry, error) {
	var telemetries []models.Telemetry
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Order("id ASC").
		Find(&telemetries).
		Error
	if err != nil {
		return nil, storeErr(r.dialect, "read", err)
	}

	for i := range telemetries {
		telemetries[i].CreatedAt = telemetries[i].CreatedAt.In(r.loc)
	}
	return telemetries, nil
}

func (r *telemetryRepository) Truncate(ctx context.Context) error {
	err := r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.Telemetry{}).
		Error
	return storeErr(r.dialect, "truncate", err)
}

func (r *telemetryRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Telemetry{}).
		Count(&count).
		Error
	if err != nil {
		return 0, storeErr(r.dialect, "count", err)
	}
	return count, nil
}
