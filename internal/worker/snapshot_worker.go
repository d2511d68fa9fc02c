package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sensorhub/internal/service"

	"github.com/rs/zerolog/log"
)

const snapshotTimeLayout = "20060102_150405"

// SnapshotWorker periodically writes the full record set as a CSV file
// into dir.
type SnapshotWorker struct {
	service  service.TelemetryService
	interval time.Duration
	dir      string
	loc      *time.Location
	now      func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

func NewSnapshotWorker(service service.TelemetryService, interval time.Duration, dir string, loc *time.Location) *SnapshotWorker {
	if loc == nil {
		loc = time.UTC
	}
	return &SnapshotWorker{
		service:  service,
		interval: interval,
		dir:      dir,
		loc:      loc,
		now:      time.Now,
	}
}

func (w *SnapshotWorker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})
	w.mu.Unlock()

	log.Info().Dur("interval", w.interval).Str("dir", w.dir).Msg("Snapshot worker started")

	if _, err := w.Snapshot(context.Background()); err != nil {
		log.Error().Err(err).Msg("Snapshot worker error")
	}

	go w.run(w.stopChan, w.done)
}

func (w *SnapshotWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	close(w.stopChan)
	<-w.done
	w.running = false
	log.Info().Msg("Snapshot worker stopped")
}

func (w *SnapshotWorker) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.Snapshot(context.Background()); err != nil {
				log.Error().Err(err).Msg("Snapshot worker error")
			}
		case <-stop:
			return
		}
	}
}

// Snapshot exports all records into a new file and returns its path.
// Readers never observe a partially written snapshot.
func (w *SnapshotWorker) Snapshot(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(w.dir, ".snapshot-*.csv")
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := w.service.ExportCSV(ctx, tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close snapshot: %w", err)
	}

	name := fmt.Sprintf("telemetry_%s.csv", w.now().In(w.loc).Format(snapshotTimeLayout))
	path := filepath.Join(w.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to publish snapshot: %w", err)
	}

	log.Info().Str("path", path).Msg("Snapshot written")
	return path, nil
}
