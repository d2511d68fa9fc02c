package worker

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Worker interface {
	Start()
	Stop()
}

type Scheduler struct {
	workers     []Worker
	wg          sync.WaitGroup
	stopped     bool
	mu          sync.RWMutex
	stopTimeout time.Duration
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		workers:     make([]Worker, 0),
		stopTimeout: 10 * time.Second,
	}
}

func (s *Scheduler) AddWorker(worker Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, worker)
}

func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workers)
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	log.Info().Int("workers", len(s.workers)).Msg("Starting scheduler")

	for _, worker := range s.workers {
		s.wg.Add(1)
		go func(w Worker) {
			defer s.wg.Done()
			w.Start()
		}(worker)
	}
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	workers := s.workers
	s.mu.Unlock()

	log.Info().Msg("Stopping scheduler")

	for _, worker := range workers {
		worker.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Scheduler stopped gracefully")
	case <-time.After(s.stopTimeout):
		log.Warn().Dur("timeout", s.stopTimeout).Msg("Scheduler stop timeout")
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.stopped
}
