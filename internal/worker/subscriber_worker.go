package worker

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"sensorhub/internal/repository"
	"sensorhub/internal/service"
	"sensorhub/internal/validator"
	"sensorhub/pkg/mqtt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// SubscriberWorker feeds MQTT messages through the same ingest path as
// HTTP. Delivery is at-most-once: a message that fails is dropped.
type SubscriberWorker struct {
	service service.TelemetryService
	config  mqtt.Config
	client  paho.Client

	mu      sync.Mutex
	running bool

	dropLog rate.Sometimes
	stats   SubscriberStats
}

type SubscriberStats struct {
	Received uint64
	Stored   uint64
	Dropped  uint64
}

func NewSubscriberWorker(service service.TelemetryService, config mqtt.Config) *SubscriberWorker {
	w := &SubscriberWorker{
		service: service,
		config:  config,
		dropLog: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	w.client = mqtt.NewClient(config, w.HandleMessage)
	return w
}

func (w *SubscriberWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true

	log.Info().Str("broker", w.config.Broker).Str("topic", w.config.Topic).Msg("Subscriber worker started")

	// with connect retry enabled the token completes only once a broker answers
	token := w.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.Error().Err(err).Str("broker", w.config.Broker).Msg("MQTT connect failed")
		}
	}()
}

func (w *SubscriberWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	w.client.Disconnect(250)
	w.running = false
	log.Info().
		Uint64("received", w.stats.Received).
		Uint64("stored", w.stats.Stored).
		Uint64("dropped", w.stats.Dropped).
		Msg("Subscriber worker stopped")
}

// HandleMessage is the paho message callback.
func (w *SubscriberWorker) HandleMessage(_ paho.Client, msg paho.Message) {
	w.mu.Lock()
	w.stats.Received++
	w.mu.Unlock()

	err := w.ingest(msg.Payload())

	w.mu.Lock()
	if err != nil {
		w.stats.Dropped++
	} else {
		w.stats.Stored++
	}
	w.mu.Unlock()

	if err != nil {
		w.dropLog.Do(func() {
			event := log.Warn()
			var sErr *repository.StoreError
			if errors.As(err, &sErr) {
				event = log.Error()
			}
			event.Err(err).Str("topic", msg.Topic()).Msg("Dropped MQTT message")
		})
	}
}

func (w *SubscriberWorker) ingest(payload []byte) error {
	data, err := validator.DecodePayload(bytes.NewReader(payload))
	if err != nil {
		return err
	}

	_, err = w.service.Ingest(context.Background(), data)
	return err
}

func (w *SubscriberWorker) Stats() SubscriberStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}
