package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"harvester-telemetry-backend/config"
	"harvester-telemetry-backend/internal/metrics"
	"harvester-telemetry-backend/internal/model"
	"harvester-telemetry-backend/internal/parse"
)

// Event sources.
const (
	SourceBroker   = "broker"
	SourceUpstream = "upstream"
)

var (
	ErrTopicMismatch = errors.New("topic does not match the realtime grammar")
	ErrStorage       = errors.New("storage failure")
)

// Event is one publish handed over by the broker or the upstream client.
type Event struct {
	Source     string
	ClientID   string
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Store is the write side of the storage layer the pipeline needs.
type Store interface {
	UpsertDevice(ctx context.Context, deviceID int64) (model.Device, error)
	WriteReading(ctx context.Context, r *model.Reading) error
}

// Pipeline decouples publish callbacks from storage with a bounded queue drained by a worker pool.
type Pipeline struct {
	store          Store
	log            zerolog.Logger
	workers        int
	jobs           chan Event
	enqueueTimeout time.Duration
	writeTimeout   time.Duration
	wg             sync.WaitGroup
}

// New creates a pipeline. Unset fields in cfg fall back to one worker, a one second
// enqueue timeout and a five second write timeout.
func New(cfg config.IngestConfig, store Store, log zerolog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Pipeline{
		store:          store,
		log:            log,
		workers:        cfg.Workers,
		jobs:           make(chan Event, cfg.QueueSize),
		enqueueTimeout: cfg.EnqueueTimeout,
		writeTimeout:   cfg.WriteTimeout,
	}
}

// Enqueue hands an event to the workers. It reports false if the queue stayed full
// for the whole enqueue timeout; the event is then dropped.
func (p *Pipeline) Enqueue(ev Event) bool {
	select {
	case p.jobs <- ev:
		return true
	default:
	}

	timer := time.NewTimer(p.enqueueTimeout)
	defer timer.Stop()
	select {
	case p.jobs <- ev:
		return true
	case <-timer.C:
		metrics.BrokerPublishes.WithLabelValues(metrics.PublishQueueFull).Inc()
		p.log.Warn().
			Str("client_id", ev.ClientID).
			Str("topic", ev.Topic).
			Int("queue_size", cap(p.jobs)).
			Msg("ingest queue full; dropping message")
		return false
	}
}

// Start launches the worker goroutines. Workers exit once ctx is done and the queue is drained.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	p.log.Debug().Int("worker", id).Msg("ingest worker started")
	for {
		select {
		case ev := <-p.jobs:
			p.handle(ev)
		case <-ctx.Done():
			p.drain()
			p.log.Debug().Int("worker", id).Msg("ingest worker shutting down")
			return
		}
	}
}

func (p *Pipeline) drain() {
	for {
		select {
		case ev := <-p.jobs:
			p.handle(ev)
		default:
			return
		}
	}
}

func (p *Pipeline) handle(ev Event) {
	err := p.Process(context.Background(), ev)
	metrics.IngestMessages.WithLabelValues(Outcome(err)).Inc()
	if err == nil {
		return
	}

	lvl := zerolog.WarnLevel
	if errors.Is(err, ErrStorage) {
		lvl = zerolog.ErrorLevel
	}
	p.log.WithLevel(lvl).Err(err).
		Str("source", ev.Source).
		Str("client_id", ev.ClientID).
		Str("topic", ev.Topic).
		Str("outcome", Outcome(err)).
		Msg("dropping message")
}

// Process runs one event through topic resolution, decoding and storage. It never retries.
// Each storage call gets its own timeout derived from ctx.
func (p *Pipeline) Process(ctx context.Context, ev Event) error {
	deviceID, ok := parse.DeviceID(ev.Topic)
	if !ok || deviceID <= 0 {
		return fmt.Errorf("%w: %q", ErrTopicMismatch, ev.Topic)
	}

	msg, err := parse.Payload(ev.Payload)
	if err != nil {
		return err
	}

	capturedAt := ev.ReceivedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}

	if err := p.timed(ctx, "upsert_device", func(ctx context.Context) error {
		_, err := p.store.UpsertDevice(ctx, deviceID)
		return err
	}); err != nil {
		return fmt.Errorf("%w: upsert device %d: %w", ErrStorage, deviceID, err)
	}

	reading := &model.Reading{
		DeviceID:   deviceID,
		Type:       msg.Type,
		Channels:   msg.Channels,
		ClientID:   ev.ClientID,
		Topic:      ev.Topic,
		CapturedAt: capturedAt.UTC(),
	}
	if err := p.timed(ctx, "write_reading", func(ctx context.Context) error {
		return p.store.WriteReading(ctx, reading)
	}); err != nil {
		return fmt.Errorf("%w: write reading for device %d: %w", ErrStorage, deviceID, err)
	}

	p.log.Debug().
		Int64("device_id", deviceID).
		Int("type", msg.Type).
		Str("client_id", ev.ClientID).
		Msg("reading stored")
	return nil
}

func (p *Pipeline) timed(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.StorageLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}

// Outcome maps a Process error to its metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeStored
	case errors.Is(err, ErrTopicMismatch):
		return metrics.OutcomeTopicMismatch
	case errors.Is(err, parse.ErrMalformedPayload):
		return metrics.OutcomeMalformedPayload
	case errors.Is(err, parse.ErrInvalidType):
		return metrics.OutcomeInvalidType
	case errors.Is(err, parse.ErrInvalidChannelShape):
		return metrics.OutcomeInvalidChannelShape
	case errors.Is(err, parse.ErrInvalidChannelValue):
		return metrics.OutcomeInvalidChannelValue
	default:
		return metrics.OutcomeStorageError
	}
}
