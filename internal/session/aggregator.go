package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/rescuelabs/cprd/internal/analysis"
	"github.com/rescuelabs/cprd/internal/guidance"
)

const instrumentationName = "github.com/rescuelabs/cprd/internal/session"

// Aggregator accumulates per-frame results into session records.
//
// Every mutation of one session is serialized by that session's own lock;
// unrelated sessions never contend. The store behind the aggregator holds
// the only mutable records, callers receive snapshots.
type Aggregator struct {
	store  Store
	logger *zap.Logger

	meter         metric.Meter
	sessionsTotal metric.Int64Counter
	framesTotal   metric.Int64Counter

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAggregator creates an aggregator over the given store.
func NewAggregator(store Store, logger *zap.Logger) (*Aggregator, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		store:  store,
		logger: logger,
		meter:  otel.Meter(instrumentationName),
		locks:  make(map[string]*sync.Mutex),
	}
	a.initMetrics()
	return a, nil
}

func (a *Aggregator) initMetrics() {
	var err error

	a.sessionsTotal, err = a.meter.Int64Counter(
		"cprd.session.transitions_total",
		metric.WithDescription("Session lifecycle transitions labeled by event (started, ended)"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		a.logger.Warn("failed to create sessions counter", zap.Error(err))
	}

	a.framesTotal, err = a.meter.Int64Counter(
		"cprd.session.frames_total",
		metric.WithDescription("Frames recorded into sessions labeled by guidance priority"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		a.logger.Warn("failed to create frames counter", zap.Error(err))
	}
}

// sessionLock returns the mutex guarding one session, creating it on first
// use. The global map lock is held only for the lookup, never across store
// operations.
func (a *Aggregator) sessionLock(id string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[id]
	if !ok {
		l = &sync.Mutex{}
		a.locks[id] = l
	}
	return l
}

// StartSession creates a new active session and returns its snapshot.
func (a *Aggregator) StartSession(ctx context.Context, deviceID string) (*Record, error) {
	return a.create(ctx, uuid.NewString(), deviceID)
}

// EnsureSession returns the existing session or creates it under the given
// identifier. This backs the "first frame creates the session" behavior at
// the API boundary.
func (a *Aggregator) EnsureSession(ctx context.Context, sessionID, deviceID string) (*Record, error) {
	lock := a.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := a.store.Get(ctx, sessionID)
	if err == nil {
		return record.Clone(), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return a.createLocked(ctx, sessionID, deviceID)
}

func (a *Aggregator) create(ctx context.Context, sessionID, deviceID string) (*Record, error) {
	lock := a.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return a.createLocked(ctx, sessionID, deviceID)
}

func (a *Aggregator) createLocked(ctx context.Context, sessionID, deviceID string) (*Record, error) {
	record := &Record{
		SessionID: sessionID,
		DeviceID:  deviceID,
		State:     StateActive,
		StartTime: time.Now().UTC(),
		Frames:    []FrameRecord{},
	}
	if err := a.store.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("store session %s: %w", sessionID, err)
	}

	if a.sessionsTotal != nil {
		a.sessionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event", "started")))
	}
	a.logger.Info("session started",
		zap.String("session_id", sessionID),
		zap.String("device_id", deviceID),
	)
	return record.Clone(), nil
}

// RecordFrame appends one analyzed frame to the session and updates the
// running aggregates, returning the updated snapshot.
//
// Returns ErrNotFound for unknown sessions and ErrEnded for ended ones; a
// rejected frame leaves the record untouched.
func (a *Aggregator) RecordFrame(ctx context.Context, sessionID string, ar analysis.Result, gr guidance.Result) (*Record, error) {
	lock := a.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if record.State == StateEnded {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrEnded)
	}

	record.Frames = append(record.Frames, FrameRecord{
		Analysis:  ar,
		Guidance:  gr,
		Timestamp: time.Now().UTC(),
	})
	record.FrameCount++

	switch gr.Priority {
	case guidance.PriorityCritical:
		record.CriticalCount++
	case guidance.PriorityWarning:
		record.WarningCount++
	default:
		record.GoodCount++
	}

	// Welford-style incremental mean over successfully analyzed frames;
	// failed frames count toward FrameCount but never skew quality.
	if !ar.Failed() {
		record.QualitySamples++
		record.MeanQuality += (ar.OverallQualityScore - record.MeanQuality) / float64(record.QualitySamples)
	}

	if err := a.store.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("store session %s: %w", sessionID, err)
	}

	if a.framesTotal != nil {
		a.framesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("priority", string(gr.Priority)),
		))
	}
	return record.Clone(), nil
}

// UpdateCompressionCount records the client-reported compression total.
// Counts only move forward; a stale or duplicate report is ignored.
func (a *Aggregator) UpdateCompressionCount(ctx context.Context, sessionID string, count int) error {
	lock := a.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if count <= record.CompressionCount {
		return nil
	}
	record.CompressionCount = count
	if err := a.store.Put(ctx, record); err != nil {
		return fmt.Errorf("store session %s: %w", sessionID, err)
	}
	return nil
}

// EndSession transitions the session to ended. Ending an already-ended
// session is a no-op that returns the frozen snapshot.
func (a *Aggregator) EndSession(ctx context.Context, sessionID string) (*Record, error) {
	lock := a.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if record.State == StateEnded {
		return record.Clone(), nil
	}

	record.State = StateEnded
	record.EndTime = time.Now().UTC()
	if err := a.store.Put(ctx, record); err != nil {
		return nil, fmt.Errorf("store session %s: %w", sessionID, err)
	}

	if a.sessionsTotal != nil {
		a.sessionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event", "ended")))
	}
	a.logger.Info("session ended",
		zap.String("session_id", sessionID),
		zap.Int("frames", record.FrameCount),
		zap.Float64("mean_quality", record.MeanQuality),
	)
	return record.Clone(), nil
}

// GetSession returns a read-only snapshot of the session.
func (a *Aggregator) GetSession(ctx context.Context, sessionID string) (*Record, error) {
	record, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}
