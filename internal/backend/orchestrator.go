package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	// Frame uploads are JPEG or PNG.
	_ "image/jpeg"
	_ "image/png"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/rescuelabs/cprd/internal/analysis"
)

const instrumentationName = "github.com/rescuelabs/cprd/internal/backend"

// ErrInvalidInput indicates bytes that are not a decodable image. No backend
// can recover from that, so the orchestrator fails the call without trying
// the chain.
var ErrInvalidInput = errors.New("input is not a decodable image")

// Entry pairs a backend with its invocation timeout.
type Entry struct {
	Backend Backend
	Timeout time.Duration
}

// Orchestrator tries backends sequentially in priority order and returns the
// first successful result.
//
// There is no retry within a backend and no parallel racing: higher-priority
// backends are assumed more accurate, and a success short-circuits the cost
// of the cheaper fallbacks. The chain is fixed at construction; prerequisite
// gating (API key present, endpoint configured) happens before NewOrchestrator.
type Orchestrator struct {
	chain  []Entry
	logger *zap.Logger

	meter      metric.Meter
	attempts   metric.Int64Counter
	resolveDur metric.Float64Histogram
}

// NewOrchestrator creates an orchestrator over the given priority-ordered
// chain. An empty chain is allowed: every resolve then degrades to a
// "no backend available" result.
func NewOrchestrator(chain []Entry, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		chain:  chain,
		logger: logger,
		meter:  otel.Meter(instrumentationName),
	}
	o.initMetrics()
	return o
}

func (o *Orchestrator) initMetrics() {
	var err error

	o.attempts, err = o.meter.Int64Counter(
		"cprd.analysis.backend_attempts_total",
		metric.WithDescription("Backend invocations labeled by backend name and outcome (ok, error, timeout)"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		o.logger.Warn("failed to create attempts counter", zap.Error(err))
	}

	o.resolveDur, err = o.meter.Float64Histogram(
		"cprd.analysis.resolve_duration_seconds",
		metric.WithDescription("End-to-end fallback-chain resolution time in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		o.logger.Warn("failed to create resolve histogram", zap.Error(err))
	}
}

// Resolve runs the fallback chain over one frame.
//
// The only returned error is ErrInvalidInput for undecodable bytes. Backend
// failures never surface as errors: if every backend fails, the last
// backend's error result is returned, and an empty chain yields a synthetic
// degraded result, so the caller can still synthesize a safe response.
func (o *Orchestrator) Resolve(ctx context.Context, image []byte) (analysis.Result, error) {
	start := time.Now()
	defer func() {
		if o.resolveDur != nil {
			o.resolveDur.Record(ctx, time.Since(start).Seconds())
		}
	}()

	if err := sniffImage(image); err != nil {
		return analysis.Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	last := analysis.ErrorResult(analysis.SourceNone, "no backend available")
	for _, entry := range o.chain {
		result, timedOut := o.invoke(ctx, entry, image)
		outcome := "ok"
		switch {
		case timedOut:
			outcome = "timeout"
		case result.Failed():
			outcome = "error"
		}
		if o.attempts != nil {
			o.attempts.Add(ctx, 1, metric.WithAttributes(
				attribute.String("backend", entry.Backend.Name()),
				attribute.String("outcome", outcome),
			))
		}

		if !result.Failed() {
			o.logger.Debug("backend succeeded",
				zap.String("backend", entry.Backend.Name()),
			)
			return result, nil
		}

		o.logger.Warn("backend failed, trying next",
			zap.String("backend", entry.Backend.Name()),
			zap.String("error", result.Error),
			zap.Bool("timeout", timedOut),
		)
		last = result
	}
	return last, nil
}

// invoke runs one backend under its own timeout. A backend that overruns is
// abandoned: its eventual result is discarded via the buffered channel and
// can never mutate anything the orchestrator returns.
func (o *Orchestrator) invoke(ctx context.Context, entry Entry, image []byte) (result analysis.Result, timedOut bool) {
	callCtx := ctx
	var cancel context.CancelFunc
	if entry.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, entry.Timeout)
		defer cancel()
	}

	done := make(chan analysis.Result, 1)
	go func() {
		done <- entry.Backend.Analyze(callCtx, image)
	}()

	select {
	case result = <-done:
		return result, false
	case <-callCtx.Done():
		source := sourceOf(entry.Backend.Name())
		return analysis.ErrorResult(source, fmt.Sprintf("%s backend timed out", entry.Backend.Name())), true
	}
}

func sniffImage(data []byte) error {
	_, _, err := image.DecodeConfig(bytes.NewReader(data))
	return err
}

func sourceOf(name string) analysis.Source {
	switch name {
	case "local":
		return analysis.SourceLocal
	case "remote_service":
		return analysis.SourceRemoteService
	case "vision_language":
		return analysis.SourceVisionLanguage
	}
	return analysis.SourceNone
}
