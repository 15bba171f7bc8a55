package backend

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescuelabs/cprd/internal/analysis"
)

// testFrame returns a small valid PNG.
func testFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// stubBackend is a scriptable backend for chain tests.
type stubBackend struct {
	name   string
	result analysis.Result
	delay  time.Duration
	calls  int
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Analyze(ctx context.Context, _ []byte) analysis.Result {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return analysis.ErrorResult(sourceOf(s.name), "canceled")
		}
	}
	return s.result
}

func TestResolveFirstSuccessShortCircuits(t *testing.T) {
	ok := analysis.NewResult(analysis.SourceVisionLanguage)
	ok.OverallQualityScore = 0.9
	first := &stubBackend{name: "vision_language", result: ok}
	second := &stubBackend{name: "remote_service", result: analysis.NewResult(analysis.SourceRemoteService)}

	o := NewOrchestrator([]Entry{
		{Backend: first, Timeout: time.Second},
		{Backend: second, Timeout: time.Second},
	}, nil)

	got, err := o.Resolve(context.Background(), testFrame(t))
	require.NoError(t, err)
	assert.Equal(t, analysis.SourceVisionLanguage, got.Source)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls, "a success must not invoke downstream backends")
}

// Backend 1 times out, backend 2 fails, backend 3 succeeds: the chain
// returns backend 3's result and the total latency is roughly the first
// backend's timeout plus the (fast) failing second call.
func TestResolveFallbackChain(t *testing.T) {
	slow := &stubBackend{name: "vision_language", delay: 500 * time.Millisecond}
	failing := &stubBackend{
		name:   "remote_service",
		result: analysis.ErrorResult(analysis.SourceRemoteService, "pose service returned status 503"),
	}
	good := analysis.NewResult(analysis.SourceLocal)
	good.OverallQualityScore = 0.8
	local := &stubBackend{name: "local", result: good}

	o := NewOrchestrator([]Entry{
		{Backend: slow, Timeout: 50 * time.Millisecond},
		{Backend: failing, Timeout: 50 * time.Millisecond},
		{Backend: local, Timeout: 50 * time.Millisecond},
	}, nil)

	start := time.Now()
	got, err := o.Resolve(context.Background(), testFrame(t))
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.False(t, got.Failed())
	assert.Equal(t, analysis.SourceLocal, got.Source)
	assert.Equal(t, 0.8, got.OverallQualityScore)
	assert.Less(t, elapsed, 300*time.Millisecond, "orchestrator must abandon the slow backend at its timeout")
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestResolveAllBackendsFailReturnsLastError(t *testing.T) {
	first := &stubBackend{
		name:   "remote_service",
		result: analysis.ErrorResult(analysis.SourceRemoteService, "pose service returned status 500"),
	}
	second := &stubBackend{
		name:   "local",
		result: analysis.ErrorResult(analysis.SourceLocal, "decode image: broken"),
	}

	o := NewOrchestrator([]Entry{
		{Backend: first, Timeout: time.Second},
		{Backend: second, Timeout: time.Second},
	}, nil)

	got, err := o.Resolve(context.Background(), testFrame(t))
	require.NoError(t, err)
	assert.True(t, got.Failed())
	assert.Equal(t, analysis.SourceLocal, got.Source)
	assert.Equal(t, "decode image: broken", got.Error)
}

func TestResolveEmptyChain(t *testing.T) {
	o := NewOrchestrator(nil, nil)

	got, err := o.Resolve(context.Background(), testFrame(t))
	require.NoError(t, err)
	assert.True(t, got.Failed())
	assert.Equal(t, analysis.SourceNone, got.Source)
	assert.Equal(t, "no backend available", got.Error)
}

func TestResolveInvalidInput(t *testing.T) {
	b := &stubBackend{name: "local", result: analysis.NewResult(analysis.SourceLocal)}
	o := NewOrchestrator([]Entry{{Backend: b, Timeout: time.Second}}, nil)

	_, err := o.Resolve(context.Background(), []byte("definitely not an image"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Equal(t, 0, b.calls, "undecodable input must not reach any backend")
}
