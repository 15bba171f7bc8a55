// Package session accumulates per-frame analysis results into running
// session statistics.
//
// A session is a bounded practice attempt: created on an explicit start (or
// the first frame at the HTTP boundary), mutated by every recorded frame,
// and frozen once ended. Records are exclusively owned by the aggregator's
// store; callers only ever see snapshots.
package session

import (
	"errors"
	"time"

	"github.com/rescuelabs/cprd/internal/analysis"
	"github.com/rescuelabs/cprd/internal/guidance"
)

var (
	// ErrNotFound indicates an unknown session identifier.
	ErrNotFound = errors.New("session not found")

	// ErrEnded indicates a frame submitted to a session that already ended.
	ErrEnded = errors.New("session has ended")
)

// State is the session lifecycle state.
type State string

const (
	StateActive State = "active"
	StateEnded  State = "ended"
)

// FrameRecord is one analyzed frame as stored in the session history.
type FrameRecord struct {
	Analysis  analysis.Result `json:"analysis"`
	Guidance  guidance.Result `json:"guidance"`
	Timestamp time.Time       `json:"timestamp"`
}

// Record holds one session's running aggregates and frame history.
//
// Invariants maintained by the aggregator:
// FrameCount == GoodCount+WarningCount+CriticalCount == len(Frames), and
// MeanQuality is the arithmetic mean of OverallQualityScore over the
// QualitySamples frames that analyzed successfully.
type Record struct {
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	State     State     `json:"state"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`

	FrameCount    int `json:"frame_count"`
	GoodCount     int `json:"good_count"`
	WarningCount  int `json:"warning_count"`
	CriticalCount int `json:"critical_count"`

	MeanQuality    float64 `json:"mean_quality"`
	QualitySamples int     `json:"quality_samples"`

	// CompressionCount is the client-reported running compression total.
	// The device owns the counter; we only keep the latest high-water mark.
	CompressionCount int `json:"compression_count"`

	Frames []FrameRecord `json:"frames"`
}

// Clone returns a deep snapshot safe to hand to callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Frames = append([]FrameRecord(nil), r.Frames...)
	return &c
}
