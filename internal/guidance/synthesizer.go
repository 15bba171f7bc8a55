// Package guidance turns raw frame measurements into prioritized coaching
// feedback.
//
// Rules run in a fixed precedence order (arm mechanics, then compression
// depth, then hand centering) and priority only ever escalates within one
// frame's evaluation.
package guidance

import (
	"math"

	"github.com/rescuelabs/cprd/internal/analysis"
)

// Priority is the severity tier of a frame's guidance.
type Priority string

const (
	PriorityGood     Priority = "good"
	PriorityWarning  Priority = "warning"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityGood:     0,
	PriorityWarning:  1,
	PriorityCritical: 2,
}

// escalate raises p to at least level, never lowers it.
func (p Priority) escalate(level Priority) Priority {
	if priorityRank[level] > priorityRank[p] {
		return level
	}
	return p
}

// Coaching messages, worded for text-to-speech delivery on the rescuer's
// display. Critical messages are shouted.
const (
	MsgStraightenArms = "STRAIGHTEN YOUR ARMS"
	MsgArmsStraighter = "Arms need to be straighter"
	MsgPressDeeper    = "PRESS DEEPER - at least 2 inches"
	MsgPressBitDeeper = "Press a bit deeper"
	MsgTooDeep        = "Too deep - ease up"
	MsgCenterHands    = "CENTER YOUR HANDS on the chest"
	MsgGoodTechnique  = "Good CPR technique! Keep going!"
	MsgUnavailable    = "analysis unavailable"
)

// Metrics is the rounded, display-ready snapshot attached to every result.
type Metrics struct {
	ArmAngle         float64 `json:"arm_angle"`
	DepthInches      float64 `json:"depth_inches"`
	QualityPercent   float64 `json:"quality_percent"`
	HandsCentered    bool    `json:"hands_centered"`
	CompressionPhase string  `json:"compression_phase"`
}

// Result is the derived coaching output for one frame.
type Result struct {
	// Instruction is the single most urgent message.
	Instruction string `json:"instruction"`
	// Feedback lists every triggered message, most urgent first.
	Feedback []string `json:"all_feedback"`
	Priority Priority `json:"priority"`
	Metrics  Metrics  `json:"metrics"`
}

// Config holds the tunable rule thresholds. The two hand-offset thresholds
// are deliberately distinct: CenteredOffset decides the displayed
// "hands centered" flag, CenterWarnOffset decides when to warn.
type Config struct {
	ArmCriticalDegrees float64 `koanf:"arm_critical_degrees"`
	ArmWarnDegrees     float64 `koanf:"arm_warn_degrees"`
	DepthCriticalMin   float64 `koanf:"depth_critical_min"`
	DepthTargetMin     float64 `koanf:"depth_target_min"`
	DepthTargetMax     float64 `koanf:"depth_target_max"`
	CenterWarnOffset   float64 `koanf:"center_warn_offset"`
	CenteredOffset     float64 `koanf:"centered_offset"`
}

// DefaultConfig returns the thresholds from AHA-style coaching guidance.
func DefaultConfig() Config {
	return Config{
		ArmCriticalDegrees: 150,
		ArmWarnDegrees:     160,
		DepthCriticalMin:   1.8,
		DepthTargetMin:     2.0,
		DepthTargetMax:     2.4,
		CenterWarnOffset:   0.15,
		CenteredOffset:     0.10,
	}
}

// Synthesizer evaluates the coaching rules.
type Synthesizer struct {
	cfg Config
}

// NewSynthesizer creates a synthesizer, falling back to defaults for any
// zero-valued threshold.
func NewSynthesizer(cfg Config) *Synthesizer {
	def := DefaultConfig()
	if cfg.ArmCriticalDegrees == 0 {
		cfg.ArmCriticalDegrees = def.ArmCriticalDegrees
	}
	if cfg.ArmWarnDegrees == 0 {
		cfg.ArmWarnDegrees = def.ArmWarnDegrees
	}
	if cfg.DepthCriticalMin == 0 {
		cfg.DepthCriticalMin = def.DepthCriticalMin
	}
	if cfg.DepthTargetMin == 0 {
		cfg.DepthTargetMin = def.DepthTargetMin
	}
	if cfg.DepthTargetMax == 0 {
		cfg.DepthTargetMax = def.DepthTargetMax
	}
	if cfg.CenterWarnOffset == 0 {
		cfg.CenterWarnOffset = def.CenterWarnOffset
	}
	if cfg.CenteredOffset == 0 {
		cfg.CenteredOffset = def.CenteredOffset
	}
	return &Synthesizer{cfg: cfg}
}

// Synthesize derives coaching guidance from one frame's measurements.
//
// A failed analysis yields a critical "analysis unavailable" result with
// empty metrics; measurement fields of failed results are never read.
func (s *Synthesizer) Synthesize(r analysis.Result) Result {
	if r.Failed() {
		return Result{
			Instruction: MsgUnavailable,
			Feedback:    []string{},
			Priority:    PriorityCritical,
		}
	}

	feedback := []string{}
	priority := PriorityGood

	// Arm angle, only meaningful when a pose was detected.
	if r.PoseDetected {
		switch {
		case r.ArmAngleDegrees < s.cfg.ArmCriticalDegrees:
			feedback = append(feedback, MsgStraightenArms)
			priority = priority.escalate(PriorityCritical)
		case r.ArmAngleDegrees < s.cfg.ArmWarnDegrees:
			feedback = append(feedback, MsgArmsStraighter)
			priority = priority.escalate(PriorityWarning)
		}
	}

	// Compression depth, only when measured (zero means unknown).
	if depth := r.CompressionDepthInches; depth > 0 {
		switch {
		case depth < s.cfg.DepthCriticalMin:
			feedback = append(feedback, MsgPressDeeper)
			priority = priority.escalate(PriorityCritical)
		case depth < s.cfg.DepthTargetMin:
			feedback = append(feedback, MsgPressBitDeeper)
			priority = priority.escalate(PriorityWarning)
		case depth > s.cfg.DepthTargetMax:
			feedback = append(feedback, MsgTooDeep)
			priority = priority.escalate(PriorityWarning)
		}
	}

	// Hand centering on the normalized image-fraction coordinate.
	offset := math.Abs(r.HandPositionX - 0.5)
	if offset > s.cfg.CenterWarnOffset {
		feedback = append(feedback, MsgCenterHands)
		priority = priority.escalate(PriorityWarning)
	}

	instruction := MsgGoodTechnique
	if len(feedback) > 0 {
		instruction = feedback[0]
	}

	phase := "up"
	if r.CompressionPhase > 0.5 {
		phase = "down"
	}

	return Result{
		Instruction: instruction,
		Feedback:    feedback,
		Priority:    priority,
		Metrics: Metrics{
			ArmAngle:         round(r.ArmAngleDegrees, 1),
			DepthInches:      round(r.CompressionDepthInches, 2),
			QualityPercent:   round(r.OverallQualityScore*100, 1),
			HandsCentered:    offset < s.cfg.CenteredOffset,
			CompressionPhase: phase,
		},
	}
}

func round(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
