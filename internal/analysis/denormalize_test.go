package analysis

import (
	"math"
	"testing"
)

func TestDenormalizeFullVector(t *testing.T) {
	vector := make([]float64, len(OutputFields))
	for i := range vector {
		vector[i] = 0.5
	}

	out := Denormalize(vector)

	if len(out) != len(OutputFields) {
		t.Fatalf("Denormalize() produced %d fields, want %d", len(out), len(OutputFields))
	}

	wants := map[string]float64{
		"arm_angle_degrees":        90,
		"compression_depth_inches": 2.5,
		"compression_rate_bpm":     100,
		"hand_x_offset_inches":     0,
		"hand_y_offset_inches":     0,
		"torso_lean_degrees":       45,
		"overall_quality_score":    0.5,
		"metronome_bpm":            110,
		"next_beat_countdown":      15,
	}
	for name, want := range wants {
		got, present := out[name]
		if !present {
			t.Errorf("field %q missing from output", name)
			continue
		}
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("field %q = %v, want %v", name, got, want)
		}
	}
}

func TestDenormalizeShortVectorOmitsFields(t *testing.T) {
	out := Denormalize([]float64{1.0, 0.4})

	if len(out) != 2 {
		t.Fatalf("Denormalize() produced %d fields, want 2", len(out))
	}
	if got := out["arm_angle_degrees"]; got != 180 {
		t.Errorf("arm_angle_degrees = %v, want 180", got)
	}
	if got := out["compression_depth_inches"]; got != 2.0 {
		t.Errorf("compression_depth_inches = %v, want 2.0", got)
	}
	if _, present := out["compression_rate_bpm"]; present {
		t.Error("absent field compression_rate_bpm should be omitted, not defaulted")
	}
}

func TestDenormalizeExtraFieldsPassThrough(t *testing.T) {
	vector := make([]float64, len(OutputFields)+2)
	vector[len(OutputFields)] = 0.25
	vector[len(OutputFields)+1] = 0.75

	out := Denormalize(vector)

	if got := out["output_13"]; got != 0.25 {
		t.Errorf("output_13 = %v, want unscaled 0.25", got)
	}
	if got := out["output_14"]; got != 0.75 {
		t.Errorf("output_14 = %v, want unscaled 0.75", got)
	}
}

// Increasing a normalized input by delta must increase the physical output by
// exactly delta*(max-min).
func TestDenormalizeMonotonic(t *testing.T) {
	const delta = 0.01
	for i, f := range OutputFields {
		base := make([]float64, len(OutputFields))
		for j := range base {
			base[j] = 0.3
		}
		bumped := make([]float64, len(base))
		copy(bumped, base)
		bumped[i] += delta

		lo := Denormalize(base)[f.Name]
		hi := Denormalize(bumped)[f.Name]

		want := delta * (f.Max - f.Min)
		if math.Abs((hi-lo)-want) > 1e-9 {
			t.Errorf("field %q: step %v, want %v", f.Name, hi-lo, want)
		}
	}
}
