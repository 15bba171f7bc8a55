package analysis

import "fmt"

// FieldRange is the physical range a normalized model output maps onto.
type FieldRange struct {
	Name string
	Min  float64
	Max  float64
}

// OutputFields is the fixed output order of the compression regression model.
// The model emits 13 values in [0,1]; each maps linearly onto its range.
var OutputFields = []FieldRange{
	{"arm_angle_degrees", 0, 180},
	{"compression_depth_inches", 0, 5},
	{"compression_rate_bpm", 0, 200},
	{"hand_x_offset_inches", -10, 10},
	{"hand_y_offset_inches", -10, 10},
	{"torso_lean_degrees", 0, 90},
	{"hands_interlocked_score", 0, 1},
	{"compression_phase", 0, 1},
	{"overall_quality_score", 0, 1},
	{"metronome_bpm", 80, 140},
	{"metronome_volume", 0, 1},
	{"beat_alignment_score", 0, 1},
	{"next_beat_countdown", 0, 30},
}

// Denormalize maps a normalized model output vector onto physical units.
//
// Only the fields actually present in the vector appear in the returned map:
// a short vector populates the first len(vector) fields and omits the rest,
// so callers can distinguish "not measured" from zero. Values past the known
// field list are passed through unscaled under positional names.
func Denormalize(vector []float64) map[string]float64 {
	out := make(map[string]float64, len(vector))
	for i, v := range vector {
		if i < len(OutputFields) {
			f := OutputFields[i]
			out[f.Name] = v*(f.Max-f.Min) + f.Min
			continue
		}
		out[fmt.Sprintf("output_%d", i)] = v
	}
	return out
}
