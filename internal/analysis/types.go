// Package analysis defines the measurement types produced by the analysis
// backends and the numeric helpers (denormalization, pose geometry) shared
// by them.
package analysis

// Source identifies which backend produced a Result.
type Source string

const (
	SourceLocal          Source = "local"
	SourceRemoteService  Source = "remote_service"
	SourceVisionLanguage Source = "vision_language"
	SourceNone           Source = "none"
)

// Result holds one frame's raw CPR measurements.
//
// If Error is non-empty the measurement fields are invalid and must not be
// consumed; downstream consumers check Failed() before reading them.
type Result struct {
	PoseDetected bool `json:"pose_detected"`

	ArmAngleDegrees        float64 `json:"arm_angle_degrees"`
	CompressionDepthInches float64 `json:"compression_depth_inches"`
	CompressionRateBPM     float64 `json:"compression_rate_bpm"`

	// Hand centroid in normalized image fractions, 0.5 = center of frame.
	// Defaults to center when no pose is available.
	HandPositionX float64 `json:"hand_position_x"`
	HandPositionY float64 `json:"hand_position_y"`

	// Physical hand offsets from the sternum estimated by the regression
	// model, in inches.
	HandOffsetXInches float64 `json:"hand_offset_x_inches"`
	HandOffsetYInches float64 `json:"hand_offset_y_inches"`

	TorsoLeanDegrees      float64 `json:"torso_lean_degrees"`
	HandsInterlockedScore float64 `json:"hands_interlocked_score"`
	CompressionPhase      float64 `json:"compression_phase"`
	OverallQualityScore   float64 `json:"overall_quality_score"`

	// Free-text observations reported by the backend itself (the vision
	// model and the remote service both return their own feedback lines).
	Feedback []string `json:"feedback,omitempty"`

	Source Source `json:"source"`
	Error  string `json:"error,omitempty"`
}

// Failed reports whether the backend that produced this result faulted.
func (r Result) Failed() bool {
	return r.Error != ""
}

// NewResult returns a zeroed result attributed to the given source, with the
// hand centroid at frame center.
func NewResult(source Source) Result {
	return Result{
		HandPositionX: 0.5,
		HandPositionY: 0.5,
		Source:        source,
	}
}

// ErrorResult returns a failed result attributed to the given source.
func ErrorResult(source Source, msg string) Result {
	r := NewResult(source)
	r.Error = msg
	return r
}
