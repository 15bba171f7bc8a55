package backend

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/rescuelabs/cprd/internal/analysis"
)

// PoseDetector is the capability contract for a body-landmark detector.
// Detect returns nil without error when no person is found in the frame.
type PoseDetector interface {
	Detect(ctx context.Context, img image.Image) (*analysis.Pose, error)
}

// RegressionModel is the capability contract for the compression regression
// model. Predict receives a normalized RGB tensor in row-major HWC order
// (values in [0,1]) sized to InputSize, and returns the model's normalized
// output vector for analysis.Denormalize.
type RegressionModel interface {
	InputSize() (width, height int)
	Predict(ctx context.Context, pixels []float32, width, height int) ([]float64, error)
}

// Local analyzes frames with on-device capabilities: a pose detector for arm
// geometry and a regression model for compression metrics. Either capability
// may be absent; running with neither is a valid degraded state that reports
// no pose and default metrics rather than an error.
type Local struct {
	detector PoseDetector
	model    RegressionModel
	logger   *zap.Logger
}

// NewLocal creates the local backend. detector and model may each be nil.
func NewLocal(detector PoseDetector, model RegressionModel, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{detector: detector, model: model, logger: logger}
}

func (l *Local) Name() string { return "local" }

// Analyze decodes the frame and runs whichever capabilities are loaded.
// Decode and model faults become this backend's own failure; a single bad
// frame must never propagate a panic into the caller.
func (l *Local) Analyze(ctx context.Context, data []byte) (result analysis.Result) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("local analysis panicked", zap.Any("panic", r))
			result = analysis.ErrorResult(analysis.SourceLocal, fmt.Sprintf("local analysis panicked: %v", r))
		}
	}()

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return analysis.ErrorResult(analysis.SourceLocal, fmt.Sprintf("decode image: %v", err))
	}

	result = analysis.NewResult(analysis.SourceLocal)

	if l.detector != nil {
		pose, err := l.detector.Detect(ctx, img)
		if err != nil {
			return analysis.ErrorResult(analysis.SourceLocal, fmt.Sprintf("pose detection: %v", err))
		}
		if pose != nil {
			if angle, ok := pose.ArmAngle(); ok {
				result.PoseDetected = true
				result.ArmAngleDegrees = angle
			}
			if x, y, ok := pose.HandCentroid(); ok {
				result.PoseDetected = true
				result.HandPositionX = x
				result.HandPositionY = y
			}
		}
	}

	if l.model != nil {
		vector, err := l.predict(ctx, img)
		if err != nil {
			return analysis.ErrorResult(analysis.SourceLocal, fmt.Sprintf("regression model: %v", err))
		}
		fields := analysis.Denormalize(vector)
		// The model's arm-angle and torso-lean heads are far noisier than
		// the pose detector, so arm angle always comes from the detector.
		if v, ok := fields["compression_depth_inches"]; ok {
			result.CompressionDepthInches = v
		}
		if v, ok := fields["compression_rate_bpm"]; ok {
			result.CompressionRateBPM = v
		}
		if v, ok := fields["hand_x_offset_inches"]; ok {
			result.HandOffsetXInches = v
		}
		if v, ok := fields["hand_y_offset_inches"]; ok {
			result.HandOffsetYInches = v
		}
		if v, ok := fields["torso_lean_degrees"]; ok {
			result.TorsoLeanDegrees = v
		}
		if v, ok := fields["hands_interlocked_score"]; ok {
			result.HandsInterlockedScore = v
		}
		if v, ok := fields["compression_phase"]; ok {
			result.CompressionPhase = v
		}
		if v, ok := fields["overall_quality_score"]; ok {
			result.OverallQualityScore = v
		}
	}

	return result
}

// predict resizes the frame to the model's input size, normalizes pixels to
// [0,1], and runs inference.
func (l *Local) predict(ctx context.Context, img image.Image) ([]float64, error) {
	w, h := l.model.InputSize()
	resized := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	pixels := make([]float32, 0, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := resized.PixOffset(x, y)
			pixels = append(pixels,
				float32(resized.Pix[i])/255,
				float32(resized.Pix[i+1])/255,
				float32(resized.Pix[i+2])/255,
			)
		}
	}
	return l.model.Predict(ctx, pixels, w, h)
}
