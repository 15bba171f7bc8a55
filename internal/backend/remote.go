package backend

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/rescuelabs/cprd/internal/analysis"
)

// remoteResponse is the wire schema of the external pose-analysis service.
type remoteResponse struct {
	Detected bool `json:"detected"`
	Metrics  struct {
		ArmAngle          float64  `json:"arm_angle"`
		CompressionDepth  float64  `json:"compression_depth"`
		HandPositionError *float64 `json:"hand_position_error"`
	} `json:"metrics"`
	QualityScore float64  `json:"quality_score"` // 0-100
	Feedback     []string `json:"feedback"`
}

// Remote analyzes frames by delegating to a configured network pose service:
// one POST per frame, image inlined as base64. A non-2xx response or timeout
// is this backend's failure.
type Remote struct {
	client *resty.Client
	logger *zap.Logger
}

// NewRemote creates the remote backend against the given base URL.
func NewRemote(baseURL string, logger *zap.Logger) *Remote {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")
	return &Remote{client: client, logger: logger}
}

func (r *Remote) Name() string { return "remote_service" }

func (r *Remote) Analyze(ctx context.Context, data []byte) analysis.Result {
	var out remoteResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"image": base64.StdEncoding.EncodeToString(data)}).
		SetResult(&out).
		Post("/analyze-pose")
	if err != nil {
		return analysis.ErrorResult(analysis.SourceRemoteService, fmt.Sprintf("pose service request: %v", err))
	}
	if !resp.IsSuccess() {
		return analysis.ErrorResult(analysis.SourceRemoteService, fmt.Sprintf("pose service returned status %d", resp.StatusCode()))
	}

	result := analysis.NewResult(analysis.SourceRemoteService)
	result.PoseDetected = out.Detected
	result.ArmAngleDegrees = out.Metrics.ArmAngle
	result.CompressionDepthInches = out.Metrics.CompressionDepth
	if out.Metrics.HandPositionError != nil {
		result.HandPositionX = *out.Metrics.HandPositionError
	}
	result.OverallQualityScore = out.QualityScore / 100
	// The service reports no phase signal; midpoint keeps the label neutral.
	result.CompressionPhase = 0.5
	result.Feedback = out.Feedback
	return result
}
