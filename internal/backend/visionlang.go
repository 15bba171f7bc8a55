package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/rescuelabs/cprd/internal/analysis"
)

// visionInstruction pins the generative model to a parseable schema. The
// model still answers in free text, so the first JSON-shaped fragment of the
// response is what gets parsed.
const visionInstruction = `You are a CPR technique analyst. Look at this photo of a person performing chest compressions and respond with a single JSON object using exactly these keys:
{
  "arm_angle_degrees": <number 0-180, elbow angle, 180 means straight arms>,
  "hand_position": <"centered", "high", "low", "left" or "right">,
  "compression_depth_estimate": <number, estimated depth in inches>,
  "overall_quality_score": <number 0-1>,
  "feedback": [<short coaching strings>],
  "critical_issues": <true if technique is dangerous, else false>
}
Respond with the JSON object only.`

// visionObservation is the constrained schema the model is asked to emit.
type visionObservation struct {
	ArmAngleDegrees          float64  `json:"arm_angle_degrees"`
	HandPosition             string   `json:"hand_position"`
	CompressionDepthEstimate float64  `json:"compression_depth_estimate"`
	OverallQualityScore      float64  `json:"overall_quality_score"`
	Feedback                 []string `json:"feedback"`
	CriticalIssues           bool     `json:"critical_issues"`
}

// VisionLanguage analyzes frames by asking a generative vision model to
// describe the technique in a constrained JSON schema.
//
// Its estimates are inherently noisier than the numeric models; results are
// tagged SourceVisionLanguage so downstream consumers can discount
// confidence accordingly.
type VisionLanguage struct {
	model  llms.Model
	logger *zap.Logger
}

// NewVisionLanguage creates the vision-language backend over any langchaingo
// chat model with image support.
func NewVisionLanguage(model llms.Model, logger *zap.Logger) *VisionLanguage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisionLanguage{model: model, logger: logger}
}

func (v *VisionLanguage) Name() string { return "vision_language" }

func (v *VisionLanguage) Analyze(ctx context.Context, data []byte) analysis.Result {
	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(http.DetectContentType(data), data),
				llms.TextPart(visionInstruction),
			},
		},
	}

	resp, err := v.model.GenerateContent(ctx, messages,
		llms.WithTemperature(0.1),
		llms.WithMaxTokens(512),
	)
	if err != nil {
		return analysis.ErrorResult(analysis.SourceVisionLanguage, fmt.Sprintf("vision model: %v", err))
	}
	if len(resp.Choices) == 0 {
		return analysis.ErrorResult(analysis.SourceVisionLanguage, "vision model returned no choices")
	}

	fragment, ok := firstJSONObject(resp.Choices[0].Content)
	if !ok {
		return analysis.ErrorResult(analysis.SourceVisionLanguage, "no JSON object in vision model response")
	}

	var obs visionObservation
	if err := json.Unmarshal([]byte(fragment), &obs); err != nil {
		return analysis.ErrorResult(analysis.SourceVisionLanguage, fmt.Sprintf("malformed vision response: %v", err))
	}

	return v.toResult(obs)
}

func (v *VisionLanguage) toResult(obs visionObservation) analysis.Result {
	result := analysis.NewResult(analysis.SourceVisionLanguage)
	result.PoseDetected = obs.ArmAngleDegrees > 0 || obs.HandPosition != ""
	result.ArmAngleDegrees = obs.ArmAngleDegrees
	result.CompressionDepthInches = obs.CompressionDepthEstimate

	quality := obs.OverallQualityScore
	if quality > 1 {
		// Some models answer in percent despite the instruction.
		quality /= 100
	}
	result.OverallQualityScore = clamp01(quality)

	x, y := handPositionCoordinates(obs.HandPosition)
	result.HandPositionX = x
	result.HandPositionY = y

	result.Feedback = obs.Feedback
	if obs.CriticalIssues {
		result.Feedback = append([]string{"Critical technique issue observed"}, result.Feedback...)
	}
	return result
}

// handPositionCoordinates maps the model's coarse placement word onto the
// normalized centroid coordinate the guidance rules consume.
func handPositionCoordinates(position string) (x, y float64) {
	x, y = 0.5, 0.5
	switch strings.ToLower(strings.TrimSpace(position)) {
	case "left":
		x = 0.2
	case "right":
		x = 0.8
	case "high":
		y = 0.2
	case "low":
		y = 0.8
	}
	return x, y
}

// firstJSONObject extracts the first balanced {...} fragment, skipping
// braces inside string literals.
func firstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
