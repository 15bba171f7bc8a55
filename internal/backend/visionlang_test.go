package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/rescuelabs/cprd/internal/analysis"
)

// fakeVisionModel is a scripted llms.Model.
type fakeVisionModel struct {
	response string
	err      error
	messages []llms.MessageContent
}

func (m *fakeVisionModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.response}},
	}, nil
}

func (m *fakeVisionModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func TestVisionLanguageAnalyzeParsesEmbeddedJSON(t *testing.T) {
	model := &fakeVisionModel{response: `Looking at the image, here is my assessment:
{"arm_angle_degrees": 155, "hand_position": "left", "compression_depth_estimate": 1.9, "overall_quality_score": 0.6, "feedback": ["lock your elbows"], "critical_issues": false}
Hope that helps!`}

	v := NewVisionLanguage(model, nil)
	got := v.Analyze(context.Background(), testFrame(t))

	require.False(t, got.Failed())
	assert.Equal(t, analysis.SourceVisionLanguage, got.Source)
	assert.True(t, got.PoseDetected)
	assert.Equal(t, 155.0, got.ArmAngleDegrees)
	assert.Equal(t, 1.9, got.CompressionDepthInches)
	assert.Equal(t, 0.6, got.OverallQualityScore)
	assert.Equal(t, 0.2, got.HandPositionX)
	assert.Equal(t, []string{"lock your elbows"}, got.Feedback)

	// The request carried the image and the instruction.
	require.Len(t, model.messages, 1)
	require.Len(t, model.messages[0].Parts, 2)
	_, isBinary := model.messages[0].Parts[0].(llms.BinaryContent)
	assert.True(t, isBinary, "first part should be the image")
}

func TestVisionLanguageAnalyzePercentQuality(t *testing.T) {
	model := &fakeVisionModel{response: `{"arm_angle_degrees": 170, "hand_position": "centered", "compression_depth_estimate": 2.2, "overall_quality_score": 85, "feedback": [], "critical_issues": false}`}

	got := NewVisionLanguage(model, nil).Analyze(context.Background(), testFrame(t))

	require.False(t, got.Failed())
	assert.InDelta(t, 0.85, got.OverallQualityScore, 1e-9)
	assert.Equal(t, 0.5, got.HandPositionX)
}

func TestVisionLanguageAnalyzeCriticalFlag(t *testing.T) {
	model := &fakeVisionModel{response: `{"arm_angle_degrees": 120, "hand_position": "low", "compression_depth_estimate": 1.0, "overall_quality_score": 0.2, "feedback": ["arms badly bent"], "critical_issues": true}`}

	got := NewVisionLanguage(model, nil).Analyze(context.Background(), testFrame(t))

	require.False(t, got.Failed())
	require.NotEmpty(t, got.Feedback)
	assert.Equal(t, "Critical technique issue observed", got.Feedback[0])
	assert.Equal(t, 0.8, got.HandPositionY)
}

func TestVisionLanguageAnalyzeMalformedOutput(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"no JSON at all", "The person appears to be performing CPR with bent arms."},
		{"unbalanced braces", `{"arm_angle_degrees": 155`},
		{"wrong types", `{"arm_angle_degrees": "straight"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewVisionLanguage(&fakeVisionModel{response: tt.response}, nil).Analyze(context.Background(), testFrame(t))
			assert.True(t, got.Failed())
			assert.Equal(t, analysis.SourceVisionLanguage, got.Source)
		})
	}
}

func TestVisionLanguageAnalyzeModelError(t *testing.T) {
	got := NewVisionLanguage(&fakeVisionModel{err: errors.New("rate limited")}, nil).Analyze(context.Background(), testFrame(t))

	assert.True(t, got.Failed())
	assert.Contains(t, got.Error, "rate limited")
}

func TestFirstJSONObject(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, true},
		{"prose around", `sure: {"a": {"b": 2}} done`, `{"a": {"b": 2}}`, true},
		{"brace inside string", `{"msg": "use } carefully"}`, `{"msg": "use } carefully"}`, true},
		{"escaped quote", `{"msg": "say \"hi\""}`, `{"msg": "say \"hi\""}`, true},
		{"nothing", "no structure here", "", false},
		{"never closed", `{"a": 1`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := firstJSONObject(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
