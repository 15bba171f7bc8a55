package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/rescuelabs/cprd/internal/guidance"
	"github.com/rescuelabs/cprd/internal/session"
)

// fakeSummaryModel is a scripted llms.Model.
type fakeSummaryModel struct {
	response string
	err      error
	messages []llms.MessageContent
}

func (m *fakeSummaryModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.response}},
	}, nil
}

func (m *fakeSummaryModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func testRecord() *session.Record {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &session.Record{
		SessionID:        "s-1",
		DeviceID:         "glasses-01",
		State:            session.StateEnded,
		StartTime:        start,
		EndTime:          start.Add(4 * time.Minute),
		FrameCount:       5,
		GoodCount:        2,
		WarningCount:     2,
		CriticalCount:    1,
		MeanQuality:      0.72,
		QualitySamples:   5,
		CompressionCount: 220,
		Frames: []session.FrameRecord{
			{Guidance: guidance.Result{Instruction: guidance.MsgGoodTechnique, Priority: guidance.PriorityGood}},
			{Guidance: guidance.Result{Instruction: guidance.MsgPressBitDeeper, Priority: guidance.PriorityWarning}},
			{Guidance: guidance.Result{Instruction: guidance.MsgPressBitDeeper, Priority: guidance.PriorityWarning}},
			{Guidance: guidance.Result{Instruction: guidance.MsgStraightenArms, Priority: guidance.PriorityCritical}},
			{Guidance: guidance.Result{Instruction: guidance.MsgGoodTechnique, Priority: guidance.PriorityGood}},
		},
	}
}

func TestSummarizeUsesModelResponse(t *testing.T) {
	model := &fakeSummaryModel{response: "  Strong session overall.\n"}
	s := NewService(model, nil)

	got := s.Summarize(context.Background(), testRecord())
	assert.Equal(t, "Strong session overall.", got)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
}

func TestSummarizePromptCarriesAggregates(t *testing.T) {
	prompt := buildPrompt(testRecord())

	assert.Contains(t, prompt, "Session ID: s-1")
	assert.Contains(t, prompt, "Duration: 4.0 minutes")
	assert.Contains(t, prompt, "Total Compressions: 220")
	assert.Contains(t, prompt, "Performance Score: 72/100")
	assert.Contains(t, prompt, "Critical Errors: 1")
	// The repeated correction ranks above the one-off critical issue.
	assert.Contains(t, prompt, guidance.MsgPressBitDeeper+" (2 times)")
	assert.Contains(t, prompt, guidance.MsgStraightenArms+" (1 times)")
	assert.NotContains(t, prompt, guidance.MsgGoodTechnique)
}

func TestSummarizePromptWithoutCorrections(t *testing.T) {
	record := testRecord()
	record.Frames = nil

	prompt := buildPrompt(record)
	assert.Contains(t, prompt, "Most Frequent Corrections:\nNone")
}

func TestSummarizeFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		service *Service
		record  *session.Record
	}{
		{"nil model", NewService(nil, nil), testRecord()},
		{"model error", NewService(&fakeSummaryModel{err: errors.New("rate limited")}, nil), testRecord()},
		{"empty response", NewService(&fakeSummaryModel{response: "   "}, nil), testRecord()},
		{"nil record", NewService(&fakeSummaryModel{response: "ok"}, nil), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Fallback, tt.service.Summarize(context.Background(), tt.record))
		})
	}
}

func TestSummarizeActiveSessionUsesElapsedTime(t *testing.T) {
	record := testRecord()
	record.State = session.StateActive
	record.EndTime = time.Time{}
	record.StartTime = time.Now().UTC().Add(-2 * time.Minute)

	prompt := buildPrompt(record)
	assert.Contains(t, prompt, "Duration: 2.0 minutes")
}
