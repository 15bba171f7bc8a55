// Package summary turns finished session aggregates into a short
// instructor-style debrief via a language model.
package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/rescuelabs/cprd/internal/guidance"
	"github.com/rescuelabs/cprd/internal/session"
)

const systemPrompt = "You are a CPR training expert providing feedback on training sessions."

// Fallback is returned whenever a generated summary cannot be produced.
// Callers treat summaries as best-effort; the HTTP boundary never surfaces
// a summary failure as an error.
const Fallback = "Session summary is unavailable right now. Review the recorded metrics for this session and keep practicing steady, full-depth compressions."

// Service generates natural-language session summaries. A nil model is a
// supported configuration and always yields the fallback text.
type Service struct {
	model  llms.Model
	logger *zap.Logger
}

// NewService creates a summary service over an optional langchaingo model.
func NewService(model llms.Model, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{model: model, logger: logger}
}

// Summarize produces an encouraging 3-4 paragraph debrief of the session.
// It never returns an error; model problems degrade to the fallback text.
func (s *Service) Summarize(ctx context.Context, record *session.Record) string {
	if record == nil {
		return Fallback
	}
	if s.model == nil {
		s.logger.Debug("summary model not configured, using fallback",
			zap.String("session_id", record.SessionID))
		return Fallback
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildPrompt(record)),
	}

	resp, err := s.model.GenerateContent(ctx, messages,
		llms.WithTemperature(0.7),
		llms.WithMaxTokens(500),
	)
	if err != nil {
		s.logger.Warn("summary generation failed",
			zap.String("session_id", record.SessionID),
			zap.Error(err))
		return Fallback
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		s.logger.Warn("summary model returned no content",
			zap.String("session_id", record.SessionID))
		return Fallback
	}
	return strings.TrimSpace(resp.Choices[0].Content)
}

// buildPrompt flattens the session aggregates into the instruction text.
func buildPrompt(record *session.Record) string {
	end := record.EndTime
	if end.IsZero() {
		end = time.Now().UTC()
	}
	duration := end.Sub(record.StartTime)
	if duration < 0 {
		duration = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert CPR instructor analyzing a training session. Provide a comprehensive summary based on the following data:\n\n")
	fmt.Fprintf(&b, "Session ID: %s\n", record.SessionID)
	fmt.Fprintf(&b, "Duration: %.1f minutes\n", duration.Minutes())
	fmt.Fprintf(&b, "Total Compressions: %d\n", record.CompressionCount)
	fmt.Fprintf(&b, "Frames Analyzed: %d\n", record.FrameCount)
	fmt.Fprintf(&b, "Performance Score: %.0f/100\n", record.MeanQuality*100)
	fmt.Fprintf(&b, "Good Technique Frames: %d\n", record.GoodCount)
	fmt.Fprintf(&b, "Warnings: %d\n", record.WarningCount)
	fmt.Fprintf(&b, "Critical Errors: %d\n", record.CriticalCount)

	issues := frequentIssues(record)
	b.WriteString("\nMost Frequent Corrections:\n")
	if len(issues) == 0 {
		b.WriteString("None\n")
	} else {
		for _, issue := range issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}

	b.WriteString("\nPlease provide:\n")
	b.WriteString("1. A brief overview of the session performance\n")
	b.WriteString("2. Specific areas that need improvement (if any)\n")
	b.WriteString("3. Strengths demonstrated\n")
	b.WriteString("4. Recommendations for the next training session\n\n")
	b.WriteString("Keep the tone professional and encouraging. Limit to 3-4 paragraphs.")
	return b.String()
}

// frequentIssues lists distinct corrective instructions ordered by how often
// they were issued, most frequent first.
func frequentIssues(record *session.Record) []string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, frame := range record.Frames {
		if frame.Guidance.Priority == guidance.PriorityGood || frame.Guidance.Instruction == "" {
			continue
		}
		if _, seen := counts[frame.Guidance.Instruction]; !seen {
			order = append(order, frame.Guidance.Instruction)
		}
		counts[frame.Guidance.Instruction]++
	}
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if counts[order[j]] > counts[order[i]] {
				order[i], order[j] = order[j], order[i]
			}
		}
	}
	for i, issue := range order {
		order[i] = fmt.Sprintf("%s (%d times)", issue, counts[issue])
	}
	return order
}
