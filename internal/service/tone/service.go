// Package tone adapts the remote tone classifier. Classification can
// never block or fail a send: every remote failure mode degrades to the
// deterministic keyword heuristic.
package tone

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/attune-labs/attune/backend/internal/analysis/tone"
	"github.com/attune-labs/attune/backend/internal/model/chat"
)

// Config controls the classifier service.
type Config struct {
	// Enabled gates the remote path; when false only the heuristic runs.
	Enabled bool
	// HistoryLimit caps how many trailing messages are sent as context.
	HistoryLimit int
}

// Result is a classification with provenance. Remote reads carry the
// model's confidence; heuristic reads carry a fixed low one.
type Result struct {
	Tone       chat.ToneAnalysis
	Confidence float64
	Fallback   bool
}

// Service classifies message text, preferring the remote model and
// falling back to the keyword heuristic on any failure.
type Service struct {
	enabled      bool
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     func(text string) analysis.Reading
	historyLimit int
}

// NewService builds the classifier. chatModel may be nil, which leaves
// only the heuristic path active.
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config) (*Service, error) {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		fallback:     analysis.Analyze,
		historyLimit: historyLimit,
	}

	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(toneSystemPrompt),
		schema.UserMessage(toneUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile tone classifier chain: %w", err)
	}

	svc.classifier = runnable
	return svc, nil
}

// Enabled reports whether the remote path is available.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Classify analyzes text with the trailing conversation as context. It
// never returns an error: a failed or malformed remote response is
// treated exactly like a transport error and the heuristic answers.
func (s *Service) Classify(ctx context.Context, text string, contextWindow []chat.Message) Result {
	if !s.Enabled() {
		return s.fallbackResult(text)
	}

	input := map[string]any{
		"history": formatHistory(contextWindow, s.historyLimit),
		"message": strings.TrimSpace(text),
	}

	msg, err := s.classifier.Invoke(ctx, input)
	if err != nil {
		log.Printf("[tone] classifier invoke failed, use fallback: %v", err)
		return s.fallbackResult(text)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.fallbackResult(text)
	}

	payload, err := parseClassifierOutput(msg.Content)
	if err != nil {
		log.Printf("[tone] classifier output parse failed, use fallback: %v", err)
		return s.fallbackResult(text)
	}

	label, ok := analysis.ParseLabel(payload.Label)
	if !ok {
		return s.fallbackResult(text)
	}

	tone := chat.ToneAnalysis{
		Label:        string(label),
		Intensity:    clampIntensity(payload.Intensity),
		TriggerWords: payload.TriggerWords,
	}
	if payload.Sentiment != nil {
		sentiment := clampSentiment(*payload.Sentiment)
		tone.Sentiment = &sentiment
	}

	confidence := payload.Confidence
	if confidence <= 0 {
		confidence = 0.6
	}
	if confidence > 1 {
		confidence = 1
	}

	return Result{Tone: tone, Confidence: confidence}
}

func (s *Service) fallbackResult(text string) Result {
	reading := s.fallback(text)
	sentiment := reading.Sentiment

	confidence := 0.3
	if reading.Score > 0 {
		confidence = 0.55
	}

	return Result{
		Tone: chat.ToneAnalysis{
			Label:        string(reading.Label),
			Intensity:    reading.Intensity,
			Sentiment:    &sentiment,
			TriggerWords: reading.TriggerWords,
		},
		Confidence: confidence,
		Fallback:   true,
	}
}

// parseClassifierOutput extracts the JSON object from the model reply.
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func formatHistory(messages []chat.Message, limit int) string {
	if len(messages) == 0 {
		return "no prior messages"
	}
	if limit < 1 {
		limit = 1
	}
	start := len(messages) - limit
	if start < 0 {
		start = 0
	}

	var builder strings.Builder
	for i := start; i < len(messages); i++ {
		msg := messages[i]
		content := strings.TrimSpace(msg.Body)
		if content == "" {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString(msg.AuthorID)
		builder.WriteString(": ")
		builder.WriteString(content)
	}
	if builder.Len() == 0 {
		return "no prior messages"
	}
	return builder.String()
}

func clampIntensity(val int) int {
	if val < 1 {
		return 1
	}
	if val > 10 {
		return 10
	}
	return val
}

func clampSentiment(val float64) float64 {
	if val < -1 {
		return -1
	}
	if val > 1 {
		return 1
	}
	return val
}

type classifierPayload struct {
	Label        string   `json:"label"`
	Intensity    int      `json:"intensity"`
	Sentiment    *float64 `json:"sentiment"`
	Confidence   float64  `json:"confidence"`
	TriggerWords []string `json:"triggerWords"`
}

const toneSystemPrompt = "You are a communication-tone analyst for a couples texting coach. Read the recent conversation and the new message, then classify the message's tone. Reply with a single JSON object and nothing else, with fields: label (one of neutral/calm/appreciative/assertive/anxious/sad/dismissive/defensive/blaming/confrontational/aggressive/hostile), intensity (integer 1-10), sentiment (number -1..1), confidence (number 0..1), triggerWords (array of the words or phrases that drove the classification)."

const toneUserPrompt = "Recent conversation:\n{history}\n\nNew message:\n{message}\n\nReturn the JSON."
