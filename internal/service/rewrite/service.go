// Package rewrite suggests an "I-statement" rephrasing of a draft
// message. It is strictly best-effort: any failure means no suggestion,
// never a blocked send.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// ErrUnavailable is returned when no model is configured.
var ErrUnavailable = errors.New("rewrite service unavailable")

// Service turns a draft into a non-blaming "I feel X when Y because Z"
// alternative.
type Service struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the rewrite chain. chatModel may be nil, which
// yields a service that always reports ErrUnavailable.
func NewService(ctx context.Context, chatModel model.ChatModel) (*Service, error) {
	if chatModel == nil {
		return &Service{}, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(rewriteSystemPrompt),
		schema.UserMessage("{message}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rewrite chain: %w", err)
	}

	return &Service{chain: runnable}, nil
}

// Enabled reports whether a model is wired in.
func (s *Service) Enabled() bool {
	return s != nil && s.chain != nil
}

// Rewrite returns the suggested rephrasing of text.
func (s *Service) Rewrite(ctx context.Context, text string) (string, error) {
	if !s.Enabled() {
		return "", ErrUnavailable
	}

	msg, err := s.chain.Invoke(ctx, map[string]any{"message": strings.TrimSpace(text)})
	if err != nil {
		return "", fmt.Errorf("failed to run rewrite chain: %w", err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("rewrite chain returned empty content")
	}

	return strings.TrimSpace(msg.Content), nil
}

const rewriteSystemPrompt = "You help one partner in a couple rephrase a heated text message as a gentle I-statement of the form \"I feel X when Y because Z\". Keep the meaning, drop the blame, stay under two sentences, and reply with the rephrased message only - no preamble, no quotes."
