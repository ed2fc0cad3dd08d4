package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/ai-show/backend/internal/config"
)

// ErrEmptyCompletion is returned when the model answers with nothing usable.
var ErrEmptyCompletion = errors.New("ai: model returned no content")

// ErrEmptyRole is returned when Generate is called without a role.
var ErrEmptyRole = errors.New("ai: role is required")

// InterviewerService generates the operating prompt an interviewer persona
// follows for the rest of a session.
type InterviewerService struct {
	chain   compose.Runnable[map[string]any, *schema.Message]
	timeout time.Duration
}

// NewInterviewerService builds the chat model described by cfg and wires it
// into the prompt chain.
func NewInterviewerService(ctx context.Context, cfg config.AIConfig) (*InterviewerService, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewInterviewerServiceWithModel(ctx, chatModel, cfg.PromptTimeout)
}

// NewInterviewerServiceWithModel wires an existing chat model. A zero timeout
// leaves the call bounded only by the caller's context.
func NewInterviewerServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, timeout time.Duration) (*InterviewerService, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage(interviewerMetaPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile interviewer chain: %w", err)
	}

	return &InterviewerService{chain: runnable, timeout: timeout}, nil
}

// Generate asks the model for interviewer instructions for role, spoken by
// interviewerName. The result has markdown emphasis removed because it is
// read aloud by a TTS engine.
func (s *InterviewerService) Generate(ctx context.Context, role, interviewerName string) (string, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return "", ErrEmptyRole
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	response, err := s.chain.Invoke(ctx, map[string]any{
		"role":             role,
		"interviewer_name": interviewerName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate interviewer prompt: %w", err)
	}
	if response == nil {
		return "", ErrEmptyCompletion
	}

	text := StripMarkdown(response.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}

	log.Printf("[ai] generated interviewer prompt role=%q interviewer=%q length=%d elapsed=%s",
		role, interviewerName, len(text), time.Since(start).Round(time.Millisecond))
	return text, nil
}
