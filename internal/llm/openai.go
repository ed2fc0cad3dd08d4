// Package llm adapts OpenAI-compatible chat completion endpoints (Groq,
// OpenAI, local gateways) to the eino chat model interface so they can be
// used in the same compose chains as the Ark model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// ErrNoChoices is returned when the endpoint answers without any choice.
var ErrNoChoices = errors.New("llm: completion returned no choices")

// Config describes an OpenAI-compatible endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
	HTTPClient  *http.Client
	MaxRetries  *int
}

// ChatModel implements model.BaseChatModel on top of openai-go.
type ChatModel struct {
	client   oai.Client
	model    string
	defaults model.Options
}

var _ model.BaseChatModel = (*ChatModel)(nil)

// NewChatModel creates a ChatModel for cfg.
func NewChatModel(cfg Config) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm: model is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.MaxRetries != nil {
		opts = append(opts, option.WithMaxRetries(*cfg.MaxRetries))
	}

	return &ChatModel{
		client: oai.NewClient(opts...),
		model:  cfg.Model,
		defaults: model.Options{
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
			MaxTokens:   cfg.MaxTokens,
		},
	}, nil
}

// Generate runs a single chat completion.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	params, err := m.buildParams(input, opts)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	return schema.AssistantMessage(resp.Choices[0].Message.Content, nil), nil
}

// Stream runs a streaming chat completion and relays deltas through an eino
// stream reader.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	params, err := m.buildParams(input, opts)
	if err != nil {
		return nil, err
	}

	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	sr, sw := schema.Pipe[*schema.Message](16)

	go func() {
		defer sw.Close()
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if closed := sw.Send(schema.AssistantMessage(chunk.Choices[0].Delta.Content, nil), nil); closed {
				return
			}
		}
		if err := stream.Err(); err != nil {
			sw.Send(nil, fmt.Errorf("llm: chat completion stream: %w", err))
		}
	}()

	return sr, nil
}

func (m *ChatModel) buildParams(input []*schema.Message, opts []model.Option) (oai.ChatCompletionNewParams, error) {
	base := m.defaults
	name := m.model
	base.Model = &name
	options := model.GetCommonOptions(&base, opts...)

	messages, err := toOpenAIMessages(input)
	if err != nil {
		return oai.ChatCompletionNewParams{}, err
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(*options.Model),
		Messages: messages,
	}
	if options.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*options.Temperature))
	}
	if options.TopP != nil {
		params.TopP = param.NewOpt(float64(*options.TopP))
	}
	if options.MaxTokens != nil {
		params.MaxCompletionTokens = param.NewOpt(int64(*options.MaxTokens))
	}
	return params, nil
}

func toOpenAIMessages(input []*schema.Message) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			out = append(out, oai.SystemMessage(msg.Content))
		case schema.User:
			out = append(out, oai.UserMessage(msg.Content))
		case schema.Assistant:
			out = append(out, oai.AssistantMessage(msg.Content))
		default:
			return nil, fmt.Errorf("llm: unsupported message role %q", msg.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("llm: no messages to send")
	}
	return out, nil
}
