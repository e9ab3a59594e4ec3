package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIProvider talks to an OpenAI-compatible endpoint. Models are hosted
// remotely, so PullModel is a no-op.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a provider for the given endpoint. baseURL may be
// empty for the default OpenAI API.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// Chat sends messages and returns the assistant's response. A non-nil schema
// requests JSON output mode; the schema itself is conveyed in the prompt.
func (p *OpenAIProvider) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: toOpenAIMessages(messages),
	}
	if jsonSchema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// ChatStream streams a chat completion, invoking onDelta per content chunk.
func (p *OpenAIProvider) ChatStream(ctx context.Context, model string, messages []Message, onDelta func(content string)) (string, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    model,
		Messages: toOpenAIMessages(messages),
	})
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" && onDelta != nil {
				onDelta(delta)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("chat stream: %w", err)
	}
	if len(acc.Choices) == 0 {
		return "", fmt.Errorf("chat stream: empty response")
	}
	return acc.Choices[0].Message.Content, nil
}

// IsRunning reports whether the endpoint answers a model list request.
func (p *OpenAIProvider) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.client.Models.List(ctx)
	return err == nil
}

// ListModels returns the model IDs the endpoint advertises.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	pager := p.client.Models.ListAutoPaging(ctx)
	for pager.Next() {
		names = append(names, pager.Current().ID)
	}
	if err := pager.Err(); err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	return names, nil
}

// HasModel reports whether the endpoint advertises the given model.
func (p *OpenAIProvider) HasModel(ctx context.Context, name string) bool {
	models, err := p.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m == name || strings.HasPrefix(m, name+":") {
			return true
		}
	}
	return false
}

// PullModel is a no-op: remote endpoints host their own models.
func (p *OpenAIProvider) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	return nil
}
