package inference

import "context"

// Provider abstracts an inference backend (local Ollama or a remote
// OpenAI-compatible endpoint). The gateway layers conversation
// serialization, readiness state, and delta framing on top of this.
type Provider interface {
	// Chat sends messages to the given model and returns the assistant's
	// response. When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// ChatStream sends messages and invokes onDelta for each content
	// increment as it arrives. It returns the full accumulated response.
	ChatStream(ctx context.Context, model string, messages []Message, onDelta func(content string)) (string, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress
	// updates. Providers with hosted models return immediately.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
