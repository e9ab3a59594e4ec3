package inference

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the expected JSON output structure for structured chat responses.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Request is one generation request against the gateway.
type Request struct {
	Prompt         string
	History        []Message
	ConversationID string
	Schema         *Schema // non-nil requests structured JSON output
	UseThinking    bool
}

// Delta is one increment of a streaming generation. The terminal delta has
// IsFinished set and FullResponse carrying the complete accumulated text;
// consumers must key off IsFinished, never off empty content.
type Delta struct {
	Content        string `json:"content"`
	FullResponse   string `json:"full_response,omitempty"`
	IsFinished     bool   `json:"is_finished"`
	ConversationID string `json:"conversation_id,omitempty"`

	// Err is set on the terminal delta when the generation failed after
	// streaming began. It is never serialized.
	Err error `json:"-"`
}

// Status reports model readiness. Initialized means requests will be
// accepted; Loading means a readiness check or model download is in flight.
type Status struct {
	Initialized bool `json:"initialized"`
	Loading     bool `json:"loading"`
}
