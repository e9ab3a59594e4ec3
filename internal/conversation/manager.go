// Package conversation manages chat sessions and their persisted history.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/taskmind/taskmind/internal/inference"
	"github.com/taskmind/taskmind/internal/storage"
)

// DefaultName is the placeholder name a conversation carries until its
// first exchange produces a real one.
const DefaultName = "New Conversation"

const maxAutoNameLen = 50

// Store is the slice of the storage layer the manager needs.
type Store interface {
	CreateConversation(id, name string) (storage.Conversation, error)
	GetConversation(id string) (storage.Conversation, error)
	ListConversations(limit int) ([]storage.Conversation, error)
	RenameConversation(id, name string) error
	DeleteConversation(id string) error
	ResetConversation(id string) error
	AppendMessage(conversationID, role, content string) (storage.ConversationMessage, error)
	GetMessages(conversationID string) ([]storage.ConversationMessage, error)
}

// Gateway is the slice of the inference gateway the manager needs.
type Gateway interface {
	Generate(ctx context.Context, req inference.Request) (string, error)
	GenerateStream(ctx context.Context, req inference.Request) (<-chan inference.Delta, error)
}

// Manager owns the current-conversation pointer and runs chat exchanges
// against the gateway. History is committed write-ahead for the user side
// and only after the terminal delta for the assistant side, so a cancelled
// or failed generation never persists a partial reply.
type Manager struct {
	store   Store
	gateway Gateway
	log     *slog.Logger

	mu        sync.Mutex
	currentID string
}

// NewManager creates a manager.
func NewManager(store Store, gateway Gateway, log *slog.Logger) *Manager {
	return &Manager{store: store, gateway: gateway, log: log}
}

// Create starts a new conversation and makes it current. An empty name gets
// the placeholder.
func (m *Manager) Create(name string) (storage.Conversation, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	conv, err := m.store.CreateConversation(uuid.NewString(), name)
	if err != nil {
		return storage.Conversation{}, err
	}

	m.mu.Lock()
	m.currentID = conv.ID
	m.mu.Unlock()
	return conv, nil
}

// Current returns the current conversation, creating one when none is set.
func (m *Manager) Current() (storage.Conversation, error) {
	m.mu.Lock()
	id := m.currentID
	m.mu.Unlock()

	if id == "" {
		return m.Create("")
	}
	conv, err := m.store.GetConversation(id)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted out from under us; start fresh.
		return m.Create("")
	}
	return conv, err
}

// SetCurrent switches the current conversation.
func (m *Manager) SetCurrent(id string) error {
	if _, err := m.store.GetConversation(id); err != nil {
		return err
	}
	m.mu.Lock()
	m.currentID = id
	m.mu.Unlock()
	return nil
}

// List returns recent conversations.
func (m *Manager) List(limit int) ([]storage.Conversation, error) {
	return m.store.ListConversations(limit)
}

// History returns a conversation's messages in order.
func (m *Manager) History(id string) ([]storage.ConversationMessage, error) {
	if _, err := m.store.GetConversation(id); err != nil {
		return nil, err
	}
	return m.store.GetMessages(id)
}

// Rename changes a conversation's name.
func (m *Manager) Rename(id, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("conversation name is empty")
	}
	return m.store.RenameConversation(id, name)
}

// Reset clears a conversation's messages, keeping the conversation itself.
func (m *Manager) Reset(id string) error {
	return m.store.ResetConversation(id)
}

// Delete removes a conversation and its messages.
func (m *Manager) Delete(id string) error {
	if err := m.store.DeleteConversation(id); err != nil {
		return err
	}
	m.mu.Lock()
	if m.currentID == id {
		m.currentID = ""
	}
	m.mu.Unlock()
	return nil
}

// Send runs one exchange in the given conversation. An empty id targets the
// current conversation. When onDelta is non-nil the generation streams and
// every delta, including the terminal one, is forwarded to it. The assistant
// reply is returned and persisted only after the generation fully succeeds.
func (m *Manager) Send(ctx context.Context, id, prompt string, useThinking bool, onDelta func(inference.Delta)) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("prompt is empty")
	}

	conv, err := m.resolve(id)
	if err != nil {
		return "", err
	}

	prior, err := m.store.GetMessages(conv.ID)
	if err != nil {
		return "", fmt.Errorf("loading history: %w", err)
	}
	history := make([]inference.Message, len(prior))
	for i, msg := range prior {
		history[i] = inference.Message{Role: msg.Role, Content: msg.Content}
	}

	if _, err := m.store.AppendMessage(conv.ID, storage.RoleUser, prompt); err != nil {
		return "", fmt.Errorf("persisting user message: %w", err)
	}

	req := inference.Request{
		Prompt:         prompt,
		History:        history,
		ConversationID: conv.ID,
		UseThinking:    useThinking,
	}

	var reply string
	if onDelta == nil {
		reply, err = m.gateway.Generate(ctx, req)
		if err != nil {
			return "", err
		}
	} else {
		reply, err = m.stream(ctx, req, onDelta)
		if err != nil {
			return "", err
		}
	}

	if _, err := m.store.AppendMessage(conv.ID, storage.RoleAssistant, reply); err != nil {
		return "", fmt.Errorf("persisting assistant message: %w", err)
	}

	if len(prior) == 0 && conv.Name == DefaultName {
		m.autoName(ctx, conv.ID, prompt)
	}
	return reply, nil
}

func (m *Manager) resolve(id string) (storage.Conversation, error) {
	if id == "" {
		return m.Current()
	}
	return m.store.GetConversation(id)
}

func (m *Manager) stream(ctx context.Context, req inference.Request, onDelta func(inference.Delta)) (string, error) {
	ch, err := m.gateway.GenerateStream(ctx, req)
	if err != nil {
		return "", err
	}

	var terminal *inference.Delta
	for d := range ch {
		onDelta(d)
		if d.IsFinished {
			dd := d
			terminal = &dd
		}
	}
	if terminal == nil {
		return "", fmt.Errorf("stream ended without terminal delta: %w", ctx.Err())
	}
	if terminal.Err != nil {
		return "", terminal.Err
	}
	return terminal.FullResponse, nil
}

// autoName derives a conversation name from its first prompt. The model is
// asked for a short title; any failure falls back to a truncated first line.
func (m *Manager) autoName(ctx context.Context, id, prompt string) {
	name, err := m.gateway.Generate(ctx, inference.Request{
		Prompt: fmt.Sprintf("Generate a short title (at most 6 words, no quotes, no punctuation at the end) for a conversation that starts with:\n\n%s\n\nRespond with the title only.", prompt),
	})
	if err != nil || strings.TrimSpace(name) == "" {
		name = fallbackName(prompt)
	}
	name = strings.Trim(strings.TrimSpace(name), `"'`)
	if len(name) > maxAutoNameLen {
		name = fallbackName(name)
	}

	if err := m.store.RenameConversation(id, name); err != nil {
		m.log.Warn("auto-naming conversation failed", "conversation", id, "error", err)
	}
}

// fallbackName truncates the first line of the prompt to a usable title.
func fallbackName(prompt string) string {
	line := strings.TrimSpace(prompt)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	runes := []rune(line)
	if len(runes) > maxAutoNameLen {
		return strings.TrimSpace(string(runes[:maxAutoNameLen-1])) + "…"
	}
	if line == "" {
		return DefaultName
	}
	return line
}
