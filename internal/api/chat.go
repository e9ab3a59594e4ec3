package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taskmind/taskmind/internal/events"
	"github.com/taskmind/taskmind/internal/inference"
	"github.com/taskmind/taskmind/internal/storage"
)

type generateRequest struct {
	ConversationID string `json:"conversation_id"`
	Prompt         string `json:"prompt"`
	UseThinking    bool   `json:"use_thinking"`
	Stream         bool   `json:"stream"`
}

type streamChunk struct {
	Content        string `json:"content,omitempty"`
	Done           bool   `json:"done"`
	FullResponse   string `json:"full_response,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Prompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}

		if !req.Stream {
			reply, err := deps.Conv.Send(r.Context(), req.ConversationID, req.Prompt, req.UseThinking, nil)
			if err != nil {
				generateError(w, err)
				return
			}
			writeJSON(w, map[string]string{"response": reply})
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming unsupported")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		onDelta := func(d inference.Delta) {
			chunk := streamChunk{Content: d.Content, Done: d.IsFinished, ConversationID: d.ConversationID}
			if d.IsFinished {
				chunk.FullResponse = d.FullResponse
				if d.Err != nil {
					chunk.Error = d.Err.Error()
				}
			}
			writeSSE(w, flusher, chunk)
			deps.Bus.Publish(events.TypeChatStream, chunk)
		}

		if _, err := deps.Conv.Send(r.Context(), req.ConversationID, req.Prompt, req.UseThinking, onDelta); err != nil {
			// The terminal delta already carried the error when streaming
			// had begun. This covers failures before the first delta.
			writeSSE(w, flusher, streamChunk{Done: true, Error: err.Error()})
		}
	}
}

func generateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "conversation not found")
	case errors.Is(err, inference.ErrNotInitialized):
		httpError(w, http.StatusServiceUnavailable, "model_unavailable", "model is not ready: %v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "generation failed: %v", err)
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

type conversationResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toConversationResponse(c storage.Conversation) conversationResponse {
	return conversationResponse{
		ID:           c.ID,
		Name:         c.Name,
		MessageCount: c.MessageCount,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		convs, err := deps.Conv.List(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list conversations: %v", err)
			return
		}
		out := make([]conversationResponse, len(convs))
		for i, c := range convs {
			out[i] = toConversationResponse(c)
		}
		writeJSON(w, out)
	}
}

func handleCreateConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Name string `json:"name"`
		}
		// An empty body is fine, the conversation gets a default name.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		conv, err := deps.Conv.Create(req.Name)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create conversation: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(toConversationResponse(conv))
	}
}

func handleCurrentConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := deps.Conv.Current()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to resolve conversation: %v", err)
			return
		}
		writeJSON(w, toConversationResponse(conv))
	}
}

func handleSetCurrentConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "id is required")
			return
		}
		if err := deps.Conv.SetCurrent(req.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "conversation not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to switch conversation: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

type messageResponse struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func handleConversationHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		msgs, err := deps.Conv.History(id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "conversation not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}
		out := make([]messageResponse, len(msgs))
		for i, m := range msgs {
			out[i] = messageResponse{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
		}
		writeJSON(w, out)
	}
}

func handleResetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Conv.Reset(id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "conversation not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reset conversation: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

func handleRenameConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		if err := deps.Conv.Rename(id, req.Name); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "conversation not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to rename conversation: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

func handleDeleteConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Conv.Delete(id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "conversation not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete conversation: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}
