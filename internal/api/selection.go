package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/taskmind/taskmind/internal/capture"
)

type selectionRequest struct {
	Bounds capture.Bounds `json:"bounds"`
	Data   string         `json:"data"`
}

// handleCaptureSelection extracts text from a user-selected screen region.
// The payload arrives base64-encoded because it may be binary document data.
func handleCaptureSelection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSelectionBodySize)
		defer r.Body.Close()

		var req selectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		raw, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "data must be base64-encoded: %v", err)
			return
		}

		result, err := capture.ProcessSelection(req.Bounds, raw)
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "selection rejected: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"bounds":       result.Bounds,
			"text_content": result.TextContent,
		})
	}
}
