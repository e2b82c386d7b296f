package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tesso57/websubd/internal/application/usecase"
)

// Debug serves the operator diagnostics endpoint:
// GET /websub/debug?action={check|process|verify}&feedUrl=<topic>.
func (h *Handler) Debug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	action := q.Get("action")
	feedURL := q.Get("feedUrl")
	if feedURL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing feedUrl"})
		return
	}

	switch action {
	case "check":
		check, err := h.manager.CheckFeedForUpdates(r.Context(), feedURL)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, check)
	case "process":
		writeJSON(w, http.StatusOK, h.manager.ManuallyProcessFeed(r.Context(), feedURL))
	case "verify":
		info, err := h.manager.VerifyInfo(r.Context(), feedURL)
		if errors.Is(err, usecase.ErrUnknownTopic) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no subscription for topic"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, info)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown action"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
