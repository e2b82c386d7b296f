// Package httpapi exposes the hub-facing callback endpoint and the
// operator debug endpoint.
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tesso57/websubd/internal/application/usecase"
	"github.com/tesso57/websubd/internal/domain/websub"
)

// maxNotificationBytes caps how much of a pushed payload is read.
const maxNotificationBytes = 10 << 20

// Handler serves the WebSub callback: verification GETs and
// notification POSTs. Each request touches exactly one topic's row, so
// concurrent callbacks for different topics never contend.
type Handler struct {
	manager *usecase.Manager
	log     *zap.SugaredLogger
}

// NewHandler builds a Handler over the subscription manager.
func NewHandler(manager *usecase.Manager) *Handler {
	return &Handler{
		manager: manager,
		log:     zap.S().Named("callback"),
	}
}

// Callback routes the callback endpoint by method.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleNotification(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerification answers the hub's intent check. The challenge is
// echoed byte-for-byte only when a matching subscription exists; hubs
// compare it literally.
func (h *Handler) handleVerification(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	topic := q.Get("hub.topic")
	challenge := q.Get("hub.challenge")
	if topic == "" || challenge == "" {
		http.Error(w, "missing hub.topic or hub.challenge", http.StatusBadRequest)
		return
	}

	leaseSeconds := 0
	switch mode {
	case websub.ModeSubscribe:
		var err error
		leaseSeconds, err = strconv.Atoi(q.Get("hub.lease_seconds"))
		if err != nil || leaseSeconds <= 0 {
			http.Error(w, "missing or invalid hub.lease_seconds", http.StatusBadRequest)
			return
		}
	case websub.ModeUnsubscribe:
	default:
		http.Error(w, "invalid hub.mode", http.StatusBadRequest)
		return
	}

	if err := h.manager.ConfirmVerification(r.Context(), mode, topic, leaseSeconds); err != nil {
		if errors.Is(err, usecase.ErrUnknownTopic) {
			// No challenge echo for unknown topics: echoing would let
			// anyone confirm subscriptions we never asked for.
			http.Error(w, "unknown topic", http.StatusNotFound)
			return
		}
		h.log.Errorw("verification failed", "topic", topic, "err", err)
		http.Error(w, "verification failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// handleNotification verifies and hands off a pushed payload.
func (h *Handler) handleNotification(w http.ResponseWriter, r *http.Request) {
	topic := r.Header.Get("X-Hub-Topic")
	signature := r.Header.Get("X-Hub-Signature")
	if topic == "" || signature == "" {
		http.Error(w, "missing X-Hub-Topic or X-Hub-Signature", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	switch err := h.manager.HandleNotification(r.Context(), topic, signature, body); {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, usecase.ErrUnknownTopic):
		http.Error(w, "unknown topic", http.StatusNotFound)
	case errors.Is(err, usecase.ErrNotActive):
		http.Error(w, "subscription expired", http.StatusGone)
	case errors.Is(err, usecase.ErrBadSignature):
		http.Error(w, "signature mismatch", http.StatusUnauthorized)
	default:
		h.log.Errorw("notification processing failed", "topic", topic, "err", err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
	}
}
