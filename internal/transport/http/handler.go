package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"tally/internal/model"
	"tally/internal/payment"
	"tally/internal/service"
)

const (
	maxRequestBody      = 1 << 20
	maxNotificationBody = 512 << 10
)

// NotificationVerifier authenticates raw processor notifications.
type NotificationVerifier interface {
	Verify(rawPayload []byte, signatureHeader string) (model.VerifiedEvent, error)
}

type Handler struct {
	svc      service.LedgerService
	verifier NotificationVerifier
	logger   *slog.Logger
}

func NewHandler(svc service.LedgerService, verifier NotificationVerifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, verifier: verifier, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// respondError maps a service error onto a status code. Unknown errors are logged
// and reported without detail.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, "insufficient balance")
	case errors.Is(err, model.ErrUpstreamUnavailable):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "payment processor unavailable, retry later")
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return errors.New("invalid json")
	}
	return nil
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateIntent handles POST /v1/intents
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int64 `json:"quantity"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	intent, err := h.svc.CreateIntent(r.Context(), userIDFrom(r.Context()), req.Quantity)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"intent_id": intent.ID,
		"url":       intent.RedirectURL,
	})
}

// GetBalance handles GET /v1/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	bal, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": bal,
	})
}

// Spend handles POST /v1/spend. The idempotency key may come from the body or the
// Idempotency-Key header.
func (h *Handler) Spend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount         int64  `json:"amount"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	res, err := h.svc.Spend(r.Context(), model.SpendRequest{
		UserID:         userIDFrom(r.Context()),
		Amount:         req.Amount,
		IdempotencyKey: key,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Entries handles GET /v1/entries
func (h *Handler) Entries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.LedgerEntries(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// PaymentNotification handles POST /v1/webhooks/payments. A 2xx is returned only once
// the notification is durably handled; anything else makes the processor redeliver.
func (h *Handler) PaymentNotification(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxNotificationBody)
	defer r.Body.Close()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.ErrorContext(r.Context(), "payment notification too large",
				"limit_bytes", tooLarge.Limit,
				"content_length", r.ContentLength,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusRequestEntityTooLarge, "notification too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	event, err := h.verifier.Verify(payload, r.Header.Get(payment.SignatureHeader))
	if err != nil {
		h.logger.WarnContext(r.Context(), "rejected payment notification",
			"event", "security.signature_invalid",
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	res, err := h.svc.Reconcile(r.Context(), event)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(res.Outcome)})
}
