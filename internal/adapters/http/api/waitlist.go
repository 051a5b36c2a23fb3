package api

import (
	"net/http"

	"github.com/okian/kindred/internal/domain/model"
	"github.com/okian/kindred/internal/ratelimit"
	"github.com/okian/kindred/pkg/logger"
)

// WaitlistHandler serves email capture and unsubscribe.
type WaitlistHandler struct {
	deps   Dependencies
	logger logger.Logger
}

// NewWaitlistHandler creates a waitlist handler.
func NewWaitlistHandler(deps Dependencies, l logger.Logger) *WaitlistHandler {
	return &WaitlistHandler{deps: deps, logger: l}
}

// HandleJoin handles POST /waitlist/join.
func (h *WaitlistHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	const op = "api.join_waitlist"
	var join model.WaitlistJoin
	if err := decodeJSON(w, r, &join); err != nil {
		writeFailure(r.Context(), h.logger, w, WrapKind(op, ErrBadRequest, err))
		return
	}
	join.IPAddress = ratelimit.ClientIdentity(r)
	join.UserAgent = r.UserAgent()

	entry, err := h.deps.JoinWaitlist(r.Context(), join)
	if err != nil {
		writeFailure(r.Context(), h.logger, w, Wrap(op, err))
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"email": entry.Email, "createdAt": entry.CreatedAt})
}

type unsubscribeRequest struct {
	Email string `json:"email"`
}

// HandleUnsubscribe handles POST /email/unsubscribe. Every well-formed request
// gets the same answer whether or not the address is known.
func (h *WaitlistHandler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	const op = "api.unsubscribe"
	var req unsubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(r.Context(), h.logger, w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.Unsubscribe(r.Context(), req.Email); err != nil {
		h.logger.Warn(r.Context(), "unsubscribe failed", logger.Error(err))
	}
	writeData(w, http.StatusOK, map[string]string{"message": "If this address was subscribed, it has been unsubscribed."})
}
