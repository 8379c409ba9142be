package event

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-attendance/pkg/utilities"
)

// Lifecycle is the part of Service the HTTP layer needs.
type Lifecycle interface {
	Start(ctx context.Context, id int64) (*Result, error)
	End(ctx context.Context, id int64) (*EndResult, error)
	Restart(ctx context.Context, id int64) (*Result, error)
}

type Handler struct {
	svc    Lifecycle
	logger *zap.SugaredLogger
}

func NewHandler(svc Lifecycle, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Start(r.Context(), id)
	h.respond(w, id, res, err)
}

func (h *Handler) End(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.End(r.Context(), id)
	h.respond(w, id, res, err)
}

func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Restart(r.Context(), id)
	h.respond(w, id, res, err)
}

func (h *Handler) eventID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		utilities.WriteError(w, http.StatusBadRequest, "InvalidRequest", "invalid event id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respond(w http.ResponseWriter, id int64, res any, err error) {
	switch {
	case err == nil:
		utilities.WriteJSON(w, http.StatusOK, res)
	case errors.Is(err, ErrEventNotFound):
		utilities.WriteError(w, http.StatusNotFound, "EventNotFound", err.Error())
	case errors.Is(err, ErrIllegalTransition):
		utilities.WriteError(w, http.StatusConflict, "IllegalTransition", err.Error())
	case errors.Is(err, ErrBusy):
		utilities.WriteError(w, http.StatusServiceUnavailable, "Busy", err.Error())
	default:
		h.logger.Errorw("lifecycle transition failed", utilities.FieldEventID, id, utilities.FieldError, err)
		utilities.WriteError(w, http.StatusInternalServerError, "Internal", "transition failed")
	}
}
