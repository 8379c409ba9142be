package analytics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/analytics/entity"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/utilities"
)

var validate = validator.New()

// Reader is the part of Service the HTTP layer needs.
type Reader interface {
	TopParticipants(ctx context.Context, eventID int64, p Page) ([]entity.TopParticipant, error)
	DepartmentStats(ctx context.Context, eventID int64, p Page) ([]entity.DepartmentStat, error)
	Live(ctx context.Context, eventID int64) (*entity.Live, error)
}

type Handler struct {
	svc    Reader
	logger *zap.SugaredLogger
}

func NewHandler(svc Reader, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type query struct {
	EventID int64 `validate:"gt=0"`
	Offset  int   `validate:"gte=0"`
	Limit   int   `validate:"gte=0"`
}

type listResponse struct {
	EventID int64 `json:"eventId"`
	Page
	Items any `json:"items"`
}

func (h *Handler) TopParticipants(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parse(w, r)
	if !ok {
		return
	}
	page := NewPage(q.Offset, q.Limit)
	items, err := h.svc.TopParticipants(r.Context(), q.EventID, page)
	if err != nil {
		h.fail(w, "top participants", q.EventID, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, listResponse{EventID: q.EventID, Page: page, Items: items})
}

func (h *Handler) DepartmentStats(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parse(w, r)
	if !ok {
		return
	}
	page := NewPage(q.Offset, q.Limit)
	items, err := h.svc.DepartmentStats(r.Context(), q.EventID, page)
	if err != nil {
		h.fail(w, "department stats", q.EventID, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, listResponse{EventID: q.EventID, Page: page, Items: items})
}

func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parse(w, r)
	if !ok {
		return
	}
	live, err := h.svc.Live(r.Context(), q.EventID)
	if err != nil {
		h.fail(w, "live count", q.EventID, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, live)
}

func (h *Handler) parse(w http.ResponseWriter, r *http.Request) (query, bool) {
	var q query
	var err error
	v := r.URL.Query()
	if q.EventID, err = strconv.ParseInt(v.Get("eventId"), 10, 64); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, "InvalidRequest", "eventId is required")
		return q, false
	}
	for key, dst := range map[string]*int{"offset": &q.Offset, "limit": &q.Limit} {
		s := v.Get(key)
		if s == "" {
			continue
		}
		if *dst, err = strconv.Atoi(s); err != nil {
			utilities.WriteError(w, http.StatusBadRequest, "InvalidRequest", "invalid "+key)
			return q, false
		}
	}
	if err := validate.Struct(q); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return q, false
	}
	return q, true
}

func (h *Handler) fail(w http.ResponseWriter, what string, eventID int64, err error) {
	h.logger.Errorw(what+" query failed", utilities.FieldEventID, eventID, utilities.FieldError, err)
	utilities.WriteError(w, http.StatusInternalServerError, "Internal", what+" unavailable")
}
