package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/operator"
	opentity "github.com/ovaphlow/pitchfork/service-attendance/internal/operator/entity"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/scantoken"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/utilities"
)

// Scanner is the part of Service the HTTP layer needs.
type Scanner interface {
	Scan(ctx context.Context, op opentity.Operator, req ScanRequest) (*ScanResult, error)
	FlagErroneous(ctx context.Context, id, reason string) error
}

// Handler exposes the scan and scan-log endpoints.
type Handler struct {
	svc    Scanner
	logger *zap.SugaredLogger
}

func NewHandler(svc Scanner, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	op, ok := operator.FromContext(r.Context())
	if !ok {
		utilities.WriteError(w, http.StatusUnauthorized, "Unauthorized", "operator required")
		return
	}
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// an empty request fails validation in Scan, which audits it
		h.logger.Debugw("invalid scan payload", utilities.FieldError, err)
		req = ScanRequest{}
	}
	res, err := h.svc.Scan(r.Context(), op, req)
	if err != nil {
		status, code := scanStatus(err)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = "scan failed"
		}
		utilities.WriteError(w, status, code, msg)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, res)
}

type flagRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) FlagErroneous(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req flagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, "InvalidRequest", "invalid payload")
		return
	}
	if err := validate.Struct(req); err != nil || id == "" {
		utilities.WriteError(w, http.StatusBadRequest, "InvalidRequest", "reason is required")
		return
	}
	if err := h.svc.FlagErroneous(r.Context(), id, req.Reason); err != nil {
		if errors.Is(err, ErrScanLogNotFound) {
			utilities.WriteError(w, http.StatusNotFound, "NotFound", err.Error())
			return
		}
		h.logger.Errorw("flag scan log failed", "scan_log_id", id, utilities.FieldError, err)
		utilities.WriteError(w, http.StatusInternalServerError, "Internal", "flag failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func scanStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "InvalidRequest"
	case errors.Is(err, scantoken.ErrInvalidToken):
		return http.StatusBadRequest, "InvalidToken"
	case errors.Is(err, scantoken.ErrExpiredToken):
		return http.StatusBadRequest, "ExpiredToken"
	case errors.Is(err, scantoken.ErrEventMismatch):
		return http.StatusBadRequest, "EventMismatch"
	case errors.Is(err, ErrEventNotFound):
		return http.StatusNotFound, "EventNotFound"
	case errors.Is(err, ErrParticipantNotFound):
		return http.StatusNotFound, "ParticipantNotFound"
	case errors.Is(err, ErrEventNotActive):
		return http.StatusConflict, "EventNotActive"
	case errors.Is(err, ErrDuplicateScan):
		return http.StatusConflict, "DuplicateScan"
	case errors.Is(err, ErrDuplicateCheckIn):
		return http.StatusConflict, "DuplicateCheckIn"
	case errors.Is(err, ErrScanTypeMismatch):
		return http.StatusConflict, "ScanTypeMismatch"
	case errors.Is(err, ErrBusy):
		return http.StatusServiceUnavailable, "Busy"
	}
	return http.StatusInternalServerError, "Internal"
}
