package analytics

import (
	"context"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-attendance/internal/analytics/entity"
	"github.com/ovaphlow/pitchfork/service-attendance/internal/presence"
	"github.com/ovaphlow/pitchfork/service-attendance/pkg/utilities"
)

const (
	DefaultLimit = 20
	MaxLimit     = 200
)

// Store is implemented by repo.AnalyticsRepo.
type Store interface {
	TopParticipants(ctx context.Context, eventID int64, offset, limit int) ([]entity.TopParticipant, error)
	DepartmentStats(ctx context.Context, eventID int64, offset, limit int) ([]entity.DepartmentStat, error)
	CheckedIn(ctx context.Context, eventID int64) (int64, error)
}

type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// NewPage applies the default and maximum limit.
func NewPage(offset, limit int) Page {
	if offset < 0 {
		offset = 0
	}
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	return Page{Offset: offset, Limit: limit}
}

type Service struct {
	store    Store
	presence presence.Tracker
	logger   *zap.SugaredLogger
}

func NewService(store Store, tracker presence.Tracker, logger *zap.SugaredLogger) *Service {
	if tracker == nil {
		tracker = presence.Nop{}
	}
	return &Service{store: store, presence: tracker, logger: logger}
}

func (s *Service) TopParticipants(ctx context.Context, eventID int64, p Page) ([]entity.TopParticipant, error) {
	return s.store.TopParticipants(ctx, eventID, p.Offset, p.Limit)
}

func (s *Service) DepartmentStats(ctx context.Context, eventID int64, p Page) ([]entity.DepartmentStat, error) {
	stats, err := s.store.DepartmentStats(ctx, eventID, p.Offset, p.Limit)
	if err != nil {
		return nil, err
	}
	for i := range stats {
		stats[i].AttendancePercentage = Percentage(stats[i].AttendedCount, stats[i].EnrolledCount)
	}
	return stats, nil
}

// Live prefers the presence cache and falls back to the ledger.
func (s *Service) Live(ctx context.Context, eventID int64) (*entity.Live, error) {
	n, err := s.presence.Count(ctx, eventID)
	if err == nil {
		return &entity.Live{EventID: eventID, CheckedIn: n, Source: "cache"}, nil
	}
	if !errors.Is(err, presence.ErrDisabled) {
		s.logger.Warnw("presence count failed", utilities.FieldEventID, eventID, utilities.FieldError, err)
	}
	n, err = s.store.CheckedIn(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &entity.Live{EventID: eventID, CheckedIn: n, Source: "ledger"}, nil
}

// Percentage returns attended/enrolled as a percentage rounded to two decimals.
func Percentage(attended, enrolled int) float64 {
	if enrolled <= 0 {
		return 0
	}
	return math.Round(float64(attended)*10000/float64(enrolled)) / 100
}
