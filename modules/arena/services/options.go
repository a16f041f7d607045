package services

import (
	"time"

	"go.uber.org/zap"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
	"github.com/jacksonlee411/arena-engine/pkg/uuidv7"
)

const (
	DefaultBackfillActor = "system:backfill"
	DefaultBackfillLimit = 50
	MaxBackfillLimit     = 500
)

// Metrics receives reconciliation outcomes. pkg/metrics provides the
// Prometheus implementation.
type Metrics interface {
	ObserveApproval(outcome types.Outcome, d time.Duration)
	IncConflict()
	ObserveBackfillItem(outcome string, dryRun bool)
	ObserveBackfillRun(dryRun bool)
	AddLegacyPromotions(n int, dryRun bool)
}

type nopMetrics struct{}

func (nopMetrics) ObserveApproval(types.Outcome, time.Duration) {}
func (nopMetrics) IncConflict()                                 {}
func (nopMetrics) ObserveBackfillItem(string, bool)             {}
func (nopMetrics) ObserveBackfillRun(bool)                      {}
func (nopMetrics) AddLegacyPromotions(int, bool)                {}

type Option func(*ArenaService)

func WithLogger(l *zap.Logger) Option {
	return func(s *ArenaService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(s *ArenaService) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ArenaService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func(time.Time) (string, error)) Option {
	return func(s *ArenaService) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithBackfillActor(actor string) Option {
	return func(s *ArenaService) {
		if actor != "" {
			s.backfillActor = actor
		}
	}
}

// WithBackfillLimits sets the limit used when the caller passes none and the
// largest limit a single run accepts.
func WithBackfillLimits(defaultLimit int, maxLimit int) Option {
	return func(s *ArenaService) {
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
		if s.defaultLimit > s.maxLimit {
			s.defaultLimit = s.maxLimit
		}
	}
}

func newArenaID(t time.Time) (string, error) {
	u, err := uuidv7.NewAt(t)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
