package usecases

import (
	"context"
	"errors"
	"time"

	"convertapi/internal/entities"
	"convertapi/internal/infrastructure"
	"convertapi/internal/interfaces"
)

// Admission is the outcome of a quota check. Denial is a normal result, not an error.
type Admission struct {
	Allowed bool
	Reason  entities.DenialReason
	Usage   entities.UsageSnapshot
}

// Err converts a denial into the error surfaced as a 429.
func (a Admission) Err() error {
	if a.Allowed {
		return nil
	}
	return &entities.QuotaExceededError{Reason: a.Reason, Usage: a.Usage}
}

type QuotaLedger struct {
	users   interfaces.UserStore
	metrics *infrastructure.Metrics
	now     func() time.Time
}

func NewQuotaLedger(users interfaces.UserStore, metrics *infrastructure.Metrics) *QuotaLedger {
	return &QuotaLedger{users: users, metrics: metrics, now: time.Now}
}

// CheckAdmission is a pure read against the user's current counters.
func (l *QuotaLedger) CheckAdmission(u entities.User) Admission {
	now := l.now()
	u.RollOver(now)
	allowed, reason := u.Admit()
	return Admission{Allowed: allowed, Reason: reason, Usage: u.Snapshot(now)}
}

// Reserve admits and counts one job in a single atomic store operation.
func (l *QuotaLedger) Reserve(ctx context.Context, userID string) (*entities.User, error) {
	u, err := l.users.ReserveQuota(ctx, userID, l.now())
	var qe *entities.QuotaExceededError
	if errors.As(err, &qe) {
		l.metrics.QuotaDenied(string(qe.Reason))
	}
	return u, err
}

// Release returns a reservation whose job could not be created.
func (l *QuotaLedger) Release(ctx context.Context, userID string) error {
	return l.users.ReleaseQuota(ctx, userID, l.now())
}

func (l *QuotaLedger) ResetUsage(ctx context.Context, userID string, scope entities.UsageScope) (*entities.User, error) {
	if !scope.Valid() {
		return nil, &entities.ValidationError{Field: "scope", Message: "scope must be daily, monthly or both"}
	}
	return l.users.ResetUsage(ctx, userID, scope, l.now())
}

func (l *QuotaLedger) Snapshot(u entities.User) entities.UsageSnapshot {
	return u.Snapshot(l.now())
}
