package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"convertapi/internal/entities"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Quota counters live on the users row. Each statement below is a single
// conditional UPDATE, so the row lock serializes concurrent reservations.
const (
	reserveQuotaSQL = `
		UPDATE users SET
			daily_usage    = CASE WHEN daily_period   < $2 THEN 1 ELSE daily_usage + 1 END,
			monthly_usage  = CASE WHEN monthly_period < $3 THEN 1 ELSE monthly_usage + 1 END,
			daily_period   = CASE WHEN daily_period   < $2 THEN $2 ELSE daily_period END,
			monthly_period = CASE WHEN monthly_period < $3 THEN $3 ELSE monthly_period END,
			updated_at     = $4
		WHERE id = $1
			AND (daily_limit   <= 0 OR daily_period   < $2 OR daily_usage   < daily_limit)
			AND (monthly_limit <= 0 OR monthly_period < $3 OR monthly_usage < monthly_limit)`

	releaseQuotaSQL = `
		UPDATE users SET
			daily_usage   = CASE WHEN daily_period   = $2 AND daily_usage   > 0 THEN daily_usage - 1   ELSE daily_usage END,
			monthly_usage = CASE WHEN monthly_period = $3 AND monthly_usage > 0 THEN monthly_usage - 1 ELSE monthly_usage END,
			updated_at    = $4
		WHERE id = $1`

	resetDailySQL   = `UPDATE users SET daily_usage = 0, daily_period = $2, updated_at = $3 WHERE id = $1`
	resetMonthlySQL = `UPDATE users SET monthly_usage = 0, monthly_period = $2, updated_at = $3 WHERE id = $1`
	resetBothSQL    = `UPDATE users SET daily_usage = 0, daily_period = $2, monthly_usage = 0, monthly_period = $3, updated_at = $4 WHERE id = $1`
)

var errInvalidScope = &entities.ValidationError{Field: "scope", Message: "scope must be daily, monthly or both"}

// reserveAttempts bounds the retry when a denial races with a concurrent release.
const reserveAttempts = 3

type UsageRepository struct {
	db    *pgxpool.Pool
	users *UserRepository
}

func NewUsageRepository(db *pgxpool.Pool, users *UserRepository) *UsageRepository {
	return &UsageRepository{db: db, users: users}
}

func (r *UsageRepository) ReserveQuota(ctx context.Context, id string, now time.Time) (*entities.User, error) {
	day, month := entities.DayPeriod(now), entities.MonthPeriod(now)
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		u, err := scanUser(r.db.QueryRow(ctx, reserveQuotaSQL+` RETURNING `+userColumns, id, day, month, now))
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, entities.ErrUserNotFound) {
			return nil, fmt.Errorf("reserve quota: %w", err)
		}
		if denial, err := denialFor(ctx, r.users, id, now); denial != nil || err != nil {
			return nil, firstErr(err, denial)
		}
	}
	return nil, fmt.Errorf("reserve quota: no progress after %d attempts", reserveAttempts)
}

func (r *UsageRepository) ReleaseQuota(ctx context.Context, id string, now time.Time) error {
	tag, err := r.db.Exec(ctx, releaseQuotaSQL, id, entities.DayPeriod(now), entities.MonthPeriod(now), now)
	if err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entities.ErrUserNotFound
	}
	return nil
}

func (r *UsageRepository) ResetUsage(ctx context.Context, id string, scope entities.UsageScope, now time.Time) (*entities.User, error) {
	query, args, err := resetQuery(scope, id, now)
	if err != nil {
		return nil, err
	}
	return scanUser(r.db.QueryRow(ctx, query+` RETURNING `+userColumns, args...))
}

type userGetter interface {
	GetUser(ctx context.Context, id string) (*entities.User, error)
}

// denialFor explains why a conditional reserve matched no row. A nil denial
// with a nil error means the user is admissible now and the caller may retry.
func denialFor(ctx context.Context, users userGetter, id string, now time.Time) (*entities.QuotaExceededError, error) {
	u, err := users.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	u.RollOver(now)
	if allowed, reason := u.Admit(); !allowed {
		return &entities.QuotaExceededError{Reason: reason, Usage: u.Snapshot(now)}, nil
	}
	return nil, nil
}

func firstErr(err error, denial *entities.QuotaExceededError) error {
	if err != nil {
		return err
	}
	return denial
}

func resetQuery(scope entities.UsageScope, id string, now time.Time) (string, []any, error) {
	day, month := entities.DayPeriod(now), entities.MonthPeriod(now)
	switch scope {
	case entities.ScopeDaily:
		return resetDailySQL, []any{id, day, now}, nil
	case entities.ScopeMonthly:
		return resetMonthlySQL, []any{id, month, now}, nil
	case entities.ScopeBoth:
		return resetBothSQL, []any{id, day, month, now}, nil
	}
	return "", nil, errInvalidScope
}
