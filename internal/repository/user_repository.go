package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"convertapi/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `id, email, name, password_hash, role, plan, subscription_status,
	daily_limit, monthly_limit, daily_usage, monthly_usage, daily_period, monthly_period,
	created_at, updated_at`

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) CreateUser(ctx context.Context, u *entities.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		u.ID, strings.ToLower(u.Email), u.Name, u.PasswordHash, u.Role, string(u.Plan), string(u.SubscriptionStatus),
		u.DailyLimit, u.MonthlyLimit, u.DailyUsage, u.MonthlyUsage, u.DailyPeriod, u.MonthlyPeriod,
		u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return entities.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetUser(ctx context.Context, id string) (*entities.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*entities.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
}

func (r *UserRepository) DeleteUser(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM api_keys WHERE user_id = $1`, id); err != nil {
			return fmt.Errorf("delete user keys: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return entities.ErrUserNotFound
		}
		return nil
	})
}

func (r *UserRepository) UpdatePlan(ctx context.Context, id string, plan entities.Plan, status entities.SubscriptionStatus) (*entities.User, error) {
	var u entities.User
	u.ApplyPlan(plan, status)
	return scanUser(r.db.QueryRow(ctx, `
		UPDATE users SET plan = $2, subscription_status = $3, daily_limit = $4, monthly_limit = $5, updated_at = $6
		WHERE id = $1
		RETURNING `+userColumns,
		id, string(u.Plan), string(u.SubscriptionStatus), u.DailyLimit, u.MonthlyLimit, time.Now().UTC()))
}

func scanUser(row pgx.Row) (*entities.User, error) {
	var u entities.User
	var plan, status string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &plan, &status,
		&u.DailyLimit, &u.MonthlyLimit, &u.DailyUsage, &u.MonthlyUsage, &u.DailyPeriod, &u.MonthlyPeriod,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entities.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Plan = entities.Plan(plan)
	u.SubscriptionStatus = entities.SubscriptionStatus(status)
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
