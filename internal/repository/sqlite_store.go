package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"convertapi/internal/entities"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		plan TEXT NOT NULL DEFAULT 'free',
		subscription_status TEXT NOT NULL DEFAULT 'active',
		daily_limit INTEGER NOT NULL DEFAULT 0,
		monthly_limit INTEGER NOT NULL DEFAULT 0,
		daily_usage INTEGER NOT NULL DEFAULT 0,
		monthly_usage INTEGER NOT NULL DEFAULT 0,
		daily_period INTEGER NOT NULL DEFAULT 0,
		monthly_period INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL DEFAULT '',
		key_hash TEXT UNIQUE NOT NULL,
		key_prefix TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		usage_count INTEGER NOT NULL DEFAULT 0,
		last_used INTEGER,
		created_at INTEGER NOT NULL,
		deactivated_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_user ON api_keys(user_id)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		api_key_id TEXT,
		tool_type TEXT NOT NULL,
		status TEXT NOT NULL,
		input_filename TEXT NOT NULL,
		input_ref TEXT NOT NULL DEFAULT '',
		input_file_size INTEGER NOT NULL DEFAULT 0,
		output_filename TEXT,
		output_ref TEXT NOT NULL DEFAULT '',
		output_file_size INTEGER NOT NULL DEFAULT 0,
		processing_time_ms INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		options TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs(user_id, created_at DESC)`,
}

// SQLiteStore is the embedded single-node backend. Timestamps are stored as
// unix nanoseconds and the pool is pinned to one connection, so every
// statement runs serially against the file.
type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, ddl := range sqliteSchema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteUser struct {
	ID                 string `db:"id"`
	Email              string `db:"email"`
	Name               string `db:"name"`
	PasswordHash       string `db:"password_hash"`
	Role               string `db:"role"`
	Plan               string `db:"plan"`
	SubscriptionStatus string `db:"subscription_status"`
	DailyLimit         int    `db:"daily_limit"`
	MonthlyLimit       int    `db:"monthly_limit"`
	DailyUsage         int    `db:"daily_usage"`
	MonthlyUsage       int    `db:"monthly_usage"`
	DailyPeriod        int    `db:"daily_period"`
	MonthlyPeriod      int    `db:"monthly_period"`
	CreatedAt          int64  `db:"created_at"`
	UpdatedAt          int64  `db:"updated_at"`
}

func (r sqliteUser) entity() *entities.User {
	return &entities.User{
		ID:                 r.ID,
		Email:              r.Email,
		Name:               r.Name,
		PasswordHash:       r.PasswordHash,
		Role:               r.Role,
		Plan:               entities.Plan(r.Plan),
		SubscriptionStatus: entities.SubscriptionStatus(r.SubscriptionStatus),
		DailyLimit:         r.DailyLimit,
		MonthlyLimit:       r.MonthlyLimit,
		DailyUsage:         r.DailyUsage,
		MonthlyUsage:       r.MonthlyUsage,
		DailyPeriod:        r.DailyPeriod,
		MonthlyPeriod:      r.MonthlyPeriod,
		CreatedAt:          fromNanos(r.CreatedAt),
		UpdatedAt:          fromNanos(r.UpdatedAt),
	}
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *entities.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, strings.ToLower(u.Email), u.Name, u.PasswordHash, u.Role, string(u.Plan), string(u.SubscriptionStatus),
		u.DailyLimit, u.MonthlyLimit, u.DailyUsage, u.MonthlyUsage, u.DailyPeriod, u.MonthlyPeriod,
		toNanos(u.CreatedAt), toNanos(u.UpdatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return entities.ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, args ...any) (*entities.User, error) {
	var row sqliteUser
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entities.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return row.entity(), nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*entities.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*entities.User, error) {
	return s.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email))
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete user: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM api_keys WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("delete user keys: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return entities.ErrUserNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) UpdatePlan(ctx context.Context, id string, plan entities.Plan, status entities.SubscriptionStatus) (*entities.User, error) {
	var u entities.User
	u.ApplyPlan(plan, status)
	return s.getUser(ctx, `
		UPDATE users SET plan = ?, subscription_status = ?, daily_limit = ?, monthly_limit = ?, updated_at = ?
		WHERE id = ?
		RETURNING `+userColumns,
		string(u.Plan), string(u.SubscriptionStatus), u.DailyLimit, u.MonthlyLimit, toNanos(time.Now()), id)
}

func (s *SQLiteStore) ReserveQuota(ctx context.Context, id string, now time.Time) (*entities.User, error) {
	day, month := entities.DayPeriod(now), entities.MonthPeriod(now)
	for attempt := 0; attempt < reserveAttempts; attempt++ {
		u, err := s.getUser(ctx, `
			UPDATE users SET
				daily_usage    = CASE WHEN daily_period   < ? THEN 1 ELSE daily_usage + 1 END,
				monthly_usage  = CASE WHEN monthly_period < ? THEN 1 ELSE monthly_usage + 1 END,
				daily_period   = MAX(daily_period, ?),
				monthly_period = MAX(monthly_period, ?),
				updated_at     = ?
			WHERE id = ?
				AND (daily_limit   <= 0 OR daily_period   < ? OR daily_usage   < daily_limit)
				AND (monthly_limit <= 0 OR monthly_period < ? OR monthly_usage < monthly_limit)
			RETURNING `+userColumns,
			day, month, day, month, toNanos(now), id, day, month)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, entities.ErrUserNotFound) {
			return nil, fmt.Errorf("reserve quota: %w", err)
		}
		if denial, err := denialFor(ctx, s, id, now); denial != nil || err != nil {
			return nil, firstErr(err, denial)
		}
	}
	return nil, fmt.Errorf("reserve quota: no progress after %d attempts", reserveAttempts)
}

func (s *SQLiteStore) ReleaseQuota(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			daily_usage   = CASE WHEN daily_period   = ? AND daily_usage   > 0 THEN daily_usage - 1   ELSE daily_usage END,
			monthly_usage = CASE WHEN monthly_period = ? AND monthly_usage > 0 THEN monthly_usage - 1 ELSE monthly_usage END,
			updated_at    = ?
		WHERE id = ?`,
		entities.DayPeriod(now), entities.MonthPeriod(now), toNanos(now), id)
	if err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entities.ErrUserNotFound
	}
	return nil
}

func (s *SQLiteStore) ResetUsage(ctx context.Context, id string, scope entities.UsageScope, now time.Time) (*entities.User, error) {
	day, month, ts := entities.DayPeriod(now), entities.MonthPeriod(now), toNanos(now)
	switch scope {
	case entities.ScopeDaily:
		return s.getUser(ctx, `UPDATE users SET daily_usage = 0, daily_period = ?, updated_at = ? WHERE id = ? RETURNING `+userColumns,
			day, ts, id)
	case entities.ScopeMonthly:
		return s.getUser(ctx, `UPDATE users SET monthly_usage = 0, monthly_period = ?, updated_at = ? WHERE id = ? RETURNING `+userColumns,
			month, ts, id)
	case entities.ScopeBoth:
		return s.getUser(ctx, `UPDATE users SET daily_usage = 0, daily_period = ?, monthly_usage = 0, monthly_period = ?, updated_at = ? WHERE id = ? RETURNING `+userColumns,
			day, month, ts, id)
	}
	return nil, errInvalidScope
}

type sqliteAPIKey struct {
	ID            string        `db:"id"`
	UserID        string        `db:"user_id"`
	Name          string        `db:"name"`
	KeyHash       string        `db:"key_hash"`
	KeyPrefix     string        `db:"key_prefix"`
	IsActive      bool          `db:"is_active"`
	UsageCount    int64         `db:"usage_count"`
	LastUsed      sql.NullInt64 `db:"last_used"`
	CreatedAt     int64         `db:"created_at"`
	DeactivatedAt sql.NullInt64 `db:"deactivated_at"`
}

func (r sqliteAPIKey) entity() entities.APIKey {
	return entities.APIKey{
		ID:            r.ID,
		UserID:        r.UserID,
		Name:          r.Name,
		KeyHash:       r.KeyHash,
		KeyPrefix:     r.KeyPrefix,
		IsActive:      r.IsActive,
		UsageCount:    r.UsageCount,
		LastUsed:      fromNullNanos(r.LastUsed),
		CreatedAt:     fromNanos(r.CreatedAt),
		DeactivatedAt: fromNullNanos(r.DeactivatedAt),
	}
}

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, k *entities.APIKey) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (`+apiKeyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.UserID, k.Name, k.KeyHash, k.KeyPrefix, k.IsActive, k.UsageCount,
		toNullNanos(k.LastUsed), toNanos(k.CreatedAt), toNullNanos(k.DeactivatedAt))
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAPIKeyByHash(ctx context.Context, hash string) (*entities.APIKey, error) {
	var row sqliteAPIKey
	err := s.db.GetContext(ctx, &row, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entities.ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	k := row.entity()
	return &k, nil
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context, userID string) ([]entities.APIKey, error) {
	var rows []sqliteAPIKey
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = ? ORDER BY created_at DESC`, userID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]entities.APIKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r.entity())
	}
	return keys, nil
}

func (s *SQLiteStore) DeactivateAPIKey(ctx context.Context, userID, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET is_active = 0, deactivated_at = COALESCE(deactivated_at, ?)
		WHERE id = ? AND user_id = ?`, toNanos(now), id, userID)
	if err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entities.ErrAPIKeyNotFound
	}
	return nil
}

func (s *SQLiteStore) TouchAPIKey(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET usage_count = usage_count + 1, last_used = ? WHERE id = ?`, toNanos(now), id)
	return err
}

type sqliteJob struct {
	ID               string         `db:"id"`
	UserID           sql.NullString `db:"user_id"`
	APIKeyID         sql.NullString `db:"api_key_id"`
	ToolType         string         `db:"tool_type"`
	Status           string         `db:"status"`
	InputFilename    string         `db:"input_filename"`
	InputRef         string         `db:"input_ref"`
	InputFileSize    int64          `db:"input_file_size"`
	OutputFilename   sql.NullString `db:"output_filename"`
	OutputRef        string         `db:"output_ref"`
	OutputFileSize   int64          `db:"output_file_size"`
	ProcessingTimeMs int64          `db:"processing_time_ms"`
	ErrorMessage     sql.NullString `db:"error_message"`
	Options          string         `db:"options"`
	CreatedAt        int64          `db:"created_at"`
	UpdatedAt        int64          `db:"updated_at"`
}

func (r sqliteJob) entity() (*entities.Job, error) {
	opts, err := decodeOptions([]byte(r.Options))
	if err != nil {
		return nil, err
	}
	return &entities.Job{
		ID:               r.ID,
		UserID:           r.UserID.String,
		APIKeyID:         r.APIKeyID.String,
		ToolType:         entities.ToolType(r.ToolType),
		Status:           entities.JobStatus(r.Status),
		InputFilename:    r.InputFilename,
		InputRef:         r.InputRef,
		InputFileSize:    r.InputFileSize,
		OutputFilename:   r.OutputFilename.String,
		OutputRef:        r.OutputRef,
		OutputFileSize:   r.OutputFileSize,
		ProcessingTimeMs: r.ProcessingTimeMs,
		ErrorMessage:     r.ErrorMessage.String,
		Options:          opts,
		CreatedAt:        fromNanos(r.CreatedAt),
		UpdatedAt:        fromNanos(r.UpdatedAt),
	}, nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, j *entities.Job) error {
	opts, err := encodeOptions(j.Options)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, nullable(j.UserID), nullable(j.APIKeyID), string(j.ToolType), string(j.Status),
		j.InputFilename, j.InputRef, j.InputFileSize,
		nullable(j.OutputFilename), j.OutputRef, j.OutputFileSize, j.ProcessingTimeMs, nullable(j.ErrorMessage),
		opts, toNanos(j.CreatedAt), toNanos(j.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*entities.Job, error) {
	var row sqliteJob
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entities.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return row.entity()
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, j *entities.Job, expected entities.JobStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, output_filename = ?, output_ref = ?, output_file_size = ?,
			processing_time_ms = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(j.Status), nullable(j.OutputFilename), j.OutputRef, j.OutputFileSize,
		j.ProcessingTimeMs, nullable(j.ErrorMessage), toNanos(j.UpdatedAt), j.ID, string(expected))
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetJob(ctx, j.ID); err != nil {
			return err
		}
		return entities.ErrInvalidTransition
	}
	return nil
}

func (s *SQLiteStore) ListJobsByOwner(ctx context.Context, userID string, limit int) ([]entities.Job, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	var rows []sqliteJob
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+jobColumns+` FROM jobs
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]entities.Job, 0, len(rows))
	for _, r := range rows {
		j, err := r.entity()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}
