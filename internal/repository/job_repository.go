package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"convertapi/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, user_id, api_key_id, tool_type, status, input_filename, input_ref, input_file_size,
	output_filename, output_ref, output_file_size, processing_time_ms, error_message, options,
	created_at, updated_at`

// maxListLimit caps history queries that ask for everything.
const maxListLimit = 1000

type JobRepository struct {
	db *pgxpool.Pool
}

func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) CreateJob(ctx context.Context, j *entities.Job) error {
	opts, err := encodeOptions(j.Options)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb, $15, $16)`,
		j.ID, nullable(j.UserID), nullable(j.APIKeyID), string(j.ToolType), string(j.Status),
		j.InputFilename, j.InputRef, j.InputFileSize,
		nullable(j.OutputFilename), j.OutputRef, j.OutputFileSize, j.ProcessingTimeMs, nullable(j.ErrorMessage),
		opts, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetJob(ctx context.Context, id string) (*entities.Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entities.ErrJobNotFound
	}
	return j, err
}

func (r *JobRepository) UpdateJob(ctx context.Context, j *entities.Job, expected entities.JobStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE jobs SET
			status = $3, output_filename = $4, output_ref = $5, output_file_size = $6,
			processing_time_ms = $7, error_message = $8, updated_at = $9
		WHERE id = $1 AND status = $2`,
		j.ID, string(expected), string(j.Status), nullable(j.OutputFilename), j.OutputRef, j.OutputFileSize,
		j.ProcessingTimeMs, nullable(j.ErrorMessage), j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetJob(ctx, j.ID); err != nil {
			return err
		}
		return entities.ErrInvalidTransition
	}
	return nil
}

func (r *JobRepository) ListJobsByOwner(ctx context.Context, userID string, limit int) ([]entities.Job, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []entities.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*entities.Job, error) {
	var (
		j                                       entities.Job
		userID, apiKeyID, outputName, errorMsg *string
		tool, status                            string
		opts                                    []byte
	)
	err := row.Scan(&j.ID, &userID, &apiKeyID, &tool, &status, &j.InputFilename, &j.InputRef, &j.InputFileSize,
		&outputName, &j.OutputRef, &j.OutputFileSize, &j.ProcessingTimeMs, &errorMsg, &opts,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.UserID, j.APIKeyID = deref(userID), deref(apiKeyID)
	j.OutputFilename, j.ErrorMessage = deref(outputName), deref(errorMsg)
	j.ToolType, j.Status = entities.ToolType(tool), entities.JobStatus(status)
	if j.Options, err = decodeOptions(opts); err != nil {
		return nil, err
	}
	return &j, nil
}

func encodeOptions(opts map[string]string) (string, error) {
	if len(opts) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("encode job options: %w", err)
	}
	return string(b), nil
}

func decodeOptions(b []byte) (map[string]string, error) {
	if len(b) == 0 || string(b) == "{}" || string(b) == "null" {
		return nil, nil
	}
	var opts map[string]string
	if err := json.Unmarshal(b, &opts); err != nil {
		return nil, fmt.Errorf("decode job options: %w", err)
	}
	return opts, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
