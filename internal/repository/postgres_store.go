package repository

import "github.com/jackc/pgx/v5/pgxpool"

// PostgresStore composes the pgx repositories into one Store.
type PostgresStore struct {
	*UserRepository
	*UsageRepository
	*APIKeyRepository
	*JobRepository
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	users := NewUserRepository(pool)
	return &PostgresStore{
		UserRepository:   users,
		UsageRepository:  NewUsageRepository(pool, users),
		APIKeyRepository: NewAPIKeyRepository(pool),
		JobRepository:    NewJobRepository(pool),
		pool:             pool,
	}
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
