package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"convertapi/internal/entities"
	"convertapi/internal/infrastructure"
	"convertapi/internal/interfaces"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) interfaces.Store

func backends(t *testing.T) map[string]storeFactory {
	b := map[string]storeFactory{
		"memory": func(t *testing.T) interfaces.Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) interfaces.Store {
			s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		b["postgres"] = func(t *testing.T) interfaces.Store {
			client, err := infrastructure.NewPostgresClient(context.Background(), dsn)
			require.NoError(t, err)
			s := NewPostgresStore(client.Pool)
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return b
}

func forEachStore(t *testing.T, fn func(t *testing.T, s interfaces.Store)) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

var testNow = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func newTestUser(t *testing.T, s interfaces.Store, plan entities.Plan) *entities.User {
	t.Helper()
	u := &entities.User{
		ID:           uuid.NewString(),
		Email:        fmt.Sprintf("%s@example.com", uuid.NewString()[:8]),
		Name:         "Test",
		PasswordHash: "hash",
		Role:         entities.RoleUser,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	u.ApplyPlan(plan, entities.SubscriptionActive)
	u.DailyPeriod = entities.DayPeriod(testNow)
	u.MonthlyPeriod = entities.MonthPeriod(testNow)
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestUserLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s interfaces.Store) {
		ctx := context.Background()
		u := newTestUser(t, s, entities.PlanFree)

		got, err := s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.Email, got.Email)
		assert.Equal(t, entities.PlanFree, got.Plan)
		assert.Equal(t, 5, got.DailyLimit)

		byEmail, err := s.GetUserByEmail(ctx, u.Email)
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)

		dup := *u
		dup.ID = uuid.NewString()
		assert.ErrorIs(t, s.CreateUser(ctx, &dup), entities.ErrEmailTaken)

		_, err = s.GetUser(ctx, "missing")
		assert.ErrorIs(t, err, entities.ErrUserNotFound)

		upgraded, err := s.UpdatePlan(ctx, u.ID, entities.PlanPro, entities.SubscriptionActive)
		require.NoError(t, err)
		assert.Equal(t, entities.PlanPro, upgraded.Plan)
		assert.Equal(t, 500, upgraded.DailyLimit)
	})
}

func TestReserveQuotaBoundary(t *testing.T) {
	forEachStore(t, func(t *testing.T, s interfaces.Store) {
		ctx := context.Background()
		u := newTestUser(t, s, entities.PlanFree)

		for i := 0; i < 4; i++ {
			_, err := s.ReserveQuota(ctx, u.ID, testNow)
			require.NoError(t, err)
		}

		last, err := s.ReserveQuota(ctx, u.ID, testNow)
		require.NoError(t, err)
		assert.Equal(t, last.DailyLimit, last.DailyUsage)

		_, err = s.ReserveQuota(ctx, u.ID, testNow)
		var qe *entities.QuotaExceededError
		require.True(t, errors.As(err, &qe))
		assert.Equal(t, entities.DailyLimitExceeded, qe.Reason)
		assert.Equal(t, qe.Usage.DailyLimit, qe.Usage.DailyUsage)

		after, err := s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, after.DailyUsage)
	})
}

func TestReserveQuotaRollsOverNextDay(t *testing.T) {
	forEachStore(t, func(t *testing.T, s interfaces.Store) {
		ctx := context.Background()
		u := newTestUser(t, s, entities.PlanFree)
		for i := 0; i < 5; i++ {
			_, err := s.ReserveQuota(ctx, u.ID, testNow)
			require.NoError(t, err)
		}

		tomorrow := testNow.Add(24 * time.Hour)
		got, err := s.ReserveQuota(ctx, u.ID, tomorrow)
		require.NoError(t, err)
		assert.Equal(t, 1, got.DailyUsage)
		assert.Equal(t, 6, got.MonthlyUsage)
		assert.Equal(t, entities.DayPeriod(tomorrow), got.DailyPeriod)
	})
}

func TestReserveQuotaConcurrent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s interfaces.Store) {
		ctx := context.Background()
		u := newTestUser(t, s, entities.PlanPro)

		const n = 40
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.ReserveQuota(ctx, u.ID, testNow)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, n, got.DailyUsage)
		assert.Equal(t, n, got.MonthlyUsage)
	})
}

func TestReserveQuotaConcurrentNeverOverruns(t *testing.T) {
	forEachStore(t, func(t *testing.T, s interfaces.Store) {
		ctx := context.Background()
		u := newTestUser(t, s, entities.PlanFree)

		var wg sync.WaitGroup
		var mu sync.Mutex
		admitted := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.ReserveQuota(ctx, u.ID, testNow); err == nil {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 5, admitted)
		got, err := s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.DailyUsage)
	})
}

func TestReleaseAndResetUsage(t *testing.T) {
	forEachStore(t, func(t *testing.T, s interfaces.Store) {
		ctx := context.Background()
		u := newTestUser(t, s, entities.PlanFree)

		_, err := s.ReserveQuota(ctx, u.ID, testNow)
		require.NoError(t, err)
		_, err = s.ReserveQuota(ctx, u.ID, testNow)
		require.NoError(t, err)

		require.NoError(t, s.ReleaseQuota(ctx, u.ID, testNow))
		got, err := s.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.DailyUsage)
		assert.Equal(t, 1, got.MonthlyUsage)

		reset, err := s.ResetUsage(ctx, u.ID, entities.ScopeDaily, testNow)
		require.NoError(t, err)
		assert.Equal(t, 0, reset.DailyUsage)
		assert.Equal(t, 1, reset.MonthlyUsage)

		reset, err = s.ResetUsage(ctx, u.ID, entities.ScopeBoth, testNow)
		require.NoError(t, err)
		assert.Equal(t, 0, reset.MonthlyUsage)

		_, err = s.ResetUsage(ctx, "missing", entities.ScopeBoth, testNow)
		assert.ErrorIs(t, err, entities.ErrUserNotFound)
	})
}

func TestAPIKeyLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s interfaces.Store) {
		ctx := context.Background()
		u := newTestUser(t, s, entities.PlanFree)

		plain, err := entities.GenerateAPIKey()
		require.NoError(t, err)
		key := &entities.APIKey{
			ID:        uuid.NewString(),
			UserID:    u.ID,
			Name:      "default",
			KeyHash:   entities.HashAPIKey(plain),
			KeyPrefix: entities.DisplayPrefix(plain),
			IsActive:  true,
			CreatedAt: testNow,
		}
		require.NoError(t, s.CreateAPIKey(ctx, key))

		got, err := s.GetAPIKeyByHash(ctx, entities.HashAPIKey(plain))
		require.NoError(t, err)
		assert.True(t, got.IsActive)
		assert.Nil(t, got.LastUsed)

		require.NoError(t, s.TouchAPIKey(ctx, key.ID, testNow))
		got, err = s.GetAPIKeyByHash(ctx, key.KeyHash)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.UsageCount)
		require.NotNil(t, got.LastUsed)

		assert.ErrorIs(t, s.DeactivateAPIKey(ctx, "someone-else", key.ID, testNow), entities.ErrAPIKeyNotFound)
		require.NoError(t, s.DeactivateAPIKey(ctx, u.ID, key.ID, testNow))
		require.NoError(t, s.DeactivateAPIKey(ctx, u.ID, key.ID, testNow.Add(time.Hour)))

		got, err = s.GetAPIKeyByHash(ctx, key.KeyHash)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		require.NotNil(t, got.DeactivatedAt)
		assert.True(t, got.DeactivatedAt.Equal(testNow))

		keys, err := s.ListAPIKeys(ctx, u.ID)
		require.NoError(t, err)
		assert.Len(t, keys, 1)

		_, err = s.GetAPIKeyByHash(ctx, "nope")
		assert.ErrorIs(t, err, entities.ErrAPIKeyNotFound)
	})
}

func TestDeleteUserRemovesKeys(t *testing.T) {
	forEachStore(t, func(t *testing.T, s interfaces.Store) {
		ctx := context.Background()
		u := newTestUser(t, s, entities.PlanFree)

		plain, err := entities.GenerateAPIKey()
		require.NoError(t, err)
		require.NoError(t, s.CreateAPIKey(ctx, &entities.APIKey{
			ID:        uuid.NewString(),
			UserID:    u.ID,
			Name:      "default",
			KeyHash:   entities.HashAPIKey(plain),
			KeyPrefix: entities.DisplayPrefix(plain),
			IsActive:  true,
			CreatedAt: testNow,
		}))

		require.NoError(t, s.DeleteUser(ctx, u.ID))
		_, err = s.GetUser(ctx, u.ID)
		assert.ErrorIs(t, err, entities.ErrUserNotFound)
		_, err = s.GetUserByEmail(ctx, u.Email)
		assert.ErrorIs(t, err, entities.ErrUserNotFound)
		_, err = s.GetAPIKeyByHash(ctx, entities.HashAPIKey(plain))
		assert.ErrorIs(t, err, entities.ErrAPIKeyNotFound)

		assert.ErrorIs(t, s.DeleteUser(ctx, u.ID), entities.ErrUserNotFound)

		again := *u
		again.ID = uuid.NewString()
		assert.NoError(t, s.CreateUser(ctx, &again))
	})
}

func newTestJob(userID string, created time.Time) *entities.Job {
	return &entities.Job{
		ID:            ksuid.New().String(),
		UserID:        userID,
		ToolType:      entities.ToolPDFToWord,
		Status:        entities.JobPending,
		InputFilename: "report.pdf",
		InputRef:      "in/report.pdf",
		InputFileSize: 1024,
		Options:       map[string]string{"quality": "high"},
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestJobCompareAndSet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s interfaces.Store) {
		ctx := context.Background()
		u := newTestUser(t, s, entities.PlanFree)
		job := newTestJob(u.ID, testNow)
		require.NoError(t, s.CreateJob(ctx, job))

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.JobPending, got.Status)
		assert.Equal(t, "high", got.Options["quality"])
		assert.Empty(t, got.OutputFilename)

		require.NoError(t, got.MarkProcessing(testNow))
		require.NoError(t, s.UpdateJob(ctx, got, entities.JobPending))

		stale := got.Clone()
		stale.Status = entities.JobProcessing
		assert.ErrorIs(t, s.UpdateJob(ctx, stale, entities.JobPending), entities.ErrInvalidTransition)

		require.NoError(t, got.MarkCompleted(entities.JobOutput{Filename: "report_converted.docx", Ref: "out/x", Size: 99}, time.Second, testNow))
		require.NoError(t, s.UpdateJob(ctx, got, entities.JobProcessing))

		final, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, entities.JobCompleted, final.Status)
		assert.Equal(t, "report_converted.docx", final.OutputFilename)
		assert.Equal(t, int64(1000), final.ProcessingTimeMs)
		assert.Empty(t, final.ErrorMessage)

		missing := newTestJob(u.ID, testNow)
		assert.ErrorIs(t, s.UpdateJob(ctx, missing, entities.JobPending), entities.ErrJobNotFound)
		_, err = s.GetJob(ctx, "missing")
		assert.ErrorIs(t, err, entities.ErrJobNotFound)
	})
}

func TestListJobsByOwnerNewestFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s interfaces.Store) {
		ctx := context.Background()
		alice := newTestUser(t, s, entities.PlanFree)
		bob := newTestUser(t, s, entities.PlanFree)

		var ids []string
		for i := 0; i < 3; i++ {
			j := newTestJob(alice.ID, testNow.Add(time.Duration(i)*time.Minute))
			require.NoError(t, s.CreateJob(ctx, j))
			ids = append(ids, j.ID)
		}
		require.NoError(t, s.CreateJob(ctx, newTestJob(bob.ID, testNow)))
		require.NoError(t, s.CreateJob(ctx, newTestJob("", testNow)))

		jobs, err := s.ListJobsByOwner(ctx, alice.ID, 0)
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		assert.Equal(t, ids[2], jobs[0].ID)
		assert.Equal(t, ids[0], jobs[2].ID)

		limited, err := s.ListJobsByOwner(ctx, alice.ID, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)

		none, err := s.ListJobsByOwner(ctx, "nobody", 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
