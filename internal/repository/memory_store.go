package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"convertapi/internal/entities"
)

// MemoryStore keeps everything in process memory. One mutex guards all maps,
// which makes ReserveQuota a single critical section.
type MemoryStore struct {
	mu         sync.Mutex
	users      map[string]*entities.User
	emails     map[string]string
	keys       map[string]*entities.APIKey
	keyHashes  map[string]string
	jobs       map[string]*entities.Job
	jobsByUser map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]*entities.User),
		emails:     make(map[string]string),
		keys:       make(map[string]*entities.APIKey),
		keyHashes:  make(map[string]string),
		jobs:       make(map[string]*entities.Job),
		jobsByUser: make(map[string][]string),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateUser(ctx context.Context, u *entities.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, ok := s.emails[email]; ok {
		return entities.ErrEmailTaken
	}
	cp := *u
	s.users[u.ID] = &cp
	s.emails[email] = u.ID
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*entities.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, entities.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*entities.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return nil, entities.ErrUserNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return entities.ErrUserNotFound
	}
	for keyID, k := range s.keys {
		if k.UserID == id {
			delete(s.keyHashes, k.KeyHash)
			delete(s.keys, keyID)
		}
	}
	delete(s.emails, strings.ToLower(u.Email))
	delete(s.users, id)
	return nil
}

func (s *MemoryStore) UpdatePlan(ctx context.Context, id string, plan entities.Plan, status entities.SubscriptionStatus) (*entities.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, entities.ErrUserNotFound
	}
	u.ApplyPlan(plan, status)
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) ReserveQuota(ctx context.Context, id string, now time.Time) (*entities.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, entities.ErrUserNotFound
	}
	u.RollOver(now)
	if allowed, reason := u.Admit(); !allowed {
		return nil, &entities.QuotaExceededError{Reason: reason, Usage: u.Snapshot(now)}
	}
	u.DailyUsage++
	u.MonthlyUsage++
	u.UpdatedAt = now
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) ReleaseQuota(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return entities.ErrUserNotFound
	}
	if u.DailyPeriod == entities.DayPeriod(now) && u.DailyUsage > 0 {
		u.DailyUsage--
	}
	if u.MonthlyPeriod == entities.MonthPeriod(now) && u.MonthlyUsage > 0 {
		u.MonthlyUsage--
	}
	u.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ResetUsage(ctx context.Context, id string, scope entities.UsageScope, now time.Time) (*entities.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, entities.ErrUserNotFound
	}
	u.ResetUsage(scope, now)
	u.UpdatedAt = now
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) CreateAPIKey(ctx context.Context, k *entities.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[k.UserID]; !ok {
		return entities.ErrUserNotFound
	}
	cp := *k
	s.keys[k.ID] = &cp
	s.keyHashes[k.KeyHash] = k.ID
	return nil
}

func (s *MemoryStore) GetAPIKeyByHash(ctx context.Context, hash string) (*entities.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.keyHashes[hash]
	if !ok {
		return nil, entities.ErrAPIKeyNotFound
	}
	cp := *s.keys[id]
	return &cp, nil
}

func (s *MemoryStore) ListAPIKeys(ctx context.Context, userID string) ([]entities.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []entities.APIKey
	for _, k := range s.keys {
		if k.UserID == userID {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeactivateAPIKey(ctx context.Context, userID, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok || k.UserID != userID {
		return entities.ErrAPIKeyNotFound
	}
	if k.IsActive {
		k.IsActive = false
		t := now
		k.DeactivatedAt = &t
	}
	return nil
}

func (s *MemoryStore) TouchAPIKey(ctx context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return entities.ErrAPIKeyNotFound
	}
	k.UsageCount++
	t := now
	k.LastUsed = &t
	return nil
}

func (s *MemoryStore) CreateJob(ctx context.Context, j *entities.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[j.ID] = j.Clone()
	if j.UserID != "" {
		s.jobsByUser[j.UserID] = append(s.jobsByUser[j.UserID], j.ID)
	}
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, id string) (*entities.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, entities.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, j *entities.Job, expected entities.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[j.ID]
	if !ok {
		return entities.ErrJobNotFound
	}
	if cur.Status != expected {
		return entities.ErrInvalidTransition
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *MemoryStore) ListJobsByOwner(ctx context.Context, userID string, limit int) ([]entities.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.jobsByUser[userID]
	out := make([]entities.Job, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.jobs[id].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
