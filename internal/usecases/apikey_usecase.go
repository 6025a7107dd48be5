package usecases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"convertapi/internal/entities"
	"convertapi/internal/infrastructure"
	"convertapi/internal/interfaces"
)

const (
	MaxActiveAPIKeys = 10
	maxKeyNameLength = 64
)

type APIKeyUsecase struct {
	keys interfaces.APIKeyStore
	now  func() time.Time
}

func NewAPIKeyUsecase(keys interfaces.APIKeyStore) *APIKeyUsecase {
	return &APIKeyUsecase{keys: keys, now: time.Now}
}

// Create issues a new key. The plaintext is returned once and never stored.
func (uc *APIKeyUsecase) Create(ctx context.Context, userID, name string) (string, *entities.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultKeyName
	}
	if len(name) > maxKeyNameLength {
		return "", nil, &entities.ValidationError{Field: "name", Message: fmt.Sprintf("name must be at most %d characters", maxKeyNameLength)}
	}

	existing, err := uc.keys.ListAPIKeys(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	active := 0
	for _, k := range existing {
		if k.IsActive {
			active++
		}
	}
	if active >= MaxActiveAPIKeys {
		return "", nil, &entities.ValidationError{Field: "apiKeys", Message: fmt.Sprintf("at most %d active api keys allowed", MaxActiveAPIKeys)}
	}

	plaintext, err := entities.GenerateAPIKey()
	if err != nil {
		return "", nil, fmt.Errorf("generate api key: %w", err)
	}
	key := &entities.APIKey{
		ID:        infrastructure.NewEntityID(),
		UserID:    userID,
		Name:      name,
		KeyHash:   entities.HashAPIKey(plaintext),
		KeyPrefix: entities.DisplayPrefix(plaintext),
		IsActive:  true,
		CreatedAt: uc.now().UTC(),
	}
	if err := uc.keys.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}
	return plaintext, key, nil
}

func (uc *APIKeyUsecase) List(ctx context.Context, userID string) ([]entities.APIKey, error) {
	keys, err := uc.keys.ListAPIKeys(ctx, userID)
	if err != nil {
		return nil, err
	}
	if keys == nil {
		keys = []entities.APIKey{}
	}
	return keys, nil
}

// Deactivate is terminal; there is no reactivation.
func (uc *APIKeyUsecase) Deactivate(ctx context.Context, userID, keyID string) error {
	return uc.keys.DeactivateAPIKey(ctx, userID, keyID, uc.now().UTC())
}
