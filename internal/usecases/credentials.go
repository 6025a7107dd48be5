package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"convertapi/internal/entities"
	"convertapi/internal/interfaces"

	"go.uber.org/zap"
)

type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialAPIKey
	CredentialSession
)

// ClassifyCredential picks the verification strategy from the token text alone.
func ClassifyCredential(token string) CredentialKind {
	switch {
	case token == "":
		return CredentialNone
	case strings.HasPrefix(token, entities.APIKeyPrefix):
		return CredentialAPIKey
	default:
		return CredentialSession
	}
}

type CredentialFailure string

const (
	CredentialRequired       CredentialFailure = "credential_required"
	CredentialMalformed      CredentialFailure = "malformed_credential"
	CredentialInvalid        CredentialFailure = "invalid_credential"
	CredentialSessionInvalid CredentialFailure = "session_invalid"
)

type CredentialError struct {
	Kind    CredentialFailure
	Message string
}

func (e *CredentialError) Error() string {
	return e.Message
}

// BearerToken extracts the token from an Authorization header. An empty
// header yields an empty token and no error.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", &CredentialError{Kind: CredentialMalformed, Message: "authorization header must be 'Bearer <token>'"}
	}
	return token, nil
}

type AuthMethod string

const (
	AuthAPIKey  AuthMethod = "api_key"
	AuthSession AuthMethod = "session"
)

// Identity is what every credential strategy resolves to.
type Identity struct {
	User   *entities.User
	APIKey *entities.APIKey
	Method AuthMethod
}

func (i *Identity) UserID() string {
	if i == nil || i.User == nil {
		return ""
	}
	return i.User.ID
}

func (i *Identity) APIKeyID() string {
	if i == nil || i.APIKey == nil {
		return ""
	}
	return i.APIKey.ID
}

type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// APIKeyVerifier resolves sk- keys. Usage bookkeeping runs in the background.
type APIKeyVerifier struct {
	keys    interfaces.APIKeyStore
	users   interfaces.UserStore
	logger  *zap.SugaredLogger
	now     func() time.Time
	touches sync.WaitGroup
}

func NewAPIKeyVerifier(keys interfaces.APIKeyStore, users interfaces.UserStore, logger *zap.SugaredLogger) *APIKeyVerifier {
	return &APIKeyVerifier{keys: keys, users: users, logger: logger, now: time.Now}
}

func (v *APIKeyVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if !entities.ValidAPIKeyFormat(token) {
		return nil, &CredentialError{Kind: CredentialMalformed, Message: "malformed api key"}
	}
	key, err := v.keys.GetAPIKeyByHash(ctx, entities.HashAPIKey(token))
	if errors.Is(err, entities.ErrAPIKeyNotFound) {
		return nil, &CredentialError{Kind: CredentialInvalid, Message: "invalid api key"}
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if !key.IsActive {
		return nil, &CredentialError{Kind: CredentialInvalid, Message: "api key has been deactivated"}
	}
	user, err := v.users.GetUser(ctx, key.UserID)
	if errors.Is(err, entities.ErrUserNotFound) {
		return nil, &CredentialError{Kind: CredentialInvalid, Message: "api key owner not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key owner: %w", err)
	}

	v.touch(key.ID)
	return &Identity{User: user, APIKey: key, Method: AuthAPIKey}, nil
}

func (v *APIKeyVerifier) touch(id string) {
	v.touches.Add(1)
	go func() {
		defer v.touches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := v.keys.TouchAPIKey(ctx, id, v.now()); err != nil {
			v.logger.Warnw("api key usage update failed", "key_id", id, "error", err)
		}
	}()
}

// Wait blocks until pending usage updates have been written.
func (v *APIKeyVerifier) Wait() {
	v.touches.Wait()
}

type SessionVerifier struct {
	users  interfaces.UserStore
	tokens *TokenIssuer
}

func NewSessionVerifier(users interfaces.UserStore, tokens *TokenIssuer) *SessionVerifier {
	return &SessionVerifier{users: users, tokens: tokens}
}

func (v *SessionVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	claims, err := v.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	user, err := v.users.GetUser(ctx, claims.UserID)
	if errors.Is(err, entities.ErrUserNotFound) {
		return nil, &CredentialError{Kind: CredentialInvalid, Message: "user not found"}
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session user: %w", err)
	}
	return &Identity{User: user, Method: AuthSession}, nil
}

type AuthOptions struct {
	// SessionOnly rejects API keys (account management endpoints).
	SessionOnly bool
	// APIKeyOnly rejects session tokens (conversion submission).
	APIKeyOnly bool
	// EnforceQuota runs the admission check inline for API-key callers.
	EnforceQuota bool
}

// CredentialGateway dispatches a bearer token to the matching verifier.
type CredentialGateway struct {
	apiKeys  CredentialVerifier
	sessions CredentialVerifier
	ledger   *QuotaLedger
}

func NewCredentialGateway(apiKeys, sessions CredentialVerifier, ledger *QuotaLedger) *CredentialGateway {
	return &CredentialGateway{apiKeys: apiKeys, sessions: sessions, ledger: ledger}
}

func (g *CredentialGateway) Authenticate(ctx context.Context, token string, opts AuthOptions) (*Identity, error) {
	switch ClassifyCredential(token) {
	case CredentialNone:
		return nil, &CredentialError{Kind: CredentialRequired, Message: "credential required"}
	case CredentialAPIKey:
		if opts.SessionOnly {
			return nil, &CredentialError{Kind: CredentialInvalid, Message: "this endpoint requires a session token"}
		}
		id, err := g.apiKeys.Verify(ctx, token)
		if err != nil {
			return nil, err
		}
		if opts.EnforceQuota {
			if err := g.ledger.CheckAdmission(*id.User).Err(); err != nil {
				return nil, err
			}
		}
		return id, nil
	default:
		if opts.APIKeyOnly {
			return nil, &CredentialError{Kind: CredentialInvalid, Message: "this endpoint requires an api key"}
		}
		return g.sessions.Verify(ctx, token)
	}
}
