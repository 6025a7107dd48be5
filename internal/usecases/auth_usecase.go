package usecases

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"convertapi/internal/entities"
	"convertapi/internal/infrastructure"
	"convertapi/internal/interfaces"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	defaultKeyName    = "Default"
)

type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// AuthResult is returned by register and login. APIKey is the plaintext
// default key and only set on registration.
type AuthResult struct {
	User      *entities.User
	Token     string
	ExpiresAt time.Time
	APIKey    string
	Key       *entities.APIKey
}

type AuthUsecase struct {
	users  interfaces.UserStore
	tokens *TokenIssuer
	keys   *APIKeyUsecase
	now    func() time.Time
}

func NewAuthUsecase(users interfaces.UserStore, tokens *TokenIssuer, keys *APIKeyUsecase) *AuthUsecase {
	return &AuthUsecase{users: users, tokens: tokens, keys: keys, now: time.Now}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(in RegisterInput) error {
	addr, err := mail.ParseAddress(in.Email)
	if err != nil || addr.Address != in.Email {
		return &entities.ValidationError{Field: "email", Message: "a valid email address is required"}
	}
	if len(in.Password) < minPasswordLength {
		return &entities.ValidationError{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	}
	return nil
}

// Register creates a free-plan user, a default API key and a session token.
func (uc *AuthUsecase) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := validateRegistration(in); err != nil {
		return nil, err
	}

	user, err := uc.newUser(in, entities.RoleUser)
	if err != nil {
		return nil, err
	}
	if err := uc.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	token, exp, err := uc.tokens.Issue(user)
	if err != nil {
		return nil, uc.undoRegister(ctx, user.ID, fmt.Errorf("sign session token: %w", err))
	}
	plaintext, key, err := uc.keys.Create(ctx, user.ID, defaultKeyName)
	if err != nil {
		return nil, uc.undoRegister(ctx, user.ID, fmt.Errorf("create default api key: %w", err))
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: exp, APIKey: plaintext, Key: key}, nil
}

// undoRegister removes a half-registered user so the email can be used again.
func (uc *AuthUsecase) undoRegister(ctx context.Context, userID string, cause error) error {
	if err := uc.users.DeleteUser(context.WithoutCancel(ctx), userID); err != nil {
		return errors.Join(cause, fmt.Errorf("remove user: %w", err))
	}
	return cause
}

func (uc *AuthUsecase) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := uc.users.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, entities.ErrUserNotFound) {
		return nil, entities.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, entities.ErrInvalidCredentials
	}

	token, exp, err := uc.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: exp}, nil
}

// EnsureAdmin creates the admin account if it does not exist (called on startup).
func (uc *AuthUsecase) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return false, nil
	}
	_, err := uc.users.GetUserByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, entities.ErrUserNotFound) {
		return false, err
	}

	admin, err := uc.newUser(RegisterInput{Email: email, Password: password, Name: "Administrator"}, entities.RoleAdmin)
	if err != nil {
		return false, err
	}
	admin.ApplyPlan(entities.PlanEnterprise, entities.SubscriptionActive)
	if err := uc.users.CreateUser(ctx, admin); err != nil {
		if errors.Is(err, entities.ErrEmailTaken) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (uc *AuthUsecase) newUser(in RegisterInput, role string) (*entities.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := uc.now().UTC()
	user := &entities.User{
		ID:            infrastructure.NewEntityID(),
		Email:         in.Email,
		Name:          in.Name,
		PasswordHash:  string(hashed),
		Role:          role,
		DailyPeriod:   entities.DayPeriod(now),
		MonthlyPeriod: entities.MonthPeriod(now),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	user.ApplyPlan(entities.PlanFree, entities.SubscriptionActive)
	return user, nil
}
