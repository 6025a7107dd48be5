package usecases

import (
	"errors"
	"time"

	"convertapi/internal/entities"

	"github.com/golang-jwt/jwt/v5"
)

type SessionClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

const downloadAudience = "download"

// DownloadClaims grant access to one job's output on behalf of its owner.
type DownloadClaims struct {
	JobID   string `json:"job_id"`
	OwnerID string `json:"owner_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *TokenIssuer) Issue(u *entities.User) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID: u.ID,
		Role:   u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse verifies signature and expiry. Structurally broken tokens are
// reported as malformed; everything else as an invalid session.
func (t *TokenIssuer) Parse(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, &CredentialError{Kind: CredentialMalformed, Message: "malformed session token"}
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, &CredentialError{Kind: CredentialSessionInvalid, Message: "session expired"}
	default:
		return nil, &CredentialError{Kind: CredentialSessionInvalid, Message: "invalid session token"}
	}
	if claims.UserID == "" {
		return nil, &CredentialError{Kind: CredentialSessionInvalid, Message: "invalid session token"}
	}
	return claims, nil
}

// IssueDownload signs a short-lived link token for a job's output.
func (t *TokenIssuer) IssueDownload(jobID, ownerID string, ttl time.Duration) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, DownloadClaims{
		JobID:   jobID,
		OwnerID: ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   jobID,
			Audience:  jwt.ClaimStrings{downloadAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ParseDownload verifies a link token and that it was issued for jobID.
// Session tokens are rejected.
func (t *TokenIssuer) ParseDownload(tokenString, jobID string) (*DownloadClaims, error) {
	claims := &DownloadClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(), jwt.WithAudience(downloadAudience))
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, &CredentialError{Kind: CredentialInvalid, Message: "download link expired"}
	default:
		return nil, &CredentialError{Kind: CredentialInvalid, Message: "invalid download link"}
	}
	if claims.JobID == "" || claims.JobID != jobID {
		return nil, &CredentialError{Kind: CredentialInvalid, Message: "invalid download link"}
	}
	return claims, nil
}
