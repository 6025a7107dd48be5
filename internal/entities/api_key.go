package entities

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
	"time"
)

const (
	APIKeyPrefix       = "sk-"
	APIKeySecretLength = 32
	apiKeyDisplayLen   = len(APIKeyPrefix) + 6
	apiKeyAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// APIKey is a long-lived bearer credential. Only the hash of the secret is stored.
type APIKey struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Name          string     `json:"name"`
	KeyHash       string     `json:"-"`
	KeyPrefix     string     `json:"keyPrefix"`
	IsActive      bool       `json:"isActive"`
	UsageCount    int64      `json:"usageCount"`
	LastUsed      *time.Time `json:"lastUsed,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
}

// GenerateAPIKey returns a fresh plaintext key of the form sk-<32 alphanumerics>.
func GenerateAPIKey() (string, error) {
	var b strings.Builder
	b.Grow(len(APIKeyPrefix) + APIKeySecretLength)
	b.WriteString(APIKeyPrefix)
	max := big.NewInt(int64(len(apiKeyAlphabet)))
	for i := 0; i < APIKeySecretLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(apiKeyAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// ValidAPIKeyFormat checks the canonical key shape without touching storage.
func ValidAPIKeyFormat(key string) bool {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return false
	}
	secret := key[len(APIKeyPrefix):]
	if len(secret) != APIKeySecretLength {
		return false
	}
	for i := 0; i < len(secret); i++ {
		if strings.IndexByte(apiKeyAlphabet, secret[i]) < 0 {
			return false
		}
	}
	return true
}

func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix is the non-secret part shown in key listings.
func DisplayPrefix(key string) string {
	if len(key) < apiKeyDisplayLen {
		return key
	}
	return key[:apiKeyDisplayLen]
}
