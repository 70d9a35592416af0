package merchant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for unknown merchants or API keys.
	ErrNotFound = errors.New("merchant: not found")
	// ErrInvalidAPIKey is returned when a presented key fails verification.
	ErrInvalidAPIKey = errors.New("merchant: invalid api key")
)

// Merchant is an account that creates checkout sessions and receives
// settlement on its wallet.
type Merchant struct {
	ID            string
	Name          string
	WalletAddress string
	// KeyID is the public prefix of the API key, used for lookup. The key
	// itself is stored only as an argon2id hash.
	KeyID      string
	APIKeyHash string
	Active     bool
	CreatedAt  time.Time
}

// NewID mints a merchant identifier.
func NewID() string {
	return "mer_" + uuid.NewString()
}

// NewAPIKey generates a secret key for a merchant. The first eight hex chars
// form the lookup prefix; the full key is what the merchant presents.
func NewAPIKey() (key, keyID string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw := hex.EncodeToString(buf)
	return "sk_" + raw, "sk_" + raw[:8], nil
}

// KeyIDOf derives the lookup prefix from a presented key.
func KeyIDOf(key string) (string, bool) {
	if len(key) < 11 || key[:3] != "sk_" {
		return "", false
	}
	return key[:11], true
}

// HashAPIKey hashes the key for storage.
func HashAPIKey(key string) (string, error) {
	return argon2id.CreateHash(key, argon2id.DefaultParams)
}

// Store persists merchants.
type Store interface {
	Create(ctx context.Context, m Merchant) error
	Get(ctx context.Context, id string) (Merchant, error)
	GetByKeyID(ctx context.Context, keyID string) (Merchant, error)
}

// Authenticate resolves a presented API key to its merchant.
func Authenticate(ctx context.Context, store Store, key string) (Merchant, error) {
	keyID, ok := KeyIDOf(key)
	if !ok {
		return Merchant{}, ErrInvalidAPIKey
	}
	m, err := store.GetByKeyID(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Merchant{}, ErrInvalidAPIKey
		}
		return Merchant{}, err
	}
	match, err := argon2id.ComparePasswordAndHash(key, m.APIKeyHash)
	if err != nil {
		return Merchant{}, err
	}
	if !match || !m.Active {
		return Merchant{}, ErrInvalidAPIKey
	}
	return m, nil
}
