package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/izzyftw1/rvi-sub014/internal/shared"
)

const keyPrefix = "rvi"

// Operator is a named API client: a person, a shop-floor terminal, or an
// integration that authenticates with an issued key.
type Operator struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Credential pairs an operator with its stored key hash.
type Credential struct {
	Operator Operator
	KeyHash  string
}

// IssuedKey carries the plaintext API key. It is returned exactly once, at
// creation or rotation; only the bcrypt hash of the secret is stored.
type IssuedKey struct {
	Operator Operator `json:"operator"`
	APIKey   string   `json:"api_key"`
}

func newSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// formatKey embeds the operator id so verification can fetch a single row
// instead of scanning every stored hash.
func formatKey(operatorID int64, secret string) string {
	return fmt.Sprintf("%s_%d_%s", keyPrefix, operatorID, secret)
}

func splitKey(apiKey string) (int64, string, error) {
	parts := strings.SplitN(apiKey, "_", 3)
	if len(parts) != 3 || parts[0] != keyPrefix {
		return 0, "", shared.ErrInvalidAPIKey
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", shared.ErrInvalidAPIKey
	}
	return id, parts[2], nil
}
