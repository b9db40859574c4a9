package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// APIKeyPrefixLen is the number of leading characters of a raw key stored in
// clear for lookup.
const APIKeyPrefixLen = 8

// Scopes carried by API keys. Admin keys may change settings and reset the job.
const (
	ScopeRead  = "read"
	ScopeAdmin = "admin"
)

// APIKey authenticates an operator or integration against the HTTP API. Only
// the bcrypt hash of the raw key is stored. Name is recorded as the approver
// on actions approved with the key.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// Active reports whether the key has not been revoked.
func (k *APIKey) Active() bool { return k.DeletedAt == nil }

// HasScope reports whether scopes grants want.
func HasScope(scopes []string, want string) bool {
	return slices.Contains(scopes, want)
}

// APIKeyPrefix returns the lookup prefix of a raw key, or false when the key
// is too short to carry one.
func APIKeyPrefix(raw string) (string, bool) {
	if len(raw) < APIKeyPrefixLen {
		return "", false
	}
	return raw[:APIKeyPrefixLen], true
}
