package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	ErrAPIKeyNotFound = errors.New("api key not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
)

type KeyRole string

const (
	KeyRoleAdmin  KeyRole = "admin"
	KeyRoleWorker KeyRole = "worker"
)

// APIKey is the stored half of a bearer token; the raw token is never persisted.
type APIKey struct {
	ID        string
	Name      string
	KeyHash   string
	Role      KeyRole
	UserID    string
	CreatedAt time.Time
}

// HashKey maps a raw bearer token to its stored hash.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// AuthContext is the (user, api key, workspace) tuple produced by the
// authorization gate. Every workspace-scoped operation takes its WorkspaceID.
type AuthContext struct {
	User        *User
	APIKey      *APIKey
	WorkspaceID string
}

func (a *AuthContext) IsAdmin() bool {
	return a.APIKey != nil && a.APIKey.Role == KeyRoleAdmin
}
