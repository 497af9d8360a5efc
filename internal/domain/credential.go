package domain

import (
	"errors"
	"time"
)

var (
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialConflict = errors.New("credential with this name already exists in workspace")
)

// Credential holds an encrypted secret scoped to a workspace. The plaintext
// exists only inside the dispatch envelope builder.
type Credential struct {
	ID             string
	WorkspaceID    string
	Name           string
	EnvVar         string
	EncryptedValue string
	Description    *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
