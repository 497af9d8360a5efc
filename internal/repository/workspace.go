package repository

import (
	"context"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
)

// Usecases depend on interfaces, not the postgres implementations, so tests
// can substitute fakes and the database can be swapped without touching them.

type WorkspaceRepository interface {
	Create(ctx context.Context, ws *domain.Workspace, ownerUserID string) (*domain.Workspace, error)
	GetByID(ctx context.Context, id string) (*domain.Workspace, error)
	ListForUser(ctx context.Context, userID string) ([]*domain.Workspace, error)
	ListMembers(ctx context.Context, workspaceID string) ([]*domain.WorkspaceMember, error)
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
	// EnsureDefaults seeds the default workspace, the admin user and their
	// membership; safe to call on every startup.
	EnsureDefaults(ctx context.Context) error
}

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) (*domain.APIKey, error)
	GetByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
}
