package repository

import (
	"context"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
)

type JobRepository interface {
	Create(ctx context.Context, job *domain.JobDefinition) (*domain.JobDefinition, error)
	GetByID(ctx context.Context, id, workspaceID string) (*domain.JobDefinition, error)
	List(ctx context.Context, workspaceID string) ([]*domain.JobDefinition, error)
	Update(ctx context.Context, job *domain.JobDefinition) (*domain.JobDefinition, error)
	Delete(ctx context.Context, id, workspaceID string) error
}

type CredentialRepository interface {
	Create(ctx context.Context, cred *domain.Credential) (*domain.Credential, error)
	GetByID(ctx context.Context, id, workspaceID string) (*domain.Credential, error)
	// GetByNames resolves credential names inside one workspace; missing names
	// are silently absent from the result.
	GetByNames(ctx context.Context, workspaceID string, names []string) ([]*domain.Credential, error)
	List(ctx context.Context, workspaceID string) ([]*domain.Credential, error)
	Update(ctx context.Context, cred *domain.Credential) (*domain.Credential, error)
	Delete(ctx context.Context, id, workspaceID string) error
}
