package usecase

import (
	"context"
	"fmt"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
	"github.com/flightcontrol-io/flightcontrol/internal/secrets"
)

// CredentialUsecase stores workspace secrets encrypted at rest. Read paths
// never return the value; only the dispatch envelope decrypts.
type CredentialUsecase struct {
	repo repository.CredentialRepository
	box  *secrets.Box
}

func NewCredentialUsecase(repo repository.CredentialRepository, box *secrets.Box) *CredentialUsecase {
	return &CredentialUsecase{repo: repo, box: box}
}

type CredentialInput struct {
	Name        string
	EnvVar      string
	Value       string
	Description *string
}

func (u *CredentialUsecase) CreateCredential(ctx context.Context, workspaceID string, input CredentialInput) (*domain.Credential, error) {
	encrypted, err := u.box.Encrypt(input.Value)
	if err != nil {
		return nil, fmt.Errorf("encrypt credential: %w", err)
	}

	created, err := u.repo.Create(ctx, &domain.Credential{
		WorkspaceID:    workspaceID,
		Name:           input.Name,
		EnvVar:         input.EnvVar,
		EncryptedValue: encrypted,
		Description:    input.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("create credential: %w", err)
	}
	return created, nil
}

func (u *CredentialUsecase) GetCredential(ctx context.Context, id, workspaceID string) (*domain.Credential, error) {
	cred, err := u.repo.GetByID(ctx, id, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return cred, nil
}

func (u *CredentialUsecase) ListCredentials(ctx context.Context, workspaceID string) ([]*domain.Credential, error) {
	creds, err := u.repo.List(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}

type UpdateCredentialInput struct {
	Name        *string
	EnvVar      *string
	Value       *string
	Description *string
}

func (u *CredentialUsecase) UpdateCredential(ctx context.Context, id, workspaceID string, input UpdateCredentialInput) (*domain.Credential, error) {
	cred, err := u.repo.GetByID(ctx, id, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}

	if input.Name != nil {
		cred.Name = *input.Name
	}
	if input.EnvVar != nil {
		cred.EnvVar = *input.EnvVar
	}
	if input.Description != nil {
		cred.Description = input.Description
	}
	if input.Value != nil {
		encrypted, err := u.box.Encrypt(*input.Value)
		if err != nil {
			return nil, fmt.Errorf("encrypt credential: %w", err)
		}
		cred.EncryptedValue = encrypted
	}

	updated, err := u.repo.Update(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("update credential: %w", err)
	}
	return updated, nil
}

func (u *CredentialUsecase) DeleteCredential(ctx context.Context, id, workspaceID string) error {
	if err := u.repo.Delete(ctx, id, workspaceID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
