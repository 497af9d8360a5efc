package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
)

type WorkspaceUsecase struct {
	workspaces repository.WorkspaceRepository
	keys       repository.APIKeyRepository
}

func NewWorkspaceUsecase(workspaces repository.WorkspaceRepository, keys repository.APIKeyRepository) *WorkspaceUsecase {
	return &WorkspaceUsecase{workspaces: workspaces, keys: keys}
}

type CreateWorkspaceInput struct {
	Name        string
	Slug        string
	Description *string
}

// CreateWorkspace creates the workspace with the caller as its owner.
func (u *WorkspaceUsecase) CreateWorkspace(ctx context.Context, ownerUserID string, input CreateWorkspaceInput) (*domain.Workspace, error) {
	ws, err := u.workspaces.Create(ctx, &domain.Workspace{
		Name:        input.Name,
		Slug:        input.Slug,
		Description: input.Description,
	}, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return ws, nil
}

func (u *WorkspaceUsecase) GetWorkspace(ctx context.Context, id string) (*domain.Workspace, error) {
	ws, err := u.workspaces.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	return ws, nil
}

func (u *WorkspaceUsecase) ListWorkspaces(ctx context.Context, userID string) ([]*domain.Workspace, error) {
	list, err := u.workspaces.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return list, nil
}

func (u *WorkspaceUsecase) ListMembers(ctx context.Context, workspaceID string) ([]*domain.WorkspaceMember, error) {
	members, err := u.workspaces.ListMembers(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

type CreateAPIKeyInput struct {
	Name string
	Role domain.KeyRole
}

// CreateAPIKey mints a bearer token for the calling user. The raw token is
// returned exactly once; only its hash is stored.
func (u *WorkspaceUsecase) CreateAPIKey(ctx context.Context, userID string, input CreateAPIKeyInput) (*domain.APIKey, string, error) {
	raw, err := generateToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate api key: %w", err)
	}

	role := input.Role
	if role == "" {
		role = domain.KeyRoleWorker
	}

	key, err := u.keys.Create(ctx, &domain.APIKey{
		Name:    input.Name,
		KeyHash: domain.HashKey(raw),
		Role:    role,
		UserID:  userID,
	})
	if err != nil {
		return nil, "", fmt.Errorf("create api key: %w", err)
	}
	return key, raw, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "fc_" + hex.EncodeToString(buf), nil
}
