package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
	"github.com/flightcontrol-io/flightcontrol/internal/signing"
	"github.com/flightcontrol-io/flightcontrol/internal/skills"
	"github.com/flightcontrol-io/flightcontrol/internal/storage"
	"github.com/google/uuid"
)

// SkillUsecase manages skill bundles: a SKILL.md manifest plus optional
// supporting files, stored as blobs with a database-side file manifest.
type SkillUsecase struct {
	repo   repository.SkillRepository
	store  storage.Store
	signer *signing.Signer
	logger *slog.Logger
}

func NewSkillUsecase(repo repository.SkillRepository, store storage.Store, signer *signing.Signer, logger *slog.Logger) *SkillUsecase {
	return &SkillUsecase{
		repo:   repo,
		store:  store,
		signer: signer,
		logger: logger.With("component", "skills"),
	}
}

// UploadSkill validates the manifest, unpacks the optional archive and
// persists the bundle. The skill name comes from the frontmatter, never from
// the upload form, so the bundle is self-describing.
func (u *SkillUsecase) UploadSkill(ctx context.Context, workspaceID string, manifest []byte, archive []byte) (*domain.Skill, error) {
	parsed, err := skills.ParseManifest(manifest)
	if err != nil {
		return nil, err
	}

	var extracted []skills.File
	if len(archive) > 0 {
		extracted, err = skills.ExtractArchive(archive)
		if err != nil {
			return nil, err
		}
	}

	skill := &domain.Skill{
		ID:            uuid.NewString(),
		WorkspaceID:   workspaceID,
		Name:          parsed.Name,
		Description:   parsed.Description,
		Instructions:  parsed.Instructions,
		AllowedTools:  parsed.AllowedTools,
		Metadata:      parsed.Metadata,
		License:       parsed.License,
		Compatibility: parsed.Compatibility,
	}

	// Blobs live under {workspace_id}/{skill_name}/; the per-workspace name
	// uniqueness constraint makes the prefix collision-free.
	files := make([]*domain.SkillFile, 0, len(extracted)+1)
	stored, err := u.storeFile(ctx, skill, "SKILL.md", manifest)
	if err != nil {
		return nil, err
	}
	files = append(files, stored)
	for _, f := range extracted {
		stored, err := u.storeFile(ctx, skill, f.Path, f.Data)
		if err != nil {
			u.discardBlobs(ctx, skill)
			return nil, err
		}
		files = append(files, stored)
	}

	for _, f := range files {
		skill.TotalSizeBytes += f.SizeBytes
	}
	skill.FileCount = len(files)

	created, err := u.repo.Create(ctx, skill, files)
	if err != nil {
		u.discardBlobs(ctx, skill)
		return nil, fmt.Errorf("create skill: %w", err)
	}
	u.logger.Info("skill uploaded", "skill_id", created.ID, "name", created.Name, "files", created.FileCount)
	return created, nil
}

func skillFileKey(workspaceID, skillName, filePath string) string {
	return fmt.Sprintf("%s/%s/%s", workspaceID, skillName, filePath)
}

func (u *SkillUsecase) storeFile(ctx context.Context, skill *domain.Skill, filePath string, data []byte) (*domain.SkillFile, error) {
	key := skillFileKey(skill.WorkspaceID, skill.Name, filePath)
	size, checksum, err := u.store.Save(ctx, key, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("store skill file %q: %w", filePath, err)
	}
	return &domain.SkillFile{
		SkillID:        skill.ID,
		FilePath:       filePath,
		SizeBytes:      size,
		ChecksumSHA256: checksum,
		ContentType:    contentTypeFor(filePath),
	}, nil
}

func (u *SkillUsecase) discardBlobs(ctx context.Context, skill *domain.Skill) {
	prefix := fmt.Sprintf("%s/%s/", skill.WorkspaceID, skill.Name)
	if err := u.store.DeletePrefix(ctx, prefix); err != nil {
		u.logger.Warn("discard skill blobs", "skill_id", skill.ID, "error", err)
	}
}

func contentTypeFor(filePath string) string {
	switch ext := path.Ext(filePath); ext {
	case ".md":
		return "text/markdown"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

func (u *SkillUsecase) GetSkill(ctx context.Context, id, workspaceID string) (*domain.Skill, []*domain.SkillFile, error) {
	skill, err := u.repo.GetByID(ctx, id, workspaceID)
	if err != nil {
		return nil, nil, fmt.Errorf("get skill: %w", err)
	}
	files, err := u.repo.ListFiles(ctx, skill.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list skill files: %w", err)
	}
	return skill, files, nil
}

func (u *SkillUsecase) ListSkills(ctx context.Context, workspaceID string) ([]*domain.Skill, error) {
	list, err := u.repo.List(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	return list, nil
}

// UpdateSkillInput is a partial metadata update; nil fields keep their stored
// values. File contents only change through a fresh upload.
type UpdateSkillInput struct {
	Description   *string
	Instructions  *string
	AllowedTools  *string
	Metadata      map[string]any
	License       *string
	Compatibility *string
}

func (u *SkillUsecase) UpdateSkill(ctx context.Context, id, workspaceID string, input UpdateSkillInput) (*domain.Skill, error) {
	skill, err := u.repo.GetByID(ctx, id, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("get skill: %w", err)
	}

	if input.Description != nil {
		skill.Description = *input.Description
	}
	if input.Instructions != nil {
		skill.Instructions = *input.Instructions
	}
	if input.AllowedTools != nil {
		skill.AllowedTools = input.AllowedTools
	}
	if input.Metadata != nil {
		skill.Metadata = input.Metadata
	}
	if input.License != nil {
		skill.License = input.License
	}
	if input.Compatibility != nil {
		skill.Compatibility = input.Compatibility
	}

	updated, err := u.repo.Update(ctx, skill)
	if err != nil {
		return nil, fmt.Errorf("update skill: %w", err)
	}
	return updated, nil
}

func (u *SkillUsecase) DeleteSkill(ctx context.Context, id, workspaceID string) error {
	skill, err := u.repo.GetByID(ctx, id, workspaceID)
	if err != nil {
		return fmt.Errorf("get skill: %w", err)
	}
	if err := u.repo.Delete(ctx, skill.ID, workspaceID); err != nil {
		return fmt.Errorf("delete skill: %w", err)
	}
	u.discardBlobs(ctx, skill)
	return nil
}

// OpenSkillFile resolves a signed download token to the file it was issued
// for. The token is the only credential on this path; workers never send
// their API key in skill file URLs.
func (u *SkillUsecase) OpenSkillFile(ctx context.Context, skillID, filePath, token string) (*domain.SkillFile, io.ReadCloser, error) {
	tokenSkillID, tokenPath, err := u.signer.VerifyFileToken(token)
	if err != nil {
		return nil, nil, err
	}
	if tokenSkillID != skillID || tokenPath != filePath {
		return nil, nil, signing.ErrInvalidToken
	}

	// Unscoped lookup: the token vouches for the skill, and the workspace is
	// needed to locate the blob.
	skill, err := u.repo.GetByIDUnscoped(ctx, skillID)
	if err != nil {
		return nil, nil, fmt.Errorf("get skill: %w", err)
	}
	files, err := u.repo.ListFiles(ctx, skillID)
	if err != nil {
		return nil, nil, fmt.Errorf("list skill files: %w", err)
	}
	var file *domain.SkillFile
	for _, f := range files {
		if f.FilePath == filePath {
			file = f
			break
		}
	}
	if file == nil {
		return nil, nil, domain.ErrSkillFileNotFound
	}

	rc, err := u.store.Open(ctx, skillFileKey(skill.WorkspaceID, skill.Name, filePath))
	if err != nil {
		return nil, nil, fmt.Errorf("open skill file bytes: %w", err)
	}
	return file, rc, nil
}
