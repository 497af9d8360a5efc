package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type skillFileDownloader interface {
	DownloadSkillFile(ctx context.Context, downloadURL string) ([]byte, error)
}

// WriteSkills downloads the envelope's skill files into
// {workDir}/.goose/skills/{skill_name}/ so Goose discovers them natively.
// Files that fail to download or fail checksum verification are skipped;
// filesystem errors abort the run setup.
func WriteSkills(ctx context.Context, client skillFileDownloader, skills []Skill, workDir string, logger *slog.Logger) error {
	if len(skills) == 0 {
		return nil
	}

	skillsDir := filepath.Join(workDir, ".goose", "skills")
	if err := os.MkdirAll(skillsDir, 0o755); err != nil {
		return err
	}

	for _, skill := range skills {
		skillDir := filepath.Join(skillsDir, skill.Name)
		if err := os.MkdirAll(skillDir, 0o755); err != nil {
			return err
		}

		for _, file := range skill.Files {
			if !filepath.IsLocal(filepath.FromSlash(file.FilePath)) {
				logger.Warn("skipping skill file with unsafe path", "skill", skill.Name, "path", file.FilePath)
				continue
			}

			data, err := client.DownloadSkillFile(ctx, file.DownloadURL)
			if err != nil {
				logger.Error("download skill file", "skill", skill.Name, "path", file.FilePath, "error", err)
				continue
			}

			sum := sha256.Sum256(data)
			if actual := hex.EncodeToString(sum[:]); actual != file.ChecksumSHA256 {
				logger.Warn("skill file checksum mismatch",
					"skill", skill.Name,
					"path", file.FilePath,
					"expected", file.ChecksumSHA256,
					"actual", actual,
				)
				continue
			}

			dest := filepath.Join(skillDir, filepath.FromSlash(file.FilePath))
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			// Scripts need the executable bit to be runnable by the agent.
			mode := os.FileMode(0o644)
			if strings.HasPrefix(file.FilePath, "scripts/") {
				mode = 0o755
			}
			if err := os.WriteFile(dest, data, mode); err != nil {
				return err
			}
		}

		logger.Info("downloaded skill", "skill", skill.Name, "files", len(skill.Files))
	}

	return nil
}
