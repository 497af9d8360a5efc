package domain

import (
	"errors"
	"time"
)

var (
	ErrSkillNotFound     = errors.New("skill not found")
	ErrSkillNameConflict = errors.New("skill with this name already exists in workspace")
	ErrSkillFileNotFound = errors.New("skill file not found")
)

// Skill is a versioned bundle of an instruction document plus files, attached
// by reference to runs. File bytes live in the storage backend under
// {workspace_id}/{skill_name}/{relative_path}.
type Skill struct {
	ID             string
	WorkspaceID    string
	Name           string
	Description    string
	Instructions   string
	AllowedTools   *string
	Metadata       map[string]any
	License        *string
	Compatibility  *string
	TotalSizeBytes int64
	FileCount      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type SkillFile struct {
	ID             string
	SkillID        string
	FilePath       string
	SizeBytes      int64
	ChecksumSHA256 string
	ContentType    string
	CreatedAt      time.Time
}
