package domain

import (
	"errors"
	"time"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// RunLogArtifactName is the per-run log artifact uploaded by workers; its
// lines are prefixed "[stdout] " / "[stderr] ".
const RunLogArtifactName = "run-output.log"

// Artifact is a file produced by a run. Bytes live in the storage backend at
// StoragePath ({run_id}/{filename}); the row carries metadata only.
type Artifact struct {
	ID             string
	WorkspaceID    string
	RunID          string
	Filename       string
	ContentType    string
	SizeBytes      int64
	ChecksumSHA256 string
	StoragePath    string
	CreatedAt      time.Time
}
