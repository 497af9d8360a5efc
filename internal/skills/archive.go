package skills

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
)

const (
	maxArchiveEntries = 500
	maxExtractedBytes = 50 << 20 // 50 MiB across all entries
)

// File is one supporting file extracted from a skill archive.
type File struct {
	Path string
	Data []byte
}

// ExtractArchive unpacks a zip of supporting files. Entries must stay inside
// the bundle: absolute paths and any ".." segment are rejected outright, not
// sanitized. A SKILL.md at the archive root is skipped because the manifest is
// uploaded separately and must not be silently overridden.
func ExtractArchive(data []byte) ([]File, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, validationf("invalid zip archive: %v", err)
	}
	if len(zr.File) > maxArchiveEntries {
		return nil, validationf("archive has %d entries, limit is %d", len(zr.File), maxArchiveEntries)
	}

	var (
		files []File
		total int64
	)
	for _, f := range zr.File {
		name := f.Name
		if f.FileInfo().IsDir() {
			continue
		}
		if err := validateEntryPath(name); err != nil {
			return nil, err
		}
		if path.Clean(name) == "SKILL.md" {
			continue
		}

		total += int64(f.UncompressedSize64)
		if total > maxExtractedBytes {
			return nil, validationf("archive exceeds the %d MiB extracted size limit", maxExtractedBytes>>20)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open archive entry %q: %w", name, err)
		}
		// LimitReader backstops a lying header; the running total above is the
		// real budget.
		data, err := io.ReadAll(io.LimitReader(rc, maxExtractedBytes+1))
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read archive entry %q: %w", name, err)
		}
		if total-int64(f.UncompressedSize64)+int64(len(data)) > maxExtractedBytes {
			return nil, validationf("archive exceeds the %d MiB extracted size limit", maxExtractedBytes>>20)
		}

		files = append(files, File{Path: path.Clean(name), Data: data})
	}
	return files, nil
}

func validateEntryPath(name string) error {
	if name == "" {
		return validationf("archive entry has an empty path")
	}
	if strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return validationf("archive entry %q has an absolute or non-portable path", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return validationf("archive entry %q escapes the bundle root", name)
		}
	}
	return nil
}
