// Package skills parses and validates uploaded skill bundles: a SKILL.md
// manifest with YAML frontmatter plus an optional archive of supporting files.
package skills

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationError marks input the client can fix; handlers map it to 422.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

const (
	maxNameLength        = 64
	maxDescriptionLength = 1024
)

var nameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Manifest is the parsed SKILL.md: validated frontmatter plus the markdown
// body as the skill's instructions.
type Manifest struct {
	Name          string
	Description   string
	AllowedTools  *string
	Metadata      map[string]any
	License       *string
	Compatibility *string
	Instructions  string
}

type frontmatter struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	AllowedTools  *toolList      `yaml:"allowed-tools"`
	Metadata      map[string]any `yaml:"metadata"`
	License       *string        `yaml:"license"`
	Compatibility *string        `yaml:"compatibility"`
}

// toolList accepts both "a, b" scalars and YAML sequences.
type toolList string

func (t *toolList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*t = toolList(node.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*t = toolList(strings.Join(items, ", "))
		return nil
	}
	return fmt.Errorf("allowed-tools must be a string or a list")
}

// ParseManifest parses and validates a SKILL.md document.
func ParseManifest(content []byte) (*Manifest, error) {
	front, body, err := splitFrontmatter(string(content))
	if err != nil {
		return nil, err
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(front), &fm); err != nil {
		return nil, validationf("invalid YAML frontmatter: %v", err)
	}

	if err := ValidateName(fm.Name); err != nil {
		return nil, err
	}
	if fm.Description == "" {
		return nil, validationf("frontmatter field 'description' is required")
	}
	if len(fm.Description) > maxDescriptionLength {
		return nil, validationf("description must be at most %d characters", maxDescriptionLength)
	}

	m := &Manifest{
		Name:          fm.Name,
		Description:   fm.Description,
		Metadata:      fm.Metadata,
		License:       fm.License,
		Compatibility: fm.Compatibility,
		Instructions:  strings.TrimSpace(body),
	}
	if fm.AllowedTools != nil {
		tools := string(*fm.AllowedTools)
		m.AllowedTools = &tools
	}
	return m, nil
}

// ValidateName enforces the skill naming rules: lowercase letters, digits and
// single hyphens, no leading or trailing hyphen, at most 64 characters.
func ValidateName(name string) error {
	if name == "" {
		return validationf("frontmatter field 'name' is required")
	}
	if len(name) > maxNameLength {
		return validationf("name must be at most %d characters", maxNameLength)
	}
	if !nameRe.MatchString(name) {
		return validationf("name must contain only lowercase letters, digits and hyphens, and must not start or end with a hyphen")
	}
	if strings.Contains(name, "--") {
		return validationf("name must not contain consecutive hyphens")
	}
	return nil
}

func splitFrontmatter(content string) (front, body string, err error) {
	content = strings.TrimPrefix(content, "\ufeff")
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return "", "", validationf("SKILL.md must start with YAML frontmatter delimited by ---")
	}
	rest := content[strings.Index(content, "\n")+1:]

	for _, delim := range []string{"\n---\n", "\n---\r\n"} {
		if idx := strings.Index(rest, delim); idx >= 0 {
			return rest[:idx], rest[idx+len(delim):], nil
		}
	}
	// Frontmatter closed at EOF with no body.
	trimmed := strings.TrimRight(rest, "\r\n")
	if strings.HasSuffix(trimmed, "\n---") {
		return strings.TrimSuffix(trimmed, "\n---"), "", nil
	}
	return "", "", validationf("SKILL.md frontmatter is not terminated by ---")
}
