package domain

import (
	"errors"
	"time"
)

var (
	ErrWorkspaceNotFound  = errors.New("workspace not found")
	ErrWorkspaceConflict  = errors.New("workspace with this name or slug already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrNotAMember         = errors.New("user is not a member of this workspace")
	ErrMembershipConflict = errors.New("user is already a member of this workspace")
)

// DefaultWorkspaceID is the seeded workspace every fresh install starts with.
const DefaultWorkspaceID = "default"

type Workspace struct {
	ID          string
	Name        string
	Slug        string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type User struct {
	ID          string
	Username    string
	DisplayName *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

type WorkspaceMember struct {
	ID          string
	WorkspaceID string
	UserID      string
	Role        MemberRole
	CreatedAt   time.Time
}
