// Package domain contains persistence models for the workspace service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Workspace is a tenant. Its slug is derived from the name once and never changes.
type Workspace struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:text;not null" json:"name"`
	Slug      string       `gorm:"type:varchar(191);not null;uniqueIndex:ux_workspaces_slug" json:"slug"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (Workspace) TableName() string { return "workspaces" }

// Member represents membership of a user in a workspace.
type Member struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	WorkspaceID snowflake.ID `gorm:"column:workspace_id;not null;index;uniqueIndex:ux_workspace_user,priority:1" json:"workspace_id"`
	UserID      snowflake.ID `gorm:"column:user_id;not null;index;uniqueIndex:ux_workspace_user,priority:2" json:"user_id"`
	Role        string       `gorm:"type:varchar(16);not null" json:"role"`
	JoinedAt    time.Time    `gorm:"column:joined_at;not null" json:"joined_at"`
}

func (Member) TableName() string { return "workspace_members" }

// MemberView is a membership joined with the member's profile.
type MemberView struct {
	UserID   snowflake.ID `gorm:"column:user_id"`
	Email    string       `gorm:"column:email"`
	Name     string       `gorm:"column:name"`
	Role     string       `gorm:"column:role"`
	JoinedAt time.Time    `gorm:"column:joined_at"`
}

type WorkspaceListItem struct {
	ID        snowflake.ID `gorm:"column:id"`
	Name      string       `gorm:"column:name"`
	Slug      string       `gorm:"column:slug"`
	Role      string       `gorm:"column:role"`
	CreatedAt time.Time    `gorm:"column:created_at"`
	UpdatedAt time.Time    `gorm:"column:updated_at"`
}

type WorkspaceSummary struct {
	ID          snowflake.ID `gorm:"column:id"`
	Name        string       `gorm:"column:name"`
	Slug        string       `gorm:"column:slug"`
	MemberCount int64        `gorm:"column:member_count"`
	CreatedAt   time.Time    `gorm:"column:created_at"`
	UpdatedAt   time.Time    `gorm:"column:updated_at"`
}

type UserMembership struct {
	WorkspaceID   snowflake.ID `gorm:"column:workspace_id"`
	WorkspaceName string       `gorm:"column:workspace_name"`
	WorkspaceSlug string       `gorm:"column:workspace_slug"`
	Role          string       `gorm:"column:role"`
	JoinedAt      time.Time    `gorm:"column:joined_at"`
}
