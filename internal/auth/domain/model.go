// Package domain contains core types for the auth service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	PlatformRoleUser  = "user"
	PlatformRoleAdmin = "admin"
)

const (
	UserStatusActive    = "ACTIVE"
	UserStatusSuspended = "SUSPENDED"
	UserStatusDeleted   = "DELETED"
)

// User represents a platform account.
type User struct {
	ID                  snowflake.ID  `gorm:"primaryKey" json:"id"`
	Email               string        `gorm:"type:varchar(320);not null;uniqueIndex:ux_users_email" json:"email"`
	Name                string        `gorm:"type:text;not null" json:"name"`
	PasswordHash        *string       `gorm:"type:text" json:"-"`
	PlatformRole        string        `gorm:"type:text;not null;default:user" json:"platform_role"`
	Status              string        `gorm:"type:text;not null;default:ACTIVE;index" json:"status"`
	OnboardingCompleted bool          `gorm:"column:onboarding_completed;not null;default:false" json:"onboarding_completed"`
	DefaultWorkspaceID  *snowflake.ID `gorm:"column:default_workspace_id" json:"default_workspace_id,omitempty"`
	LastLoginAt         *time.Time    `gorm:"column:last_login_at" json:"last_login_at,omitempty"`
	CreatedAt           time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time     `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u User) IsPlatformAdmin() bool {
	return u.PlatformRole == PlatformRoleAdmin
}

func (u User) IsActive() bool {
	return u.Status == UserStatusActive
}

// Session represents a persisted login session.
type Session struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	UserID           snowflake.ID `gorm:"column:user_id;not null;index"`
	SessionTokenHash string       `gorm:"column:session_token_hash;type:varchar(64);not null;uniqueIndex"`
	UserAgent        string       `gorm:"column:user_agent;type:text"`
	IPAddress        string       `gorm:"column:ip_address;type:text"`
	ExpiresAt        time.Time    `gorm:"column:expires_at;not null;index"`
	RevokedAt        *time.Time   `gorm:"column:revoked_at"`
	CreatedAt        time.Time    `gorm:"column:created_at;not null"`
	LastSeenAt       time.Time    `gorm:"column:last_seen_at;not null"`
}

func (Session) TableName() string { return "sessions" }

// UserSummary is the public projection of a user.
type UserSummary struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID.String(), Email: u.Email, Name: u.Name}
}

func ValidPlatformRole(role string) bool {
	return role == PlatformRoleUser || role == PlatformRoleAdmin
}

func ValidUserStatus(status string) bool {
	switch status {
	case UserStatusActive, UserStatusSuspended, UserStatusDeleted:
		return true
	default:
		return false
	}
}
