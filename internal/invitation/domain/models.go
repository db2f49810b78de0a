package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	StatusPending   = "PENDING"
	StatusAccepted  = "ACCEPTED"
	StatusCancelled = "CANCELLED"
	StatusExpired   = "EXPIRED"
)

// Invitation is a time-boxed offer to join a workspace. Only the sha256 of
// the token is stored. PendingKey is set while the invitation is pending so
// a plain unique index allows one pending invitation per (workspace, email).
type Invitation struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	WorkspaceID snowflake.ID  `gorm:"column:workspace_id;not null;index" json:"workspace_id"`
	Email       string        `gorm:"type:varchar(320);not null;index" json:"email"`
	Role        string        `gorm:"type:varchar(16);not null" json:"role"`
	TokenHash   string        `gorm:"column:token_hash;type:varchar(64);not null;uniqueIndex:ux_invitations_token_hash" json:"-"`
	Status      string        `gorm:"type:varchar(16);not null;index" json:"status"`
	PendingKey  *string       `gorm:"column:pending_key;type:varchar(400);uniqueIndex:ux_invitations_pending_key" json:"-"`
	InvitedBy   snowflake.ID  `gorm:"column:invited_by;not null;index" json:"invited_by"`
	AcceptedBy  *snowflake.ID `gorm:"column:accepted_by" json:"accepted_by,omitempty"`
	ExpiresAt   time.Time     `gorm:"column:expires_at;not null" json:"expires_at"`
	ResolvedAt  *time.Time    `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	CreatedAt   time.Time     `gorm:"column:created_at;not null" json:"created_at"`
}

func (Invitation) TableName() string { return "invitations" }

func PendingKeyFor(workspaceID snowflake.ID, email string) string {
	return workspaceID.String() + ":" + email
}

// EffectiveStatus reports EXPIRED for pending rows whose expiry has passed.
func (i Invitation) EffectiveStatus(now time.Time) string {
	if i.Status == StatusPending && !now.Before(i.ExpiresAt) {
		return StatusExpired
	}
	return i.Status
}
