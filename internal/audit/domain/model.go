package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// AuditLog is an append-only record of a privileged action. ActorID is
// always the real user; an impersonated user appears in metadata.
type AuditLog struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	WorkspaceID *snowflake.ID     `gorm:"column:workspace_id;index:ix_audit_logs_workspace_created,priority:1" json:"workspace_id,omitempty"`
	ActorType   string            `gorm:"column:actor_type;type:text;not null" json:"actor_type"`
	ActorID     *string           `gorm:"column:actor_id;type:text" json:"actor_id,omitempty"`
	Action      string            `gorm:"column:action;type:text;not null;index" json:"action"`
	TargetType  string            `gorm:"column:target_type;type:text;not null" json:"target_type"`
	TargetID    *string           `gorm:"column:target_id;type:text" json:"target_id,omitempty"`
	Metadata    datatypes.JSONMap `gorm:"column:metadata" json:"metadata"`
	IPAddress   *string           `gorm:"column:ip_address;type:text" json:"ip_address,omitempty"`
	UserAgent   *string           `gorm:"column:user_agent;type:text" json:"user_agent,omitempty"`
	CreatedAt   time.Time         `gorm:"column:created_at;not null;index:ix_audit_logs_workspace_created,priority:2" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	WorkspaceID *snowflake.ID
	Action      string
	TargetType  string
	TargetID    string
	ActorID     string
	StartAt     *time.Time
	EndAt       *time.Time
	Cursor      *AuditCursor
	Limit       int
}
