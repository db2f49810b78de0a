// Package outbox records domain events in the same transaction as the
// change they describe. A separate worker ships unpublished rows.
package outbox

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	TopicWorkspaceCreated = "workspace.created"
	TopicMemberJoined     = "member.joined"
)

type Event struct {
	ID          snowflake.ID   `gorm:"primaryKey" json:"id"`
	WorkspaceID snowflake.ID   `gorm:"column:workspace_id;not null;index" json:"workspace_id"`
	EventType   string         `gorm:"column:event_type;type:text;not null" json:"event_type"`
	Payload     datatypes.JSON `gorm:"column:payload" json:"payload"`
	Published   bool           `gorm:"column:published;not null;default:false;index" json:"published"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null" json:"created_at"`
}

func (Event) TableName() string { return "outbox_events" }
