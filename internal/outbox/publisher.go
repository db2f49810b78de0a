package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/internal/clock"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrMissingWorkspace = errors.New("outbox: missing workspace id")
	ErrMissingTopic     = errors.New("outbox: missing topic")
)

type Publisher interface {
	WithTx(tx *gorm.DB) Publisher
	Publish(ctx context.Context, workspaceID snowflake.ID, topic string, payload any) error
	Pending(ctx context.Context, limit int) ([]Event, error)
}

type outboxPublisher struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func NewPublisher(db *gorm.DB, genID *snowflake.Node, clk clock.Clock) Publisher {
	return &outboxPublisher{
		db:    db,
		genID: genID,
		clock: clk,
	}
}

func (p *outboxPublisher) WithTx(tx *gorm.DB) Publisher {
	return &outboxPublisher{db: tx, genID: p.genID, clock: p.clock}
}

func (p *outboxPublisher) Publish(ctx context.Context, workspaceID snowflake.ID, topic string, payload any) error {
	if workspaceID == 0 {
		return ErrMissingWorkspace
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return ErrMissingTopic
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return p.db.WithContext(ctx).Exec(
		`INSERT INTO outbox_events (id, workspace_id, event_type, payload, published, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.genID.Generate(),
		workspaceID,
		topic,
		datatypes.JSON(data),
		false,
		p.clock.Now(),
	).Error
}

// Pending returns the oldest unpublished events.
func (p *outboxPublisher) Pending(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []Event
	err := p.db.WithContext(ctx).
		Where("published = ?", false).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
