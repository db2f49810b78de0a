package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	WorkspaceID    snowflake.ID
	Query          pagination.Query
	IncludeExpired bool
	Now            time.Time
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, inv *Invitation) error
	GetByID(ctx context.Context, id snowflake.ID) (*Invitation, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error)
	FindPending(ctx context.Context, workspaceID snowflake.ID, email string) (*Invitation, error)
	CountPending(ctx context.Context, workspaceID snowflake.ID, now time.Time) (int64, error)
	ListPending(ctx context.Context, filter ListFilter) ([]Invitation, int64, error)

	// The Mark* transitions are compare-and-swap updates on a PENDING row.
	// They report false when another request resolved the row first.
	MarkAccepted(ctx context.Context, id snowflake.ID, userID snowflake.ID, now time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id snowflake.ID, now time.Time) (bool, error)
	MarkExpired(ctx context.Context, id snowflake.ID, now time.Time) (bool, error)
}
