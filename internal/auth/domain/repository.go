package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
	"gorm.io/gorm"
)

var UserSortSpec = pagination.SortSpec{
	Columns: map[string]string{
		"created_at":    "created_at",
		"last_login_at": "last_login_at",
		"email":         "email",
		"name":          "name",
	},
	DefaultField: "created_at",
	DefaultOrder: pagination.SortDesc,
}

type UserFilter struct {
	Query  pagination.Query
	Status string
	Role   string
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id snowflake.ID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, filter UserFilter) ([]User, int64, error)
	UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error
	CompleteOnboarding(ctx context.Context, id snowflake.ID, workspaceID snowflake.ID, now time.Time) error
	ClearDefaultWorkspace(ctx context.Context, workspaceID snowflake.ID, now time.Time) error
	UnsetDefaultWorkspace(ctx context.Context, userID, workspaceID snowflake.ID, now time.Time) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	UpdateLastSeen(ctx context.Context, sessionID snowflake.ID, lastSeen time.Time) error
	RevokeSession(ctx context.Context, sessionID snowflake.ID, revokedAt time.Time) error
	RevokeUserSessions(ctx context.Context, userID snowflake.ID, revokedAt time.Time) error
}
