package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateWorkspace(ctx context.Context, ws Workspace) error
	GetWorkspace(ctx context.Context, id snowflake.ID) (*Workspace, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	RenameWorkspace(ctx context.Context, id snowflake.ID, name string, now time.Time) error
	// DeleteWorkspace removes the workspace with its members and invitations.
	DeleteWorkspace(ctx context.Context, id snowflake.ID) error
	ListWorkspacesByUser(ctx context.Context, userID snowflake.ID) ([]WorkspaceListItem, error)
	ListWorkspaces(ctx context.Context, q pagination.Query) ([]WorkspaceSummary, int64, error)

	AddMember(ctx context.Context, member Member) error
	GetMember(ctx context.Context, workspaceID, userID snowflake.ID) (*Member, error)
	IsMemberByEmail(ctx context.Context, workspaceID snowflake.ID, email string) (bool, error)
	ListMembers(ctx context.Context, workspaceID snowflake.ID, q pagination.Query) ([]MemberView, int64, error)
	ListMembershipsByUser(ctx context.Context, userID snowflake.ID) ([]UserMembership, error)
	// UpdateMemberRole and RemoveMember refuse to touch the last owner and
	// report whether a row changed.
	UpdateMemberRole(ctx context.Context, workspaceID, userID snowflake.ID, role string) (bool, error)
	RemoveMember(ctx context.Context, workspaceID, userID snowflake.ID) (bool, error)
	LockOwners(ctx context.Context, workspaceID snowflake.ID) ([]snowflake.ID, error)
	LockOwnersOfUserWorkspaces(ctx context.Context, userID snowflake.ID) (int64, error)
	RemoveUserMemberships(ctx context.Context, userID snowflake.ID) error
	CountSoleOwnerships(ctx context.Context, userID snowflake.ID) (int64, error)
}
