package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/internal/workspace/domain"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// keepsAnOwner guards role changes and removals so the statement only
// matches when the row is not an owner or another owner remains. The
// derived table lets MySQL read the table it is modifying. Callers hold
// the owner row locks (LockOwners) so two concurrent demotions cannot both
// count the other as the remaining owner.
const keepsAnOwner = `(role <> 'OWNER' OR (
	SELECT COUNT(*) FROM (
		SELECT id FROM workspace_members WHERE workspace_id = ? AND role = 'OWNER'
	) AS owners
) > 1)`

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateWorkspace(ctx context.Context, ws domain.Workspace) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO workspaces (id, name, slug, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ws.ID,
		ws.Name,
		ws.Slug,
		ws.CreatedAt,
		ws.UpdatedAt,
	).Error
}

func (r *repository) GetWorkspace(ctx context.Context, id snowflake.ID) (*domain.Workspace, error) {
	var ws domain.Workspace
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&ws).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrWorkspaceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

func (r *repository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Workspace{}).Where("slug = ?", slug).Count(&count).Error
	return count > 0, err
}

func (r *repository) RenameWorkspace(ctx context.Context, id snowflake.ID, name string, now time.Time) error {
	tx := r.db.WithContext(ctx).Model(&domain.Workspace{}).
		Where("id = ?", id).
		Updates(map[string]any{"name": name, "updated_at": now})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrWorkspaceNotFound
	}
	return nil
}

func (r *repository) DeleteWorkspace(ctx context.Context, id snowflake.ID) error {
	db := r.db.WithContext(ctx)
	if err := db.Exec(`DELETE FROM invitations WHERE workspace_id = ?`, id).Error; err != nil {
		return err
	}
	if err := db.Exec(`DELETE FROM workspace_members WHERE workspace_id = ?`, id).Error; err != nil {
		return err
	}
	tx := db.Exec(`DELETE FROM workspaces WHERE id = ?`, id)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrWorkspaceNotFound
	}
	return nil
}

func (r *repository) ListWorkspacesByUser(ctx context.Context, userID snowflake.ID) ([]domain.WorkspaceListItem, error) {
	var items []domain.WorkspaceListItem
	err := r.db.WithContext(ctx).Raw(
		`SELECT w.id, w.name, w.slug, m.role, w.created_at, w.updated_at
		 FROM workspaces w
		 JOIN workspace_members m ON m.workspace_id = w.id
		 WHERE m.user_id = ?
		 ORDER BY w.created_at ASC, w.id ASC`,
		userID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ListWorkspaces(ctx context.Context, q pagination.Query) ([]domain.WorkspaceSummary, int64, error) {
	stmt := r.db.WithContext(ctx).Table("workspaces AS w")
	if q.Search != "" {
		pattern := pagination.LikePattern(q.Search)
		stmt = stmt.Where(
			"(LOWER(w.name) LIKE ? ESCAPE '"+pagination.LikeEscape+"' OR LOWER(w.slug) LIKE ? ESCAPE '"+pagination.LikeEscape+"')",
			pattern, pattern,
		)
	}

	stmt = stmt.Session(&gorm.Session{})

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []domain.WorkspaceSummary
	rows := stmt.Select(`w.id, w.name, w.slug, w.created_at, w.updated_at,
		(SELECT COUNT(*) FROM workspace_members m WHERE m.workspace_id = w.id) AS member_count`)
	if q.OrderBy != "" {
		rows = rows.Order(q.OrderBy)
	}
	if err := rows.Order("w.id ASC").
		Offset(q.Offset()).
		Limit(q.PageSize).
		Scan(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repository) AddMember(ctx context.Context, member domain.Member) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO workspace_members (id, workspace_id, user_id, role, joined_at)
		 VALUES (?, ?, ?, ?, ?)`,
		member.ID,
		member.WorkspaceID,
		member.UserID,
		member.Role,
		member.JoinedAt,
	).Error
}

func (r *repository) GetMember(ctx context.Context, workspaceID, userID snowflake.ID) (*domain.Member, error) {
	var member domain.Member
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND user_id = ?", workspaceID, userID).
		First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrMemberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repository) IsMemberByEmail(ctx context.Context, workspaceID snowflake.ID, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM workspace_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.workspace_id = ? AND u.email = ?`,
		workspaceID,
		email,
	).Scan(&count).Error
	return count > 0, err
}

func (r *repository) ListMembers(ctx context.Context, workspaceID snowflake.ID, q pagination.Query) ([]domain.MemberView, int64, error) {
	stmt := r.db.WithContext(ctx).
		Table("workspace_members AS m").
		Joins("JOIN users u ON u.id = m.user_id").
		Where("m.workspace_id = ?", workspaceID)
	if q.Search != "" {
		pattern := pagination.LikePattern(q.Search)
		stmt = stmt.Where(
			"(LOWER(u.email) LIKE ? ESCAPE '"+pagination.LikeEscape+"' OR LOWER(u.name) LIKE ? ESCAPE '"+pagination.LikeEscape+"')",
			pattern, pattern,
		)
	}

	stmt = stmt.Session(&gorm.Session{})

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []domain.MemberView
	rows := stmt.Select("m.user_id, u.email, u.name, m.role, m.joined_at")
	if q.OrderBy != "" {
		rows = rows.Order(q.OrderBy)
	}
	if err := rows.Order("m.id ASC").
		Offset(q.Offset()).
		Limit(q.PageSize).
		Scan(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repository) ListMembershipsByUser(ctx context.Context, userID snowflake.ID) ([]domain.UserMembership, error) {
	var items []domain.UserMembership
	err := r.db.WithContext(ctx).Raw(
		`SELECT m.workspace_id, w.name AS workspace_name, w.slug AS workspace_slug, m.role, m.joined_at
		 FROM workspace_members m
		 JOIN workspaces w ON w.id = m.workspace_id
		 WHERE m.user_id = ?
		 ORDER BY m.joined_at ASC, m.id ASC`,
		userID,
	).Scan(&items).Error
	return items, err
}

func (r *repository) UpdateMemberRole(ctx context.Context, workspaceID, userID snowflake.ID, role string) (bool, error) {
	query := `UPDATE workspace_members SET role = ?
		 WHERE workspace_id = ? AND user_id = ? AND `
	args := []any{role, workspaceID, userID}
	if role != domain.RoleOwner {
		query += keepsAnOwner
		args = append(args, workspaceID)
	} else {
		query += "1 = 1"
	}
	tx := r.db.WithContext(ctx).Exec(query, args...)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *repository) RemoveMember(ctx context.Context, workspaceID, userID snowflake.ID) (bool, error) {
	tx := r.db.WithContext(ctx).Exec(
		`DELETE FROM workspace_members
		 WHERE workspace_id = ? AND user_id = ? AND `+keepsAnOwner,
		workspaceID,
		userID,
		workspaceID,
	)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// LockOwners takes row locks on the workspace's owner memberships and
// returns the owners' user ids. Must run inside a transaction.
func (r *repository) LockOwners(ctx context.Context, workspaceID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.db.WithContext(ctx).
		Model(&domain.Member{}).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("workspace_id = ? AND role = ?", workspaceID, domain.RoleOwner).
		Order("id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// LockOwnersOfUserWorkspaces locks the owner memberships of every workspace
// userID owns. Must run inside a transaction.
func (r *repository) LockOwnersOfUserWorkspaces(ctx context.Context, userID snowflake.ID) (int64, error) {
	var ids []snowflake.ID
	owned := r.db.WithContext(ctx).
		Model(&domain.Member{}).
		Select("workspace_id").
		Where("user_id = ? AND role = ?", userID, domain.RoleOwner)
	err := r.db.WithContext(ctx).
		Model(&domain.Member{}).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("role = ? AND workspace_id IN (?)", domain.RoleOwner, owned).
		Order("id ASC").
		Pluck("id", &ids).Error
	return int64(len(ids)), err
}

func (r *repository) RemoveUserMemberships(ctx context.Context, userID snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(`DELETE FROM workspace_members WHERE user_id = ?`, userID).Error
}

// CountSoleOwnerships counts workspaces where userID is the only owner.
func (r *repository) CountSoleOwnerships(ctx context.Context, userID snowflake.ID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM workspace_members m
		 WHERE m.user_id = ? AND m.role = 'OWNER'
		   AND (SELECT COUNT(*) FROM workspace_members o
		        WHERE o.workspace_id = m.workspace_id AND o.role = 'OWNER') = 1`,
		userID,
	).Scan(&count).Error
	return count, err
}
