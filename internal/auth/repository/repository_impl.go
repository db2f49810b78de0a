package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/internal/auth/domain"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) (domain.Repository, domain.SessionRepository) {
	r := &repo{db: db}
	return r, r
}

func (r *repo) WithTx(tx *gorm.DB) domain.Repository {
	return &repo{db: tx}
}

func (r *repo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.User{}).Count(&count).Error
	return count, err
}

func (r *repo) Create(ctx context.Context, user *domain.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *repo) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.first(ctx, "email = ?", email)
}

func (r *repo) first(ctx context.Context, query string, args ...any) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Where(query, args...).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repo) List(ctx context.Context, filter domain.UserFilter) ([]domain.User, int64, error) {
	stmt := r.db.WithContext(ctx).Model(&domain.User{})
	if filter.Query.Search != "" {
		pattern := pagination.LikePattern(filter.Query.Search)
		stmt = stmt.Where(
			"(LOWER(email) LIKE ? ESCAPE '"+pagination.LikeEscape+"' OR LOWER(name) LIKE ? ESCAPE '"+pagination.LikeEscape+"')",
			pattern, pattern,
		)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Role != "" {
		stmt = stmt.Where("platform_role = ?", filter.Role)
	}

	stmt = stmt.Session(&gorm.Session{})

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var users []domain.User
	q := stmt
	if filter.Query.OrderBy != "" {
		q = q.Order(filter.Query.OrderBy)
	}
	if err := q.Order("id ASC").
		Offset(filter.Query.Offset()).
		Limit(filter.Query.PageSize).
		Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *repo) UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error {
	tx := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// CompleteOnboarding marks the user onboarded and sets their default
// workspace only when none is set yet.
func (r *repo) CompleteOnboarding(ctx context.Context, id snowflake.ID, workspaceID snowflake.ID, now time.Time) error {
	tx := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{"onboarding_completed": true, "updated_at": now})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	if workspaceID == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ? AND default_workspace_id IS NULL", id).
		Update("default_workspace_id", workspaceID).Error
}

func (r *repo) ClearDefaultWorkspace(ctx context.Context, workspaceID snowflake.ID, now time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.User{}).
		Where("default_workspace_id = ?", workspaceID).
		Updates(map[string]any{"default_workspace_id": nil, "updated_at": now}).Error
}

func (r *repo) UnsetDefaultWorkspace(ctx context.Context, userID, workspaceID snowflake.ID, now time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ? AND default_workspace_id = ?", userID, workspaceID).
		Updates(map[string]any{"default_workspace_id": nil, "updated_at": now}).Error
}

func (r *repo) CreateSession(ctx context.Context, session *domain.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repo) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).Where("session_token_hash = ?", tokenHash).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *repo) UpdateLastSeen(ctx context.Context, sessionID snowflake.ID, lastSeen time.Time) error {
	tx := r.db.WithContext(ctx).Model(&domain.Session{}).Where("id = ?", sessionID).Update("last_seen_at", lastSeen)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *repo) RevokeSession(ctx context.Context, sessionID snowflake.ID, revokedAt time.Time) error {
	tx := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", revokedAt)
	return tx.Error
}

func (r *repo) RevokeUserSessions(ctx context.Context, userID snowflake.ID, revokedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", revokedAt).Error
}
