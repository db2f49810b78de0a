package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/internal/invitation/domain"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, inv *domain.Invitation) error {
	return r.db.WithContext(ctx).Create(inv).Error
}

func (r *repository) GetByID(ctx context.Context, id snowflake.ID) (*domain.Invitation, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *repository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Invitation, error) {
	return r.first(ctx, "token_hash = ?", tokenHash)
}

func (r *repository) FindPending(ctx context.Context, workspaceID snowflake.ID, email string) (*domain.Invitation, error) {
	return r.first(ctx, "workspace_id = ? AND email = ? AND status = ?", workspaceID, email, domain.StatusPending)
}

func (r *repository) first(ctx context.Context, query string, args ...any) (*domain.Invitation, error) {
	var inv domain.Invitation
	err := r.db.WithContext(ctx).Where(query, args...).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *repository) CountPending(ctx context.Context, workspaceID snowflake.ID, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Invitation{}).
		Where("workspace_id = ? AND status = ? AND expires_at > ?", workspaceID, domain.StatusPending, now).
		Count(&count).Error
	return count, err
}

func (r *repository) ListPending(ctx context.Context, filter domain.ListFilter) ([]domain.Invitation, int64, error) {
	stmt := r.db.WithContext(ctx).Model(&domain.Invitation{}).
		Where("workspace_id = ?", filter.WorkspaceID)
	if filter.IncludeExpired {
		// Rows flipped to EXPIRED by a late accept stay listed with the lapsed pending ones.
		stmt = stmt.Where("status IN ?", []string{domain.StatusPending, domain.StatusExpired})
	} else {
		stmt = stmt.Where("status = ? AND expires_at > ?", domain.StatusPending, filter.Now)
	}
	if filter.Query.Search != "" {
		stmt = stmt.Where("LOWER(email) LIKE ? ESCAPE '"+pagination.LikeEscape+"'", pagination.LikePattern(filter.Query.Search))
	}
	stmt = stmt.Session(&gorm.Session{})

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []domain.Invitation
	rows := stmt
	if filter.Query.OrderBy != "" {
		rows = rows.Order(filter.Query.OrderBy)
	}
	if err := rows.Order("id ASC").
		Offset(filter.Query.Offset()).
		Limit(filter.Query.PageSize).
		Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repository) MarkAccepted(ctx context.Context, id snowflake.ID, userID snowflake.ID, now time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&domain.Invitation{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, domain.StatusPending, now).
		Updates(map[string]any{
			"status":      domain.StatusAccepted,
			"accepted_by": userID,
			"resolved_at": now,
			"pending_key": nil,
		})
	return tx.RowsAffected == 1, tx.Error
}

func (r *repository) MarkCancelled(ctx context.Context, id snowflake.ID, now time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&domain.Invitation{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":      domain.StatusCancelled,
			"resolved_at": now,
			"pending_key": nil,
		})
	return tx.RowsAffected == 1, tx.Error
}

func (r *repository) MarkExpired(ctx context.Context, id snowflake.ID, now time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&domain.Invitation{}).
		Where("id = ? AND status = ? AND expires_at <= ?", id, domain.StatusPending, now).
		Updates(map[string]any{
			"status":      domain.StatusExpired,
			"resolved_at": now,
			"pending_key": nil,
		})
	return tx.RowsAffected == 1, tx.Error
}
