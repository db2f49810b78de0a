package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantry/internal/invitation/domain"
	"github.com/smallbiznis/tenantry/pkg/db"
	"github.com/smallbiznis/tenantry/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

func newPending(id snowflake.ID, email, tokenHash string, expiresAt time.Time) *domain.Invitation {
	workspaceID := snowflake.ID(1)
	key := domain.PendingKeyFor(workspaceID, email)
	return &domain.Invitation{
		ID:          id,
		WorkspaceID: workspaceID,
		Email:       email,
		Role:        "MEMBER",
		TokenHash:   tokenHash,
		Status:      domain.StatusPending,
		PendingKey:  &key,
		InvitedBy:   10,
		ExpiresAt:   expiresAt,
		CreatedAt:   base,
	}
}

func TestMarkAcceptedOnlyOnce(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Invitation{}))

	ctx := context.Background()
	repo := NewRepository(conn)
	require.NoError(t, repo.Create(ctx, newPending(101, "team@example.com", "hash-101", base.Add(7*24*time.Hour))))

	// Both acceptors read the invitation before either flips it.
	first, err := repo.GetByTokenHash(ctx, "hash-101")
	require.NoError(t, err)
	second, err := repo.GetByTokenHash(ctx, "hash-101")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, first.Status)
	assert.Equal(t, domain.StatusPending, second.Status)

	now := base.Add(time.Hour)
	won, err := repo.MarkAccepted(ctx, first.ID, 20, now)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkAccepted(ctx, second.ID, 30, now)
	require.NoError(t, err)
	assert.False(t, won)

	stored, err := repo.GetByID(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, stored.Status)
	require.NotNil(t, stored.AcceptedBy)
	assert.Equal(t, snowflake.ID(20), *stored.AcceptedBy)
	assert.Nil(t, stored.PendingKey)

	cancelled, err := repo.MarkCancelled(ctx, 101, now)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestListPendingIncludesExpiredRows(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Invitation{}))

	ctx := context.Background()
	repo := NewRepository(conn)
	require.NoError(t, repo.Create(ctx, newPending(101, "lapsed@example.com", "hash-101", base.Add(24*time.Hour))))
	require.NoError(t, repo.Create(ctx, newPending(102, "flipped@example.com", "hash-102", base.Add(24*time.Hour))))
	require.NoError(t, repo.Create(ctx, newPending(103, "fresh@example.com", "hash-103", base.Add(7*24*time.Hour))))
	require.NoError(t, repo.Create(ctx, newPending(104, "cancelled@example.com", "hash-104", base.Add(7*24*time.Hour))))

	now := base.Add(2 * 24 * time.Hour)
	expired, err := repo.MarkExpired(ctx, 102, now)
	require.NoError(t, err)
	assert.True(t, expired)
	cancelled, err := repo.MarkCancelled(ctx, 104, now)
	require.NoError(t, err)
	assert.True(t, cancelled)

	q := pagination.Request{}.Normalize(domain.SortSpec)
	items, total, err := repo.ListPending(ctx, domain.ListFilter{WorkspaceID: 1, Query: q, Now: now})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, snowflake.ID(103), items[0].ID)

	items, total, err = repo.ListPending(ctx, domain.ListFilter{WorkspaceID: 1, Query: q, Now: now, IncludeExpired: true})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	ids := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	assert.ElementsMatch(t, []snowflake.ID{101, 102, 103}, ids)
}
