package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var userSorts = SortSpec{
	Columns: map[string]string{
		"created_at": "created_at",
		"email":      "email",
	},
	DefaultField: "created_at",
	DefaultOrder: SortDesc,
}

func TestNormalizeDefaults(t *testing.T) {
	q := Request{}.Normalize(userSorts)

	assert.Equal(t, 1, q.Page)
	assert.Equal(t, DefaultPageSize, q.PageSize)
	assert.Equal(t, "created_at desc", q.OrderBy)
	assert.Equal(t, 0, q.Offset())
}

func TestNormalizeClampsAndRejectsUnknownSort(t *testing.T) {
	q := Request{Page: 3, PageSize: 1000, SortBy: "password_hash; drop table users", SortOrder: "sideways"}.Normalize(userSorts)

	assert.Equal(t, MaxPageSize, q.PageSize)
	assert.Equal(t, "created_at desc", q.OrderBy)
	assert.Equal(t, 200, q.Offset())
}

func TestNormalizeHonoursWhitelistedSort(t *testing.T) {
	q := Request{SortBy: "EMAIL", SortOrder: "ASC", Search: "  alice "}.Normalize(userSorts)

	assert.Equal(t, "email asc", q.OrderBy)
	assert.Equal(t, "alice", q.Search)
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 0, PageCount(0, 10))
	assert.Equal(t, 1, PageCount(10, 10))
	assert.Equal(t, 2, PageCount(11, 10))
	assert.Equal(t, 0, PageCount(5, 0))
}

func TestNewPageNeverReturnsNilItems(t *testing.T) {
	page := NewPage[string](nil, 0, Request{}.Normalize(userSorts))
	assert.NotNil(t, page.Items)
	assert.Equal(t, 0, page.PageCount)
}

func TestLikePatternEscapesWildcards(t *testing.T) {
	assert.Equal(t, "%100!%!_off%", LikePattern(" 100%_OFF "))
}

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", CreatedAt: "2026-01-02T03:04:05Z"})
	assert.NoError(t, err)

	cursor, err := DecodeCursor(token)
	assert.NoError(t, err)
	assert.Equal(t, "42", cursor.ID)

	_, err = DecodeCursor("***")
	assert.Error(t, err)
}
