package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

type uniqueRow struct {
	ID   int64  `gorm:"primaryKey"`
	Slug string `gorm:"uniqueIndex"`
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.True(t, IsDuplicateKeyErr(errors.New("Error 1062: Duplicate entry 'x' for key 'slug'")))
}

func TestIsDuplicateKeyErrSQLite(t *testing.T) {
	conn, err := NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&uniqueRow{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if err := conn.Create(&uniqueRow{ID: 1, Slug: "acme"}).Error; err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err = conn.Create(&uniqueRow{ID: 2, Slug: "acme"}).Error
	if !IsDuplicateKeyErr(err) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}
