package identity

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
)

func TestFromContextMissing(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	_, ok = FromContext(WithIdentity(context.Background(), Identity{}))
	assert.False(t, ok)
}

func TestAsSwapsOnlyActingUser(t *testing.T) {
	admin := ForUser(snowflake.ID(9), snowflake.ID(1), true)
	acting := admin.As(snowflake.ID(2), false)

	assert.True(t, acting.Impersonating())
	assert.Equal(t, snowflake.ID(1), acting.RealUserID)
	assert.True(t, acting.RealAdmin)
	assert.Equal(t, snowflake.ID(2), acting.ActingUserID)
	assert.False(t, acting.ActingAdmin)
	assert.False(t, admin.Impersonating())

	got, ok := FromContext(WithIdentity(context.Background(), acting))
	assert.True(t, ok)
	assert.Equal(t, acting, got)
}
