package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicyHolderDefaultsWithoutFile(t *testing.T) {
	holder, err := NewPolicyHolder(Config{InvitationTTL: 48 * time.Hour})
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 48*time.Hour, cfg.InvitationTTL)
	assert.Equal(t, DefaultPolicyConfig().RateLimits, cfg.RateLimits)
}

func TestNewPolicyHolderReadsFileAndKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yml")
	content := []byte("policy:\n  invitationTTL: 72h\n  rateLimits:\n    login:\n      rate: 1\n      burst: 2\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewPolicyHolder(Config{InvitationTTL: DefaultInvitationTTL, PolicyConfigPath: path})
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, 72*time.Hour, cfg.InvitationTTL)
	assert.Equal(t, RateRule{Rate: 1, Burst: 2}, cfg.RateLimits.Login)
	assert.Equal(t, DefaultPolicyConfig().RateLimits.Signup, cfg.RateLimits.Signup)
	assert.Equal(t, 100, cfg.MaxPendingInvitations)
}

func TestNewPolicyHolderRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yml")
	require.NoError(t, os.WriteFile(path, []byte("policy:\n  invitationTTL: -1h\n"), 0o600))

	_, err := NewPolicyHolder(Config{InvitationTTL: DefaultInvitationTTL, PolicyConfigPath: path})
	assert.Error(t, err)
}

func TestPolicyHolderNotifiesListeners(t *testing.T) {
	holder := NewStaticPolicyHolder(DefaultPolicyConfig())

	var seen []string
	holder.OnChange(func(cfg PolicyConfig) { seen = append(seen, cfg.LogLevel) })

	updated := DefaultPolicyConfig()
	updated.LogLevel = "debug"
	holder.store(updated)

	assert.Equal(t, []string{"debug"}, seen)
	assert.Equal(t, "debug", holder.Get().LogLevel)
}
