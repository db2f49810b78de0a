package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("short"))
	assert.Equal(t, "****wxyz", MaskSecret("abcdefghijklmnopqrstuvwxyz"))
}

func TestSanitizeMasksCredentialKeys(t *testing.T) {
	out := Sanitize(map[string]any{
		"email":        "bob@example.com",
		"invite_token": "abcdefghijklmnop",
		"nested":       map[string]any{"password": "hunter2hunter2"},
		" ":            "dropped",
		"count":        3,
	})

	assert.Equal(t, "bob@example.com", out["email"])
	assert.Equal(t, "****mnop", out["invite_token"])
	assert.Equal(t, map[string]any{"password": "****ter2"}, out["nested"])
	assert.Equal(t, 3, out["count"])
	assert.NotContains(t, out, " ")
}
