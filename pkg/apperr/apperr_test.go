package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSlugTaken = New(KindConflict, "slug_taken", "workspace slug is already taken")

func TestIsMatchesKindAndCode(t *testing.T) {
	specific := errSlugTaken.WithMessage("slug %q is already taken", "my-team")

	assert.True(t, errors.Is(specific, errSlugTaken))
	assert.Equal(t, `slug "my-team" is already taken`, specific.Message)
	assert.Equal(t, "workspace slug is already taken", errSlugTaken.Message)
}

func TestKindOfWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("create workspace: %w", errSlugTaken)

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.Equal(t, "slug_taken", CodeOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestDifferentCodesDoNotMatch(t *testing.T) {
	other := New(KindConflict, "already_member", "already a member")
	assert.False(t, errors.Is(other, errSlugTaken))
}
