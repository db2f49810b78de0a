// Package identity threads the effective caller through request contexts.
//
// Every request carries two users: the real user that owns the session and
// the acting user whose permissions apply. They differ only while a platform
// admin impersonates someone. Authorization reads the acting user; audit
// records the real one.
package identity

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Identity struct {
	SessionID snowflake.ID

	RealUserID snowflake.ID
	RealAdmin  bool

	ActingUserID snowflake.ID
	ActingAdmin  bool
}

type contextKey struct{}

// ForUser builds an identity for a user acting as themselves.
func ForUser(sessionID, userID snowflake.ID, platformAdmin bool) Identity {
	return Identity{
		SessionID:    sessionID,
		RealUserID:   userID,
		RealAdmin:    platformAdmin,
		ActingUserID: userID,
		ActingAdmin:  platformAdmin,
	}
}

// As returns a copy of i acting as the target user.
func (i Identity) As(targetID snowflake.ID, targetAdmin bool) Identity {
	i.ActingUserID = targetID
	i.ActingAdmin = targetAdmin
	return i
}

func (i Identity) Impersonating() bool {
	return i.ActingUserID != 0 && i.ActingUserID != i.RealUserID
}

func (i Identity) Valid() bool {
	return i.RealUserID != 0 && i.ActingUserID != 0
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(contextKey{}).(Identity)
	if !ok || !id.Valid() {
		return Identity{}, false
	}
	return id, true
}
