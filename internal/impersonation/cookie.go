package impersonation

import (
	"github.com/smallbiznis/tenantry/internal/auth/session"
	"github.com/smallbiznis/tenantry/internal/config"
)

// MarkerCookie carries the signed marker between requests.
type MarkerCookie struct {
	*session.Manager
}

func NewMarkerCookie(cfg config.Config) MarkerCookie {
	return MarkerCookie{Manager: session.NewNamedManager(CookieName, cfg.AuthCookieSecure)}
}
