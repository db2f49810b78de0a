package server

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	admindomain "github.com/smallbiznis/tenantry/internal/admin/domain"
	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	"github.com/smallbiznis/tenantry/internal/authorization"
	"github.com/smallbiznis/tenantry/internal/identity"
	"github.com/smallbiznis/tenantry/internal/impersonation"
	"go.uber.org/zap"
)

const contextUserKey = "user"

// AuthRequired resolves the session cookie and, when present, the
// impersonation marker into the request identity.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authenticate(c); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// OptionalAuth attaches an identity when the caller has a valid session.
func (s *Server) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		_ = s.authenticate(c)
		c.Next()
	}
}

func (s *Server) authenticate(c *gin.Context) error {
	token, ok := s.sessions.ReadToken(c)
	if !ok {
		return authorization.ErrUnauthenticated
	}

	ctx := c.Request.Context()
	principal, err := s.authsvc.Authenticate(ctx, token)
	if err != nil {
		return err
	}

	id := identity.ForUser(principal.Session.ID, principal.User.ID, principal.User.IsPlatformAdmin())
	if marker, ok := s.markers.ReadToken(c); ok {
		if acting, ok := s.guard.Resolve(ctx, id, marker); ok {
			id = acting
		} else {
			s.markers.Clear(c)
		}
	}

	c.Set(contextUserKey, principal.User)
	c.Request = c.Request.WithContext(identity.WithIdentity(ctx, id))
	return nil
}

// AdminRequired gates the admin console on the acting user, so an admin
// impersonating a regular user loses console access until they stop.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity.FromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, authorization.ErrUnauthenticated)
			return
		}
		if !id.ActingAdmin {
			AbortWithError(c, admindomain.ErrPlatformAdminRequired)
			return
		}
		c.Next()
	}
}

func (s *Server) RealAdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identity.FromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, authorization.ErrUnauthenticated)
			return
		}
		if !id.RealAdmin {
			AbortWithError(c, impersonation.ErrNotPlatformAdmin)
			return
		}
		c.Next()
	}
}

// RateLimit throttles endpoint per client IP.
func (s *Server) RateLimit(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.limiter.Allow(c.Request.Context(), endpoint, c.ClientIP())
		if err != nil {
			s.log.Warn("rate limit skipped", zap.String("endpoint", endpoint), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func currentIdentity(c *gin.Context) (identity.Identity, bool) {
	return identity.FromContext(c.Request.Context())
}

// realIdentity is the session owner acting as themselves.
func realIdentity(id identity.Identity) identity.Identity {
	return identity.ForUser(id.SessionID, id.RealUserID, id.RealAdmin)
}

func currentUser(c *gin.Context) *authdomain.User {
	value, ok := c.Get(contextUserKey)
	if !ok {
		return nil
	}
	user, _ := value.(*authdomain.User)
	return user
}
