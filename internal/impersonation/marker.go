package impersonation

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/tenantry/internal/clock"
	"github.com/smallbiznis/tenantry/internal/config"
	"go.uber.org/zap"
)

const (
	CookieName = "_imp"
	DefaultTTL = time.Hour
)

var errInvalidMarker = errors.New("invalid impersonation marker")

// Claims is the payload of an impersonation marker. SessionID binds the
// marker to the admin session that started it.
type Claims struct {
	AdminUserID  string `json:"admin_user_id"`
	TargetUserID string `json:"target_user_id"`
	SessionID    string `json:"sid"`
	jwt.RegisteredClaims
}

type marker struct {
	adminID   snowflake.ID
	targetID  snowflake.ID
	sessionID snowflake.ID
}

// Signer issues and verifies HS256 markers.
type Signer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewSigner(cfg config.Config, clk clock.Clock, log *zap.Logger) (*Signer, error) {
	secret := []byte(cfg.ImpersonationSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		log.Warn("IMPERSONATION_SECRET not set, markers will not survive a restart")
	}
	ttl := cfg.ImpersonationTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: secret, ttl: ttl, clock: clk}, nil
}

func (s *Signer) TTL() time.Duration {
	return s.ttl
}

func (s *Signer) Sign(adminID, targetID, sessionID snowflake.ID) (string, time.Time, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		AdminUserID:  adminID.String(),
		TargetUserID: targetID.String(),
		SessionID:    sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Signer) parse(raw string) (marker, error) {
	if raw == "" {
		return marker{}, errInvalidMarker
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return marker{}, err
	}

	adminID, err := snowflake.ParseString(claims.AdminUserID)
	if err != nil {
		return marker{}, errInvalidMarker
	}
	targetID, err := snowflake.ParseString(claims.TargetUserID)
	if err != nil {
		return marker{}, errInvalidMarker
	}
	sessionID, err := snowflake.ParseString(claims.SessionID)
	if err != nil {
		return marker{}, errInvalidMarker
	}
	return marker{adminID: adminID, targetID: targetID, sessionID: sessionID}, nil
}
