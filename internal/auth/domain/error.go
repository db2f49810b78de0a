package domain

import "github.com/smallbiznis/tenantry/pkg/apperr"

var (
	ErrInvalidCredentials = apperr.New(apperr.KindUnauthorized, "invalid_credentials", "invalid email or password")
	ErrInvalidEmail       = apperr.Validation("email", "invalid_email", "a valid email address is required")
	ErrWeakPassword       = apperr.Validation("password", "weak_password", "password must be at least 8 characters")
	ErrInvalidName        = apperr.Validation("name", "invalid_name", "name must be at most 120 characters")
	ErrInvalidRole        = apperr.Validation("platform_role", "invalid_platform_role", "platform role must be user or admin")
	ErrInvalidStatus      = apperr.Validation("status", "invalid_status", "status must be ACTIVE, SUSPENDED or DELETED")
	ErrUserNotFound       = apperr.New(apperr.KindNotFound, "user_not_found", "user not found")
	ErrUserExists         = apperr.New(apperr.KindConflict, "user_exists", "an account with this email already exists")
	ErrAccountDisabled    = apperr.New(apperr.KindForbidden, "account_disabled", "this account is not active")
	ErrSessionNotFound    = apperr.New(apperr.KindUnauthorized, "session_not_found", "session not found")
	ErrSessionExpired     = apperr.New(apperr.KindUnauthorized, "session_expired", "session expired")
	ErrSessionRevoked     = apperr.New(apperr.KindUnauthorized, "session_revoked", "session revoked")
	ErrInvalidSession     = apperr.New(apperr.KindUnauthorized, "invalid_session", "authentication required")
)
