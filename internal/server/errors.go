package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantry/pkg/apperr"
	"github.com/smallbiznis/tenantry/pkg/db"
	"gorm.io/gorm"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Field   string      `json:"field,omitempty"`
}

var (
	ErrInvalidRequest = apperr.Validation("request", "invalid_request", "invalid request")
	ErrInvalidID      = apperr.Validation("id", "invalid_id", "invalid id")
	ErrRouteNotFound  = apperr.New(apperr.KindNotFound, "route_not_found", "route not found")
	ErrRateLimited    = apperr.New(apperr.KindRateLimited, "rate_limited", "too many requests, try again later")
	errInternal       = apperr.New(apperr.KindInternal, "internal_error", "internal server error")
	errConflict       = apperr.New(apperr.KindConflict, "conflict", "resource already exists")
	errNotFound       = apperr.New(apperr.KindNotFound, "not_found", "not found")
)

var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation:   http.StatusBadRequest,
	apperr.KindUnauthorized: http.StatusUnauthorized,
	apperr.KindForbidden:    http.StatusForbidden,
	apperr.KindNotFound:     http.StatusNotFound,
	apperr.KindConflict:     http.StatusConflict,
	apperr.KindExpired:      http.StatusGone,
	apperr.KindRateLimited:  http.StatusTooManyRequests,
	apperr.KindInternal:     http.StatusInternalServerError,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, body := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, envelope{Success: false, Error: &body})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func respondOK(c *gin.Context, data any) {
	respond(c, http.StatusOK, data)
}

func mapError(err error) (int, errorBody) {
	appErr := toAppErr(err)
	status, ok := statusByKind[appErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return status, errorBody{
		Kind:    appErr.Kind,
		Code:    appErr.Code,
		Message: appErr.Message,
		Field:   appErr.Field,
	}
}

// toAppErr resolves storage errors that escaped the services. Anything
// unknown becomes a generic internal error so details never leak.
func toAppErr(err error) *apperr.Error {
	if e, ok := apperr.As(err); ok {
		return e
	}
	switch {
	case err == nil:
		return errInternal
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errNotFound
	case db.IsDuplicateKeyErr(err):
		return errConflict
	default:
		return errInternal
	}
}

func classifyErrorForLog(err error) (string, string) {
	appErr := toAppErr(err)
	return string(appErr.Kind), appErr.Code
}
