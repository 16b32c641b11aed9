package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/pkg/logger"
)

// ErrorResponse is the error body every endpoint returns.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Recovery turns panics into 500 responses instead of dropped
// connections.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("%v", r)
				}
				logger.Error("Panic recovered", err, map[string]interface{}{
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				})
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Error: "Internal server error",
					Code:  "INTERNAL_ERROR",
				})
			}
		}()
		c.Next()
	}
}

// Respond writes the response for a failed operation, mapping domain
// errors onto their status codes. Server-side failures are logged here
// so the handlers don't have to.
func Respond(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", err, map[string]interface{}{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		})
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

// classify resolves an error to its HTTP status and machine code. The
// sentinel errors of the models package come first; everything else
// goes through the domain error kinds.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrServerNotFound), errors.Is(err, models.ErrUserNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, models.ErrServerNameTaken):
		return http.StatusConflict, "NAME_TAKEN"
	case errors.Is(err, models.ErrSubdomainTaken):
		return http.StatusConflict, "SUBDOMAIN_TAKEN"
	case errors.Is(err, models.ErrServerQuotaExceeded):
		return http.StatusConflict, "QUOTA_EXCEEDED"
	case errors.Is(err, models.ErrEmailAlreadyExists):
		return http.StatusConflict, "EMAIL_TAKEN"
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS"
	}

	kind := models.KindOf(err)
	return kind.HTTPStatus(), errorCode(kind)
}

func errorCode(kind models.ErrorKind) string {
	switch kind {
	case models.KindValidation:
		return "VALIDATION_ERROR"
	case models.KindAuthorization:
		return "FORBIDDEN"
	case models.KindConflict:
		return "CONFLICT"
	case models.KindExternalUnavailable:
		return "UPSTREAM_UNAVAILABLE"
	case models.KindInconsistent:
		return "STATE_INCONSISTENT"
	case models.KindCanceled:
		return "CANCELED"
	default:
		return "INTERNAL_ERROR"
	}
}
