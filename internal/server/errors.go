package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	"github.com/smallbiznis/creatorops/internal/engine"
	entitydomain "github.com/smallbiznis/creatorops/internal/entity/domain"
	lifecycledomain "github.com/smallbiznis/creatorops/internal/lifecycle/domain"
	registrydomain "github.com/smallbiznis/creatorops/internal/registry/domain"
	"github.com/smallbiznis/creatorops/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// validationSentinels map domain input errors to a field name.
var validationSentinels = []struct {
	err   error
	field string
}{
	{ErrInvalidRequest, "request"},
	{registrydomain.ErrInvalidInput, "request"},
	{lifecycledomain.ErrInvalidStage, "stage"},
	{lifecycledomain.ErrReasonRequired, "reason"},
	{engine.ErrEventRequired, "name"},
	{auditdomain.ErrInvalidResolver, "resolved_by"},
	{entitydomain.ErrInvalidStatus, "status"},
	{pagination.ErrInvalidPageToken, "page_token"},
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

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if sentinel, field, ok := validationSentinel(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   field,
					Code:    sentinel.Error(),
					Message: validationErrorMessage(sentinel, err),
				},
			},
		}
	}

	switch {
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog gives the request log the same error type the client sees.
func classifyErrorForLog(err error) string {
	_, payload := mapError(err)
	return payload.Type
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationSentinel(err error) (error, string, bool) {
	for _, v := range validationSentinels {
		if errors.Is(err, v.err) {
			return v.err, v.field, true
		}
	}
	return nil, "", false
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, registrydomain.ErrAlreadyExist),
		errors.Is(err, auditdomain.ErrAlreadyResolved),
		errors.Is(err, lifecycledomain.ErrNotChurned):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, entitydomain.ErrNotFound),
		errors.Is(err, registrydomain.ErrNotFound),
		errors.Is(err, lifecycledomain.ErrNotFound),
		errors.Is(err, auditdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, auditdomain.ErrAlreadyResolved):
		return "already resolved"
	case errors.Is(err, lifecycledomain.ErrNotChurned):
		return "entity is not churned"
	case errors.Is(err, registrydomain.ErrAlreadyExist):
		return "already exists"
	default:
		return "conflict"
	}
}

// validationErrorMessage keeps the detail a wrapped error adds after the sentinel.
func validationErrorMessage(sentinel, err error) string {
	detail := strings.TrimPrefix(err.Error(), sentinel.Error())
	detail = strings.TrimSpace(strings.TrimPrefix(detail, ":"))
	if detail == "" {
		return "invalid value"
	}
	return detail
}
