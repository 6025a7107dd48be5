package http

import (
	"errors"
	"io"
	"net/http"

	"convertapi/internal/entities"
	"convertapi/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

const (
	codeValidation = "validation_error"
	codeForbidden  = "forbidden"
	codeQuota      = "quota_exceeded"
	codeRateLimit  = "rate_limited"
	codeNotFound   = "not_found"
	codeNotReady   = "not_ready"
	codeConflict   = "conflict"
	codeInternal   = "internal_error"
)

// envelope is the single response shape for every endpoint.
type envelope struct {
	Success bool                    `json:"success"`
	Data    any                     `json:"data,omitempty"`
	Error   string                  `json:"error,omitempty"`
	Message string                  `json:"message,omitempty"`
	Limits  *entities.UsageSnapshot `json:"limits,omitempty"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func abortWithCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, envelope{Error: code, Message: message})
}

// respondError is the one place errors become HTTP statuses.
func respondError(c *gin.Context, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func classify(err error) (int, envelope) {
	var (
		credErr  *usecases.CredentialError
		validErr *entities.ValidationError
		quotaErr *entities.QuotaExceededError
	)
	switch {
	case errors.As(err, &credErr):
		status := http.StatusUnauthorized
		if credErr.Kind == usecases.CredentialSessionInvalid {
			status = http.StatusForbidden
		}
		return status, envelope{Error: string(credErr.Kind), Message: credErr.Message}
	case errors.As(err, &validErr):
		return http.StatusBadRequest, envelope{Error: codeValidation, Message: validErr.Error()}
	case errors.As(err, &quotaErr):
		usage := quotaErr.Usage
		return http.StatusTooManyRequests, envelope{Error: codeQuota, Message: quotaErr.Error(), Limits: &usage}
	case errors.Is(err, entities.ErrJobNotReady):
		return http.StatusBadRequest, envelope{Error: codeNotReady, Message: "job is not ready for download"}
	case errors.Is(err, entities.ErrJobNotFound),
		errors.Is(err, entities.ErrUserNotFound),
		errors.Is(err, entities.ErrAPIKeyNotFound),
		errors.Is(err, entities.ErrToolNotFound):
		return http.StatusNotFound, envelope{Error: codeNotFound, Message: err.Error()}
	case errors.Is(err, entities.ErrEmailTaken):
		return http.StatusConflict, envelope{Error: codeConflict, Message: err.Error()}
	case errors.Is(err, entities.ErrInvalidCredentials):
		return http.StatusUnauthorized, envelope{Error: string(usecases.CredentialInvalid), Message: err.Error()}
	case errors.Is(err, entities.ErrForbidden):
		return http.StatusForbidden, envelope{Error: codeForbidden, Message: "insufficient permissions"}
	}
	return http.StatusInternalServerError, envelope{Error: codeInternal, Message: "internal server error"}
}

// bindError turns a gin binding failure into a validation error.
func bindError(err error) error {
	if errors.Is(err, io.EOF) {
		return &entities.ValidationError{Field: "body", Message: "request body is required"}
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := lowerFirst(fe.Field())
		switch fe.Tag() {
		case "required":
			return &entities.ValidationError{Field: field, Message: "is required"}
		case "email":
			return &entities.ValidationError{Field: field, Message: "must be a valid email address"}
		case "min":
			return &entities.ValidationError{Field: field, Message: "must be at least " + fe.Param() + " characters"}
		case "max":
			return &entities.ValidationError{Field: field, Message: "must be at most " + fe.Param() + " characters"}
		case "oneof":
			return &entities.ValidationError{Field: field, Message: "must be one of: " + fe.Param()}
		}
		return &entities.ValidationError{Field: field, Message: "is invalid"}
	}
	return &entities.ValidationError{Field: "body", Message: "malformed request body"}
}
