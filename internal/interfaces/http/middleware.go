package http

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"convertapi/internal/infrastructure"
	"convertapi/internal/usecases"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ctxIdentity = "identity"

type Middleware struct {
	gateway        *usecases.CredentialGateway
	limiter        *infrastructure.KeyedLimiter
	anonLimiter    *infrastructure.KeyedLimiter
	metrics        *infrastructure.Metrics
	logger         *zap.SugaredLogger
	allowAnonymous bool
}

// NewMiddleware wires the auth and rate limiting chain. Either limiter may be nil.
func NewMiddleware(gateway *usecases.CredentialGateway, limiter, anonLimiter *infrastructure.KeyedLimiter, metrics *infrastructure.Metrics, logger *zap.SugaredLogger, allowAnonymous bool) *Middleware {
	return &Middleware{
		gateway:        gateway,
		limiter:        limiter,
		anonLimiter:    anonLimiter,
		metrics:        metrics,
		logger:         logger,
		allowAnonymous: allowAnonymous,
	}
}

func identityFrom(c *gin.Context) *usecases.Identity {
	if v, ok := c.Get(ctxIdentity); ok {
		if id, ok := v.(*usecases.Identity); ok {
			return id
		}
	}
	return nil
}

// RequestLogger logs one line per request and records request metrics.
func (m *Middleware) RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.metrics.ObserveRequest(route, c.Request.Method, strconv.Itoa(status), elapsed.Seconds())

		fields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"bytes", c.Writer.Size(),
			"duration", elapsed,
			"client_ip", c.ClientIP(),
		}
		if id := identityFrom(c); id != nil {
			fields = append(fields, "user_id", id.UserID(), "auth", id.Method)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.String())
		}
		switch {
		case status >= http.StatusInternalServerError:
			m.logger.Errorw("request", fields...)
		case status >= http.StatusBadRequest:
			m.logger.Warnw("request", fields...)
		default:
			m.logger.Infow("request", fields...)
		}
	}
}

func (m *Middleware) Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		m.logger.Errorw("panic in handler", "path", c.Request.URL.Path, "panic", recovered)
		abortWithCode(c, http.StatusInternalServerError, codeInternal, "internal server error")
	})
}

func (m *Middleware) authenticate(c *gin.Context, opts usecases.AuthOptions, optional bool) bool {
	token, err := usecases.BearerToken(c.GetHeader("Authorization"))
	if err != nil {
		respondError(c, err)
		return false
	}
	if token == "" && optional {
		return true
	}
	id, err := m.gateway.Authenticate(c.Request.Context(), token, opts)
	if err != nil {
		respondError(c, err)
		return false
	}
	c.Set(ctxIdentity, id)
	return true
}

// AuthRequired rejects requests without a valid credential.
func (m *Middleware) AuthRequired(opts usecases.AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.authenticate(c, opts, false) {
			c.Next()
		}
	}
}

// AuthOptional attaches an identity when a credential is sent. A bad
// credential is still rejected.
func (m *Middleware) AuthOptional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.authenticate(c, usecases.AuthOptions{}, true) {
			c.Next()
		}
	}
}

// SubmissionAuth guards POST /api/convert: an API key with the quota checked
// inline, or nothing at all when anonymous conversion is enabled.
func (m *Middleware) SubmissionAuth() gin.HandlerFunc {
	opts := usecases.AuthOptions{APIKeyOnly: true, EnforceQuota: true}
	return func(c *gin.Context) {
		if m.allowAnonymous && c.GetHeader("Authorization") == "" {
			if !allow(c, m.anonLimiter, "anon:"+c.ClientIP()) {
				return
			}
			c.Next()
			return
		}
		if m.authenticate(c, opts, false) {
			c.Next()
		}
	}
}

func (m *Middleware) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identityFrom(c)
		if id == nil || id.User == nil || !id.User.IsAdmin() {
			abortWithCode(c, http.StatusForbidden, codeForbidden, "admin access required")
			return
		}
		c.Next()
	}
}

func userLimitKey(userID string) string {
	return "user:" + userID
}

// ResetUserLimit drops a user's request bucket so a new plan applies at once.
func (m *Middleware) ResetUserLimit(userID string) {
	if m.limiter == nil {
		return
	}
	m.limiter.Reset(userLimitKey(userID))
}

// RateLimit applies the per-identity request limit, falling back to the client IP.
func (m *Middleware) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if id := identityFrom(c); id != nil {
			key = userLimitKey(id.UserID())
		}
		if allow(c, m.limiter, key) {
			c.Next()
		}
	}
}

func allow(c *gin.Context, l *infrastructure.KeyedLimiter, key string) bool {
	if l == nil || l.Allow(key) {
		return true
	}
	retry := int(math.Ceil(l.RetryAfter(key).Seconds()))
	if retry < 1 {
		retry = 1
	}
	c.Header("Retry-After", strconv.Itoa(retry))
	abortWithCode(c, http.StatusTooManyRequests, codeRateLimit, "too many requests")
	return false
}

// SecurityHeaders adds security headers to prevent common attacks
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Writer.Header().Set("X-Frame-Options", "DENY")
		c.Writer.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Writer.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Writer.Header().Set("Cache-Control", "no-store")
		c.Next()
	}
}

// RequestSizeLimiter limits request body size to prevent DoS
func RequestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
