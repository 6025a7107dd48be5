package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"convertapi/internal/entities"
	"convertapi/internal/usecases"

	"github.com/gin-gonic/gin"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required,email,max=254"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	Name     string `json:"name" binding:"max=128"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type createKeyRequest struct {
	Name string `json:"name" binding:"max=64"`
}

type sessionResponse struct {
	User      *entities.User `json:"user"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expiresAt"`
	APIKey    *issuedKey     `json:"apiKey,omitempty"`
}

// issuedKey is the only response that ever carries a plaintext key.
type issuedKey struct {
	*entities.APIKey
	Key string `json:"key"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}
	res, err := h.svc.Auth.Register(c.Request.Context(), usecases.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     SanitizeString(req.Name),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, sessionResponse{
		User:      res.User,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		APIKey:    &issuedKey{APIKey: res.Key, Key: res.APIKey},
	})
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}
	res, err := h.svc.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, sessionResponse{User: res.User, Token: res.Token, ExpiresAt: res.ExpiresAt})
}

func (h *Handler) Profile(c *gin.Context) {
	userID := identityFrom(c).UserID()
	user, err := h.svc.Dashboard.Profile(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	usage, err := h.svc.Dashboard.Usage(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"user": user, "usage": usage})
}

func (h *Handler) CreateAPIKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, bindError(err))
		return
	}
	plaintext, key, err := h.svc.APIKeys.Create(c.Request.Context(), identityFrom(c).UserID(), SanitizeString(req.Name))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, issuedKey{APIKey: key, Key: plaintext})
}

func (h *Handler) ListAPIKeys(c *gin.Context) {
	keys, err := h.svc.APIKeys.List(c.Request.Context(), identityFrom(c).UserID())
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, keys)
}

func (h *Handler) DeleteAPIKey(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.APIKeys.Deactivate(c.Request.Context(), identityFrom(c).UserID(), id); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"id": id, "isActive": false})
}
