package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// adminTokenTTL is the lifetime of an issued admin token.
const adminTokenTTL = time.Hour

// AuthHandler exchanges the configured admin secret for a short-lived
// bearer token and provides the middleware that gates the administrative
// routes. The secret itself is held only as a bcrypt hash; tokens are
// HS256 JWTs signed with a random per-process key, so a restart
// invalidates outstanding tokens.
type AuthHandler struct {
	secretHash []byte
	signingKey []byte
	logger     *zap.Logger
}

// NewAuthHandler creates an AuthHandler for the given admin secret. An
// empty secret disables the admin API entirely: token issuance always
// fails and the middleware rejects every request.
func NewAuthHandler(adminSecret string, logger *zap.Logger) (*AuthHandler, error) {
	h := &AuthHandler{
		signingKey: []byte(uuid.New().String() + uuid.New().String()),
		logger:     logger,
	}
	if adminSecret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(adminSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		h.secretHash = hash
	}
	return h, nil
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.IssueToken)
}

// tokenRequest is the payload for POST /auth/token.
type tokenRequest struct {
	AdminSecret string `json:"admin_secret" binding:"required"`
}

// IssueToken handles POST /auth/token.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.secretHash == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin API is disabled (no admin secret configured)"})
		return
	}
	if err := bcrypt.CompareHashAndPassword(h.secretHash, []byte(req.AdminSecret)); err != nil {
		h.logger.Warn("admin token request with wrong secret", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin secret"})
		return
	}

	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   "admin",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(adminTokenTTL)),
		ID:        uuid.New().String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.signingKey)
	if err != nil {
		h.logger.Error("sign admin token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      signed,
		"expires_at": claims.ExpiresAt.Time,
	})
}

// Middleware returns a Gin middleware that requires a valid admin bearer
// token.
func (h *AuthHandler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if raw == "" || raw == c.GetHeader("Authorization") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return h.signingKey, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Next()
	}
}
