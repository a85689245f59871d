package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/ajharbinger/dilution-monitor/internal/errors"
)

// Context keys set by JWTMiddleware
const (
	SubjectKey = "subject"
	RoleKey    = "user_role"
)

// RoleAdmin is required for configuration and pipeline control endpoints
const RoleAdmin = "admin"

// CookieName is the cookie JWTMiddleware reads when no Authorization header is sent
const CookieName = "auth_token"

const issuer = "dilution-monitor"

// Claims represents JWT claims
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTService handles JWT token operations
type JWTService struct {
	secret []byte
	now    func() time.Time
}

// NewJWTService creates a new JWT service
func NewJWTService(secret string) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// GenerateToken signs a token for subject with the given role, valid for ttl
func (j *JWTService) GenerateToken(subject, role string, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("subject is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	now := j.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ValidateToken validates a JWT token and returns claims
func (j *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(j.now))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// JWTMiddleware validates a bearer token, falling back to the auth cookie.
// Cookie-authenticated writes must also pass the double-submit CSRF check.
func JWTMiddleware(secret string) gin.HandlerFunc {
	service := NewJWTService(secret)
	return func(c *gin.Context) {
		var tokenString string
		fromCookie := false

		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				reject(c, apperrors.Unauthorized("Bearer token required", nil))
				return
			}
		} else {
			cookie, err := c.Cookie(CookieName)
			if err != nil || cookie == "" {
				reject(c, apperrors.Unauthorized("Authentication required", nil))
				return
			}
			tokenString = cookie
			fromCookie = true
		}

		claims, err := service.ValidateToken(tokenString)
		if err != nil {
			reject(c, apperrors.Unauthorized("Invalid token", err))
			return
		}

		if fromCookie && !checkCSRF(c) {
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// RequireRole rejects requests whose token does not carry role
func RequireRole(role string) gin.HandlerFunc {
	denied := role + " access required"
	return func(c *gin.Context) {
		if got, _ := c.Get(RoleKey); got != role {
			reject(c, apperrors.Forbidden(denied, nil))
			return
		}
		c.Next()
	}
}

// checkCSRF validates the CSRF token for state-changing operations
func checkCSRF(c *gin.Context) bool {
	switch c.Request.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}

	csrfCookie, err := c.Cookie("csrf_token")
	if err != nil {
		reject(c, apperrors.Forbidden("CSRF token required in cookie", nil))
		return false
	}

	csrfHeader := c.GetHeader("X-CSRF-Token")
	if csrfHeader == "" {
		reject(c, apperrors.Forbidden("CSRF token required in X-CSRF-Token header", nil))
		return false
	}

	if csrfCookie != csrfHeader {
		reject(c, apperrors.Forbidden("CSRF token mismatch", nil))
		return false
	}
	return true
}

// reject aborts the request with the error's status and code
func reject(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(apperrors.HTTPStatus(err), gin.H{"error": err.Message, "code": err.Code})
}
