package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// context keys set by the auth middleware
const (
	accountIDKey = "account_id"
	roleKey      = "role"
)

// RoleAdmin is the role claim allowed to create surveys
const RoleAdmin = "admin"

// ErrEmptySecret is returned when a token would be signed with an empty key
var ErrEmptySecret = errors.New("jwt secret is empty")

// AccountClaims are the claims of an access token, the subject is the account id
type AccountClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware resolves the requesting account from a bearer token
type AuthMiddleware struct {
	jwtSecret []byte
}

// NewAuthMiddleware creates the middleware. With an empty secret every
// request is rejected.
func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: []byte(jwtSecret),
	}
}

// RequireAuth rejects requests without a valid HS256 token
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(am.jwtSecret) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication is not configured"})
			return
		}

		authHeader := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is required"})
			return
		}

		claims := &AccountClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return am.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no subject"})
			return
		}

		c.Set(accountIDKey, claims.Subject)
		c.Set(roleKey, claims.Role)
		c.Next()
	}
}

// RequireRole rejects authenticated requests without the given role
func (am *AuthMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(roleKey) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		c.Next()
	}
}

// SignToken issues a token for an account. Used by tests and tooling,
// the service itself does not log anybody in.
func SignToken(secret, accountID, role string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	claims := AccountClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: accountID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
