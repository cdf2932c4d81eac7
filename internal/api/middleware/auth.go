package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	jwtpkg "github.com/calonkonglo/rwa-lending-platform/pkg/jwt"
)

const accountKey = "account"

var (
	ErrAccountNotFound = &AuthError{message: "account not found in context"}
	ErrInvalidAccount  = &AuthError{message: "invalid account in context"}
)

// AuthError represents an authentication error
type AuthError struct {
	message string
}

func (e *AuthError) Error() string {
	return e.message
}

// AuthMiddleware creates authentication middleware. The verified wallet
// address becomes the account identity for all position endpoints.
func AuthMiddleware(jwtManager *jwtpkg.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := jwtManager.Verify(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(accountKey, claims.WalletAddress)

		c.Next()
	}
}

// GetAccount extracts the authenticated wallet address from context
func GetAccount(c *gin.Context) (string, error) {
	value, exists := c.Get(accountKey)
	if !exists {
		return "", ErrAccountNotFound
	}

	account, ok := value.(string)
	if !ok || account == "" {
		return "", ErrInvalidAccount
	}

	return account, nil
}
