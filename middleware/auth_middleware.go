package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"craftshop/storefront/logging"
	"craftshop/storefront/utils"
)

// Context keys set for authenticated requests.
const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
	ContextAPIKey    = "api_key"
)

// TokenCookie carries the customer session token.
const TokenCookie = "jwt_token"

// TokenValidator checks customer session tokens.
type TokenValidator interface {
	ValidateJWT(token string) (*utils.Claims, error)
}

// AuthRequired admits requests carrying the service API key in X-API-KEY or
// a valid customer token in the jwt_token cookie or Authorization header.
// An empty apiKey disables key access.
func AuthRequired(tokens TokenValidator, apiKey string) gin.HandlerFunc {
	log := logging.Component("auth")
	return func(c *gin.Context) {
		if key := c.GetHeader("X-API-KEY"); apiKey != "" && key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
				c.Set(ContextAPIKey, true)
				c.Next()
				return
			}
		}

		tokenString := bearerToken(c)
		if tokenString == "" {
			log.Debug().Str("path", c.FullPath()).Msg("no token in cookie or header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}

		claims, err := tokens.ValidateJWT(tokenString)
		if err != nil {
			log.Debug().Err(err).Msg("rejected token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}

// OptionalAuth attaches the customer identity when a valid token is present
// and lets anonymous requests through untouched.
func OptionalAuth(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString := bearerToken(c); tokenString != "" {
			if claims, err := tokens.ValidateJWT(tokenString); err == nil {
				c.Set(ContextUserID, claims.UserID)
				c.Set(ContextUserEmail, claims.Email)
			}
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if token, err := c.Cookie(TokenCookie); err == nil && token != "" {
		return token
	}
	return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
}
