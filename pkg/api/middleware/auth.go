package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"seatengine/pkg/auth"
)

const (
	// AuthHeaderKey carries "Bearer <jwt>".
	AuthHeaderKey = "Authorization"
	// APIKeyHeaderKey carries a key issued through /api/v1/apikeys.
	APIKeyHeaderKey = "X-API-Key"
	// ContextUserKey holds the caller's *auth.Claims.
	ContextUserKey = "user"
	// ContextRequestIDKey is the key used to store request ID
	ContextRequestIDKey = "request_id"
)

// AuthConfig holds authentication middleware configuration
type AuthConfig struct {
	JWTService  *auth.JWTService
	APIKeyStore auth.APIKeyStore
	SkipPaths   []string // e.g. /health, /metrics
}

// AuthMiddleware identifies the caller from a Bearer token, falling back to an
// X-API-Key header. Credentials carrying a role outside the election roles are
// refused like missing ones.
func AuthMiddleware(config AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, path := range config.SkipPaths {
			if matchPath(c.Request.URL.Path, path) {
				c.Next()
				return
			}
		}

		claims := bearerClaims(c, config.JWTService)
		if claims == nil {
			claims = apiKeyClaims(c, config.APIKeyStore)
		}
		if claims == nil || !claims.Role.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
				"hint":  "provide Bearer token or X-API-Key header",
			})
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

func bearerClaims(c *gin.Context, jwtService *auth.JWTService) *auth.Claims {
	if jwtService == nil {
		return nil
	}
	scheme, token, ok := strings.Cut(c.GetHeader(AuthHeaderKey), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return nil
	}
	claims, err := jwtService.ValidateToken(token)
	if err != nil {
		return nil
	}
	return claims
}

// apiKeyClaims maps a stored key to claims; the key owner acts as the caller.
func apiKeyClaims(c *gin.Context, store auth.APIKeyStore) *auth.Claims {
	key := c.GetHeader(APIKeyHeaderKey)
	if store == nil || key == "" {
		return nil
	}
	info, err := store.ValidateKey(c.Request.Context(), key)
	if err != nil {
		return nil
	}
	return &auth.Claims{
		UserID:   info.OwnerID,
		Username: info.Name,
		Role:     info.Role,
	}
}

// GetUserFromContext retrieves caller claims from the request context
func GetUserFromContext(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

// Observer admits every authenticated caller: reads, eligibility, and compute or
// compare previews, none of which persist anything.
func Observer() gin.HandlerFunc { return RequireRole(auth.RoleObserver) }

// Commissioner admits callers who may register elections, replace tallies and
// enqueue persisted runs.
func Commissioner() gin.HandlerFunc { return RequireRole(auth.RoleCommissioner) }

// Admin admits callers who manage API keys.
func Admin() gin.HandlerFunc { return RequireRole(auth.RoleAdmin) }

// RequireRole creates a middleware that requires a minimum role level
func RequireRole(required auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetUserFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		if !claims.Role.HasPermission(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"required": required,
				"current":  claims.Role,
			})
			return
		}

		c.Next()
	}
}

// CallerFields identifies the caller on audit log lines of writes to election data.
func CallerFields(c *gin.Context) []zap.Field {
	claims, ok := GetUserFromContext(c)
	if !ok {
		return nil
	}
	return []zap.Field{
		zap.String("caller_id", claims.UserID),
		zap.String("caller_role", string(claims.Role)),
	}
}

// matchPath checks if a request path matches a pattern
// Supports wildcards: /api/* matches /api/anything
func matchPath(path, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "*"))
	}
	return path == pattern
}
