package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tianyehedashu/next-pcb-sub005/internal/shared/requestctx"
)

const (
	// AuthorizationHeader is the header key for authorization.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens.
	BearerPrefix = "Bearer "
	// ActorKey is the gin context key for the resolved actor.
	ActorKey = "actor"
)

// TokenVerifier validates an access token issued by the external identity
// service and returns the resolved actor.
type TokenVerifier interface {
	Verify(token string) (requestctx.Actor, error)
}

// JWTVerifier verifies HS256 tokens carrying sub/role/email claims.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for the shared signing secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

type actorClaims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verify implements TokenVerifier.
func (v *JWTVerifier) Verify(token string) (requestctx.Actor, error) {
	var claims actorClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return requestctx.Actor{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return requestctx.Actor{}, fmt.Errorf("invalid token")
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return requestctx.Actor{}, fmt.Errorf("invalid subject: %w", err)
	}

	role := requestctx.Role(claims.Role)
	switch role {
	case requestctx.RoleCustomer, requestctx.RoleAdmin:
	default:
		return requestctx.Actor{}, fmt.Errorf("unknown role %q", claims.Role)
	}

	return requestctx.Actor{ID: id, Role: role, Email: claims.Email}, nil
}

// Auth returns a middleware that resolves the actor from a bearer token.
// If optional is true, the middleware will not abort on missing/invalid tokens;
// guest access (order id + contact email) is handled at the handler level.
func Auth(verifier TokenVerifier, optional bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			if !optional {
				abortUnauthorized(c, "authorization header required")
				return
			}
			c.Next()
			return
		}

		actor, err := verifier.Verify(token)
		if err != nil {
			if !optional {
				abortUnauthorized(c, "invalid or expired token")
				return
			}
			c.Next()
			return
		}

		c.Set(ActorKey, actor)
		c.Request = c.Request.WithContext(requestctx.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// RequireAuth returns a middleware that requires a resolved actor.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return Auth(verifier, false)
}

// OptionalAuth returns a middleware that resolves the actor when present.
func OptionalAuth(verifier TokenVerifier) gin.HandlerFunc {
	return Auth(verifier, true)
}

// RequireAdmin aborts unless the resolved actor holds the admin role.
// A non-admin actor gets an authorization error, never a state error.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := GetActor(c)
		if !ok {
			abortUnauthorized(c, "authorization header required")
			return
		}
		if !actor.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "forbidden",
					"message": "admin role required",
				},
			})
			return
		}
		c.Next()
	}
}

// GetActor returns the resolved actor from the gin context.
func GetActor(c *gin.Context) (requestctx.Actor, bool) {
	if v, exists := c.Get(ActorKey); exists {
		if a, ok := v.(requestctx.Actor); ok {
			return a, true
		}
	}
	return requestctx.Actor{}, false
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": gin.H{
			"code":    "unauthorized",
			"message": message,
		},
	})
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader(AuthorizationHeader)
	if authHeader == "" {
		return ""
	}
	if strings.HasPrefix(authHeader, BearerPrefix) {
		return strings.TrimPrefix(authHeader, BearerPrefix)
	}
	return ""
}
