package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/richxcame/risk-engine/pkg/common"
	"github.com/richxcame/risk-engine/pkg/jwtkeys"
)

// Roles carried in the token's role claim
const (
	RoleUser    = "user"
	RoleAdmin   = "admin"
	RoleService = "service"
)

// ServiceTokenHeader carries the shared token internal callers use instead of a JWT
const ServiceTokenHeader = "X-Service-Token"

// Claims is the JWT payload issued by the identity service
type Claims struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddlewareWithProvider validates the bearer token and stores the
// caller's identity in the gin context.
func AuthMiddlewareWithProvider(provider jwtkeys.KeyProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := parseBearer(c.GetHeader("Authorization"), provider)
		if err != nil {
			common.AbortWithError(c, http.StatusUnauthorized, err.Error())
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

// ServiceOrUserAuth accepts either the shared service token or a bearer JWT.
// Service callers are stored with the service role and no user id.
func ServiceOrUserAuth(serviceToken string, provider jwtkeys.KeyProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := c.GetHeader(ServiceTokenHeader); token != "" {
			if serviceToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(serviceToken)) != 1 {
				common.AbortWithError(c, http.StatusUnauthorized, "invalid service token")
				return
			}
			c.Set("user_role", RoleService)
			c.Next()
			return
		}

		claims, err := parseBearer(c.GetHeader("Authorization"), provider)
		if err != nil {
			common.AbortWithError(c, http.StatusUnauthorized, err.Error())
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

// RequireRole aborts with 403 unless the caller has one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("user_role")
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		common.AbortWithError(c, http.StatusForbidden, "insufficient permissions")
	}
}

// RequireAdmin aborts with 403 unless the caller is an admin
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(RoleAdmin)
}

// GetUserID returns the authenticated user's id
func GetUserID(c *gin.Context) (int64, error) {
	v, exists := c.Get("user_id")
	if !exists {
		return 0, errors.New("user not authenticated")
	}
	id, ok := v.(int64)
	if !ok || id <= 0 {
		return 0, errors.New("invalid user id in context")
	}
	return id, nil
}

// GetUserRole returns the authenticated caller's role
func GetUserRole(c *gin.Context) string {
	return c.GetString("user_role")
}

func setIdentity(c *gin.Context, claims *Claims) {
	c.Set("user_id", claims.UserID)
	c.Set("user_email", claims.Email)
	c.Set("user_role", claims.Role)
}

func parseBearer(header string, provider jwtkeys.KeyProvider) (*Claims, error) {
	if header == "" {
		return nil, errors.New("authorization header required")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, errors.New("invalid authorization header format")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			if key := provider.LegacyKey(); len(key) > 0 {
				return key, nil
			}
		}
		return provider.ResolveKey(kid)
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	return claims, nil
}
