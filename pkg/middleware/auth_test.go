package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/richxcame/risk-engine/pkg/jwtkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-key"

func init() {
	gin.SetMode(gin.TestMode)
}

func generateTestToken(t *testing.T, userID int64, role string, expiresIn time.Duration) string {
	t.Helper()
	claims := Claims{
		UserID: userID,
		Email:  "user@example.com",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func newAuthRouter(mw ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(mw...)
	router.GET("/test", func(c *gin.Context) {
		userID, _ := GetUserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "role": GetUserRole(c)})
	})
	return router
}

func TestAuthMiddleware(t *testing.T) {
	provider := jwtkeys.NewStaticProvider(testJWTSecret)
	router := newAuthRouter(AuthMiddlewareWithProvider(provider))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"expired token", "Bearer " + generateTestToken(t, 7, RoleUser, -time.Hour), http.StatusUnauthorized},
		{"valid token", "Bearer " + generateTestToken(t, 7, RoleUser, time.Hour), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestAuthMiddleware_SetsIdentity(t *testing.T) {
	router := gin.New()
	router.Use(AuthMiddlewareWithProvider(jwtkeys.NewStaticProvider(testJWTSecret)))
	router.GET("/test", func(c *gin.Context) {
		userID, err := GetUserID(c)
		assert.NoError(t, err)
		assert.Equal(t, int64(42), userID)
		assert.Equal(t, "user@example.com", c.GetString("user_email"))
		assert.Equal(t, RoleAdmin, GetUserRole(c))
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, 42, RoleAdmin, time.Hour))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestServiceOrUserAuth(t *testing.T) {
	provider := jwtkeys.NewStaticProvider(testJWTSecret)
	router := newAuthRouter(ServiceOrUserAuth("svc-token", provider))

	t.Run("valid service token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(ServiceTokenHeader, "svc-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"role":"service"`)
	})

	t.Run("wrong service token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(ServiceTokenHeader, "nope")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("falls back to bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+generateTestToken(t, 9, RoleUser, time.Hour))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"user_id":9`)
	})
}

func TestServiceOrUserAuth_NoTokenConfigured(t *testing.T) {
	router := newAuthRouter(ServiceOrUserAuth("", jwtkeys.NewStaticProvider(testJWTSecret)))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(ServiceTokenHeader, "anything")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	provider := jwtkeys.NewStaticProvider(testJWTSecret)
	router := newAuthRouter(AuthMiddlewareWithProvider(provider), RequireAdmin())

	for role, status := range map[string]int{RoleAdmin: http.StatusOK, RoleUser: http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer "+generateTestToken(t, 1, role, time.Hour))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, status, w.Code, role)
	}
}

func TestGetUserID_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, err := GetUserID(c)
	assert.Error(t, err)
}
