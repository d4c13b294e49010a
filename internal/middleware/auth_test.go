package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func signToken(t *testing.T, secret, userID, role string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")
	defer viper.Set("jwt.secret_key", "")

	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := r.Context().Value("userID").(string)
		role, _ := r.Context().Value("role").(string)
		w.Header().Set("X-User", userID)
		w.Header().Set("X-Role", role)
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid token sets identity on context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret", "user-1", "user"))
		w := httptest.NewRecorder()

		AuthMiddleware(echo).ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "user-1", w.Header().Get("X-User"))
		assert.Equal(t, "user", w.Header().Get("X-Role"))
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
		w := httptest.NewRecorder()

		AuthMiddleware(echo).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
		req.Header.Set("Authorization", "Token abc")
		w := httptest.NewRecorder()

		AuthMiddleware(echo).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", "user-1", "user"))
		w := httptest.NewRecorder()

		AuthMiddleware(echo).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireAdmin(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")
	defer viper.Set("jwt.secret_key", "")

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	stack := AuthMiddleware(RequireAdmin(ok))

	t.Run("admin passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/transactions", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret", "admin-1", "admin"))
		w := httptest.NewRecorder()

		stack.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("regular user forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/transactions", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret", "user-1", "user"))
		w := httptest.NewRecorder()

		stack.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
