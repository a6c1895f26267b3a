package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func entry(t *testing.T, name, role, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return name + ":" + role + ":" + string(hash)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService([]string{
		entry(t, "ops", "operator", "ops-secret"),
		entry(t, "dash", "viewer", "dash-secret"),
		entry(t, "root", "admin", "root-secret"),
	})
	require.NoError(t, err)
	return s
}

func TestParseToken(t *testing.T) {
	tok, err := ParseToken(entry(t, "ops", "operator", "s"))
	require.NoError(t, err)
	assert.Equal(t, "ops", tok.Name)
	assert.Equal(t, "operator", tok.Role)

	for _, bad := range []string{"", "ops", "ops:operator", "ops:operator:not-bcrypt", entry(t, "x", "superuser", "s")} {
		_, err := ParseToken(bad)
		assert.Error(t, err, bad)
	}
}

func TestHashSecret(t *testing.T) {
	hash, err := HashSecret("hunter2")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")))

	_, err = HashSecret(" ")
	assert.Error(t, err)
}

func TestEnforce(t *testing.T) {
	s := newTestService(t)
	tests := []struct {
		name, obj, act string
		want           bool
	}{
		{"ops", ObjCalculations, ActWrite, true},
		{"ops", ObjRates, ActRead, true},
		{"ops", ObjRates, ActWrite, false},
		{"dash", ObjCalculations, ActRead, true},
		{"dash", ObjCalculations, ActWrite, false},
		{"root", ObjRates, ActWrite, true},
		{"stranger", ObjRates, ActRead, false},
	}
	for _, tt := range tests {
		got, err := s.Enforce(tt.name, tt.obj, tt.act)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %s %s", tt.name, tt.obj, tt.act)
	}
}

func TestMiddleware(t *testing.T) {
	s := newTestService(t)
	h := s.Middleware(s.RequirePermission(ObjCalculations, ActWrite, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := TokenFromContext(r.Context())
		require.True(t, ok)
		w.Write([]byte(tok.Name))
	})))

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic b3BzOm9wcw==", http.StatusUnauthorized},
		{"unknown secret", "Bearer nope", http.StatusUnauthorized},
		{"viewer forbidden", "Bearer dash-secret", http.StatusForbidden},
		{"operator allowed", "Bearer ops-secret", http.StatusOK},
		{"admin allowed", "bearer root-secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/energy-calculations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestMiddleware_DisabledPassesThrough(t *testing.T) {
	s, err := NewService(nil)
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	called := false
	h := s.Middleware(s.RequirePermission(ObjRates, ActWrite, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}
