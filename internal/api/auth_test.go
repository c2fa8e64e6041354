package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestAuthenticatorMiddleware(t *testing.T) {
	now := time.Now()
	valid := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "alice",
		"exp": now.Add(time.Hour).Unix(),
	})

	tests := []struct {
		name        string
		allowHeader bool
		header      http.Header
		wantStatus  int
		wantCaller  string
	}{
		{
			name:       "valid token",
			header:     http.Header{"Authorization": {"Bearer " + valid}},
			wantStatus: http.StatusOK,
			wantCaller: "alice",
		},
		{
			name:       "lowercase scheme",
			header:     http.Header{"Authorization": {"bearer " + valid}},
			wantStatus: http.StatusOK,
			wantCaller: "alice",
		},
		{
			name: "expired token",
			header: http.Header{"Authorization": {"Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
				"sub": "alice",
				"exp": now.Add(-time.Hour).Unix(),
			})}},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "missing expiry",
			header: http.Header{"Authorization": {"Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
				"sub": "alice",
			})}},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "wrong secret",
			header: http.Header{"Authorization": {"Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{
				"sub": "alice",
				"exp": now.Add(time.Hour).Unix(),
			})}},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "empty subject",
			header: http.Header{"Authorization": {"Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
				"sub": " ",
				"exp": now.Add(time.Hour).Unix(),
			})}},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "anonymous",
			wantStatus: http.StatusOK,
		},
		{
			name:       "header principal ignored by default",
			header:     http.Header{PrincipalHeader: {"mallory"}},
			wantStatus: http.StatusOK,
		},
		{
			name:        "header principal when allowed",
			allowHeader: true,
			header:      http.Header{PrincipalHeader: {"bob"}},
			wantStatus:  http.StatusOK,
			wantCaller:  "bob",
		},
		{
			name:        "token wins over header",
			allowHeader: true,
			header: http.Header{
				"Authorization": {"Bearer " + valid},
				PrincipalHeader: {"bob"},
			},
			wantStatus: http.StatusOK,
			wantCaller: "alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret, AllowHeaderPrincipal: tt.allowHeader}, zap.NewNop().Sugar())

			var gotCaller string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotCaller, _ = CallerFrom(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.header {
				req.Header[k] = v
			}
			rec := httptest.NewRecorder()
			auth.Middleware(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCaller, gotCaller)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{AdminPrincipals: []string{" admin "}, AllowHeaderPrincipal: true}, zap.NewNop().Sugar())
	handler := auth.Middleware(auth.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	for principal, want := range map[string]int{
		"":      http.StatusUnauthorized,
		"alice": http.StatusForbidden,
		"admin": http.StatusNoContent,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if principal != "" {
			req.Header.Set(PrincipalHeader, principal)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, principal)
	}
}

func TestTokenRejectedWithoutSecret(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, zap.NewNop().Sugar())
	token := signToken(t, jwt.SigningMethodHS256, []byte("any-secret"), jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	auth.Middleware(http.NotFoundHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
