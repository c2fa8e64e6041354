package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// PrincipalHeader names the caller directly when AllowHeaderPrincipal is set.
// Only meant for local development without a token issuer.
const PrincipalHeader = "X-Kong-Principal"

type AuthConfig struct {
	HMACSecret           string
	AdminPrincipals      []string
	AllowHeaderPrincipal bool
	ClockSkew            time.Duration
}

type contextKey string

const contextKeyCaller contextKey = "kong.caller"

// CallerFrom returns the authenticated principal, if any.
func CallerFrom(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(string)
	return caller, ok && caller != ""
}

func withCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, contextKeyCaller, caller)
}

// Authenticator resolves the caller from a bearer JWT whose sub claim is the
// principal id.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	admins map[string]bool
	logger *zap.SugaredLogger
}

func NewAuthenticator(cfg AuthConfig, logger *zap.SugaredLogger) *Authenticator {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	admins := make(map[string]bool, len(cfg.AdminPrincipals))
	for _, p := range cfg.AdminPrincipals {
		admins[strings.TrimSpace(p)] = true
	}
	return &Authenticator{
		cfg:    cfg,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		admins: admins,
		logger: logger,
	}
}

// Middleware attaches the caller to the request context. Requests without
// credentials pass through anonymously; bad credentials are rejected.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenString := extractBearer(r.Header.Get("Authorization")); tokenString != "" {
			principal, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Debugw("Token validation failed", "error", err)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), principal)))
			return
		}
		if a.cfg.AllowHeaderPrincipal {
			if principal := strings.TrimSpace(r.Header.Get(PrincipalHeader)); principal != "" {
				next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), principal)))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) parseToken(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub = strings.TrimSpace(sub); sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// RequireCaller rejects anonymous requests.
func (a *Authenticator) RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CallerFrom(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin only lets configured admin principals through.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		if !a.IsAdmin(caller) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) IsAdmin(principal string) bool {
	return a.admins[principal]
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
