package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey struct{}

// AuthConfig describes the tokens issued by the identity provider.
type AuthConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
}

// Authenticator resolves the bearer token to a user id and makes sure the
// user has an account.
type Authenticator struct {
	cfg     AuthConfig
	handler *Handler
}

func NewAuthenticator(cfg AuthConfig, h *Handler) *Authenticator {
	return &Authenticator{cfg: cfg, handler: h}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		subject, err := a.subject(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		if strings.TrimSpace(subject) == "" {
			writeError(w, http.StatusForbidden, "token has no subject")
			return
		}

		if err := a.handler.svc.EnsureAccount(r.Context(), subject); err != nil {
			a.handler.respondError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, subject)))
	})
}

func (a *Authenticator) subject(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		if len(a.cfg.Secret) == 0 {
			return nil, errors.New("auth secret not configured")
		}
		return a.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
