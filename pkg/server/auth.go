package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/ssdims/ssdims/pkg/log"
)

// tokenVerifier validates a raw ID token and returns the email it was issued
// to.
type tokenVerifier func(ctx context.Context, rawIDToken string) (string, error)

func oidcEmailVerifier(v *oidc.IDTokenVerifier) tokenVerifier {
	return func(ctx context.Context, rawIDToken string) (string, error) {
		idToken, err := v.Verify(ctx, rawIDToken)
		if err != nil {
			return "", err
		}
		var claims struct {
			Email         string `json:"email"`
			EmailVerified *bool  `json:"email_verified"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return "", err
		}
		if claims.Email == "" {
			return "", errors.New("token has no email claim")
		}
		if claims.EmailVerified != nil && !*claims.EmailVerified {
			return "", errors.New("token email is not verified")
		}
		return claims.Email, nil
	}
}

// updateAuthMiddleware guards endpoints that change what the coordinator
// does. Callers need a bearer ID token whose email is allowed unless auth is
// bypassed.
func (s *Server) updateAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.bypassAuth {
			next.ServeHTTP(w, r)
			return
		}
		if s.updateVerifier == nil {
			log.Ctx(ctx).WarnContext(ctx, "missing authentication for update")
			writeJSONError(w, "missing authentication", http.StatusUnauthorized)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			writeJSONError(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}

		email, err := s.updateVerifier(ctx, parts[1])
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to validate id token", slog.Any("error", err))
			writeJSONError(w, "invalid id token", http.StatusUnauthorized)
			return
		}
		if !slices.Contains(s.updateAllowedEmails, email) {
			log.Ctx(ctx).WarnContext(ctx, "unauthorized email for update", slog.String("email", email))
			writeJSONError(w, "unauthorized email", http.StatusForbidden)
			return
		}
		log.Ctx(ctx).DebugContext(ctx, "update: authorized", slog.String("email", email))
		next.ServeHTTP(w, r)
	})
}
