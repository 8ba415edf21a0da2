package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const ClientContextKey contextKey = "client"

// ClientContext identifies the authenticated API client.
type ClientContext struct {
	ClientID string
}

// Middleware enforces bearer-token authentication. When the service has no
// API key configured the middleware passes everything through.
func Middleware(authService *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authService.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"code":"UNAUTHORIZED","message":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				http.Error(w, `{"code":"UNAUTHORIZED","message":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}

			claims, err := authService.ValidateToken(parts[1])
			if err != nil {
				if err == ErrTokenExpired {
					http.Error(w, `{"code":"TOKEN_EXPIRED","message":"access token has expired"}`, http.StatusUnauthorized)
					return
				}
				http.Error(w, `{"code":"UNAUTHORIZED","message":"invalid access token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClientContextKey, &ClientContext{ClientID: claims.ClientID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientFromContext returns the authenticated client, or nil.
func GetClientFromContext(ctx context.Context) *ClientContext {
	client, ok := ctx.Value(ClientContextKey).(*ClientContext)
	if !ok {
		return nil
	}
	return client
}
