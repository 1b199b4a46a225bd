package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/suifx/faucet/internal/admin"
	"github.com/suifx/faucet/internal/errcode"
	"github.com/suifx/faucet/internal/store"
)

// botUserAgentSuffix marks requests from the internal dispenser bot, which
// authenticates with the legacy master key instead of a session token.
const botUserAgentSuffix = " SuiFaucetBot"

// botActor is the audit-trail username for master-key admin access.
const botActor = "bot"

type ctxKey int

const (
	ctxKeyClient ctxKey = iota
	ctxKeySession
)

// ClientFrom returns the authenticated API client, nil for master-key
// callers and unauthenticated routes.
func ClientFrom(ctx context.Context) *store.APIClient {
	c, _ := ctx.Value(ctxKeyClient).(*store.APIClient)
	return c
}

// SessionFrom returns the validated admin session, nil outside the admin
// surface.
func SessionFrom(ctx context.Context) *admin.Session {
	s, _ := ctx.Value(ctxKeySession).(*admin.Session)
	return s
}

// extractCredential normalizes the three accepted header conventions into a
// single value: X-API-Key first, then "Authorization: Bearer <key>", then a
// raw Authorization value.
func extractCredential(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return auth
}

// masterKeyMatches compares against the legacy master key in constant time.
// An empty configured key disables master-key access entirely.
func (d Dependencies) masterKeyMatches(key string) bool {
	if d.MasterAPIKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(d.MasterAPIKey), []byte(key)) == 1
}

// RequireAPIKey authenticates faucet callers. The master key passes as-is;
// anything else must resolve to an active registered client, which lands on
// the context for the rate-limit override and usage tracking.
func RequireAPIKey(d Dependencies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractCredential(r)
			if key == "" {
				respondError(w, errcode.MissingAPIKey, "API key required", "")
				return
			}
			if d.masterKeyMatches(key) {
				next.ServeHTTP(w, r)
				return
			}

			client, err := d.Clients.Authenticate(r.Context(), key)
			if err != nil {
				respondError(w, errcode.ServerError, "Authentication unavailable", "")
				return
			}
			if client == nil {
				respondError(w, errcode.InvalidAPIKey, "Invalid API key", "")
				return
			}
			if !client.IsActive {
				respondError(w, errcode.InactiveClient, "Client has been deactivated", "")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyClient, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin guards the admin surface. Two credentials are accepted: a
// live session token, or the master key presented with the bot user-agent
// suffix. The resolved session lands on the context so handlers can
// attribute audit rows.
func RequireAdmin(d Dependencies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred := extractCredential(r)

			if d.masterKeyMatches(cred) {
				if !strings.HasSuffix(r.UserAgent(), botUserAgentSuffix) {
					respondError(w, errcode.InvalidToken, "Invalid or expired session", "")
					return
				}
				sess := &admin.Session{Username: botActor, Role: store.RoleAdmin}
				ctx := context.WithValue(r.Context(), ctxKeySession, sess)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			sess, err := d.Sessions.Validate(cred)
			if err != nil {
				respondError(w, errcode.InvalidToken, "Invalid or expired session", "")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeySession, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TrackUsage appends a usage row for requests authenticated with a client
// key. Master-key traffic is not tracked. Recording is asynchronous and can
// never fail the request it describes.
func TrackUsage(d Dependencies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientFrom(r.Context())
			if client == nil || d.Usage == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			d.Usage.Track(store.ClientUsage{
				ClientID:       client.ClientID,
				Endpoint:       r.URL.Path,
				Method:         r.Method,
				ResponseStatus: ww.Status(),
				ResponseTimeMs: time.Since(start).Milliseconds(),
				CreatedAt:      time.Now().UTC(),
			})
			d.Clients.Touch(context.WithoutCancel(r.Context()), client.ClientID)
		})
	}
}
