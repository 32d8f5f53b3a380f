package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

type ctxKey string

// CtxSubject is the context key holding the authenticated subject.
const CtxSubject ctxKey = "sub"

// Credentials accepted by the middleware. An empty secret disables bearer
// tokens; an empty username disables basic auth. With both disabled every
// request passes through unauthenticated.
type Credentials struct {
	HS256Secret string
	Username    string
	Password    string
}

func (c Credentials) enabled() bool {
	return c.HS256Secret != "" || c.Username != ""
}

// Middleware authenticates requests with a JWT bearer token or basic
// credentials, mirroring CouchDB's jwt and default handlers. Failures are
// answered with a CouchDB-style 401 body.
func Middleware(creds Credentials) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !creds.enabled() {
				next.ServeHTTP(w, r)
				return
			}

			sub := ""

			if h := r.Header.Get("Authorization"); creds.HS256Secret != "" && strings.HasPrefix(h, "Bearer ") {
				s, err := ParseToken(strings.TrimPrefix(h, "Bearer "), creds.HS256Secret)
				if err != nil {
					log.Ctx(r.Context()).Warn().Err(err).Msg("jwt validation failed")
					unauthorized(w, "Invalid bearer token.")
					return
				}
				sub = s
			} else if user, pass, ok := r.BasicAuth(); ok && creds.Username != "" {
				if user != creds.Username || pass != creds.Password {
					log.Ctx(r.Context()).Warn().Str("user", user).Msg("basic auth rejected")
					unauthorized(w, "Name or password is incorrect.")
					return
				}
				sub = user
			}

			if sub == "" {
				unauthorized(w, "You are not authorized to access this db.")
				return
			}

			ctx := context.WithValue(r.Context(), CtxSubject, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Subject extracts the authenticated subject from request context.
// Returns empty string if the request was not authenticated.
func Subject(ctx context.Context) string {
	if v, ok := ctx.Value(CtxSubject).(string); ok {
		return v
	}
	return ""
}

func unauthorized(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "reason": reason})
}
