package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/warp/access-engine/access"
)

type ctxKey int

const (
	userKey ctxKey = iota
	tokenKey
)

// RequireSession rejects requests without a valid bearer token and puts the
// session's user in the request context.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		email, ok := h.Sessions.Lookup(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		user, err := h.Users.FindUserByEmail(r.Context(), email)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "User not found")
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// sessionUser returns the user set by RequireSession.
func sessionUser(r *http.Request) *access.User {
	u, _ := r.Context().Value(userKey).(*access.User)
	return u
}

func sessionToken(r *http.Request) string {
	t, _ := r.Context().Value(tokenKey).(string)
	return t
}
