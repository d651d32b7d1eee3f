/*
Package auth provides login and bearer-token sessions for the API.

PURPOSE:
  - Authenticator checks an email/password pair against the user directory
  - Sessions maps opaque tokens to the email that logged in

SESSION LIFECYCLE:
  Create  ──▶ token valid for TTL (default 15 minutes)
  Lookup  ──▶ email, or miss; an expired entry is removed on the lookup
              that finds it
  Invalidate / Clear ──▶ logout / shutdown
  Sweeper ──▶ periodic Prune of tokens nobody looks up again

  Sessions live in process memory only. Restarting the server logs
  everyone out.

SEE ALSO:
  - api/middleware.go: bearer token extraction
  - sweeper.go: background pruning
*/
package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long a token stays valid after login.
const DefaultSessionTTL = 15 * time.Minute

type session struct {
	email     string
	expiresAt time.Time
}

// Sessions is a concurrency-safe token table.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]session
	ttl      time.Duration

	// Now is the clock used for expiry. Defaults to time.Now.
	Now func() time.Time
}

// NewSessions creates an empty session table. A non-positive ttl selects
// DefaultSessionTTL.
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{
		sessions: make(map[string]session),
		ttl:      ttl,
		Now:      time.Now,
	}
}

// Create starts a session for email and returns its token.
func (s *Sessions) Create(email string) string {
	token := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = session{email: email, expiresAt: s.Now().Add(s.ttl)}
	return token
}

// Lookup returns the email bound to token. Expired tokens are removed.
func (s *Sessions) Lookup(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return "", false
	}
	if s.Now().After(sess.expiresAt) {
		delete(s.sessions, token)
		return "", false
	}
	return sess.email, true
}

// Invalidate ends the session for token, if any.
func (s *Sessions) Invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// Clear ends every session.
func (s *Sessions) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.sessions)
}

// Prune removes every expired session and returns how many were removed.
func (s *Sessions) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	removed := 0
	for token, sess := range s.sessions {
		if now.After(sess.expiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired ones included.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
