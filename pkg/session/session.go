// Package session tracks the current user identity and bearer token.
// Row stores are scoped to one identity; controllers subscribe to
// identity changes and clear their state when the user changes.
package session

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session holds the current identity. Safe for concurrent use.
// It satisfies source.TokenProvider.
type Session struct {
	mu     sync.RWMutex
	userID string
	token  string
	subs   map[int]func(userID string)
	nextID int
	logger zerolog.Logger
}

// New creates an anonymous session.
func New() *Session {
	return &Session{
		subs:   make(map[int]func(string)),
		logger: log.With().Str("component", "session").Logger(),
	}
}

// UserID returns the current user identity ("" when signed out).
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Token returns the current bearer token ("" when signed out).
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetIdentity switches the session to a new user. Subscribers are
// notified only when the user actually changes; a token refresh for the
// same user is silent.
func (s *Session) SetIdentity(userID, token string) {
	s.mu.Lock()
	changed := s.userID != userID
	s.userID = userID
	s.token = token

	var subs []func(string)
	if changed {
		subs = make([]func(string), 0, len(s.subs))
		for _, fn := range s.subs {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	if changed {
		s.logger.Info().Str("user_id", userID).Msg("Identity changed")
		for _, fn := range subs {
			fn(userID)
		}
	}
}

// Clear signs the session out.
func (s *Session) Clear() {
	s.SetIdentity("", "")
}

// OnIdentityChange registers a callback invoked after every identity
// change. The returned function unsubscribes.
func (s *Session) OnIdentityChange(fn func(userID string)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}
