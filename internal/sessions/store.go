// Package sessions holds per-session conversational memory with TTL eviction
// and a per-session lock so concurrent requests against the same session are
// serialized while different sessions proceed in parallel.
package sessions

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantbay/agentd/pkg/models"
)

// maxMessagesPerSession bounds memory growth; older messages are trimmed.
const maxMessagesPerSession = 1000

// session is one live entry: its memory plus the last-access timestamp TTL
// eviction keys off.
type session struct {
	messages   []models.Message
	lastAccess time.Time
}

// sessionLock is a refcounted mutex. The refcount lets CleanupExpired drop the
// lock entry once no request holds or waits on it.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Store is the in-memory session store.
type Store struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*session
	locks    map[string]*sessionLock
	now      func() time.Time

	// onCount, when set, receives the live session count after every mutation.
	onCount func(int)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCountCallback registers a hook for the live session count, used to feed
// the active-sessions gauge.
func WithCountCallback(fn func(int)) Option {
	return func(s *Store) { s.onCount = fn }
}

// NewStore builds a store whose sessions expire ttl after last access.
func NewStore(ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		ttl:      ttl,
		sessions: map[string]*session{},
		locks:    map[string]*sessionLock{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSessionID mints a random 128-bit hex identifier.
func NewSessionID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is unrecoverable for id quality; fall back to a
		// uuid which draws from the same source on retry.
		return uuid.NewString()
	}
	return hex.EncodeToString(buf[:])
}

// NewMessageID mints an identifier for a stored message.
func NewMessageID() string { return uuid.NewString() }

// Lock serializes access to one session. The returned function releases the
// lock; callers must invoke it exactly once.
func (s *Store) Lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// LoadMemory returns a copy of the session's messages, creating the session on
// first reference. Expired sessions are swept before the lookup so a stale id
// comes back empty rather than resurrecting old context.
func (s *Store) LoadMemory(id string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()

	entry, ok := s.sessions[id]
	if !ok {
		entry = &session{}
		s.sessions[id] = entry
		s.notifyLocked()
	}
	entry.lastAccess = s.now()

	out := make([]models.Message, len(entry.messages))
	copy(out, entry.messages)
	return out
}

// SaveMemory replaces the session's messages and refreshes its TTL.
func (s *Store) SaveMemory(id string, messages []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(messages) > maxMessagesPerSession {
		messages = messages[len(messages)-maxMessagesPerSession:]
	}
	stored := make([]models.Message, len(messages))
	copy(stored, messages)

	entry, ok := s.sessions[id]
	if !ok {
		entry = &session{}
		s.sessions[id] = entry
	}
	entry.messages = stored
	entry.lastAccess = s.now()
	s.notifyLocked()
}

// Append adds messages to a session without replacing existing memory.
func (s *Store) Append(id string, messages ...models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		entry = &session{}
		s.sessions[id] = entry
	}
	for i := range messages {
		if messages[i].ID == "" {
			messages[i].ID = NewMessageID()
		}
		if messages[i].CreatedAt.IsZero() {
			messages[i].CreatedAt = s.now()
		}
		messages[i].SessionID = id
	}
	entry.messages = append(entry.messages, messages...)
	if len(entry.messages) > maxMessagesPerSession {
		excess := len(entry.messages) - maxMessagesPerSession
		entry.messages = entry.messages[excess:]
	}
	entry.lastAccess = s.now()
	s.notifyLocked()
}

// CleanupExpired evicts sessions idle longer than the TTL and returns how many
// were removed. Also callable from the periodic sweep.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

// ActiveSessions reports the live session count.
func (s *Store) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) sweepLocked() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for id, entry := range s.sessions {
		if entry.lastAccess.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.notifyLocked()
	}
	return removed
}

func (s *Store) notifyLocked() {
	if s.onCount != nil {
		s.onCount(len(s.sessions))
	}
}
