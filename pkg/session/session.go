package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

var tagPattern = regexp.MustCompile(`^[a-zA-Z0-9_%\-&]{1,250}$`)

// AccountTag returns the tag that marks sessions of an account. It is derived
// from the account identifier so the identifier itself is not exposed.
func AccountTag(accountIdentifier string) string {
	sum := sha256.Sum256([]byte(accountIdentifier))
	return "Keystone-Account-" + hex.EncodeToString(sum[:16])
}

// Session is a server-side session. It is safe for concurrent use.
type Session struct {
	id        string
	createdAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	data         map[string][]byte
	tags         map[string]bool
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		id:           id,
		createdAt:    now,
		lastActivity: now,
		data:         make(map[string][]byte),
		tags:         make(map[string]bool),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActivity returns the time of the last touch.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// Get returns a copy of the blob stored under key.
func (s *Session) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Put stores a copy of data under key.
func (s *Session) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
}

// Remove deletes the blob stored under key.
func (s *Session) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Modify replaces the blob under key with the result of fn, holding the
// session lock for the whole read-modify-write. fn receives nil when the key
// is absent. A nil result removes the key. If fn fails nothing is written.
func (s *Session) Modify(key string, fn func(old []byte) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated, err := fn(s.data[key])
	if err != nil {
		return err
	}
	if updated == nil {
		delete(s.data, key)
	} else {
		s.data[key] = append([]byte(nil), updated...)
	}
	return nil
}

// AddTag attaches a tag. Tags may contain letters, digits and _%-&.
func (s *Session) AddTag(tag string) error {
	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("invalid session tag %q", tag)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[tag] = true
	return nil
}

// RemoveTag detaches a tag.
func (s *Session) RemoveTag(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, tag)
}

// HasTag reports whether the tag is attached.
func (s *Session) HasTag(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags[tag]
}

// Tags returns the attached tags in sorted order.
func (s *Session) Tags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tags))
	for t := range s.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
