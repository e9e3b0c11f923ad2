// Package store provides the tab-scoped obfuscated key/value store used to
// keep the demo session and its analytics between requests.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/al-bashkir/demo-sessiond/internal/clock"
)

// Namespace prefixes every key the Store writes.
const Namespace = "demo_"

// DefaultStaleAfter is the coarse maximum age of any stored value.
const DefaultStaleAfter = 2 * time.Hour

type envelope struct {
	Value     json.RawMessage `json:"v"`
	Timestamp int64           `json:"ts"` // epoch millis
}

// Store wraps a Backend with namespacing, creation timestamps and encoding.
// Read failures of any kind are reported as absence.
type Store struct {
	backend    Backend
	codec      *Codec
	clock      clock.Clock
	staleAfter time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps and staleness.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithStaleAfter overrides DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// New creates a Store on top of backend.
func New(backend Backend, codec *Codec, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		codec:      codec,
		clock:      clock.System{},
		staleAfter: DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set serializes value, stamps it and writes it under the namespaced key.
func (s *Store) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize %q: %w", key, err)
	}
	bundle, err := json.Marshal(envelope{Value: raw, Timestamp: s.clock.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to wrap %q: %w", key, err)
	}
	encoded, err := s.codec.Encode(bundle)
	if err != nil {
		return err
	}
	s.backend.SetItem(Namespace+key, encoded)
	return nil
}

// Get decodes the value stored under key into dst. It returns false when
// the key is absent, undecodable or older than the stale window; in the
// latter two cases the entry is removed.
func (s *Store) Get(key string, dst any) bool {
	encoded, ok := s.backend.GetItem(Namespace + key)
	if !ok {
		return false
	}

	var env envelope
	plain, err := s.codec.Decode(encoded)
	if err == nil {
		err = json.Unmarshal(plain, &env)
	}
	if err != nil {
		slog.Debug("discarding undecodable store entry", "key", key, "error", err)
		s.backend.RemoveItem(Namespace + key)
		return false
	}

	age := s.clock.Now().Sub(time.UnixMilli(env.Timestamp))
	if age > s.staleAfter {
		slog.Debug("discarding stale store entry", "key", key, "age", age)
		s.backend.RemoveItem(Namespace + key)
		return false
	}

	if err := json.Unmarshal(env.Value, dst); err != nil {
		slog.Debug("discarding unparsable store entry", "key", key, "error", err)
		s.backend.RemoveItem(Namespace + key)
		return false
	}
	return true
}

// Remove deletes key.
func (s *Store) Remove(key string) {
	s.backend.RemoveItem(Namespace + key)
}

// ClearAll removes every namespaced key and returns how many were removed.
func (s *Store) ClearAll() int {
	n := 0
	for _, k := range s.backend.Keys() {
		if strings.HasPrefix(k, Namespace) {
			s.backend.RemoveItem(k)
			n++
		}
	}
	return n
}

// RemoveRaw deletes keys exactly as given, without the namespace. It is
// used for keys written by older clients.
func (s *Store) RemoveRaw(keys ...string) {
	for _, k := range keys {
		s.backend.RemoveItem(k)
	}
}
