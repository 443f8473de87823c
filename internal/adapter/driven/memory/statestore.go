// Package memory holds in-process implementations of driven ports for
// state that does not outlive the service instance.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/canvasflow/authvault/internal/domain/model"
	"github.com/canvasflow/authvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.OAuthStateStore = (*StateStore)(nil)

// Eviction is amortized over normal operations: a full sweep runs when the
// map has grown past sweepAboveSize or sweepEvery has elapsed since the
// last one. No background goroutine.
const (
	sweepAboveSize = 512
	sweepEvery     = time.Minute
)

// StateStore keeps pending OAuth authorization states in memory. States are
// single-use: Consume removes the entry in the same critical section that
// reads it, so concurrent callbacks with the same token race to exactly one
// winner.
type StateStore struct {
	mu        sync.Mutex
	states    map[string]model.OAuthState
	lastSweep time.Time
}

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{
		states:    make(map[string]model.OAuthState),
		lastSweep: time.Now(),
	}
}

// Save stores a pending state under its token.
func (s *StateStore) Save(_ context.Context, state model.OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeSweep(time.Now())
	s.states[state.Token] = state
	return nil
}

// Consume atomically looks up and deletes the state for token. Unknown,
// already-consumed, and expired tokens are indistinguishable to the caller;
// all return model.ErrInvalidState.
func (s *StateStore) Consume(_ context.Context, token string) (*model.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.maybeSweep(now)

	state, ok := s.states[token]
	if !ok {
		return nil, model.ErrInvalidState
	}
	delete(s.states, token)

	if state.Expired(now) {
		return nil, model.ErrInvalidState
	}
	return &state, nil
}

// Len reports the number of pending states, expired entries included until
// the next sweep.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// maybeSweep drops expired entries when the store is due for one. Callers
// must hold mu.
func (s *StateStore) maybeSweep(now time.Time) {
	if len(s.states) < sweepAboveSize && now.Sub(s.lastSweep) < sweepEvery {
		return
	}
	for token, state := range s.states {
		if state.Expired(now) {
			delete(s.states, token)
		}
	}
	s.lastSweep = now
}
