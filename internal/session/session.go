// Package session provides the in-memory per-user conversation session store.
//
// A session carries the user's current conversation state and an opaque
// handle to an ongoing chat-completion exchange. All access for a given user
// ID is serialized through Store.Do so that rapid messages from the same user
// can never interleave state transitions; distinct users proceed in parallel.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is a session's current conversation state.
type State string

// Conversation states.
const (
	// StateIdle is the default: no pending multi-turn flow.
	StateIdle State = "idle"
	// StateAwaitingCarbonCredit expects an "<n> ไร่, <m> วัน" reply.
	StateAwaitingCarbonCredit State = "awaiting_carbon_credit_data"
	// StateAwaitingProvince expects a province name.
	StateAwaitingProvince State = "awaiting_province"
	// StateAwaitingRecommendation expects optional extra farmer context.
	StateAwaitingRecommendation State = "awaiting_recommendation"
)

// ChatSession is an opaque handle to an ongoing multi-turn chat-completion
// exchange. It is owned exclusively by the session that created it.
type ChatSession interface {
	Send(ctx context.Context, text string) (string, error)
}

// Session is one user's conversational memory. Its methods are not
// self-locking: callers reach a Session only inside Store.Do, which holds
// the per-user lock.
type Session struct {
	UserID string

	state State
	chat  ChatSession
}

// State returns the current conversation state.
func (s *Session) State() State { return s.state }

// SetState overwrites the current conversation state.
func (s *Session) SetState(state State) {
	slog.Debug("Session.SetState: transition", "userID", s.UserID, "from", s.state, "to", state)
	s.state = state
}

// Chat returns the chat handle, or false if none has been created.
func (s *Session) Chat() (ChatSession, bool) {
	return s.chat, s.chat != nil
}

// SetChat attaches a chat handle to the session.
func (s *Session) SetChat(c ChatSession) { s.chat = c }

// ClearChat invalidates the chat handle.
func (s *Session) ClearChat() { s.chat = nil }

type entry struct {
	mu       sync.Mutex
	sess     *Session
	lastSeen time.Time
}

// Store holds one Session per user ID. Sessions are created on first use
// with state StateIdle and live for the process lifetime unless a TTL is
// configured, in which case idle sessions are reset lazily on access and
// reaped by the background sweeper.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry

	ttl time.Duration
	now func() time.Time
}

// Opts holds configuration options for the session store.
type Opts struct {
	// TTL is how long an untouched session survives. Zero disables expiry.
	TTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Option configures the session store.
type Option func(*Opts)

// WithTTL sets the idle-session expiry. Zero or negative disables expiry.
func WithTTL(d time.Duration) Option {
	return func(o *Opts) { o.TTL = d }
}

// WithClock overrides the store's clock.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	slog.Debug("session.NewStore: creating store", "ttl", cfg.TTL)
	return &Store{
		entries: make(map[string]*entry),
		ttl:     cfg.TTL,
		now:     now,
	}
}

// lookup returns the entry for userID, creating it if absent.
// Caller must not hold any entry lock.
func (st *Store) lookup(userID string) *entry {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.entries[userID]
	if !ok {
		e = &entry{sess: &Session{UserID: userID, state: StateIdle}, lastSeen: st.now()}
		st.entries[userID] = e
		slog.Debug("session.Store: created session", "userID", userID)
	}
	return e
}

// Do runs fn with the user's session under the per-user lock. The lock is
// held for the whole invocation, so a user's turns execute strictly one at
// a time. Sessions are created on first use with state StateIdle.
func (st *Store) Do(userID string, fn func(*Session)) {
	for {
		e := st.lookup(userID)
		e.mu.Lock()
		if !st.live(userID, e) {
			// The sweeper removed this entry between lookup and lock.
			// Running on it would bypass the lock of whichever entry
			// replaces it, so start over on the current one.
			e.mu.Unlock()
			continue
		}
		if st.expired(e) {
			slog.Info("session.Store: resetting expired session", "userID", userID)
			e.sess = &Session{UserID: userID, state: StateIdle}
		}
		e.lastSeen = st.now()
		fn(e.sess)
		e.mu.Unlock()
		return
	}
}

// live reports whether e is still the store's entry for userID.
func (st *Store) live(userID string, e *entry) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.entries[userID] == e
}

// expired reports whether the entry is past its TTL. Caller holds e.mu.
func (st *Store) expired(e *entry) bool {
	return st.ttl > 0 && st.now().Sub(e.lastSeen) > st.ttl
}

// StateOf returns the user's current state, creating the session if absent.
func (st *Store) StateOf(userID string) State {
	var state State
	st.Do(userID, func(s *Session) { state = s.State() })
	return state
}

// SetState overwrites the user's state, creating the session if absent.
func (st *Store) SetState(userID string, state State) {
	st.Do(userID, func(s *Session) { s.SetState(state) })
}

// Chat returns the user's chat handle, or false if none exists.
func (st *Store) Chat(userID string) (ChatSession, bool) {
	var (
		c  ChatSession
		ok bool
	)
	st.Do(userID, func(s *Session) { c, ok = s.Chat() })
	return c, ok
}

// SetChat attaches a chat handle to the user's session.
func (st *Store) SetChat(userID string, c ChatSession) {
	st.Do(userID, func(s *Session) { s.SetChat(c) })
}

// ClearChat invalidates the user's chat handle.
func (st *Store) ClearChat(userID string) {
	st.Do(userID, func(s *Session) { s.ClearChat() })
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}

// StartSweeper reaps expired sessions in the background until ctx is
// canceled. No-op when expiry is disabled.
func (st *Store) StartSweeper(ctx context.Context) {
	if st.ttl <= 0 {
		return
	}
	interval := st.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.sweep()
			}
		}
	}()
}

// sweep removes expired entries. An entry mid-turn is skipped; it will be
// picked up on a later pass.
func (st *Store) sweep() {
	st.mu.Lock()
	defer st.mu.Unlock()
	for userID, e := range st.entries {
		if !e.mu.TryLock() {
			continue
		}
		expired := st.expired(e)
		e.mu.Unlock()
		if expired {
			delete(st.entries, userID)
			slog.Debug("session.Store: swept expired session", "userID", userID)
		}
	}
}
