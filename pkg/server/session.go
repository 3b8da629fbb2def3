package server

import "sync"

// SessionState tracks a connection through the auth handshake.
//
//	Created -> NoAuth -> Authed
//	                  -> WaitKey -> KeyTimeout
//
// WaitKey and KeyTimeout belong to the single-shot password connection:
// it is closed as soon as the key is written, but the state is kept for
// logging until the key window resolves.
type SessionState int

const (
	StateCreated SessionState = iota
	StateNoAuth
	StateAuthed
	StateWaitKey
	StateKeyTimeout
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateNoAuth:
		return "NO-AUTH"
	case StateAuthed:
		return "AUTHED"
	case StateWaitKey:
		return "WAIT-KEY"
	case StateKeyTimeout:
		return "KEY-TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Session represents one client connection. A session is either fully
// unauthenticated (no username, no key) or fully authenticated; there is
// no partial state between messages.
type Session struct {
	ID         uint64
	Conn       *LineConn
	RemoteAddr string

	mu            sync.RWMutex
	state         SessionState
	username      string
	key           string
	authenticated bool
}

// NewSession wraps a connection in a fresh, unauthenticated session.
func NewSession(id uint64, conn *LineConn) *Session {
	return &Session{
		ID:         id,
		Conn:       conn,
		RemoteAddr: conn.RemoteAddr(),
		state:      StateCreated,
	}
}

// State returns the current handshake state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState moves the session to the given state.
func (s *Session) SetState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Authenticated reports whether the session has redeemed a key.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Username returns the resolved identity, or "" before authentication.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Authenticate marks the session authenticated with its identity and the
// key it redeemed, and moves it to StateAuthed in the same step.
func (s *Session) Authenticate(username, key string) {
	s.mu.Lock()
	s.username = username
	s.key = key
	s.authenticated = true
	s.state = StateAuthed
	s.mu.Unlock()
}

// clearAuth resets the session to its unauthenticated shape. Called from
// kill; the connection is already closed by then.
func (s *Session) clearAuth() {
	s.mu.Lock()
	s.username = ""
	s.key = ""
	s.authenticated = false
	s.mu.Unlock()
}

// SessionRegistry is the set of currently connected, authenticated
// sessions. Order of insertion is preserved: FindByUsername returns the
// longest-connected session for a name, matching how duplicate logins
// resolve for direct messages.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions []*Session
	metrics  *Metrics
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{}
}

// SetMetrics attaches metrics to the registry.
func (r *SessionRegistry) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// Add inserts an authenticated session.
func (r *SessionRegistry) Add(sess *Session) {
	r.mu.Lock()
	r.sessions = append(r.sessions, sess)
	count := len(r.sessions)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordActiveSessions(count)
	}
}

// Remove deletes a session, reporting whether it was present.
func (r *SessionRegistry) Remove(sess *Session) bool {
	r.mu.Lock()
	found := false
	for i, candidate := range r.sessions {
		if candidate == sess {
			r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
			found = true
			break
		}
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if found && r.metrics != nil {
		r.metrics.RecordActiveSessions(count)
	}
	return found
}

// FindByUsername returns the first session logged in under the given
// name. Duplicate logins are allowed; this does not disambiguate them.
func (r *SessionRegistry) FindByUsername(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sess := range r.sessions {
		if sess.Username() == username {
			return sess, true
		}
	}
	return nil, false
}

// Count returns the number of live authenticated sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// DuplicateCounts maps each connected username to the number of sessions
// it holds.
func (r *SessionRegistry) DuplicateCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int, len(r.sessions))
	for _, sess := range r.sessions {
		counts[sess.Username()]++
	}
	return counts
}

// All returns a snapshot of the registered sessions.
func (r *SessionRegistry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// CloseAll closes every registered connection and empties the registry.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sess := range r.sessions {
		sess.Conn.Close()
	}
	r.sessions = nil
}
