package trackchanges

import "sync"

// PlaceholderAuthor is the author of a session nobody has named yet.
const PlaceholderAuthor = "Anonymous"

// SessionState is a snapshot of a tracking session.
type SessionState struct {
	Enabled bool   `json:"enabled"`
	Author  string `json:"author"`
}

// Session is the per-document tracking switch and current author. The zero
// value is not usable; call NewSession.
type Session struct {
	mu    sync.Mutex
	state SessionState
}

// NewSession returns a disabled session with the placeholder author.
func NewSession() *Session {
	return &Session{state: SessionState{Author: PlaceholderAuthor}}
}

// NewSessionFrom restores a session from a stored state.
func NewSessionFrom(state SessionState) *Session {
	s := NewSession()
	s.Restore(state)
	return s
}

func (s *Session) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Enabled
}

func (s *Session) Author() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Author
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Enable() {
	s.SetEnabled(true)
}

func (s *Session) Disable() {
	s.SetEnabled(false)
}

func (s *Session) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.state.Enabled = enabled
	s.mu.Unlock()
}

// SetAuthor renames the session author. An empty name resets it to the
// placeholder.
func (s *Session) SetAuthor(author string) {
	if author == "" {
		author = PlaceholderAuthor
	}
	s.mu.Lock()
	s.state.Author = author
	s.mu.Unlock()
}

// Restore replaces the whole state.
func (s *Session) Restore(state SessionState) {
	if state.Author == "" {
		state.Author = PlaceholderAuthor
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Override switches to state and returns a function restoring whatever was
// there before. Callers defer the restore so a temporary actor never leaks
// into the owner's session.
func (s *Session) Override(state SessionState) (restore func()) {
	saved := s.State()
	s.Restore(state)
	return func() {
		s.Restore(saved)
	}
}
