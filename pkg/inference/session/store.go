package session

import (
	"sync"

	"github.com/go-go-golems/sectionstream/pkg/rules"
)

// Store keeps the sessions of a server in memory.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	builder  EngineBuilder
	decider  Decider
}

func NewStore(builder EngineBuilder, decider Decider) *Store {
	return &Store{
		sessions: map[string]*Session{},
		builder:  builder,
		decider:  decider,
	}
}

// GetOrCreate returns the session with the given id, creating it if needed. An empty id
// creates a session with a generated id.
func (st *Store) GetOrCreate(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if id != "" {
		if s, ok := st.sessions[id]; ok {
			return s
		}
	}
	s := NewSession(st.builder, st.decider)
	if id != "" {
		s.SessionID = id
	}
	st.sessions[s.SessionID] = s
	return s
}

func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Decide previews the decision for message. An unknown or empty id is decided as the
// first turn of a new session, without storing one.
func (st *Store) Decide(id string, message string) (rules.Decision, error) {
	if s, ok := st.Get(id); ok {
		return s.Decide(message)
	}
	if st.decider == nil {
		return rules.Decision{}, ErrSessionDeciderNil
	}
	return st.decider.Decide(rules.SessionState{}.WithMessage(message)), nil
}

func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
