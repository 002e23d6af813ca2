package session

import (
	"context"
	"errors"
	"sync"

	"github.com/go-go-golems/sectionstream/pkg/channels"
	"github.com/go-go-golems/sectionstream/pkg/events"
	"github.com/go-go-golems/sectionstream/pkg/inference"
	"github.com/go-go-golems/sectionstream/pkg/inference/engine"
	"github.com/go-go-golems/sectionstream/pkg/rules"
	"github.com/google/uuid"
	"github.com/huandu/go-clone"
	"github.com/rs/zerolog/log"
)

var (
	ErrSessionNil           = errors.New("session is nil")
	ErrSessionBuilderNil    = errors.New("session builder is nil")
	ErrSessionDeciderNil    = errors.New("session decider is nil")
	ErrSessionAlreadyActive = errors.New("session already has an active turn")
	ErrSessionNoActive      = errors.New("session has no active turn")
	ErrSessionEmptyMessage  = errors.New("turn message is empty")
	ErrSessionIDEmpty       = errors.New("session has empty SessionID")
)

// Decider picks the optional channels for a turn. *rules.Rules implements it.
type Decider interface {
	Decide(state rules.SessionState) rules.Decision
}

// TurnRecord is one finished turn.
type TurnRecord struct {
	ID       string            `json:"id" yaml:"id"`
	Message  string            `json:"message" yaml:"message"`
	Decision rules.Decision    `json:"decision" yaml:"decision"`
	Done     *events.EventDone `json:"done" yaml:"done"`
}

// Session represents a long-lived, multi-turn conversation.
//
// It owns:
// - a stable SessionID
// - the cadence state the decision rules read
// - the history of finished turns
// - the invariant that only one turn is active at a time
//
// Session state only moves forward when a turn reaches its done event. Failed or
// cancelled turns leave no trace.
type Session struct {
	SessionID string
	Builder   EngineBuilder
	Decider   Decider

	mu      sync.Mutex
	state   rules.SessionState
	history []engine.Message
	turns   []TurnRecord
	active  *ExecutionHandle
}

// NewSession constructs a Session with a generated SessionID.
func NewSession(builder EngineBuilder, decider Decider) *Session {
	return &Session{
		SessionID: uuid.NewString(),
		Builder:   builder,
		Decider:   decider,
	}
}

// IsRunning reports whether the session currently has an active turn.
func (s *Session) IsRunning() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.active.IsRunning()
}

// ActiveTurn returns the handle of the turn in flight, or nil.
func (s *Session) ActiveTurn() *ExecutionHandle {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || !s.active.IsRunning() {
		return nil
	}
	return s.active
}

// State returns a copy of the cadence state.
func (s *Session) State() rules.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone.Clone(s.state).(rules.SessionState)
}

// Turns returns a copy of the finished turns.
func (s *Session) Turns() []TurnRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TurnRecord(nil), s.turns...)
}

// History returns a copy of the conversation as sent to the model.
func (s *Session) History() []engine.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.Message(nil), s.history...)
}

// Decide previews the decision the next turn would get for message.
func (s *Session) Decide(message string) (rules.Decision, error) {
	if s == nil {
		return rules.Decision{}, ErrSessionNil
	}
	if s.Decider == nil {
		return rules.Decision{}, ErrSessionDeciderNil
	}
	s.mu.Lock()
	state := s.state.WithMessage(message)
	s.mu.Unlock()
	return s.Decider.Decide(state), nil
}

// StartTurn decides on the optional channels, builds an engine and drives the turn in
// a goroutine. Events go to sinks (and to the sinks attached to ctx) in order.
func (s *Session) StartTurn(ctx context.Context, message string, sinks ...events.EventSink) (*ExecutionHandle, error) {
	if s == nil {
		return nil, ErrSessionNil
	}
	if s.SessionID == "" {
		return nil, ErrSessionIDEmpty
	}
	if s.Builder == nil {
		return nil, ErrSessionBuilderNil
	}
	if s.Decider == nil {
		return nil, ErrSessionDeciderNil
	}
	if message == "" {
		return nil, ErrSessionEmptyMessage
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.active != nil && s.active.IsRunning() {
		s.mu.Unlock()
		return nil, ErrSessionAlreadyActive
	}
	state := s.state.WithMessage(message)
	input := engine.Input{
		Message: message,
		History: append([]engine.Message(nil), s.history...),
	}
	s.mu.Unlock()

	decision := s.Decider.Decide(state)
	turnID := uuid.NewString()

	eng, err := s.Builder.Build(ctx, TurnRequest{
		SessionID: s.SessionID,
		TurnID:    turnID,
		Decision:  decision,
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(WithSessionMeta(ctx, s.SessionID, turnID))
	handle := newExecutionHandle(s.SessionID, turnID, message, decision, cancel)

	s.mu.Lock()
	// Re-check after build: another goroutine may have started a turn while we were building.
	if s.active != nil && s.active.IsRunning() {
		s.mu.Unlock()
		cancel()
		return nil, ErrSessionAlreadyActive
	}
	s.active = handle
	s.mu.Unlock()

	options := make([]inference.Option, 0, len(sinks))
	for _, sink := range sinks {
		options = append(options, inference.WithSink(sink))
	}

	go func() {
		defer cancel()
		defer func() {
			s.mu.Lock()
			if s.active == handle {
				s.active = nil
			}
			s.mu.Unlock()
		}()

		done, err := inference.Drive(runCtx, eng.Run(runCtx, input), options...)
		if err == nil {
			s.finish(turnID, state, input, decision, done)
		} else {
			log.Warn().Err(err).Str("session_id", s.SessionID).Str("turn_id", turnID).Msg("turn did not finish")
		}
		handle.finish(done, err)
	}()

	return handle, nil
}

// RunTurn is StartTurn followed by Wait.
func (s *Session) RunTurn(ctx context.Context, message string, sinks ...events.EventSink) (*events.EventDone, error) {
	h, err := s.StartTurn(ctx, message, sinks...)
	if err != nil {
		return nil, err
	}
	return h.Wait()
}

func (s *Session) finish(turnID string, state rules.SessionState, input engine.Input, decision rules.Decision, done *events.EventDone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.Advance(decision)
	s.history = append(s.history,
		engine.Message{Role: engine.RoleUser, Content: input.Message},
		engine.Message{Role: engine.RoleAssistant, Content: done.Channels[channels.Response].Text()},
	)
	s.turns = append(s.turns, TurnRecord{
		ID:       turnID,
		Message:  input.Message,
		Decision: decision,
		Done:     done,
	})
}

// CancelActive cancels the current active turn, if any.
func (s *Session) CancelActive() error {
	if s == nil {
		return ErrSessionNil
	}
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h == nil || !h.IsRunning() {
		return ErrSessionNoActive
	}
	h.Cancel()
	return nil
}
