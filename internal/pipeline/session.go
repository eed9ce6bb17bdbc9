package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/loqalabs/fateweaver/internal/conversation"
)

// Session is one conversation. Turns are processed one at a time in
// submission order; each reply sees every turn appended before it.
type Session struct {
	ID        string
	CreatedAt time.Time

	pipeline *Pipeline
	mu       sync.Mutex
	log      *conversation.Log
}

// Send runs one turn and appends the user message and the reply to history.
// An empty message returns ErrEmptyMessage and leaves history untouched.
func (s *Session) Send(ctx context.Context, message string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.pipeline.Respond(ctx, s.log.Snapshot(), message)
	if err != nil {
		return Result{}, err
	}
	s.log.Append(conversation.Turn{Speaker: conversation.UserSpeaker, Text: message}, result.Turn())
	return result, nil
}

// History returns a copy of every turn so far.
func (s *Session) History() []conversation.Turn {
	return s.log.Snapshot()
}

// Sessions is the in-memory registry of live conversations.
type Sessions struct {
	pipeline *Pipeline
	clock    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessions(p *Pipeline) *Sessions {
	return &Sessions{
		pipeline: p,
		clock:    time.Now,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for id, creating it on first use.
func (s *Sessions) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess
	}
	sess := &Session{
		ID:        id,
		CreatedAt: s.clock().UTC(),
		pipeline:  s.pipeline,
		log:       conversation.NewLog(),
	}
	s.sessions[id] = sess
	return sess
}

// Lookup returns an existing session without creating one.
func (s *Sessions) Lookup(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
