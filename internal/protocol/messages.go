package protocol

import (
	"time"

	"github.com/loqalabs/fateweaver/internal/conversation"
)

// TurnRequest asks the service to answer one user message in a session.
// An empty SessionID starts a new session.
type TurnRequest struct {
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// TurnReply is the request/reply answer. Audio fields are omitted when no
// audio was produced.
type TurnReply struct {
	SessionID    string `json:"session_id"`
	Speaker      string `json:"speaker,omitempty"`
	Text         string `json:"text,omitempty"`
	Location     string `json:"location,omitempty"`
	DisplayLine  string `json:"display_line,omitempty"`
	AudioPath    string `json:"audio_path,omitempty"`
	AudioDataURI string `json:"audio_src_base64,omitempty"`
	Method       string `json:"method,omitempty"`
	Error        string `json:"error,omitempty"`
}

// TurnCompleted is broadcast after every answered turn.
type TurnCompleted struct {
	SessionID string            `json:"session_id"`
	TraceID   string            `json:"trace_id,omitempty"`
	User      conversation.Turn `json:"user"`
	Reply     conversation.Turn `json:"reply"`
	Location  string            `json:"location,omitempty"`
	AudioPath string            `json:"audio_path,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

const (
	SubjectTurnRequest   = "fateweaver.turn.request"
	SubjectTurnCompleted = "fateweaver.turn.completed"
)
