package conversation

import (
	"strings"
	"sync"
)

const (
	// UserSpeaker attributes a turn to the person at the keyboard.
	UserSpeaker = "You"
	// Narrator is the default in-world voice.
	Narrator = "Narrator"

	DefaultWindow = 20
)

// Turn is one utterance in a conversation.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

func (t Turn) FromUser() bool { return t.Speaker == UserSpeaker }

// Log is an append-only, ordered turn history. Readers receive copies.
type Log struct {
	mu    sync.RWMutex
	turns []Turn
}

func NewLog(initial ...Turn) *Log {
	l := &Log{}
	l.turns = append(l.turns, initial...)
	return l
}

func (l *Log) Append(turns ...Turn) {
	l.mu.Lock()
	l.turns = append(l.turns, turns...)
	l.mu.Unlock()
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Snapshot returns a copy of the full history.
func (l *Log) Snapshot() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Window returns the last n turns of history in their original order.
// A non-positive n falls back to DefaultWindow. The result never aliases
// the input.
func Window(history []Turn, n int) []Turn {
	if n <= 0 {
		n = DefaultWindow
	}
	start := 0
	if len(history) > n {
		start = len(history) - n
	}
	out := make([]Turn, len(history)-start)
	copy(out, history[start:])
	return out
}

// Transcript renders turns one per line as "User: ..." or "Assistant: ...".
func Transcript(turns []Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		label := "Assistant"
		if t.FromUser() {
			label = "User"
		}
		lines = append(lines, label+": "+t.Text)
	}
	return strings.Join(lines, "\n")
}
