package contract

import (
	"bytes"
	"encoding/json"

	"github.com/loqalabs/fateweaver/internal/conversation"
)

// Method records which branch of Parse produced a Reply.
type Method string

const (
	MethodJSON     Method = "json"
	MethodFallback Method = "fallback"
)

// Reply is the decoded {speaker, text, location} contract.
type Reply struct {
	Speaker  string `json:"speaker"`
	Text     string `json:"text"`
	Location string `json:"location"`
	Method   Method `json:"-"`
}

// envelope uses pointers so null and absent fields can both collapse to "".
type envelope struct {
	Speaker  *string `json:"speaker"`
	Text     *string `json:"text"`
	Location *string `json:"location"`
}

// Parse decodes raw generation output against the response contract.
// Anything that is not a single JSON object with string-valued fields falls
// back to the narrator speaking the raw text verbatim.
func Parse(raw string) Reply {
	if reply, ok := decode(raw); ok {
		return reply
	}
	return Fallback(raw)
}

// Fallback is the deterministic reply used when the contract is violated.
func Fallback(raw string) Reply {
	return Reply{
		Speaker: conversation.Narrator,
		Text:    raw,
		Method:  MethodFallback,
	}
}

func decode(raw string) (Reply, bool) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Reply{}, false
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Reply{}, false
	}
	return Reply{
		Speaker:  deref(env.Speaker),
		Text:     deref(env.Text),
		Location: deref(env.Location),
		Method:   MethodJSON,
	}, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Roster is the membership test the resolver needs from the world model.
type Roster interface {
	HasCharacter(name string) bool
}

// ResolveSpeaker keeps known character names and the narrator; every other
// value, including "", becomes the narrator.
func ResolveSpeaker(speaker string, roster Roster) string {
	if speaker == conversation.Narrator {
		return speaker
	}
	if roster != nil && roster.HasCharacter(speaker) {
		return speaker
	}
	return conversation.Narrator
}

// Locations is the membership test for location ids.
type Locations interface {
	HasLocation(id string) bool
}

// ResolveLocation clears location ids the world does not know.
func ResolveLocation(location string, known Locations) string {
	if location == "" || known == nil || !known.HasLocation(location) {
		return ""
	}
	return location
}
