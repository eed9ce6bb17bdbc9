package tts

import (
	"math/rand"
	"strings"
)

var directions = []string{
	"whispering", "giggling", "cautiously", "warmly", "teasing", "sternly",
	"tired", "excited", "muttering", "commanding", "nervously", "softly",
	"deadpan", "confidently", "hastily", "suspiciously", "dreamily",
	"cheerfully", "grimly", "relieved", "annoyed", "wistfully",
}

var lineTemplates = []string{
	"[{dir}] That's really funny!",
	"[{dir}] Hello, is this seat taken?",
	"[{dir}] I shouldn't be here, but here we are.",
	"[{dir}] Careful, one wrong step and it's the river.",
	"[{dir}] I knew you'd say that.",
	"[{dir}] Tell me the truth, slowly.",
	"[{dir}] Oh! You scared me for a moment.",
	"[{dir}] Look at the bridge. Do you hear the bells?",
	"[{dir}] No deals after dark. Not here.",
	"[{dir}] One more question, then I'll go.",
	"[{dir}] Do you smell smoke, or is that just the docks?",
	"[{dir}] Keep your voice down; walls have ears.",
	"[{dir}] That's the plan... probably.",
	"[{dir}] A toast to small victories.",
	"[{dir}] Hush. Footsteps on the stairs.",
}

// RandomDirectionalLine picks a voice direction and a stock line, e.g.
// "[grimly] Hush. Footsteps on the stairs." A nil rng uses the global source.
func RandomDirectionalLine(rng *rand.Rand) string {
	intn := rand.Intn
	if rng != nil {
		intn = rng.Intn
	}
	direction := directions[intn(len(directions))]
	template := lineTemplates[intn(len(lineTemplates))]
	return strings.ReplaceAll(template, "{dir}", direction)
}
