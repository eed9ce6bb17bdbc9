package prompt

import (
	"sort"
	"strings"

	"github.com/loqalabs/fateweaver/internal/conversation"
	"github.com/loqalabs/fateweaver/internal/world"
)

// RoleBlock frames the generation service as the game engine. The service
// has no system-instruction slot in this integration, so it leads the prompt.
const RoleBlock = `SYSTEM ROLE:
You are an AI assistant that provides direct answers only, with no reasoning steps.
ROLEPLAY as the game engine: respond with a single line of dialogue or a concise event narration.
Use bracketed direction when helpful, e.g., Narrator: [somber] The bells toll.
Pick the most appropriate SPEAKER from the provided characters or 'Narrator'.
Keep responses concise and in-world.
`

// TaskBlock carries the immersion rules. Out-of-world player actions must be
// refused inside the fiction and the engine must never admit to being an AI.
const TaskBlock = `TASK:
Using the world data, produce an in-world response as either an appropriate character or the Narrator, if an appropriate character to respond is not available. You can be verbose, but do not go beyond five sentences. You may include bracketed directions like [cautiously] at the start of the line to express emotion or voice acting direction.

At all costs to maintain immersion, you are not to acknowledge that you are an AI or virtual assistant. If the input response from the player is immersion breaking (i.e. dropping a nuclear bomb in a medieval setting), do not allow it and instead reframe the response to be in universe (i.e. 'Narrator: Although you say this, you do not know what a nuclear bomb is'). Only allow the player to do actions that are capable for humans to do in this fantasy medieval setting.
`

const DefaultMaxBriefs = 60

// Composer renders single-turn generation prompts against a fixed world.
type Composer struct {
	maxBriefs int
	briefs    []string
	locations string
	schema    string
}

func NewComposer(model *world.Model, maxBriefs int) *Composer {
	if maxBriefs <= 0 {
		maxBriefs = DefaultMaxBriefs
	}
	c := &Composer{maxBriefs: maxBriefs}
	for _, ch := range model.Characters() {
		c.briefs = append(c.briefs, ch.Name+": "+ch.Personality+" | "+ch.Background)
	}
	if len(c.briefs) > maxBriefs {
		c.briefs = c.briefs[:maxBriefs]
	}
	c.locations = strings.Join(model.LocationIDs(), ", ")
	c.schema = buildSchema(model.Names())
	return c
}

// AllowedSpeakers returns the sorted, de-duplicated roster plus the narrator.
func AllowedSpeakers(names []string) []string {
	set := map[string]struct{}{conversation.Narrator: {}}
	for _, n := range names {
		set[n] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func buildSchema(names []string) string {
	var b strings.Builder
	b.WriteString("Return ONLY valid JSON with this exact shape and keys:\n")
	b.WriteString(`{"speaker": "<one of: `)
	b.WriteString(strings.Join(AllowedSpeakers(names), ", "))
	b.WriteString(`>", "text": "<the exact dialogue or narration to say>", `)
	b.WriteString(`"location": "<optional: one of the known location ids or empty string>"}`)
	b.WriteString("\nDo not include markdown fences or extra text.")
	return b.String()
}

// Schema is the response contract as it appears in every prompt.
func (c *Composer) Schema() string { return c.schema }

// Compose builds the full prompt for one user message.
func (c *Composer) Compose(transcript, userMessage string) string {
	var b strings.Builder
	b.WriteString(RoleBlock)
	b.WriteString("\nCONTEXT (recent chat transcript):\n")
	b.WriteString(transcript)
	b.WriteString("\n\nWORLD DATA:\nCharacters:\n- ")
	b.WriteString(strings.Join(c.briefs, "\n- "))
	b.WriteString("\n\nKnown locations: ")
	b.WriteString(c.locations)
	b.WriteString("\n\n")
	b.WriteString(TaskBlock)
	b.WriteString("\n")
	b.WriteString(c.schema)
	b.WriteString("\n\nUser: ")
	b.WriteString(userMessage)
	return b.String()
}
