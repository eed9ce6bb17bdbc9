package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/loqalabs/fateweaver/internal/world"
)

func testWorld() *world.Model {
	return world.New(
		[]world.Character{
			{Name: "Brom", Personality: "gruff", Background: "tavern keeper"},
			{Name: "Aria", Personality: "wry", Background: "bard"},
			{Name: "Brom", Personality: "duplicate", Background: "twin"},
		},
		[]world.Location{{ID: "tavern", Sublocations: []world.Location{{ID: "cellar"}}}},
	)
}

func TestAllowedSpeakersSortedAndUnique(t *testing.T) {
	got := AllowedSpeakers([]string{"Brom", "Aria", "Brom"})
	if diff := cmp.Diff([]string{"Aria", "Brom", "Narrator"}, got); diff != "" {
		t.Fatalf("speakers mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Narrator"}, AllowedSpeakers(nil)); diff != "" {
		t.Fatalf("empty roster should allow only the narrator:\n%s", diff)
	}
}

func TestComposeEmbedsContractAndWorld(t *testing.T) {
	c := NewComposer(testWorld(), 0)
	out := c.Compose("User: Hello", "I order an ale.")

	for _, want := range []string{
		RoleBlock,
		"CONTEXT (recent chat transcript):\nUser: Hello",
		"- Brom: gruff | tavern keeper\n- Aria: wry | bard",
		"Known locations: tavern, cellar",
		"you are not to acknowledge that you are an AI",
		"reframe the response to be in universe",
		`"speaker": "<one of: Aria, Brom, Narrator>"`,
		c.Schema(),
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("prompt missing %q:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n\nUser: I order an ale.") {
		t.Fatalf("prompt should end with the user message:\n%s", out)
	}
	if strings.Index(out, "CONTEXT") > strings.Index(out, "WORLD DATA") {
		t.Fatal("transcript must precede world data")
	}
	if strings.Index(out, "TASK:") > strings.Index(out, "Return ONLY valid JSON") {
		t.Fatal("task block must precede the contract")
	}
}

func TestComposeCapsCharacterBriefs(t *testing.T) {
	var roster []world.Character
	for i := 0; i < 75; i++ {
		roster = append(roster, world.Character{Name: fmt.Sprintf("npc-%02d", i)})
	}
	c := NewComposer(world.New(roster, nil), 60)
	out := c.Compose("", "hi")

	if !strings.Contains(out, "- npc-59: ") {
		t.Fatal("expected the 60th brief to be present")
	}
	if strings.Contains(out, "- npc-60: ") {
		t.Fatal("expected briefs beyond the cap to be dropped")
	}
	// The contract still names every character, capped or not.
	if !strings.Contains(c.Schema(), "npc-74") {
		t.Fatal("schema must enumerate the whole roster")
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	c := NewComposer(testWorld(), 10)
	if c.Compose("User: a", "b") != c.Compose("User: a", "b") {
		t.Fatal("compose must be a pure function of its inputs")
	}
}
