package contract

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/loqalabs/fateweaver/internal/conversation"
	"github.com/loqalabs/fateweaver/internal/world"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Reply
	}{
		{
			name: "valid contract",
			raw:  `{"speaker":"Narrator","text":"The tavern falls quiet.","location":""}`,
			want: Reply{Speaker: "Narrator", Text: "The tavern falls quiet.", Method: MethodJSON},
		},
		{
			name: "surrounding whitespace",
			raw:  "\n  {\"speaker\":\"Brom\",\"text\":\"Aye.\",\"location\":\"tavern\"}\n",
			want: Reply{Speaker: "Brom", Text: "Aye.", Location: "tavern", Method: MethodJSON},
		},
		{
			name: "missing optional fields",
			raw:  `{"speaker":"Brom"}`,
			want: Reply{Speaker: "Brom", Method: MethodJSON},
		},
		{
			name: "null fields",
			raw:  `{"speaker":null,"text":null,"location":null}`,
			want: Reply{Method: MethodJSON},
		},
		{
			name: "extra keys ignored",
			raw:  `{"speaker":"Aria","text":"Hm.","mood":"wry"}`,
			want: Reply{Speaker: "Aria", Text: "Hm.", Method: MethodJSON},
		},
		{
			name: "not json",
			raw:  "not valid json",
			want: Reply{Speaker: "Narrator", Text: "not valid json", Method: MethodFallback},
		},
		{
			name: "json array",
			raw:  `["speaker","text"]`,
			want: Reply{Speaker: "Narrator", Text: `["speaker","text"]`, Method: MethodFallback},
		},
		{
			name: "json null",
			raw:  "null",
			want: Reply{Speaker: "Narrator", Text: "null", Method: MethodFallback},
		},
		{
			name: "wrong field type",
			raw:  `{"speaker":7,"text":"Seven."}`,
			want: Reply{Speaker: "Narrator", Text: `{"speaker":7,"text":"Seven."}`, Method: MethodFallback},
		},
		{
			name: "markdown fenced",
			raw:  "```json\n{\"speaker\":\"Brom\",\"text\":\"Aye.\"}\n```",
			want: Reply{Speaker: "Narrator", Text: "```json\n{\"speaker\":\"Brom\",\"text\":\"Aye.\"}\n```", Method: MethodFallback},
		},
		{
			name: "trailing prose",
			raw:  `{"speaker":"Brom","text":"Aye."} hope that helps`,
			want: Reply{Speaker: "Narrator", Text: `{"speaker":"Brom","text":"Aye."} hope that helps`, Method: MethodFallback},
		},
		{
			name: "empty",
			raw:  "",
			want: Reply{Speaker: "Narrator", Method: MethodFallback},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.raw)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("reply mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveSpeaker(t *testing.T) {
	roster := world.New([]world.Character{{Name: "Brom"}, {Name: "Aria"}}, nil)
	cases := map[string]string{
		"Brom":          "Brom",
		"Aria":          "Aria",
		"Narrator":      "Narrator",
		"":              "Narrator",
		"brom":          "Narrator",
		"Sir Anonymous": "Narrator",
	}
	for in, want := range cases {
		got := ResolveSpeaker(in, roster)
		if got != want {
			t.Fatalf("ResolveSpeaker(%q) = %q, want %q", in, got, want)
		}
		if again := ResolveSpeaker(got, roster); again != got {
			t.Fatalf("resolving %q twice changed it to %q", got, again)
		}
	}
	if ResolveSpeaker("Brom", nil) != conversation.Narrator {
		t.Fatal("nil roster should only allow the narrator")
	}
}

func TestResolveLocation(t *testing.T) {
	known := world.New(nil, []world.Location{{ID: "tavern"}})
	if got := ResolveLocation("tavern", known); got != "tavern" {
		t.Fatalf("expected known location kept, got %q", got)
	}
	if got := ResolveLocation("moon", known); got != "" {
		t.Fatalf("expected unknown location cleared, got %q", got)
	}
}
