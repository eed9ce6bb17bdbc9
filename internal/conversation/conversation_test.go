package conversation

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func makeHistory(n int) []Turn {
	turns := make([]Turn, 0, n)
	for i := 0; i < n; i++ {
		speaker := UserSpeaker
		if i%2 == 1 {
			speaker = Narrator
		}
		turns = append(turns, Turn{Speaker: speaker, Text: fmt.Sprintf("line %d", i)})
	}
	return turns
}

func TestWindowReturnsLastNInOrder(t *testing.T) {
	for _, size := range []int{0, 1, 5, 20, 21, 57} {
		history := makeHistory(size)
		for _, n := range []int{1, 3, 20} {
			got := Window(history, n)
			want := history
			if len(history) > n {
				want = history[len(history)-n:]
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("size=%d n=%d (-want +got):\n%s", size, n, diff)
			}
		}
	}
}

func TestWindowDefaultsToTwenty(t *testing.T) {
	got := Window(makeHistory(30), 0)
	if len(got) != DefaultWindow {
		t.Fatalf("expected %d turns, got %d", DefaultWindow, len(got))
	}
	if got[0].Text != "line 10" {
		t.Fatalf("expected window to start at line 10, got %q", got[0].Text)
	}
}

func TestWindowDoesNotAlias(t *testing.T) {
	history := makeHistory(3)
	got := Window(history, 2)
	got[0].Text = "mutated"
	if history[1].Text != "line 1" {
		t.Fatal("window must not share backing storage with history")
	}
}

func TestTranscriptLabels(t *testing.T) {
	turns := []Turn{
		{Speaker: UserSpeaker, Text: "Hello"},
		{Speaker: Narrator, Text: "The tavern falls quiet."},
		{Speaker: "Brom", Text: "[gruff] What'll it be?"},
	}
	want := "User: Hello\nAssistant: The tavern falls quiet.\nAssistant: [gruff] What'll it be?"
	if got := Transcript(turns); got != want {
		t.Fatalf("unexpected transcript:\n%s", got)
	}
	if Transcript(nil) != "" {
		t.Fatal("empty history should render empty transcript")
	}
}

func TestLogSnapshotIsIndependent(t *testing.T) {
	log := NewLog(Turn{Speaker: UserSpeaker, Text: "Hello"})
	snap := log.Snapshot()
	log.Append(Turn{Speaker: Narrator, Text: "Welcome."})
	if len(snap) != 1 || log.Len() != 2 {
		t.Fatalf("snapshot should be frozen: snap=%d log=%d", len(snap), log.Len())
	}
	snap[0].Text = "mutated"
	if log.Snapshot()[0].Text != "Hello" {
		t.Fatal("log must not be mutable through snapshots")
	}
}
