package detect

import "testing"

func TestLabels(t *testing.T) {
	t.Parallel()
	ev := Event{
		ID: "e1",
		Objects: []Object{
			{Label: "person", Confidence: 0.9},
			{Label: "cat", Confidence: 0.8},
			{Label: "person", Confidence: 0.7},
			{Label: " ", Confidence: 0.6},
		},
	}
	got := ev.Labels()
	if len(got) != 2 || got[0] != "person" || got[1] != "cat" {
		t.Fatalf("Labels() = %v, want [person cat]", got)
	}
	if !ev.HasLabel("cat") || ev.HasLabel("dog") {
		t.Fatalf("HasLabel gave wrong answer")
	}
}
