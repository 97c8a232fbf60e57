package classifier

import (
	"testing"

	"github.com/hyperjump/dataforge/internal/models"
)

func forest() []*models.Tag {
	return []*models.Tag{
		{Label: "Finance", Children: []*models.Tag{
			{Label: "Tax", Children: []*models.Tag{{Label: "VAT"}}},
			{Label: "Audit"},
		}},
		{Label: "Legal", Children: []*models.Tag{
			{Label: "Contracts", Children: []*models.Tag{{Label: "Tax"}}},
		}},
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"", Uncategorized},
		{"Marketing", Uncategorized},
		{"finance", Uncategorized},
		{"Finance", "Finance"},
		{"VAT", "VAT"},
	}
	for _, tt := range tests {
		if got := Resolve(tt.label, forest()); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.label, got, tt.want)
		}
	}
}

func TestMatchLabel_PrefersDeeperMatch(t *testing.T) {
	m, ok := MatchLabel("Tax", forest())
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Depth != 3 {
		t.Errorf("depth = %d, want 3", m.Depth)
	}
	if m.Key() != "Legal > Contracts > Tax" {
		t.Errorf("path = %q", m.Key())
	}
}

func TestMatchLabel_EmptyForest(t *testing.T) {
	if _, ok := MatchLabel("Tax", nil); ok {
		t.Error("expected no match in an empty forest")
	}
	if Resolve("Tax", nil) != Uncategorized {
		t.Error("expected uncategorized")
	}
}

func TestLabels(t *testing.T) {
	got := Labels(forest())
	want := []string{"Finance", "Tax", "VAT", "Audit", "Legal", "Contracts", "Tax"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("label %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTally(t *testing.T) {
	qs := []*models.Question{
		{Label: "VAT"}, {Label: "VAT"}, {Label: "Tax"}, {Label: ""}, {Label: "Unknown"}, {Label: "Audit"},
	}
	rep := Tally(qs, forest())
	if rep.Total != 6 || rep.Uncategorized != 2 {
		t.Errorf("total=%d uncategorized=%d", rep.Total, rep.Uncategorized)
	}
	if len(rep.Tags) != 3 {
		t.Fatalf("got %d tags: %+v", len(rep.Tags), rep.Tags)
	}
	if rep.Tags[0].Path != "Finance > Tax > VAT" || rep.Tags[0].Count != 2 {
		t.Errorf("top tag = %+v", rep.Tags[0])
	}
	if qs[2].Label != "Tax" {
		t.Error("Tally must not rewrite question labels")
	}
}
