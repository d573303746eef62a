package domain

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/conorfennell/knolbase/internal/fields"
)

type fakeFinder struct {
	notes map[int64]*Note
	calls int
}

func (f *fakeFinder) FieldsByChecksum(_ context.Context, modelID, checksum, excludeID int64) ([]string, error) {
	f.calls++
	var out []string
	for id, n := range f.notes {
		if id == excludeID || n.ModelID != modelID {
			continue
		}
		if fields.Checksum(fields.StripHTMLMedia(n.Fields[0])) == checksum {
			out = append(out, n.JoinedFields())
		}
	}
	return out, nil
}

func TestDupeOrEmpty(t *testing.T) {
	existing := &Note{ID: 1, ModelID: 7, Fields: []string{"<b>capital of France</b>", "Paris"}}
	otherModel := &Note{ID: 2, ModelID: 8, Fields: []string{"unique front", "x"}}
	finder := &fakeFinder{notes: map[int64]*Note{1: existing, 2: otherModel}}

	testCases := []struct {
		name  string
		note  *Note
		want  DupeStatus
		calls int
	}{
		{name: "blank", note: &Note{ID: 3, ModelID: 7, Fields: []string{"   ", "b"}}, want: Empty},
		{name: "duplicate ignoring markup", note: &Note{ID: 3, ModelID: 7, Fields: []string{"capital of France", "b"}}, want: Duplicate, calls: 1},
		{name: "unique", note: &Note{ID: 3, ModelID: 7, Fields: []string{"capital of Spain", "b"}}, want: Unique, calls: 1},
		{name: "other model is not a duplicate", note: &Note{ID: 3, ModelID: 7, Fields: []string{"unique front", "b"}}, want: Unique, calls: 1},
		{name: "self is not a duplicate", note: existing, want: Unique, calls: 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			finder.calls = 0
			for range 2 {
				got, err := tc.note.DupeOrEmpty(context.Background(), finder)
				if err != nil {
					t.Fatalf("Expected no error, but got %v", err)
				}
				if got != tc.want {
					t.Errorf("Expected %s, but got %s", tc.want, got)
				}
			}
			if finder.calls != 2*tc.calls {
				t.Errorf("Expected %d lookups, but got %d", 2*tc.calls, finder.calls)
			}
		})
	}
}

func TestNoteTags(t *testing.T) {
	n := NewNote(1, "g", 1, 2)
	n.AddTag("Verb")
	n.AddTags("noun", "VERB", "adj")
	if !n.HasTag("verb") {
		t.Error("Expected HasTag to ignore case")
	}
	n.DelTag("verb")
	if diff := cmp.Diff([]string{"noun", "adj"}, n.Tags); diff != "" {
		t.Errorf("Unexpected tags (-want +got):\n%s", diff)
	}
}

func TestNoteClone(t *testing.T) {
	n := &Note{ID: 1, Fields: []string{"a", "b"}, Tags: []string{"t"}}
	cp := n.Clone()
	cp.Fields[0] = "changed"
	cp.Tags[0] = "changed"
	if n.Fields[0] != "a" || n.Tags[0] != "t" {
		t.Errorf("Expected clone to be independent, but original became %v %v", n.Fields, n.Tags)
	}
}

func TestNoteFields(t *testing.T) {
	n := NewNote(1, "g", 1, 2)
	if err := n.SetField(1, "back"); err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if err := n.SetField(2, "x"); err == nil {
		t.Error("Expected out of range field to fail")
	}
	if n.Field(1) != "back" || n.Field(5) != "" {
		t.Errorf("Unexpected fields %q", n.Fields)
	}
	if n.JoinedFields() != "\x1fback" {
		t.Errorf("Expected joined fields, but got %q", n.JoinedFields())
	}
}

func TestNextClozeIndex(t *testing.T) {
	got := NextClozeIndex([]string{"{{c1::a}} {{c3::b}}", "{{c2::c}}"})
	if got != 4 {
		t.Errorf("Expected 4, but got %d", got)
	}
	if NextClozeIndex([]string{"plain"}) != 1 {
		t.Error("Expected 1 for text without clozes")
	}
}
