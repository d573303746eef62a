package importer

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolbase/internal/clock"
	"github.com/conorfennell/knolbase/internal/collection"
	"github.com/conorfennell/knolbase/internal/models"
	"github.com/conorfennell/knolbase/internal/parser"
)

func openCollection(t *testing.T) *collection.Collection {
	t.Helper()
	col, err := collection.Open(context.Background(), collection.Options{
		Path:   filepath.Join(t.TempDir(), "collection.db"),
		Clock:  clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	t.Cleanup(func() { col.Close(context.Background()) })
	return col
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	col := openCollection(t)
	source, err := col.AddSource(ctx, "/notes")
	require.NoError(t, err)
	im := New(col, Options{Deck: "Imported::Geography", Model: models.BasicName}, nil)

	first := []parser.Entry{
		{Question: "Capital of Spain?", Answer: "Madrid", Context: "European capitals", Line: 1},
		{Question: "Capital of Peru?", Answer: "Lima", Line: 4},
		{Question: "Capital of Spain?", Answer: "Madrid!", Line: 7},
		{Question: "   ", Answer: "nothing", Line: 10},
	}
	stats, err := im.Import(ctx, *source, first)
	require.NoError(t, err)
	require.Equal(t, Stats{Added: 2, Duplicates: 1, Empty: 1}, stats)

	deck, ok := col.Decks.ByName("Imported::Geography")
	require.True(t, ok, "Expected the import deck to be created")
	cids, err := col.CardIDs(ctx, deck.ID, false)
	require.NoError(t, err)
	if len(cids) != 2 {
		t.Errorf("Expected 2 cards in the import deck, but got %d", len(cids))
	}

	spain, ok, err := col.NoteIDByGUID(ctx, GUID(first[0]))
	require.NoError(t, err)
	require.True(t, ok)
	note, err := col.GetNote(ctx, spain)
	require.NoError(t, err)
	if !note.HasTag("European_capitals") {
		t.Errorf("Expected the context tag, but got %v", note.Tags)
	}

	second := []parser.Entry{first[0], {Question: "Capital of Chile?", Answer: "Santiago", Line: 4}}
	stats, err = im.Import(ctx, *source, second)
	require.NoError(t, err)
	require.Equal(t, Stats{Added: 1, Existing: 1, Removed: 1}, stats)

	linked, err := col.SourceNotes(ctx, source.ID)
	require.NoError(t, err)
	if len(linked) != 2 {
		t.Errorf("Expected 2 notes linked to the source, but got %d", len(linked))
	}
	count, err := col.NoteCount(ctx)
	require.NoError(t, err)
	if count != 2 {
		t.Errorf("Expected the Peru note to be removed, but got %d notes", count)
	}

	sources, err := col.Sources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	if !sources[0].LastScanned.Valid {
		t.Error("Expected the source to be marked as scanned")
	}
}

func TestImportUnknownModel(t *testing.T) {
	ctx := context.Background()
	col := openCollection(t)
	source, err := col.AddSource(ctx, "/notes")
	require.NoError(t, err)

	im := New(col, Options{Deck: "Imported", Model: "Missing"}, nil)
	_, err = im.Import(ctx, *source, []parser.Entry{{Question: "q", Answer: "a"}})
	require.Error(t, err)
	if _, ok := col.Decks.ByName("Imported"); ok {
		t.Error("Expected nothing to be created when the import fails")
	}
}

func TestContextTag(t *testing.T) {
	testCases := map[string]string{
		"":                         "",
		"Programming Languages":    "Programming_Languages",
		"  spaced \t out  context ": "spaced_out_context",
	}
	for in, want := range testCases {
		if got := ContextTag(in); got != want {
			t.Errorf("Expected %q for %q, but got %q", want, in, got)
		}
	}
}
