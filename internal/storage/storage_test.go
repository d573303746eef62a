package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolbase/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "collection.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func card(id, nid, did int64, q domain.Queue, typ domain.CardType, due int64) domain.CardRow {
	return domain.CardRow{ID: id, NoteID: nid, DeckID: did, Queue: int(q), Type: int(typ), Due: due, Factor: 2500}
}

func TestCardRows(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := db.GetCard(ctx, 1)
	var nf *NotFoundError
	if !errors.As(err, &nf) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected NotFoundError, but got %v", err)
	}
	if nf.Kind != "card" {
		t.Errorf("Expected kind card, but got %s", nf.Kind)
	}

	want := card(10, 1, 1, domain.QueueReview, domain.TypeReview, 42)
	want.Left = 2003
	require.NoError(t, db.PutCard(ctx, want))
	got, err := db.GetCard(ctx, 10)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Unexpected card row (-want +got):\n%s", diff)
	}

	require.NoError(t, db.PutCard(ctx, card(11, 1, 2, domain.QueueNew, domain.TypeNew, 1)))
	require.NoError(t, db.PutCard(ctx, card(12, 2, 2, domain.QueueNew, domain.TypeNew, 2)))

	ids, err := db.CardIDsByDecks(ctx, []int64{2})
	require.NoError(t, err)
	if diff := cmp.Diff([]int64{11, 12}, ids); diff != "" {
		t.Errorf("Unexpected deck cards (-want +got):\n%s", diff)
	}
	rows, err := db.CardsByNote(ctx, 1)
	require.NoError(t, err)
	if len(rows) != 2 {
		t.Errorf("Expected 2 cards of note 1, but got %d", len(rows))
	}
	nids, err := db.NoteIDsByCards(ctx, []int64{10, 11, 12})
	require.NoError(t, err)
	if diff := cmp.Diff([]int64{1, 2}, nids); diff != "" {
		t.Errorf("Unexpected notes (-want +got):\n%s", diff)
	}

	require.NoError(t, db.DeleteCards(ctx, []int64{10, 11}))
	n, err := db.CardCount(ctx)
	require.NoError(t, err)
	if n != 1 {
		t.Errorf("Expected 1 card left, but got %d", n)
	}
}

func TestEmptySliceArguments(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	rows, err := db.CardsByIDs(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, rows)
	require.NoError(t, db.DeleteCards(ctx, []int64{}))
	require.NoError(t, db.SetCardsQueue(ctx, nil, domain.QueueSuspended, 0, -1))
	tags, err := db.NoteTags(ctx, []int64{})
	require.NoError(t, err)
	require.Empty(t, tags)
}

func TestQueueChanges(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.PutCard(ctx, card(1, 1, 1, domain.QueueReview, domain.TypeReview, 30)))
	require.NoError(t, db.PutCard(ctx, card(2, 1, 1, domain.QueueLearning, domain.TypeLearning, 1_700_000_000)))
	require.NoError(t, db.PutCard(ctx, card(3, 1, 1, domain.QueueDayLearning, domain.TypeRelearning, 31)))
	require.NoError(t, db.PutCard(ctx, card(4, 1, 1, domain.QueueUserBuried, domain.TypeNew, 5)))

	all := []int64{1, 2, 3, 4}
	require.NoError(t, db.SetCardsQueue(ctx, []int64{1, 2, 3}, domain.QueueSuspended, 100, -1))
	require.NoError(t, db.RestoreCardsQueue(ctx, all, []domain.Queue{domain.QueueSuspended}, 200, -1))

	rows, err := db.CardsByIDs(ctx, all)
	require.NoError(t, err)
	want := []int{int(domain.QueueReview), int(domain.QueueLearning), int(domain.QueueDayLearning), int(domain.QueueUserBuried)}
	for i, r := range rows {
		if r.Queue != want[i] {
			t.Errorf("Expected card %d in queue %d, but got %d", r.ID, want[i], r.Queue)
		}
	}
	if rows[3].Mod != 0 {
		t.Errorf("Expected buried card untouched, but got mod %d", rows[3].Mod)
	}
}

func TestEmptyFilteredDeck(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	borrowed := card(1, 1, 9, domain.QueueReview, domain.TypeReview, 5)
	borrowed.OriginalDeckID, borrowed.OriginalDue = 2, 50
	learning := card(2, 1, 9, domain.QueueLearning, domain.TypeLearning, 1_700_000_000)
	learning.OriginalDeckID = 3
	suspended := card(3, 2, 9, domain.QueueSuspended, domain.TypeReview, 7)
	suspended.OriginalDeckID, suspended.OriginalDue = 2, 60
	buried := card(4, 2, 9, domain.QueueUserBuried, domain.TypeNew, 3)
	buried.OriginalDeckID = 2
	// previewed relearning card, home due is a timestamp
	relearning := card(5, 3, 9, domain.QueuePreview, domain.TypeRelearning, 1_800_000_000)
	relearning.OriginalDeckID, relearning.OriginalDue = 2, 1_700_000_500
	// day-learning card, home due is a day number
	dayLearning := card(6, 3, 9, domain.QueuePreview, domain.TypeLearning, 1_800_000_000)
	dayLearning.OriginalDeckID, dayLearning.OriginalDue = 2, 40
	for _, c := range []domain.CardRow{borrowed, learning, suspended, buried, relearning, dayLearning} {
		require.NoError(t, db.PutCard(ctx, c))
	}

	require.NoError(t, db.EmptyFilteredDeck(ctx, 9, 10, -1))

	rows, err := db.CardsByIDs(ctx, []int64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	require.Len(t, rows, 6)
	if rows[0].DeckID != 2 || rows[0].Due != 50 || rows[0].OriginalDeckID != 0 || rows[0].OriginalDue != 0 {
		t.Errorf("Expected review card home with its original due, but got %+v", rows[0])
	}
	if rows[1].DeckID != 3 || rows[1].Due != 1_700_000_000 || rows[1].Queue != int(domain.QueueLearning) {
		t.Errorf("Expected learning card home keeping its due, but got %+v", rows[1])
	}

	tests := []struct {
		name  string
		row   domain.CardRow
		queue domain.Queue
		due   int64
	}{
		{"suspended review card stays suspended", rows[2], domain.QueueSuspended, 60},
		{"buried new card stays buried", rows[3], domain.QueueUserBuried, 3},
		{"relearning card goes by its original due", rows[4], domain.QueueLearning, 1_700_000_500},
		{"day-learning card goes by its original due", rows[5], domain.QueueDayLearning, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.row.Queue != int(tt.queue) {
				t.Errorf("Expected queue %d, but got %d", tt.queue, tt.row.Queue)
			}
			if tt.row.Due != tt.due {
				t.Errorf("Expected due %d, but got %d", tt.due, tt.row.Due)
			}
			if tt.row.DeckID != 2 || tt.row.OriginalDeckID != 0 || tt.row.OriginalDue != 0 {
				t.Errorf("Expected card home in deck 2, but got %+v", tt.row)
			}
		})
	}
}

func TestReturnCardsHome(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	previewed := card(1, 1, 9, domain.QueuePreview, domain.TypeReview, 1_800_000_000)
	previewed.OriginalDeckID, previewed.OriginalDue = 2, 50
	other := card(2, 1, 9, domain.QueuePreview, domain.TypeReview, 1_800_000_000)
	other.OriginalDeckID, other.OriginalDue = 2, 51
	home := card(3, 2, 4, domain.QueueReview, domain.TypeReview, 30)
	for _, c := range []domain.CardRow{previewed, other, home} {
		require.NoError(t, db.PutCard(ctx, c))
	}

	require.NoError(t, db.ReturnCardsHome(ctx, nil, 10, -1))
	require.NoError(t, db.ReturnCardsHome(ctx, []int64{1, 3}, 10, -1))

	rows, err := db.CardsByIDs(ctx, []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	if rows[0].DeckID != 2 || rows[0].Queue != int(domain.QueueReview) || rows[0].Due != 50 || rows[0].OriginalDeckID != 0 {
		t.Errorf("Expected previewed card back in review at day 50, but got %+v", rows[0])
	}
	if rows[1].DeckID != 9 || rows[1].Queue != int(domain.QueuePreview) {
		t.Errorf("Expected unlisted card left in filtered deck, but got %+v", rows[1])
	}
	if rows[2].DeckID != 4 || rows[2].Due != 30 || rows[2].Mod == 10 {
		t.Errorf("Expected card at home untouched, but got %+v", rows[2])
	}
}

func TestNoteQueries(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	notes := []domain.NoteRow{
		{ID: 1, GUID: "a", ModelID: 7, Tags: " verb ", Fields: "go\x1fgehen", Checksum: 99},
		{ID: 2, GUID: "b", ModelID: 7, Tags: " noun ", Fields: "go\x1fGo", Checksum: 99},
		{ID: 3, GUID: "c", ModelID: 8, Tags: "", Fields: "go\x1fx", Checksum: 99},
	}
	for _, n := range notes {
		require.NoError(t, db.PutNote(ctx, n))
	}
	require.NoError(t, db.PutCard(ctx, card(10, 1, 5, domain.QueueNew, domain.TypeNew, 1)))

	flds, err := db.FieldsByChecksum(ctx, 7, 99, 1)
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"go\x1fGo"}, flds); diff != "" {
		t.Errorf("Unexpected candidates (-want +got):\n%s", diff)
	}

	id, ok, err := db.NoteIDByGUID(ctx, "b")
	require.NoError(t, err)
	if !ok || id != 2 {
		t.Errorf("Expected note 2 by guid, but got %d %v", id, ok)
	}
	_, ok, err = db.NoteIDByGUID(ctx, "zzz")
	require.NoError(t, err)
	require.False(t, ok)

	deckTags, err := db.DeckNoteTags(ctx, []int64{5})
	require.NoError(t, err)
	if diff := cmp.Diff([]string{" verb "}, deckTags); diff != "" {
		t.Errorf("Unexpected deck tags (-want +got):\n%s", diff)
	}

	orphans, err := db.OrphanNoteIDs(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff([]int64{2, 3}, orphans); diff != "" {
		t.Errorf("Unexpected orphans (-want +got):\n%s", diff)
	}
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.PutNote(ctx, domain.NoteRow{ID: 1, GUID: "a", ModelID: 1}))
	require.NoError(t, tx.Rollback())

	n, err := db.NoteCount(ctx)
	require.NoError(t, err)
	if n != 0 {
		t.Errorf("Expected rolled back note to be gone, but got %d notes", n)
	}
}

func TestRevlogAndGraves(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.InsertRevlog(ctx, domain.ReviewLog{ID: 1, CardID: 5, Ease: 3, Usn: -1}))
	require.NoError(t, db.InsertRevlog(ctx, domain.ReviewLog{ID: 2, CardID: 5, Ease: 1, Usn: -1}))
	require.NoError(t, db.DeleteLastRevlog(ctx, 5))
	logs, err := db.RevlogByCard(ctx, 5)
	require.NoError(t, err)
	if len(logs) != 1 || logs[0].Ease != 3 {
		t.Errorf("Expected only the first review, but got %+v", logs)
	}

	require.NoError(t, db.InsertGraves(ctx, -1, GraveNote, []int64{7, 8}))
	require.NoError(t, db.ResetUsns(ctx))
	graves, err := db.Graves(ctx)
	require.NoError(t, err)
	require.Empty(t, graves)
	logs, err = db.RevlogByCard(ctx, 5)
	require.NoError(t, err)
	if logs[0].Usn != 0 {
		t.Errorf("Expected usn reset to 0, but got %d", logs[0].Usn)
	}
}

func TestSources(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	id, err := db.InsertSource(ctx, "https://example.com/cards.git")
	require.NoError(t, err)
	s, err := db.FindSourceByPath(ctx, "https://example.com/cards.git")
	require.NoError(t, err)
	if s.ID != id || !s.IsGit() || s.LastScanned.Valid {
		t.Errorf("Unexpected source %+v", s)
	}
	if _, err := db.FindSourceByPath(ctx, "/nowhere"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, but got %v", err)
	}

	require.NoError(t, db.LinkSourceNote(ctx, id, 3))
	require.NoError(t, db.LinkSourceNote(ctx, id, 3))
	require.NoError(t, db.LinkSourceNote(ctx, id, 4))
	require.NoError(t, db.UnlinkNotes(ctx, []int64{4}))
	nids, err := db.NotesBySource(ctx, id)
	require.NoError(t, err)
	if diff := cmp.Diff([]int64{3}, nids); diff != "" {
		t.Errorf("Unexpected source notes (-want +got):\n%s", diff)
	}
}

func TestIsCorrupt(t *testing.T) {
	if IsCorrupt(errors.New("plain")) || IsCorrupt(nil) {
		t.Error("Expected ordinary errors not to be corruption")
	}
}
