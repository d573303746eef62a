package decks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolbase/internal/clock"
	"github.com/conorfennell/knolbase/internal/document"
)

var errSchema = errors.New("schema change not confirmed")

type fakeCollection struct {
	schemaConfirmed bool
	removedCards    []int64
	emptied         []int64
	graves          []int64
}

func (f *fakeCollection) Usn() int { return -1 }

func (f *fakeCollection) ModSchema(check bool) error {
	if check && !f.schemaConfirmed {
		return errSchema
	}
	return nil
}

func (f *fakeCollection) RemoveDeckCards(_ context.Context, did int64) error {
	f.removedCards = append(f.removedCards, did)
	return nil
}

func (f *fakeCollection) EmptyFiltered(_ context.Context, did int64) error {
	f.emptied = append(f.emptied, did)
	return nil
}

func (f *fakeCollection) LogDeckGrave(_ context.Context, did int64) error {
	f.graves = append(f.graves, did)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *fakeCollection) {
	t.Helper()
	col := &fakeCollection{}
	r := NewRegistry(col, clock.NewFake(time.Unix(1_700_000_000, 0)))
	r.EnsureDefaults()
	return r, col
}

func TestCreateNestedDeck(t *testing.T) {
	r, col := newTestRegistry(t)

	cid, err := r.ID("A::B::C", true)
	require.NoError(t, err)
	require.Equal(t, 4, r.Count(), "A, B and C plus the default deck")
	require.Equal(t, []string{"A", "A::B", "A::B::C", "Default"}, r.AllNames(true))

	aid, err := r.ID("a", false)
	require.NoError(t, err)
	parents := r.Parents(cid)
	require.Len(t, parents, 2)
	require.Equal(t, aid, parents[0].ID)
	require.Equal(t, "A::B", parents[1].Name)

	require.NoError(t, r.Rem(context.Background(), aid, true, true))
	require.Equal(t, []string{"Default"}, r.AllNames(true))
	require.ElementsMatch(t, []int64{aid, parents[1].ID, cid}, col.graves)
	require.ElementsMatch(t, []int64{aid, parents[1].ID, cid}, col.removedCards)
}

func TestIDLookup(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.ID("missing", false)
	require.ErrorIs(t, err, ErrNotFound)

	lang, err := r.ID("Lang", true)
	require.NoError(t, err)
	again, err := r.ID(`  "LANG" `, true)
	require.NoError(t, err)
	require.Equal(t, lang, again)

	child, err := r.ID("lang :: French", true)
	require.NoError(t, err)
	d, _ := r.Get(child)
	require.Equal(t, "Lang::French", d.Name, "ancestor casing wins")

	_, err = r.ID("A::::B", true)
	var re *RenameError
	require.ErrorAs(t, err, &re)
	require.Equal(t, ReasonInvalidName, re.Reason)
}

func TestStrip(t *testing.T) {
	testCases := map[string]string{
		"  A ::  B ":  "A::B",
		"A::B":        "A::B",
		"A\t::\tB  C": "A::B  C",
	}
	for in, want := range testCases {
		if got := Strip(in); got != want {
			t.Errorf("Strip(%q): Expected %q, but got %q", in, want, got)
		}
	}
}

func TestRename(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.ID("A::B::C", true)
	require.NoError(t, err)
	a, _ := r.ByName("A")
	_, err = r.ID("Other", true)
	require.NoError(t, err)
	fid, err := r.NewFiltered("Cram")
	require.NoError(t, err)

	t.Run("rewrites descendants", func(t *testing.T) {
		require.NoError(t, r.Rename(a, "Z::A"))
		require.Equal(t, []string{"Cram", "Default", "Other", "Z", "Z::A", "Z::A::B", "Z::A::B::C"}, r.AllNames(true))
	})

	testCases := []struct {
		name    string
		newName string
		reason  Reason
	}{
		{name: "existing name", newName: "other", reason: ReasonAlreadyExists},
		{name: "under filtered deck", newName: "Cram::A", reason: ReasonFilteredNoSubdecks},
		{name: "empty", newName: "  ", reason: ReasonInvalidName},
		{name: "under itself", newName: "Z::A::B::A", reason: ReasonInvalidName},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Rename(a, tc.newName)
			var re *RenameError
			require.ErrorAs(t, err, &re)
			require.Equal(t, tc.reason, re.Reason)
			require.Equal(t, "Z::A", a.Name, "a failed rename leaves the deck alone")
		})
	}

	_, err = r.ID("Cram::Sub", true)
	var re *RenameError
	require.ErrorAs(t, err, &re)
	require.Equal(t, ReasonFilteredNoSubdecks, re.Reason)
	require.True(t, r.IsFiltered(fid))
}

func TestDefaultDeckIsNeverDeleted(t *testing.T) {
	r, col := newTestRegistry(t)
	_, err := r.ID("Parent", true)
	require.NoError(t, err)
	def, _ := r.Get(DefaultDeckID)
	require.NoError(t, r.Rename(def, "Parent::Default"))

	pid, _ := r.ID("Parent", false)
	require.NoError(t, r.Rem(context.Background(), pid, false, true))

	def, ok := r.Get(DefaultDeckID)
	require.True(t, ok)
	require.Equal(t, "Default", def.Name)
	require.Equal(t, []int64{pid}, col.graves)
	require.Equal(t, DefaultDeckID, r.Selected())
}

func TestDefaultDeckAvoidsTakenName(t *testing.T) {
	r, _ := newTestRegistry(t)
	def, _ := r.Get(DefaultDeckID)
	require.NoError(t, r.Rename(def, "Parent::Default"))
	other, err := r.ID("Default", true)
	require.NoError(t, err)
	require.NotEqual(t, DefaultDeckID, other)

	pid, _ := r.ID("Parent", false)
	require.NoError(t, r.Rem(context.Background(), pid, false, true))

	def, ok := r.Get(DefaultDeckID)
	require.True(t, ok)
	if def.Name != "Default+" {
		t.Errorf("Expected Default+, but got %q", def.Name)
	}
	d, ok := r.Get(other)
	require.True(t, ok)
	require.Equal(t, "Default", d.Name)
}

func TestRemFilteredDeckEmptiesIt(t *testing.T) {
	r, col := newTestRegistry(t)
	fid, err := r.NewFiltered("Cram")
	require.NoError(t, err)
	require.Equal(t, fid, r.Selected())

	require.NoError(t, r.Rem(context.Background(), fid, true, true))
	require.Equal(t, []int64{fid}, col.emptied)
	require.Empty(t, col.removedCards, "cards of a filtered deck go home, they are not deleted")
	require.NotEqual(t, fid, r.Selected())
}

func TestSelectRecomputesChildren(t *testing.T) {
	r, _ := newTestRegistry(t)
	aid, _ := r.ID("A", true)
	bid, _ := r.ID("A::B", true)
	require.NoError(t, r.Select(aid))
	require.Equal(t, []int64{aid, bid}, r.Active())

	did, _ := r.ID("A::D", true)
	require.NoError(t, r.Select(aid))
	require.Equal(t, []int64{aid, bid, did}, r.Active())

	require.ErrorIs(t, r.Select(12345), ErrNotFound)
}

func TestRemConf(t *testing.T) {
	r, col := newTestRegistry(t)
	cid := r.AddConf("Shared", nil)
	var dids []int64
	for _, name := range []string{"One", "Two", "Three"} {
		did, err := r.ID(name, true)
		require.NoError(t, err)
		d, _ := r.Get(did)
		r.SetConf(d, cid)
		dids = append(dids, did)
	}
	require.ElementsMatch(t, dids, r.DidsForConf(cid))

	require.ErrorIs(t, r.RemConf(cid), errSchema)
	_, ok := r.GetConf(cid)
	require.True(t, ok, "a refused removal keeps the config")

	col.schemaConfirmed = true
	require.NoError(t, r.RemConf(cid))
	_, ok = r.GetConf(cid)
	require.False(t, ok)
	for _, did := range dids {
		d, _ := r.Get(did)
		require.Equal(t, DefaultConfID, d.Conf)
	}
	require.ErrorIs(t, r.RemConf(DefaultConfID), ErrDefaultConf)
}

func TestConfForDid(t *testing.T) {
	r, _ := newTestRegistry(t)
	conf, err := r.ConfForDid(DefaultDeckID)
	require.NoError(t, err)
	require.Equal(t, 60*time.Second, conf.TimeLimit())
	require.False(t, conf.Dyn)

	fid, _ := r.NewFiltered("Cram")
	conf, err = r.ConfForDid(fid)
	require.NoError(t, err)
	require.True(t, conf.Dyn)
	def, _ := r.GetConf(DefaultConfID)
	require.False(t, def.Dyn, "the shared default config is not marked")
}

func TestLoadMarshalKeepsUnknownKeys(t *testing.T) {
	r, _ := newTestRegistry(t)
	doc := document.MustParse(`{"id": 42, "name": "Imported", "conf": 1, "dyn": 0, "extendNew": 7, "browserCollapsed": true}`)
	require.NoError(t, r.Update(doc))

	decksJSON, confJSON, err := r.Marshal()
	require.NoError(t, err)

	loaded := NewRegistry(&fakeCollection{}, clock.System{})
	require.NoError(t, loaded.Load(decksJSON, confJSON, 42, []int64{42}))
	d, ok := loaded.Get(42)
	require.True(t, ok)
	require.Equal(t, "Imported", d.Name)

	out, err := d.Document()
	require.NoError(t, err)
	keys := out.Keys()
	want := []string{"id", "name", "conf", "dyn", "extendNew", "browserCollapsed"}
	if diff := cmp.Diff(want, keys[:len(want)]); diff != "" {
		t.Errorf("Key order changed (-want +got):\n%s", diff)
	}
	v, err := document.Get[bool](out, "browserCollapsed")
	require.NoError(t, err)
	require.True(t, v)

	def, ok := loaded.GetConf(DefaultConfID)
	require.True(t, ok)
	require.Equal(t, 20, def.New.PerDay)
	require.Equal(t, 8, def.Lapse.LeechFails)
}

func TestBeforeUpload(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, _ = r.ID("A", true)
	r.BeforeUpload()
	for _, d := range r.All() {
		require.Zero(t, d.Usn)
	}
	for _, c := range r.AllConf() {
		require.Zero(t, c.Usn)
	}
}
