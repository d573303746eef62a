package tags

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	byNote map[int64]string
	byDeck map[int64][]string
}

func (f *fakeSource) NoteTags(_ context.Context, nids []int64) ([]string, error) {
	var out []string
	if nids == nil {
		for _, t := range f.byNote {
			out = append(out, t)
		}
		return out, nil
	}
	for _, id := range nids {
		out = append(out, f.byNote[id])
	}
	return out, nil
}

func (f *fakeSource) DeckNoteTags(_ context.Context, dids []int64) ([]string, error) {
	var out []string
	for _, did := range dids {
		out = append(out, f.byDeck[did]...)
	}
	return out, nil
}

func TestCanonifyPrefersRegisteredCasing(t *testing.T) {
	r := NewRegistry()
	r.Register([]string{"Foo"}, -1)

	got := r.Canonify([]string{"Foo", "foo", "bar"})
	if diff := cmp.Diff([]string{"bar", "Foo"}, got); diff != "" {
		t.Errorf("Unexpected canonified tags (-want +got):\n%s", diff)
	}
}

func TestCanonify(t *testing.T) {
	r := NewRegistry()
	testCases := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "first casing wins", in: []string{"verb", "Verb", "VERB"}, want: []string{"verb"}},
		{name: "quotes stripped", in: []string{`"quoted"`, "it's"}, want: []string{"its", "quoted"}},
		{name: "case-insensitive order", in: []string{"b", "A", "c"}, want: []string{"A", "b", "c"}},
		{name: "empty after stripping", in: []string{`""`}, want: nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, r.Canonify(tc.in)); diff != "" {
				t.Errorf("Unexpected tags (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	r := NewRegistry()
	r.Register([]string{"Alpha", "alpha", "beta"}, 5)
	require.True(t, r.Changed())
	require.Equal(t, []string{"Alpha", "beta"}, r.All())
	require.True(t, r.Has("ALPHA"))

	r.MarkFlushed()
	r.Register([]string{"ALPHA"}, 6)
	require.False(t, r.Changed(), "registering a known tag must not mark the registry changed")
}

func TestLoadMarshal(t *testing.T) {
	r := NewRegistry()
	r.Register([]string{"zeta", "Alpha"}, 3)
	data, err := r.Marshal()
	require.NoError(t, err)
	require.JSONEq(t, `{"Alpha":3,"zeta":3}`, string(data))

	loaded := NewRegistry()
	require.NoError(t, loaded.Load(data))
	require.Equal(t, []Item{{Name: "Alpha", Usn: 3}, {Name: "zeta", Usn: 3}}, loaded.Items())
	require.False(t, loaded.Changed())

	loaded.BeforeUpload()
	require.Equal(t, []Item{{Name: "Alpha", Usn: 0}, {Name: "zeta", Usn: 0}}, loaded.Items())
	require.True(t, loaded.Changed())
}

func TestRegisterNotes(t *testing.T) {
	src := &fakeSource{byNote: map[int64]string{1: " a b ", 2: " c "}}
	r := NewRegistry()
	r.Register([]string{"stale"}, 0)

	require.NoError(t, r.RegisterNotes(context.Background(), src, []int64{2}, -1))
	require.Equal(t, []string{"c", "stale"}, r.All())

	require.NoError(t, r.RegisterNotes(context.Background(), src, nil, -1))
	require.Equal(t, []string{"a", "b", "c"}, r.All(), "a full rescan drops tags no note uses")
}

func TestByDeck(t *testing.T) {
	src := &fakeSource{byDeck: map[int64][]string{1: {" x y "}, 2: {" y z "}}}
	r := NewRegistry()
	got, err := r.ByDeck(context.Background(), src, []int64{1, 2})
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y", "z"}, got)
}

func TestStringHelpers(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, Split(" a　b  c "))
	require.Equal(t, " a b ", Join([]string{"a", "b"}))
	require.Equal(t, "", Join(nil))
	require.True(t, InList("A", []string{"x", "a"}))

	r := NewRegistry()
	require.Equal(t, " a b new ", r.AddToStr("new A", " a b "))

	testCases := []struct {
		name string
		del  string
		tags string
		want string
	}{
		{name: "exact", del: "b", tags: " a b c ", want: " a c "},
		{name: "case-insensitive", del: "B", tags: " a b ", want: " a "},
		{name: "wildcard", del: "lang*", tags: " language langs other ", want: " other "},
		{name: "everything", del: "a", tags: " a ", want: ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, RemFromStr(tc.del, tc.tags))
		})
	}
}
