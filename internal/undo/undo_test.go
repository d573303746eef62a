package undo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStackEvictsOldest(t *testing.T) {
	s := NewStack(DefaultLimit)
	var reverted []int
	for i := 0; i < 21; i++ {
		s.Mark(NewAction(SuspendCard, func(context.Context) (Result, error) {
			reverted = append(reverted, i)
			return MultiCard, nil
		}))
	}
	require.Equal(t, 20, s.Len())

	for s.Available() {
		_, err := s.Undo(context.Background())
		require.NoError(t, err)
	}
	require.Len(t, reverted, 20)
	require.Equal(t, 20, reverted[0], "newest first")
	require.Equal(t, 1, reverted[19], "the first action was evicted")

	_, err := s.Undo(context.Background())
	require.ErrorIs(t, err, ErrEmpty)
}

func TestUndoResults(t *testing.T) {
	s := NewStack(0)
	s.Mark(NewAction(DeleteNote, func(context.Context) (Result, error) { return NoReview, nil }))
	s.Mark(NewAction(Review, func(context.Context) (Result, error) { return Card(99), nil }))

	require.Equal(t, "Review", s.Name())
	res, err := s.Undo(context.Background())
	require.NoError(t, err)
	id, ok := res.CardID()
	require.True(t, ok)
	require.EqualValues(t, 99, id)

	require.Equal(t, "Delete Note", s.Name())
	res, err = s.Undo(context.Background())
	require.NoError(t, err)
	_, ok = res.CardID()
	require.False(t, ok)
	require.Equal(t, NoReview, res)

	require.False(t, s.Available())
	require.Equal(t, "", s.Name())
}

func TestUndoFailureDropsAction(t *testing.T) {
	boom := errors.New("boom")
	s := NewStack(5)
	s.Mark(NewAction(BuryNote, func(context.Context) (Result, error) { return NoReview, boom }))

	_, err := s.Undo(context.Background())
	require.ErrorIs(t, err, boom)
	require.Zero(t, s.Len())
}

func TestClear(t *testing.T) {
	s := NewStack(3)
	s.Mark(NewAction(MarkNoteMulti, nil))
	s.Mark(NewAction(ChangeDeckMulti, nil))
	a, ok := s.Peek()
	require.True(t, ok)
	require.Equal(t, ChangeDeckMulti, a.Kind)
	s.Clear()
	require.False(t, s.Available())
}
