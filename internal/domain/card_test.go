package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCardToRow(t *testing.T) {
	t.Run("unset due is rejected", func(t *testing.T) {
		c := NewCard(1, 2, 1, 0)
		if _, err := c.ToRow(); !errors.Is(err, ErrDueUnset) {
			t.Errorf("Expected ErrDueUnset, but got %v", err)
		}
	})

	t.Run("due must fit in 32 bits", func(t *testing.T) {
		c := NewCard(1, 2, 1, 0)
		c.Due = NewPosition(MaxDue)
		if _, err := c.ToRow(); !errors.Is(err, ErrDueOverflow) {
			t.Errorf("Expected ErrDueOverflow, but got %v", err)
		}
		c.Due = NewPosition(MaxDue - 1)
		if _, err := c.ToRow(); err != nil {
			t.Errorf("Expected largest due to persist, but got %v", err)
		}
	})

	t.Run("due kind must match queue", func(t *testing.T) {
		c := NewCard(1, 2, 1, 0)
		c.Type, c.Queue, c.Due = TypeReview, QueueReview, DueAt(1_700_000_000)
		if _, err := c.ToRow(); !errors.Is(err, ErrDueMismatch) {
			t.Errorf("Expected ErrDueMismatch, but got %v", err)
		}
	})
}

func TestCardRowRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		typ  CardType
		q    Queue
		due  Due
	}{
		{name: "new", typ: TypeNew, q: QueueNew, due: NewPosition(7)},
		{name: "learning", typ: TypeLearning, q: QueueLearning, due: DueAt(1_700_000_000)},
		{name: "review", typ: TypeReview, q: QueueReview, due: DueDay(120)},
		{name: "day learning", typ: TypeRelearning, q: QueueDayLearning, due: DueDay(121)},
		{name: "suspended review", typ: TypeReview, q: QueueSuspended, due: DueDay(90)},
		{name: "buried learning", typ: TypeLearning, q: QueueUserBuried, due: DueAt(1_700_000_500)},
		{name: "buried relearning by day", typ: TypeRelearning, q: QueueSchedBuried, due: DueDay(30)},
		{name: "suspended new", typ: TypeNew, q: QueueSuspended, due: NewPosition(3)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCard(10, 20, 1, 0)
			c.Type, c.Queue, c.Due = tc.typ, tc.q, tc.due
			c.Left = Left{Today: 2, Remaining: 3}
			row, err := c.ToRow()
			if err != nil {
				t.Fatalf("Expected row, but got error %v", err)
			}
			if row.Left != 2003 {
				t.Errorf("Expected left 2003, but got %d", row.Left)
			}
			back := CardFromRow(row)
			if back.Due != tc.due {
				t.Errorf("Expected due %#v, but got %#v", tc.due, back.Due)
			}
			if back.Left != c.Left {
				t.Errorf("Expected left %+v, but got %+v", c.Left, back.Left)
			}
		})
	}
}

func TestCardEquality(t *testing.T) {
	a := NewCard(5, 1, 1, 0)
	b := NewCard(5, 9, 2, 1)
	if !a.Equal(b) {
		t.Error("Expected cards with the same id to be equal")
	}
	if a.Equal(NewCard(6, 1, 1, 0)) {
		t.Error("Expected cards with different ids to differ")
	}
}

func TestCardTimer(t *testing.T) {
	start := time.Unix(1_000, 0)
	c := NewCard(1, 1, 1, 0)
	c.StartTimer(start)

	c.StopTimer(start.Add(10 * time.Second))
	// A long pause must not count.
	c.ResumeTimer(start.Add(time.Hour))
	c.StopTimer(start.Add(time.Hour + 5*time.Second))
	c.ResumeTimer(start.Add(2 * time.Hour))

	if got := c.Elapsed(); got != 15*time.Second {
		t.Errorf("Expected 15s elapsed, but got %v", got)
	}
	if got := c.TimeTaken(start.Add(2*time.Hour), time.Minute); got != 15*time.Second {
		t.Errorf("Expected 15s taken, but got %v", got)
	}
	if got := c.TimeTaken(start.Add(3*time.Hour), time.Minute); got != time.Minute {
		t.Errorf("Expected time taken capped at 1m, but got %v", got)
	}
}

func TestCardApply(t *testing.T) {
	c := NewCard(1, 1, 1, 0)
	c.Due = NewPosition(1)
	before := c.State()

	c.Apply(CardState{Type: TypeReview, Queue: QueueReview, Due: DueDay(40), Interval: 3, Factor: 2500, Reps: 1, DeckID: 1})
	if c.Interval != 3 || c.Queue != QueueReview {
		t.Errorf("Expected applied state, but got ivl=%d queue=%s", c.Interval, c.Queue)
	}

	c.Apply(before)
	if c.State() != before {
		t.Errorf("Expected %+v, but got %+v", before, c.State())
	}
}

func TestHomeDeck(t *testing.T) {
	c := NewCard(1, 1, 5, 0)
	if c.HomeDeck() != 5 || c.InFilteredDeck() {
		t.Errorf("Expected home deck 5, but got %d", c.HomeDeck())
	}
	c.OriginalDeckID, c.DeckID = 5, 9
	if c.HomeDeck() != 5 || !c.InFilteredDeck() {
		t.Errorf("Expected home deck 5 while filtered, but got %d", c.HomeDeck())
	}
}
