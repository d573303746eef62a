package domain

import (
	"fmt"
	"time"
)

// Card is the unit of review: one template of one note, with its scheduling
// state. A card is flushed explicitly; nothing here touches storage.
type Card struct {
	ID             int64
	NoteID         int64
	DeckID         int64
	Ord            int
	Mod            int64
	Usn            int
	Type           CardType
	Queue          Queue
	Due            Due // nil until the owning note assigns a position
	Interval       int
	Factor         int
	Reps           int
	Lapses         int
	Left           Left
	OriginalDue    int64
	OriginalDeckID int64
	Flags          int
	Data           string

	timerStarted time.Time
	elapsed      time.Duration
}

// CardRow is the cards table row in column order.
type CardRow struct {
	ID             int64  `db:"id"`
	NoteID         int64  `db:"nid"`
	DeckID         int64  `db:"did"`
	Ord            int    `db:"ord"`
	Mod            int64  `db:"mod"`
	Usn            int    `db:"usn"`
	Type           int    `db:"type"`
	Queue          int    `db:"queue"`
	Due            int64  `db:"due"`
	Interval       int    `db:"ivl"`
	Factor         int    `db:"factor"`
	Reps           int    `db:"reps"`
	Lapses         int    `db:"lapses"`
	Left           int    `db:"left"`
	OriginalDue    int64  `db:"odue"`
	OriginalDeckID int64  `db:"odid"`
	Flags          int    `db:"flags"`
	Data           string `db:"data"`
}

// NewCard returns a card with zeroed scheduling fields in the new queue.
// Due stays unset until the note generating it assigns a position.
func NewCard(id, noteID, deckID int64, ord int) *Card {
	return &Card{
		ID:     id,
		NoteID: noteID,
		DeckID: deckID,
		Ord:    ord,
		Type:   TypeNew,
		Queue:  QueueNew,
	}
}

// CardFromRow hydrates a card from its stored row.
func CardFromRow(r CardRow) *Card {
	q, t := Queue(r.Queue), CardType(r.Type)
	return &Card{
		ID:             r.ID,
		NoteID:         r.NoteID,
		DeckID:         r.DeckID,
		Ord:            r.Ord,
		Mod:            r.Mod,
		Usn:            r.Usn,
		Type:           t,
		Queue:          q,
		Due:            DueFromRow(q, t, r.Due),
		Interval:       r.Interval,
		Factor:         r.Factor,
		Reps:           r.Reps,
		Lapses:         r.Lapses,
		Left:           LeftFromRow(r.Left),
		OriginalDue:    r.OriginalDue,
		OriginalDeckID: r.OriginalDeckID,
		Flags:          r.Flags,
		Data:           r.Data,
	}
}

// ToRow flattens the card for storage, enforcing the due invariants.
func (c *Card) ToRow() (CardRow, error) {
	if c.Due == nil {
		return CardRow{}, fmt.Errorf("card %d: %w", c.ID, ErrDueUnset)
	}
	if c.Due.Raw() >= MaxDue {
		return CardRow{}, fmt.Errorf("card %d due %d: %w", c.ID, c.Due.Raw(), ErrDueOverflow)
	}
	if !dueMatches(c.Queue, c.Type, c.Due) {
		return CardRow{}, fmt.Errorf("card %d %T in %s queue: %w", c.ID, c.Due, c.Queue, ErrDueMismatch)
	}
	return CardRow{
		ID:             c.ID,
		NoteID:         c.NoteID,
		DeckID:         c.DeckID,
		Ord:            c.Ord,
		Mod:            c.Mod,
		Usn:            c.Usn,
		Type:           int(c.Type),
		Queue:          int(c.Queue),
		Due:            c.Due.Raw(),
		Interval:       c.Interval,
		Factor:         c.Factor,
		Reps:           c.Reps,
		Lapses:         c.Lapses,
		Left:           c.Left.Raw(),
		OriginalDue:    c.OriginalDue,
		OriginalDeckID: c.OriginalDeckID,
		Flags:          c.Flags,
		Data:           c.Data,
	}, nil
}

// Clone returns an independent copy, timer included.
func (c *Card) Clone() *Card {
	cp := *c
	return &cp
}

// Equal reports whether both values are the same card.
func (c *Card) Equal(o *Card) bool {
	return o != nil && c.ID == o.ID
}

// InFilteredDeck reports whether the card is borrowed by a filtered deck.
func (c *Card) InFilteredDeck() bool {
	return c.OriginalDeckID != 0
}

// HomeDeck is the deck whose options apply to the card.
func (c *Card) HomeDeck() int64 {
	if c.InFilteredDeck() {
		return c.OriginalDeckID
	}
	return c.DeckID
}

// StartTimer marks the moment the card was shown.
func (c *Card) StartTimer(now time.Time) {
	c.timerStarted = now
	c.elapsed = 0
}

// StopTimer records the time spent so far, for a paused session.
func (c *Card) StopTimer(now time.Time) {
	c.elapsed = now.Sub(c.timerStarted)
}

// ResumeTimer restarts counting from the recorded elapsed time. Pause and
// resume can repeat without the total growing while paused.
func (c *Card) ResumeTimer(now time.Time) {
	c.timerStarted = now.Add(-c.elapsed)
}

// Elapsed is the time recorded by the last StopTimer.
func (c *Card) Elapsed() time.Duration { return c.elapsed }

// TimeTaken is the time spent on the card, capped at limit.
func (c *Card) TimeTaken(now time.Time, limit time.Duration) time.Duration {
	total := now.Sub(c.timerStarted)
	if total > limit {
		return limit
	}
	return total
}

// CardState is what a scheduler returns for an answered card.
type CardState struct {
	Type           CardType
	Queue          Queue
	Due            Due
	Interval       int
	Factor         int
	Reps           int
	Lapses         int
	Left           Left
	DeckID         int64
	OriginalDue    int64
	OriginalDeckID int64
}

// State captures the scheduling fields of the card.
func (c *Card) State() CardState {
	return CardState{
		Type:           c.Type,
		Queue:          c.Queue,
		Due:            c.Due,
		Interval:       c.Interval,
		Factor:         c.Factor,
		Reps:           c.Reps,
		Lapses:         c.Lapses,
		Left:           c.Left,
		DeckID:         c.DeckID,
		OriginalDue:    c.OriginalDue,
		OriginalDeckID: c.OriginalDeckID,
	}
}

// Apply overwrites the scheduling fields with s.
func (c *Card) Apply(s CardState) {
	c.Type = s.Type
	c.Queue = s.Queue
	c.Due = s.Due
	c.Interval = s.Interval
	c.Factor = s.Factor
	c.Reps = s.Reps
	c.Lapses = s.Lapses
	c.Left = s.Left
	c.DeckID = s.DeckID
	c.OriginalDue = s.OriginalDue
	c.OriginalDeckID = s.OriginalDeckID
}

// ReviewLog records a single answer, as stored in the revlog table.
// Ease corresponds to the answer buttons:
// 1: Again
// 2: Hard
// 3: Good
// 4: Easy
type ReviewLog struct {
	ID           int64 `db:"id"`
	CardID       int64 `db:"cid"`
	Usn          int   `db:"usn"`
	Ease         int   `db:"ease"`
	Interval     int   `db:"ivl"`
	LastInterval int   `db:"lastIvl"`
	Factor       int   `db:"factor"`
	Time         int64 `db:"time"`
	Type         int   `db:"type"`
}
