package collection

import (
	"context"
	"fmt"

	"github.com/conorfennell/knolbase/internal/clock"
	"github.com/conorfennell/knolbase/internal/decks"
	"github.com/conorfennell/knolbase/internal/domain"
	"github.com/conorfennell/knolbase/internal/undo"
)

const (
	leechTag  = "leech"
	markedTag = "marked"
)

// Revlog types.
const (
	revlogLearn = iota
	revlogReview
	revlogRelearn
	revlogFiltered
)

func revlogType(c *domain.Card) int {
	switch c.Type {
	case domain.TypeNew, domain.TypeLearning:
		return revlogLearn
	case domain.TypeRelearning:
		return revlogRelearn
	}
	if c.InFilteredDeck() {
		return revlogFiltered
	}
	return revlogReview
}

// ApplyReview stores the answer to card: the scheduler's next state, a
// review log entry and, when the answer made the card a leech, the leech tag
// and suspension its deck configuration asks for. The review can be undone.
func (c *Collection) ApplyReview(ctx context.Context, card *domain.Card, next domain.CardState, ease int) error {
	before := card.Clone()
	note, err := c.GetNote(ctx, card.NoteID)
	if err != nil {
		return err
	}
	wasLeech := note.HasTag(leechTag)
	taken, err := c.TimeTaken(card)
	if err != nil {
		return err
	}

	err = c.Transact(ctx, func(ctx context.Context) error {
		card.Apply(next)
		if next.Lapses > before.Lapses {
			if err := c.checkLeech(ctx, card, note); err != nil {
				return err
			}
		}
		if err := c.FlushCard(ctx, card, true); err != nil {
			return err
		}
		return c.q.InsertRevlog(ctx, domain.ReviewLog{
			ID:           clock.Millis(c.clk),
			CardID:       card.ID,
			Usn:          c.Usn(),
			Ease:         ease,
			Interval:     card.Interval,
			LastInterval: before.Interval,
			Factor:       card.Factor,
			Time:         taken.Milliseconds(),
			Type:         revlogType(before),
		})
	})
	if err != nil {
		card.Apply(before.State())
		return err
	}
	c.MarkUndo(undo.NewAction(undo.Review, func(ctx context.Context) (undo.Result, error) {
		return c.undoReview(ctx, before, wasLeech)
	}))
	return nil
}

// checkLeech tags the note of a card that just lapsed once it crossed its
// leech threshold, and again every half threshold after that.
func (c *Collection) checkLeech(ctx context.Context, card *domain.Card, note *domain.Note) error {
	conf, err := c.Decks.ConfForDid(card.HomeDeck())
	if err != nil {
		return err
	}
	lf := conf.Lapse.LeechFails
	if lf <= 0 || card.Lapses < lf || (card.Lapses-lf)%max(lf/2, 1) != 0 {
		return nil
	}
	note.AddTag(leechTag)
	if err := c.FlushNote(ctx, note); err != nil {
		return err
	}
	if conf.Lapse.LeechAction == decks.LeechSuspend {
		card.Queue = domain.QueueSuspended
	}
	c.log.Info("card became a leech", "cid", card.ID, "lapses", card.Lapses)
	return nil
}

func (c *Collection) undoReview(ctx context.Context, before *domain.Card, wasLeech bool) (undo.Result, error) {
	restored := before.Clone()
	err := c.Transact(ctx, func(ctx context.Context) error {
		if err := c.FlushCard(ctx, restored, false); err != nil {
			return err
		}
		if err := c.q.DeleteLastRevlog(ctx, restored.ID); err != nil {
			return err
		}
		if wasLeech {
			return nil
		}
		note, err := c.GetNote(ctx, restored.NoteID)
		if err != nil {
			return err
		}
		if note.HasTag(leechTag) {
			note.DelTag(leechTag)
			return c.FlushNote(ctx, note)
		}
		return nil
	})
	if err != nil {
		return undo.NoReview, err
	}
	restored.StartTimer(c.clk.Now())
	c.undone = restored
	return undo.Card(restored.ID), nil
}

// SuspendCards suspends cids. When every card is suspended already they are
// unsuspended instead. The change can be undone.
func (c *Collection) SuspendCards(ctx context.Context, cids []int64) error {
	before, err := c.cards(ctx, cids)
	if err != nil || len(before) == 0 {
		return err
	}
	allSuspended := true
	for _, card := range before {
		allSuspended = allSuspended && card.Queue == domain.QueueSuspended
	}
	if allSuspended {
		err = c.UnsuspendCards(ctx, cids)
	} else {
		err = c.Transact(ctx, func(ctx context.Context) error {
			return c.q.SetCardsQueue(ctx, cids, domain.QueueSuspended, clock.Seconds(c.clk), c.Usn())
		})
	}
	if err != nil {
		return err
	}
	kind, result := undo.SuspendCardMulti, undo.MultiCard
	if len(before) == 1 {
		kind, result = undo.SuspendCard, undo.Card(before[0].ID)
	}
	c.markRestore(kind, before, result)
	return nil
}

// UnsuspendCards returns suspended cards among cids to their queues.
func (c *Collection) UnsuspendCards(ctx context.Context, cids []int64) error {
	return c.Transact(ctx, func(ctx context.Context) error {
		return c.q.RestoreCardsQueue(ctx, cids, []domain.Queue{domain.QueueSuspended}, clock.Seconds(c.clk), c.Usn())
	})
}

// BuryCards takes cids out of today's queues. Manual burying uses the user
// buried queue, the scheduler's own burying the other one.
func (c *Collection) BuryCards(ctx context.Context, cids []int64, manual bool) error {
	before, err := c.cards(ctx, cids)
	if err != nil || len(before) == 0 {
		return err
	}
	if err := c.bury(ctx, cids, manual); err != nil {
		return err
	}
	result := undo.MultiCard
	if len(before) == 1 {
		result = undo.Card(before[0].ID)
	}
	c.markRestore(undo.BuryCard, before, result)
	return nil
}

func (c *Collection) bury(ctx context.Context, cids []int64, manual bool) error {
	q := domain.QueueSchedBuried
	if manual {
		q = domain.QueueUserBuried
	}
	return c.Transact(ctx, func(ctx context.Context) error {
		return c.q.SetCardsQueue(ctx, cids, q, clock.Seconds(c.clk), c.Usn())
	})
}

// UnburyCards returns buried cards among cids to their queues.
func (c *Collection) UnburyCards(ctx context.Context, cids []int64) error {
	return c.Transact(ctx, func(ctx context.Context) error {
		return c.q.RestoreCardsQueue(ctx, cids,
			[]domain.Queue{domain.QueueUserBuried, domain.QueueSchedBuried}, clock.Seconds(c.clk), c.Usn())
	})
}

// BuryNote buries every card of the note card belongs to. Undoing shows card
// again.
func (c *Collection) BuryNote(ctx context.Context, card *domain.Card) error {
	before, cids, err := c.siblings(ctx, card)
	if err != nil {
		return err
	}
	if err := c.bury(ctx, cids, true); err != nil {
		return err
	}
	c.markRestore(undo.BuryNote, before, undo.Card(card.ID))
	return nil
}

// SuspendNote suspends every card of the note card belongs to. Undoing shows
// card again.
func (c *Collection) SuspendNote(ctx context.Context, card *domain.Card) error {
	before, cids, err := c.siblings(ctx, card)
	if err != nil {
		return err
	}
	err = c.Transact(ctx, func(ctx context.Context) error {
		return c.q.SetCardsQueue(ctx, cids, domain.QueueSuspended, clock.Seconds(c.clk), c.Usn())
	})
	if err != nil {
		return err
	}
	c.markRestore(undo.SuspendNote, before, undo.Card(card.ID))
	return nil
}

func (c *Collection) siblings(ctx context.Context, card *domain.Card) ([]*domain.Card, []int64, error) {
	note, err := c.GetNote(ctx, card.NoteID)
	if err != nil {
		return nil, nil, err
	}
	cards, err := c.NoteCards(ctx, note)
	if err != nil {
		return nil, nil, err
	}
	cids := make([]int64, len(cards))
	for i, s := range cards {
		cids[i] = s.ID
	}
	return cards, cids, nil
}

// ChangeDeck moves cids to deck did. Cards borrowed by a filtered deck go
// home first. Filtered decks cannot be the target.
func (c *Collection) ChangeDeck(ctx context.Context, cids []int64, did int64) error {
	d, ok := c.Decks.Get(did)
	if !ok {
		return fmt.Errorf("deck %d: %w", did, decks.ErrNotFound)
	}
	if d.Filtered {
		return fmt.Errorf("cannot move cards into filtered deck %q", d.Name)
	}
	before, err := c.cards(ctx, cids)
	if err != nil || len(before) == 0 {
		return err
	}
	var borrowed []int64
	for _, card := range before {
		if card.InFilteredDeck() {
			borrowed = append(borrowed, card.ID)
		}
	}
	err = c.Transact(ctx, func(ctx context.Context) error {
		mod := clock.Seconds(c.clk)
		if err := c.q.ReturnCardsHome(ctx, borrowed, mod, c.Usn()); err != nil {
			return err
		}
		return c.q.SetCardsDeck(ctx, cids, did, mod, c.Usn())
	})
	if err != nil {
		return err
	}
	c.markRestore(undo.ChangeDeckMulti, before, undo.MultiCard)
	return nil
}

// MarkNotes toggles the marked tag on the notes of cids: all are marked
// unless every one already is, in which case all are unmarked.
func (c *Collection) MarkNotes(ctx context.Context, cids []int64) error {
	nids, err := c.q.NoteIDsByCards(ctx, cids)
	if err != nil {
		return c.latch(err)
	}
	notes, err := c.notes(ctx, nids)
	if err != nil || len(notes) == 0 {
		return err
	}
	allMarked := true
	for _, n := range notes {
		allMarked = allMarked && n.HasTag(markedTag)
	}
	if allMarked {
		_, err = c.BulkRemoveTags(ctx, nids, markedTag)
	} else {
		_, err = c.BulkAddTags(ctx, nids, markedTag)
	}
	if err != nil {
		return err
	}
	c.MarkUndo(undo.NewAction(undo.MarkNoteMulti, func(ctx context.Context) (undo.Result, error) {
		err := c.Transact(ctx, func(ctx context.Context) error {
			for _, n := range notes {
				if err := c.flushNote(ctx, n.Clone(), 0, true); err != nil {
					return err
				}
			}
			return nil
		})
		return undo.MultiCard, err
	}))
	return nil
}

// DeleteNotes deletes the notes of cids with all their cards. Undoing puts
// the notes and cards back and shows current again when it is not zero.
func (c *Collection) DeleteNotes(ctx context.Context, cids []int64, current int64) error {
	nids, err := c.q.NoteIDsByCards(ctx, cids)
	if err != nil {
		return c.latch(err)
	}
	notes, err := c.notes(ctx, nids)
	if err != nil || len(notes) == 0 {
		return err
	}
	allCids, err := c.q.CardIDsByNotes(ctx, nids)
	if err != nil {
		return c.latch(err)
	}
	cards, err := c.cards(ctx, allCids)
	if err != nil {
		return err
	}
	if err := c.RemNotes(ctx, nids); err != nil {
		return err
	}

	kind, result := undo.DeleteNoteMulti, undo.MultiCard
	if len(notes) == 1 {
		kind = undo.DeleteNote
	}
	if current != 0 {
		result = undo.Card(current)
	}
	c.MarkUndo(undo.NewAction(kind, func(ctx context.Context) (undo.Result, error) {
		err := c.Transact(ctx, func(ctx context.Context) error {
			var ids []int64
			for _, n := range notes {
				if err := c.flushNote(ctx, n.Clone(), n.Mod, false); err != nil {
					return err
				}
				ids = append(ids, n.ID)
			}
			for _, card := range cards {
				if err := c.FlushCard(ctx, card.Clone(), false); err != nil {
					return err
				}
				ids = append(ids, card.ID)
			}
			return c.q.DeleteGraves(ctx, ids)
		})
		return result, err
	}))
	return nil
}

// ResetCards forgets the scheduling of cids, putting them at the end of the
// new queue in their home decks. Siblings share one position. Review counts
// are kept.
func (c *Collection) ResetCards(ctx context.Context, cids []int64) error {
	before, err := c.cards(ctx, cids)
	if err != nil || len(before) == 0 {
		return err
	}
	err = c.Transact(ctx, func(ctx context.Context) error {
		positions := make(map[int64]int64)
		for _, card := range before {
			pos, ok := positions[card.NoteID]
			if !ok {
				next, err := c.nextPos()
				if err != nil {
					return err
				}
				pos = next
				positions[card.NoteID] = pos
			}
			conf, err := c.Decks.ConfForDid(card.HomeDeck())
			if err != nil {
				return err
			}
			reset := card.Clone()
			reset.Apply(domain.CardState{
				Type:   domain.TypeNew,
				Queue:  domain.QueueNew,
				Due:    domain.NewPosition(pos),
				Factor: conf.New.InitialFactor,
				Reps:   card.Reps,
				Lapses: card.Lapses,
				Left:   card.Left,
				DeckID: card.HomeDeck(),
			})
			if err := c.FlushCard(ctx, reset, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.markRestore(undo.RepositionRescheduleReset, before, undo.NoReview)
	return nil
}

// markRestore records an action that undoes by writing back snapshots.
func (c *Collection) markRestore(kind undo.Kind, snapshots []*domain.Card, result undo.Result) {
	c.MarkUndo(undo.NewAction(kind, func(ctx context.Context) (undo.Result, error) {
		err := c.Transact(ctx, func(ctx context.Context) error {
			for _, card := range snapshots {
				if err := c.FlushCard(ctx, card.Clone(), false); err != nil {
					return err
				}
			}
			return nil
		})
		return result, err
	}))
}

func (c *Collection) notes(ctx context.Context, nids []int64) ([]*domain.Note, error) {
	rows, err := c.q.NotesByIDs(ctx, nids)
	if err != nil {
		return nil, c.latch(err)
	}
	out := make([]*domain.Note, len(rows))
	for i, r := range rows {
		out[i] = noteFromRow(r)
	}
	return out, nil
}
