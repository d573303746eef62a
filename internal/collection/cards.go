package collection

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/conorfennell/knolbase/internal/clock"
	"github.com/conorfennell/knolbase/internal/decks"
	"github.com/conorfennell/knolbase/internal/domain"
	"github.com/conorfennell/knolbase/internal/models"
	"github.com/conorfennell/knolbase/internal/storage"
)

// GetCard loads a card by id.
func (c *Collection) GetCard(ctx context.Context, id int64) (*domain.Card, error) {
	row, err := c.q.GetCard(ctx, id)
	if err != nil {
		return nil, c.latch(err)
	}
	return domain.CardFromRow(row), nil
}

// FlushCard persists card. With changeUsn set it is stamped with the current
// time and usn first. A card whose due is unset, does not fit in 32 bits or
// does not suit its queue is not written.
func (c *Collection) FlushCard(ctx context.Context, card *domain.Card, changeUsn bool) error {
	if changeUsn {
		card.Mod = clock.Seconds(c.clk)
		card.Usn = c.Usn()
	}
	row, err := card.ToRow()
	if err != nil {
		return err
	}
	return c.Transact(ctx, func(ctx context.Context) error {
		if err := c.q.PutCard(ctx, row); err != nil {
			return err
		}
		c.changeLog("card flushed", "cid", card.ID, "nid", card.NoteID, "did", card.DeckID,
			"queue", card.Queue, "due", row.Due)
		return nil
	})
}

// FlushCardSched persists only the scheduling fields of card.
func (c *Collection) FlushCardSched(ctx context.Context, card *domain.Card) error {
	card.Mod = clock.Seconds(c.clk)
	card.Usn = c.Usn()
	row, err := card.ToRow()
	if err != nil {
		return err
	}
	return c.Transact(ctx, func(ctx context.Context) error {
		if err := c.q.UpdateCardSched(ctx, row); err != nil {
			return err
		}
		c.changeLog("card schedule flushed", "cid", card.ID, "queue", card.Queue, "due", row.Due)
		return nil
	})
}

// TimeLimit is the longest answer time recorded for card, from the
// configuration of its home deck.
func (c *Collection) TimeLimit(card *domain.Card) (time.Duration, error) {
	conf, err := c.Decks.ConfForDid(card.HomeDeck())
	if err != nil {
		return 0, err
	}
	return conf.TimeLimit(), nil
}

// TimeTaken is the time spent on card so far, capped at its time limit.
func (c *Collection) TimeTaken(card *domain.Card) (time.Duration, error) {
	limit, err := c.TimeLimit(card)
	if err != nil {
		return 0, err
	}
	return card.TimeTaken(c.clk.Now(), limit), nil
}

// IsEmpty reports whether the note's current content no longer produces
// card's template.
func (c *Collection) IsEmpty(ctx context.Context, card *domain.Card) (bool, error) {
	note, err := c.GetNote(ctx, card.NoteID)
	if err != nil {
		return false, err
	}
	m, err := c.model(note.ModelID)
	if err != nil {
		return false, err
	}
	return !slices.Contains(models.AvailableOrds(m, note.Fields), card.Ord), nil
}

// CardIDs returns the cards in deck did, and in its descendants when
// children is set.
func (c *Collection) CardIDs(ctx context.Context, did int64, children bool) ([]int64, error) {
	dids := []int64{did}
	if children {
		dids = c.Decks.DeckAndChildIDs(did)
	}
	ids, err := c.q.CardIDsByDecks(ctx, dids)
	return ids, c.latch(err)
}

// RemCards deletes cards, and their notes when notes is set and no card of
// the note is left.
func (c *Collection) RemCards(ctx context.Context, cids []int64, notes bool) error {
	if len(cids) == 0 {
		return nil
	}
	return c.Transact(ctx, func(ctx context.Context) error {
		nids, err := c.q.NoteIDsByCards(ctx, cids)
		if err != nil {
			return err
		}
		if err := c.q.InsertGraves(ctx, c.Usn(), storage.GraveCard, cids); err != nil {
			return err
		}
		if err := c.q.DeleteCards(ctx, cids); err != nil {
			return err
		}
		c.changeLog("cards removed", "cids", cids)
		if !notes {
			return nil
		}
		var empty []int64
		for _, nid := range nids {
			n, err := c.q.CardCountByNote(ctx, nid)
			if err != nil {
				return err
			}
			if n == 0 {
				empty = append(empty, nid)
			}
		}
		return c.remNotes(ctx, empty)
	})
}

// RemoveDeckCards deletes the cards whose deck or original deck is did.
func (c *Collection) RemoveDeckCards(ctx context.Context, did int64) error {
	return c.Transact(ctx, func(ctx context.Context) error {
		cids, err := c.q.CardIDsByHomeDeck(ctx, did)
		if err != nil {
			return err
		}
		return c.RemCards(ctx, cids, true)
	})
}

// EmptyFiltered returns the cards of filtered deck did to their home decks.
func (c *Collection) EmptyFiltered(ctx context.Context, did int64) error {
	return c.Transact(ctx, func(ctx context.Context) error {
		if err := c.q.EmptyFilteredDeck(ctx, did, clock.Seconds(c.clk), c.Usn()); err != nil {
			return err
		}
		c.changeLog("filtered deck emptied", "did", did)
		return nil
	})
}

// LogDeckGrave records the deletion of deck did.
func (c *Collection) LogDeckGrave(ctx context.Context, did int64) error {
	return c.Transact(ctx, func(ctx context.Context) error {
		return c.q.InsertGraves(ctx, c.Usn(), storage.GraveDeck, []int64{did})
	})
}

// RemDeck deletes deck did. See decks.Registry.Rem.
func (c *Collection) RemDeck(ctx context.Context, did int64, cardsToo, childrenToo bool) error {
	return c.Transact(ctx, func(ctx context.Context) error {
		return c.Decks.Rem(ctx, did, cardsToo, childrenToo)
	})
}

// RemConf deletes a deck configuration. The schema change must have been
// confirmed.
func (c *Collection) RemConf(ctx context.Context, id int64) error {
	return c.Transact(ctx, func(context.Context) error {
		return c.Decks.RemConf(id)
	})
}

// newCardID returns an unused card id derived from the current time.
func (c *Collection) newCardID(ctx context.Context) (int64, error) {
	for {
		id := clock.Millis(c.clk)
		_, err := c.q.GetCard(ctx, id)
		if storage.IsNotFound(err) {
			return id, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// newCard builds the card of template ord for note. siblingDid is the home
// deck of the note's other cards, or zero. Cards never start in a filtered
// deck.
func (c *Collection) newCard(ctx context.Context, note *domain.Note, m *models.Model, ord int, siblingDid int64, due int64) (*domain.Card, error) {
	id, err := c.newCardID(ctx)
	if err != nil {
		return nil, err
	}
	did := c.templateDeck(m, ord, siblingDid)
	if c.Decks.IsFiltered(did) {
		did = decks.DefaultDeckID
	}
	card := domain.NewCard(id, note.ID, did, ord)
	card.Due = domain.NewPosition(due)
	return card, nil
}

// templateDeck picks the deck new cards of template ord go to: the
// template's own deck, else the siblings' deck, else the note type's, else
// the current deck.
func (c *Collection) templateDeck(m *models.Model, ord int, siblingDid int64) int64 {
	for _, t := range m.Templates {
		if t.Ord == ord && t.Did != nil {
			if _, ok := c.Decks.Get(*t.Did); ok {
				return *t.Did
			}
		}
	}
	if siblingDid != 0 {
		return siblingDid
	}
	if _, ok := c.Decks.Get(m.Did); ok {
		return m.Did
	}
	return c.Decks.Current().ID
}

func (c *Collection) model(id int64) (*models.Model, error) {
	m, ok := c.Models.Get(id)
	if !ok {
		return nil, fmt.Errorf("note type %d: %w", id, storage.ErrNotFound)
	}
	return m, nil
}

func (c *Collection) cards(ctx context.Context, cids []int64) ([]*domain.Card, error) {
	rows, err := c.q.CardsByIDs(ctx, cids)
	if err != nil {
		return nil, c.latch(err)
	}
	out := make([]*domain.Card, len(rows))
	for i, r := range rows {
		out[i] = domain.CardFromRow(r)
	}
	return out, nil
}
