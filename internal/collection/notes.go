package collection

import (
	"context"
	"fmt"
	"slices"

	"github.com/conorfennell/knolbase/internal/clock"
	"github.com/conorfennell/knolbase/internal/domain"
	"github.com/conorfennell/knolbase/internal/fields"
	"github.com/conorfennell/knolbase/internal/models"
	"github.com/conorfennell/knolbase/internal/storage"
	"github.com/conorfennell/knolbase/internal/tags"
)

// NewNote returns an empty note of note type m. Its id comes from the clock
// and is checked for collisions when the note is added.
func (c *Collection) NewNote(m *models.Model) *domain.Note {
	return domain.NewNote(clock.Millis(c.clk), fields.Guid64(), m.ID, len(m.Fields))
}

func noteFromRow(r domain.NoteRow) *domain.Note {
	return &domain.Note{
		ID:      r.ID,
		GUID:    r.GUID,
		ModelID: r.ModelID,
		Mod:     r.Mod,
		Usn:     r.Usn,
		Tags:    tags.Split(r.Tags),
		Fields:  fields.Split(r.Fields),
		Flags:   r.Flags,
		Data:    r.Data,
	}
}

// GetNote loads a note by id.
func (c *Collection) GetNote(ctx context.Context, id int64) (*domain.Note, error) {
	row, err := c.q.GetNote(ctx, id)
	if err != nil {
		return nil, c.latch(err)
	}
	return noteFromRow(row), nil
}

// NoteCount counts the notes of the collection.
func (c *Collection) NoteCount(ctx context.Context) (int, error) {
	n, err := c.q.NoteCount(ctx)
	return n, c.latch(err)
}

// NoteCards returns the cards of n by template ordinal.
func (c *Collection) NoteCards(ctx context.Context, n *domain.Note) ([]*domain.Card, error) {
	rows, err := c.q.CardsByNote(ctx, n.ID)
	if err != nil {
		return nil, c.latch(err)
	}
	out := make([]*domain.Card, len(rows))
	for i, r := range rows {
		out[i] = domain.CardFromRow(r)
	}
	return out, nil
}

// DupeOrEmpty classifies the first field of n against the other notes of its
// note type.
func (c *Collection) DupeOrEmpty(ctx context.Context, n *domain.Note) (domain.DupeStatus, error) {
	status, err := n.DupeOrEmpty(ctx, c.q)
	return status, c.latch(err)
}

// FlushNote persists n. Tags are canonified first, and nothing is written
// when tags and fields match the stored row. A note that already had cards
// gets cards for any template its content now produces; cards of a note
// added for the first time are generated by AddNote.
func (c *Collection) FlushNote(ctx context.Context, n *domain.Note) error {
	return c.flushNote(ctx, n, 0, true)
}

// flushNote writes n with modification time mod, or the current time when mod
// is zero. A fixed mod always writes.
func (c *Collection) flushNote(ctx context.Context, n *domain.Note, mod int64, changeUsn bool) error {
	m, err := c.model(n.ModelID)
	if err != nil {
		return err
	}
	if len(n.Fields) != len(m.Fields) {
		return fmt.Errorf("note %d has %d fields, note type %q has %d: %w",
			n.ID, len(n.Fields), m.Name, len(m.Fields), domain.ErrFieldCount)
	}
	return c.Transact(ctx, func(ctx context.Context) error {
		count, err := c.q.CardCountByNote(ctx, n.ID)
		if err != nil {
			return err
		}
		newlyAdded := count == 0

		n.Tags = c.Tags.Canonify(n.Tags)
		tagStr, flds := tags.Join(n.Tags), n.JoinedFields()
		if mod == 0 {
			stored, err := c.q.GetNote(ctx, n.ID)
			if err != nil && !storage.IsNotFound(err) {
				return err
			}
			if err == nil && stored.Tags == tagStr && stored.Fields == flds {
				return nil
			}
		}

		sfld, csum := fields.SortFieldAndChecksum(n.Fields, m.SortIdx())
		if mod == 0 {
			mod = clock.Seconds(c.clk)
		}
		n.Mod = mod
		if changeUsn {
			n.Usn = c.Usn()
		}
		err = c.q.PutNote(ctx, domain.NoteRow{
			ID:        n.ID,
			GUID:      n.GUID,
			ModelID:   n.ModelID,
			Mod:       n.Mod,
			Usn:       n.Usn,
			Tags:      tagStr,
			Fields:    flds,
			SortField: sfld,
			Checksum:  csum,
			Flags:     n.Flags,
			Data:      n.Data,
		})
		if err != nil {
			return err
		}
		c.Tags.Register(n.Tags, c.Usn())
		c.changeLog("note flushed", "nid", n.ID, "mid", n.ModelID, "newly_added", newlyAdded)

		if !newlyAdded {
			if _, err := c.genCards(ctx, []*domain.Note{n}); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddNote stores a new note and generates its cards, returning how many were
// created. A note whose content produces no card is not added.
func (c *Collection) AddNote(ctx context.Context, n *domain.Note) (int, error) {
	m, err := c.model(n.ModelID)
	if err != nil {
		return 0, err
	}
	ords := models.AvailableOrds(m, n.Fields)
	if len(ords) == 0 {
		return 0, nil
	}
	err = c.Transact(ctx, func(ctx context.Context) error {
		for {
			_, err := c.q.GetNote(ctx, n.ID)
			if storage.IsNotFound(err) {
				break
			}
			if err != nil {
				return err
			}
			n.ID = clock.Millis(c.clk)
		}
		if err := c.FlushNote(ctx, n); err != nil {
			return err
		}
		due, err := c.nextPos()
		if err != nil {
			return err
		}
		for _, ord := range ords {
			card, err := c.newCard(ctx, n, m, ord, 0, due)
			if err != nil {
				return err
			}
			if err := c.FlushCard(ctx, card, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ords), nil
}

// GenCards creates the missing cards of the given notes and returns how many
// were created. Cards that no longer have content are left alone; see
// IsEmpty.
func (c *Collection) GenCards(ctx context.Context, nids []int64) (int, error) {
	var created int
	err := c.Transact(ctx, func(ctx context.Context) error {
		rows, err := c.q.NotesByIDs(ctx, nids)
		if err != nil {
			return err
		}
		notes := make([]*domain.Note, len(rows))
		for i, r := range rows {
			notes[i] = noteFromRow(r)
		}
		created, err = c.genCards(ctx, notes)
		return err
	})
	return created, err
}

func (c *Collection) genCards(ctx context.Context, notes []*domain.Note) (int, error) {
	created := 0
	for _, n := range notes {
		m, err := c.model(n.ModelID)
		if err != nil {
			return created, err
		}
		existing, err := c.q.CardsByNote(ctx, n.ID)
		if err != nil {
			return created, err
		}
		have := map[int]bool{}
		var did int64
		due := int64(-1)
		for _, r := range existing {
			have[r.Ord] = true
			card := domain.CardFromRow(r)
			if did == 0 {
				did = card.HomeDeck()
			}
			if card.Type == domain.TypeNew && due < 0 {
				due = r.Due
				if card.InFilteredDeck() {
					due = r.OriginalDue
				}
			}
		}
		for _, ord := range models.AvailableOrds(m, n.Fields) {
			if have[ord] {
				continue
			}
			if due < 0 {
				if due, err = c.nextPos(); err != nil {
					return created, err
				}
			}
			card, err := c.newCard(ctx, n, m, ord, did, due)
			if err != nil {
				return created, err
			}
			if err := c.FlushCard(ctx, card, true); err != nil {
				return created, err
			}
			created++
		}
	}
	return created, nil
}

// RemNotes deletes notes with their cards.
func (c *Collection) RemNotes(ctx context.Context, nids []int64) error {
	if len(nids) == 0 {
		return nil
	}
	return c.Transact(ctx, func(ctx context.Context) error {
		cids, err := c.q.CardIDsByNotes(ctx, nids)
		if err != nil {
			return err
		}
		if err := c.RemCards(ctx, cids, false); err != nil {
			return err
		}
		return c.remNotes(ctx, nids)
	})
}

func (c *Collection) remNotes(ctx context.Context, nids []int64) error {
	if len(nids) == 0 {
		return nil
	}
	if err := c.q.InsertGraves(ctx, c.Usn(), storage.GraveNote, nids); err != nil {
		return err
	}
	if err := c.q.DeleteNotes(ctx, nids); err != nil {
		return err
	}
	if err := c.q.UnlinkNotes(ctx, nids); err != nil {
		return err
	}
	c.changeLog("notes removed", "nids", nids)
	return nil
}

// BulkAddTags adds the space separated tags to every note in nids and
// returns how many notes changed.
func (c *Collection) BulkAddTags(ctx context.Context, nids []int64, tagStr string) (int, error) {
	return c.bulkTags(ctx, nids, tagStr, true)
}

// BulkRemoveTags removes the space separated tags from every note in nids.
// A "*" in a tag matches any run of characters.
func (c *Collection) BulkRemoveTags(ctx context.Context, nids []int64, tagStr string) (int, error) {
	return c.bulkTags(ctx, nids, tagStr, false)
}

func (c *Collection) bulkTags(ctx context.Context, nids []int64, tagStr string, add bool) (int, error) {
	newTags := tags.Split(tagStr)
	if len(newTags) == 0 || len(nids) == 0 {
		return 0, nil
	}
	var changed int
	err := c.Transact(ctx, func(ctx context.Context) error {
		rows, err := c.q.NotesByIDs(ctx, nids)
		if err != nil {
			return err
		}
		mod, usn := clock.Seconds(c.clk), c.Usn()
		for _, r := range rows {
			var updated string
			if add {
				updated = c.Tags.AddToStr(tagStr, r.Tags)
			} else {
				updated = tags.RemFromStr(tagStr, r.Tags)
			}
			if slices.Equal(tags.Split(updated), tags.Split(r.Tags)) {
				continue
			}
			if err := c.q.SetNoteTags(ctx, r.ID, updated, mod, usn); err != nil {
				return err
			}
			changed++
		}
		if add {
			c.Tags.Register(newTags, usn)
		}
		c.changeLog("note tags changed", "nids", nids, "tags", newTags, "add", add, "changed", changed)
		return nil
	})
	return changed, err
}

// TagsByDeck returns the tags of notes with cards in deck did, and in its
// descendants when children is set.
func (c *Collection) TagsByDeck(ctx context.Context, did int64, children bool) ([]string, error) {
	dids := []int64{did}
	if children {
		dids = c.Decks.DeckAndChildIDs(did)
	}
	out, err := c.Tags.ByDeck(ctx, c.q, dids)
	return out, c.latch(err)
}
