package collection

import (
	"context"

	"github.com/conorfennell/knolbase/internal/clock"
	"github.com/conorfennell/knolbase/internal/decks"
)

// CheckReport counts what Check repaired.
type CheckReport struct {
	OrphanCards int64 // cards whose deck was gone, moved to the default deck
	EmptyNotes  int   // notes without cards, deleted
	Tags        int   // tags registered after the rescan
}

// Check repairs the inconsistencies deleting decks and notes can leave
// behind, and rebuilds the tag registry from the notes.
func (c *Collection) Check(ctx context.Context) (CheckReport, error) {
	var report CheckReport
	err := c.Transact(ctx, func(ctx context.Context) error {
		moved, err := c.q.MoveOrphanCards(ctx, c.Decks.AllIDs(), decks.DefaultDeckID, clock.Seconds(c.clk), c.Usn())
		if err != nil {
			return err
		}
		report.OrphanCards = moved

		empty, err := c.q.OrphanNoteIDs(ctx)
		if err != nil {
			return err
		}
		if err := c.remNotes(ctx, empty); err != nil {
			return err
		}
		report.EmptyNotes = len(empty)

		if err := c.Tags.RegisterNotes(ctx, c.q, nil, c.Usn()); err != nil {
			return err
		}
		report.Tags = len(c.Tags.All())
		return nil
	})
	if err != nil {
		return CheckReport{}, err
	}
	c.log.Info("collection checked",
		"orphan_cards", report.OrphanCards,
		"empty_notes", report.EmptyNotes,
		"tags", report.Tags,
	)
	return report, nil
}

// BeforeUpload prepares the collection for a full upload: every usn is
// zeroed, graves are cleared and the schema is marked as synced.
func (c *Collection) BeforeUpload(ctx context.Context) error {
	err := c.Transact(ctx, func(ctx context.Context) error {
		if err := c.q.ResetUsns(ctx); err != nil {
			return err
		}
		c.Models.BeforeUpload()
		c.Decks.BeforeUpload()
		c.Tags.BeforeUpload()
		c.usn = 0
		c.ls = c.scm
		c.setMod()
		return nil
	})
	if err != nil {
		return err
	}
	c.ClearUndo()
	return nil
}
