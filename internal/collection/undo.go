package collection

import (
	"context"

	"github.com/conorfennell/knolbase/internal/domain"
	"github.com/conorfennell/knolbase/internal/undo"
)

// MarkUndo records an undoable action. Actions must capture copies of
// whatever they restore.
func (c *Collection) MarkUndo(a undo.Action) {
	c.undo.Mark(a)
	c.log.Debug("undo marked", "action", a.Name(), "depth", c.undo.Len())
}

// Undo reverts the most recent action and tells the caller what to show next.
func (c *Collection) Undo(ctx context.Context) (undo.Result, error) {
	name := c.undo.Name()
	c.undone = nil
	res, err := c.undo.Undo(ctx)
	if err != nil {
		return res, err
	}
	c.log.Info("undone", "action", name, "result", res)
	return res, nil
}

// UndoneCard is the card restored by the last undone review, with its timer
// started at the moment of the undo. It is nil when the last undo was of
// another kind.
func (c *Collection) UndoneCard() *domain.Card {
	if c.undone == nil {
		return nil
	}
	return c.undone.Clone()
}

// UndoAvailable reports whether there is anything to undo.
func (c *Collection) UndoAvailable() bool { return c.undo.Available() }

// UndoName is the name of the action Undo would revert, or "".
func (c *Collection) UndoName() string { return c.undo.Name() }

// ClearUndo forgets every recorded action.
func (c *Collection) ClearUndo() { c.undo.Clear() }
