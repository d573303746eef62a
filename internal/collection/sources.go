package collection

import (
	"context"
	"fmt"

	"github.com/conorfennell/knolbase/internal/storage"
)

// AddSource registers a note source by path or repository URL. Adding a
// known path returns the existing source.
func (c *Collection) AddSource(ctx context.Context, path string) (*storage.Source, error) {
	existing, err := c.q.FindSourceByPath(ctx, path)
	if err == nil {
		return existing, nil
	}
	if !storage.IsNotFound(err) {
		return nil, c.latch(err)
	}
	if c.corrupt != nil {
		return nil, c.corrupt
	}
	id, err := c.q.InsertSource(ctx, path)
	if err != nil {
		return nil, c.latch(err)
	}
	c.log.Info("source added", "id", id, "path", path)
	return &storage.Source{ID: id, Path: path}, nil
}

// Sources lists every registered source.
func (c *Collection) Sources(ctx context.Context) ([]storage.Source, error) {
	sources, err := c.q.GetAllSources(ctx)
	return sources, c.latch(err)
}

// NoteIDByGUID finds the note with guid.
func (c *Collection) NoteIDByGUID(ctx context.Context, guid string) (int64, bool, error) {
	id, ok, err := c.q.NoteIDByGUID(ctx, guid)
	return id, ok, c.latch(err)
}

// SourceNotes returns the notes imported from source sid.
func (c *Collection) SourceNotes(ctx context.Context, sid int64) ([]int64, error) {
	nids, err := c.q.NotesBySource(ctx, sid)
	return nids, c.latch(err)
}

// LinkSourceNote records that note nid came from source sid.
func (c *Collection) LinkSourceNote(ctx context.Context, sid, nid int64) error {
	return c.Transact(ctx, func(ctx context.Context) error {
		return c.q.LinkSourceNote(ctx, sid, nid)
	})
}

// MarkScanned stamps source sid with the current time.
func (c *Collection) MarkScanned(ctx context.Context, sid int64) error {
	return c.Transact(ctx, func(ctx context.Context) error {
		if err := c.q.UpdateSourceLastScanned(ctx, sid, c.clk.Now()); err != nil {
			return fmt.Errorf("source %d: %w", sid, err)
		}
		return nil
	})
}
