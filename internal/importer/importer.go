// Package importer turns parsed markdown entries into notes and keeps the
// notes of a source in step with its files.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/conorfennell/knolbase/internal/collection"
	"github.com/conorfennell/knolbase/internal/domain"
	"github.com/conorfennell/knolbase/internal/fields"
	"github.com/conorfennell/knolbase/internal/models"
	"github.com/conorfennell/knolbase/internal/parser"
	"github.com/conorfennell/knolbase/internal/storage"
)

// Options name where imported notes go.
type Options struct {
	// Deck is created when missing.
	Deck string
	// Model must exist and have at least two fields.
	Model string
}

// Stats counts what an import did.
type Stats struct {
	Added      int
	Existing   int
	Duplicates int
	Empty      int
	Removed    int
}

// Importer adds entries to a collection.
type Importer struct {
	col  *collection.Collection
	opts Options
	log  *slog.Logger
}

func New(col *collection.Collection, opts Options, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{col: col, opts: opts, log: logger.With("component", "importer")}
}

// GUID identifies an entry by its normalized content, so an unchanged entry
// maps to the same note on every scan.
func GUID(e parser.Entry) string {
	return fields.ContentHash(e.Question, e.Answer)
}

// ContextTag turns an entry's context line into a tag.
func ContextTag(context string) string {
	return strings.Join(strings.Fields(context), "_")
}

// Import reconciles the notes of source with entries: new entries become
// notes, entries seen before are kept, and notes whose entry is gone are
// removed. Everything happens in one transaction.
func (im *Importer) Import(ctx context.Context, source storage.Source, entries []parser.Entry) (Stats, error) {
	var stats Stats
	err := im.col.Transact(ctx, func(ctx context.Context) error {
		m, err := im.target()
		if err != nil {
			return err
		}
		seen := map[int64]bool{}
		for _, e := range entries {
			nid, status, err := im.importEntry(ctx, m, e)
			if err != nil {
				return fmt.Errorf("failed to import entry at line %d: %w", e.Line, err)
			}
			switch status {
			case added:
				stats.Added++
			case existing:
				stats.Existing++
			case duplicate:
				stats.Duplicates++
				continue
			case empty:
				stats.Empty++
				continue
			}
			seen[nid] = true
			if err := im.col.LinkSourceNote(ctx, source.ID, nid); err != nil {
				return err
			}
		}

		linked, err := im.col.SourceNotes(ctx, source.ID)
		if err != nil {
			return err
		}
		var gone []int64
		for _, nid := range linked {
			if !seen[nid] {
				gone = append(gone, nid)
			}
		}
		if err := im.col.RemNotes(ctx, gone); err != nil {
			return err
		}
		stats.Removed = len(gone)
		return im.col.MarkScanned(ctx, source.ID)
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to import source %s: %w", source.Path, err)
	}
	im.log.Info("source imported",
		"source", source.Path,
		"added", stats.Added,
		"existing", stats.Existing,
		"duplicates", stats.Duplicates,
		"empty", stats.Empty,
		"removed", stats.Removed,
	)
	return stats, nil
}

type outcome int

const (
	added outcome = iota
	existing
	duplicate
	empty
)

// target resolves the note type and points its new cards at the import deck.
func (im *Importer) target() (*models.Model, error) {
	m, ok := im.col.Models.ByName(im.opts.Model)
	if !ok {
		return nil, fmt.Errorf("note type %q: %w", im.opts.Model, storage.ErrNotFound)
	}
	if len(m.Fields) < 2 {
		return nil, fmt.Errorf("note type %q needs a question and an answer field", m.Name)
	}
	did, err := im.col.Decks.ID(im.opts.Deck, true)
	if err != nil {
		return nil, err
	}
	if m.Did != did {
		m.Did = did
		im.col.Models.Save(m, im.col.Usn())
	}
	return m, nil
}

func (im *Importer) importEntry(ctx context.Context, m *models.Model, e parser.Entry) (int64, outcome, error) {
	guid := GUID(e)
	nid, ok, err := im.col.NoteIDByGUID(ctx, guid)
	if err != nil {
		return 0, 0, err
	}
	if ok {
		return nid, existing, nil
	}

	n := im.col.NewNote(m)
	n.GUID = guid
	n.Fields[0], n.Fields[1] = e.Question, e.Answer
	if tag := ContextTag(e.Context); tag != "" {
		n.AddTag(tag)
	}
	status, err := im.col.DupeOrEmpty(ctx, n)
	if err != nil {
		return 0, 0, err
	}
	switch status {
	case domain.Duplicate:
		return 0, duplicate, nil
	case domain.Empty:
		return 0, empty, nil
	}
	created, err := im.col.AddNote(ctx, n)
	if err != nil {
		return 0, 0, err
	}
	if created == 0 {
		return 0, empty, nil
	}
	im.log.Debug("note added", "nid", n.ID, "line", e.Line)
	return n.ID, added, nil
}
