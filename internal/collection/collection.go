// Package collection is the aggregate root of a flashcard collection. It owns
// the storage handle and the deck, note type and tag registries, and it
// mediates every change that crosses them: deleting a deck removes its cards,
// flushing a note registers its tags and generates its cards.
//
// A Collection has a single writer. Callers serialize access.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conorfennell/knolbase/internal/clock"
	"github.com/conorfennell/knolbase/internal/decks"
	"github.com/conorfennell/knolbase/internal/document"
	"github.com/conorfennell/knolbase/internal/domain"
	"github.com/conorfennell/knolbase/internal/models"
	"github.com/conorfennell/knolbase/internal/storage"
	"github.com/conorfennell/knolbase/internal/tags"
	"github.com/conorfennell/knolbase/internal/undo"
)

var (
	// ErrConfirmSchemaChange is returned by schema-altering operations until
	// the schema change has been confirmed for this session.
	ErrConfirmSchemaChange = errors.New("schema change not confirmed")
	// ErrCorrupt is returned by every write once storage reported the
	// database as damaged.
	ErrCorrupt = errors.New("collection is corrupt")
)

const schemaVersion = 11

const defaultConfJSON = `{
	"activeDecks": [1],
	"curDeck": 1,
	"newSpread": 0,
	"collapseTime": 1200,
	"timeLim": 0,
	"estTimes": true,
	"dueCounts": true,
	"curModel": null,
	"nextPos": 1,
	"sortType": "noteFld",
	"sortBackwards": false,
	"addToCur": true
}`

// Options configure Open.
type Options struct {
	// Path is the SQLite file or DSN of the collection.
	Path      string
	Clock     clock.Clock
	Logger    *slog.Logger
	UndoLimit int
}

// Collection is an open collection.
type Collection struct {
	db  *storage.DB
	q   *storage.Queries
	tx  *storage.Tx
	clk clock.Clock
	log *slog.Logger

	Decks  *decks.Registry
	Models *models.Registry
	Tags   *tags.Registry
	undo   *undo.Stack

	crt   int64
	mod   int64
	scm   int64
	ls    int64
	ver   int
	dty   int
	usn   int
	conf  *document.Document
	dirty bool

	schemaConfirmed bool
	corrupt         error

	undone *domain.Card
}

// Open opens the collection at opts.Path, creating it when the database is
// empty.
func Open(ctx context.Context, opts Options) (*Collection, error) {
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	db, err := storage.Open(ctx, opts.Path)
	if err != nil {
		return nil, err
	}
	c := &Collection{
		db:     db,
		q:      db.Queries,
		clk:    opts.Clock,
		log:    opts.Logger.With("component", "collection"),
		Models: models.NewRegistry(opts.Clock),
		Tags:   tags.NewRegistry(),
		undo:   undo.NewStack(opts.UndoLimit),
	}
	c.Decks = decks.NewRegistry(c, opts.Clock)

	row, err := db.GetCol(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		err = c.create(ctx)
	case err == nil:
		err = c.load(row)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open collection %s: %w", opts.Path, err)
	}
	c.log.Info("collection opened", "path", opts.Path, "decks", c.Decks.Count())
	return c, nil
}

func (c *Collection) create(ctx context.Context) error {
	now := c.clk.Now()
	c.crt = now.Truncate(24 * time.Hour).Unix()
	c.mod = clock.Millis(c.clk)
	c.scm = c.mod
	c.ver = schemaVersion
	c.conf = document.MustParse(defaultConfJSON)
	c.Models.EnsureDefaults(c.Usn())
	c.Decks.EnsureDefaults()
	if err := c.conf.Set("curModel", c.Models.CurrentID()); err != nil {
		return err
	}
	c.dirty = true
	return c.Transact(ctx, func(context.Context) error { return nil })
}

func (c *Collection) load(row *storage.ColRow) error {
	c.crt, c.mod, c.scm, c.ls = row.Crt, row.Mod, row.Scm, row.Ls
	c.ver, c.dty, c.usn = row.Ver, row.Dty, row.Usn
	conf, err := document.Parse([]byte(row.Conf))
	if err != nil {
		return fmt.Errorf("failed to parse collection config: %w", err)
	}
	c.conf = conf
	curModel, err := document.Lookup[int64](conf, "curModel", 0)
	if err != nil {
		return err
	}
	if err := c.Models.Load([]byte(row.Models), curModel); err != nil {
		return err
	}
	selected, err := document.Lookup[int64](conf, "curDeck", decks.DefaultDeckID)
	if err != nil {
		return err
	}
	active, err := document.Lookup[[]int64](conf, "activeDecks", nil)
	if err != nil {
		return err
	}
	if err := c.Decks.Load([]byte(row.Decks), []byte(row.Dconf), selected, active); err != nil {
		return err
	}
	c.Decks.EnsureDefaults()
	return c.Tags.Load([]byte(row.Tags))
}

// Close saves pending registry changes and closes storage.
func (c *Collection) Close(ctx context.Context) error {
	var err error
	if c.corrupt == nil {
		err = c.Save(ctx)
	}
	if cerr := c.db.Close(); err == nil {
		err = cerr
	}
	c.log.Info("collection closed")
	return err
}

// Save writes the collection row if anything in it changed.
func (c *Collection) Save(ctx context.Context) error {
	return c.Transact(ctx, func(context.Context) error { return nil })
}

// Usn is the update sequence number stamped on local changes. Local changes
// are always pending until a sync assigns them a real number.
func (c *Collection) Usn() int { return -1 }

// Crt is the collection creation time in unix seconds.
func (c *Collection) Crt() int64 { return c.crt }

// Mod is the last modification time in milliseconds.
func (c *Collection) Mod() int64 { return c.mod }

// Today is the number of days since the collection was created.
func (c *Collection) Today() int64 {
	return (clock.Seconds(c.clk) - c.crt) / 86400
}

// SchemaChanged reports whether the schema was modified since the last sync.
func (c *Collection) SchemaChanged() bool { return c.scm > c.ls }

// ConfirmSchemaChange allows schema changes for the rest of the session.
// Confirming again has no effect.
func (c *Collection) ConfirmSchemaChange() {
	if c.schemaConfirmed {
		return
	}
	c.schemaConfirmed = true
	c.log.Info("schema change confirmed")
}

// ModSchema marks the schema as modified, forcing the next sync to be a full
// one. With check set it fails unless the schema was already modified or the
// change was confirmed.
func (c *Collection) ModSchema(check bool) error {
	if !c.SchemaChanged() && check && !c.schemaConfirmed {
		return ErrConfirmSchemaChange
	}
	c.scm = clock.Millis(c.clk)
	c.setMod()
	return nil
}

func (c *Collection) setMod() {
	c.dirty = true
}

// Transact runs fn in a single storage transaction. Registry changes made by
// fn are saved with it, and on failure both the rows and the registries are
// rolled back. Rolling back changed registries reloads them, so decks, configs
// and note types fetched before a failed transaction must be fetched again.
// Nested calls join the outer transaction.
func (c *Collection) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.corrupt != nil {
		return c.corrupt
	}
	if c.tx != nil {
		return fn(ctx)
	}
	saved, err := c.snapshot()
	if err != nil {
		return err
	}
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return c.latch(err)
	}
	c.tx, c.q = tx, tx.Queries
	defer func() { c.tx, c.q = nil, c.db.Queries }()

	err = fn(ctx)
	if err == nil {
		err = c.saveCol(ctx)
	}
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && c.corrupt == nil {
			c.log.Debug("rollback after failure", "error", rbErr)
		}
		if c.changed() {
			if rsErr := c.restore(saved); rsErr != nil {
				c.log.Error("failed to restore registries after rollback", "error", rsErr)
			}
		}
		return c.latch(err)
	}
	c.markFlushed()
	return nil
}

// latch records storage corruption so later writes fail fast.
func (c *Collection) latch(err error) error {
	if c.corrupt == nil && storage.IsCorrupt(err) {
		c.corrupt = fmt.Errorf("%w: %v", ErrCorrupt, err)
		c.log.Error("storage reported corruption, refusing further writes", "error", err)
	}
	if c.corrupt != nil && !errors.Is(err, ErrCorrupt) {
		return errors.Join(c.corrupt, err)
	}
	return err
}

func (c *Collection) changed() bool {
	return c.dirty || c.Decks.Changed() || c.Models.Changed() || c.Tags.Changed()
}

func (c *Collection) saveCol(ctx context.Context) error {
	if !c.changed() {
		return nil
	}
	c.mod = clock.Millis(c.clk)
	row, err := c.colRow()
	if err != nil {
		return err
	}
	return c.q.PutCol(ctx, row)
}

func (c *Collection) colRow() (storage.ColRow, error) {
	if err := c.conf.Set("curDeck", c.Decks.Selected()); err != nil {
		return storage.ColRow{}, err
	}
	if err := c.conf.Set("activeDecks", c.Decks.Active()); err != nil {
		return storage.ColRow{}, err
	}
	if err := c.conf.Set("curModel", c.Models.CurrentID()); err != nil {
		return storage.ColRow{}, err
	}
	conf, err := c.conf.MarshalJSON()
	if err != nil {
		return storage.ColRow{}, fmt.Errorf("failed to render collection config: %w", err)
	}
	modelsJSON, err := c.Models.Marshal()
	if err != nil {
		return storage.ColRow{}, fmt.Errorf("failed to render models: %w", err)
	}
	decksJSON, confJSON, err := c.Decks.Marshal()
	if err != nil {
		return storage.ColRow{}, err
	}
	tagsJSON, err := c.Tags.Marshal()
	if err != nil {
		return storage.ColRow{}, fmt.Errorf("failed to render tags: %w", err)
	}
	return storage.ColRow{
		Crt:    c.crt,
		Mod:    c.mod,
		Scm:    c.scm,
		Ver:    c.ver,
		Dty:    c.dty,
		Usn:    c.usn,
		Ls:     c.ls,
		Conf:   string(conf),
		Models: string(modelsJSON),
		Decks:  string(decksJSON),
		Dconf:  string(confJSON),
		Tags:   string(tagsJSON),
	}, nil
}

func (c *Collection) markFlushed() {
	c.dirty = false
	c.Decks.MarkFlushed()
	c.Models.MarkFlushed()
	c.Tags.MarkFlushed()
}

// snapshot is the in-memory state a failed transaction rolls back to.
type snapshot struct {
	row   storage.ColRow
	dirty bool
}

func (c *Collection) snapshot() (snapshot, error) {
	row, err := c.colRow()
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{row: row, dirty: c.changed()}, nil
}

func (c *Collection) restore(s snapshot) error {
	if err := c.load(&s.row); err != nil {
		return err
	}
	// Changes pending before the transaction are still pending.
	c.dirty = s.dirty
	return nil
}

// nextPos hands out the due position of the next new note.
func (c *Collection) nextPos() (int64, error) {
	pos, err := document.Lookup[int64](c.conf, "nextPos", 1)
	if err != nil {
		return 0, err
	}
	if err := c.conf.Set("nextPos", pos+1); err != nil {
		return 0, err
	}
	c.setMod()
	return pos, nil
}

// changeLog records a change for debugging.
func (c *Collection) changeLog(msg string, args ...any) {
	c.log.Debug(msg, args...)
}
