package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/knolbase/internal/domain"
)

const noteColumns = `id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data`

// GetNote retrieves a note row by id.
func (q *Queries) GetNote(ctx context.Context, id int64) (domain.NoteRow, error) {
	var row domain.NoteRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return row, &NotFoundError{Kind: "note", ID: id}
	}
	if err != nil {
		return row, fmt.Errorf("failed to get note %d: %w", id, err)
	}
	return row, nil
}

// PutNote inserts or replaces a note row.
func (q *Queries) PutNote(ctx context.Context, row domain.NoteRow) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT OR REPLACE INTO notes (`+noteColumns+`)
		VALUES (:id, :guid, :mid, :mod, :usn, :tags, :flds, :sfld, :csum, :flags, :data)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to put note %d: %w", row.ID, err)
	}
	return nil
}

// NotesByIDs returns the given notes in id order.
func (q *Queries) NotesByIDs(ctx context.Context, ids []int64) ([]domain.NoteRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []domain.NoteRow
	if err := q.selectIn(ctx, &rows, `SELECT `+noteColumns+` FROM notes WHERE id IN (?) ORDER BY id`, ids); err != nil {
		return nil, fmt.Errorf("failed to get notes: %w", err)
	}
	return rows, nil
}

// NoteIDByGUID finds a note by guid. A missing note is reported with ok false.
func (q *Queries) NoteIDByGUID(ctx context.Context, guid string) (id int64, ok bool, err error) {
	err = sqlx.GetContext(ctx, q.ext, &id, `SELECT id FROM notes WHERE guid = ?`, guid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to find note by guid %s: %w", guid, err)
	}
	return id, true, nil
}

// NoteCount counts every note.
func (q *Queries) NoteCount(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, q.ext, &n, `SELECT count() FROM notes`); err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return n, nil
}

// NoteIDsByModel returns the notes of a note type.
func (q *Queries) NoteIDsByModel(ctx context.Context, mid int64) ([]int64, error) {
	var ids []int64
	if err := sqlx.SelectContext(ctx, q.ext, &ids, `SELECT id FROM notes WHERE mid = ? ORDER BY id`, mid); err != nil {
		return nil, fmt.Errorf("failed to get notes of model %d: %w", mid, err)
	}
	return ids, nil
}

// OrphanNoteIDs returns notes left without any card.
func (q *Queries) OrphanNoteIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, q.ext, &ids, `
		SELECT id FROM notes
		WHERE id NOT IN (SELECT DISTINCT nid FROM cards)
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to find notes without cards: %w", err)
	}
	return ids, nil
}

// FieldsByChecksum returns the joined fields of notes of a model sharing a
// first-field checksum, leaving out excludeID.
func (q *Queries) FieldsByChecksum(ctx context.Context, modelID, checksum, excludeID int64) ([]string, error) {
	var flds []string
	err := sqlx.SelectContext(ctx, q.ext, &flds,
		`SELECT flds FROM notes WHERE csum = ? AND mid = ? AND id != ?`, checksum, modelID, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to find notes by checksum: %w", err)
	}
	return flds, nil
}

// NoteTags returns the tag strings of nids, or of every note when nids is nil.
func (q *Queries) NoteTags(ctx context.Context, nids []int64) ([]string, error) {
	var out []string
	if nids == nil {
		if err := sqlx.SelectContext(ctx, q.ext, &out, `SELECT DISTINCT tags FROM notes`); err != nil {
			return nil, fmt.Errorf("failed to get note tags: %w", err)
		}
		return out, nil
	}
	if len(nids) == 0 {
		return nil, nil
	}
	if err := q.selectIn(ctx, &out, `SELECT DISTINCT tags FROM notes WHERE id IN (?)`, nids); err != nil {
		return nil, fmt.Errorf("failed to get note tags: %w", err)
	}
	return out, nil
}

// DeckNoteTags returns the tag strings of notes with a card in any of dids.
func (q *Queries) DeckNoteTags(ctx context.Context, dids []int64) ([]string, error) {
	if len(dids) == 0 {
		return nil, nil
	}
	var out []string
	err := q.selectIn(ctx, &out, `
		SELECT DISTINCT n.tags FROM cards c, notes n
		WHERE c.nid = n.id AND c.did IN (?)
	`, dids)
	if err != nil {
		return nil, fmt.Errorf("failed to get deck note tags: %w", err)
	}
	return out, nil
}

// SetNoteTags rewrites the tag string of one note.
func (q *Queries) SetNoteTags(ctx context.Context, id int64, tags string, mod int64, usn int) error {
	_, err := q.ext.ExecContext(ctx, `UPDATE notes SET tags = ?, mod = ?, usn = ? WHERE id = ?`, tags, mod, usn, id)
	if err != nil {
		return fmt.Errorf("failed to set tags of note %d: %w", id, err)
	}
	return nil
}

// DeleteNotes removes note rows.
func (q *Queries) DeleteNotes(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.execIn(ctx, `DELETE FROM notes WHERE id IN (?)`, ids); err != nil {
		return fmt.Errorf("failed to delete notes: %w", err)
	}
	return nil
}
