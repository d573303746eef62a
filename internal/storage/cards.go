package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/knolbase/internal/domain"
)

const cardColumns = `id, nid, did, ord, mod, usn, type, queue, due, ivl, factor, reps, lapses, left, odue, odid, flags, data`

// GetCard retrieves a card row by id.
func (q *Queries) GetCard(ctx context.Context, id int64) (domain.CardRow, error) {
	var row domain.CardRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return row, &NotFoundError{Kind: "card", ID: id}
	}
	if err != nil {
		return row, fmt.Errorf("failed to get card %d: %w", id, err)
	}
	return row, nil
}

// PutCard inserts or replaces a card row.
func (q *Queries) PutCard(ctx context.Context, row domain.CardRow) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT OR REPLACE INTO cards (`+cardColumns+`)
		VALUES (:id, :nid, :did, :ord, :mod, :usn, :type, :queue, :due, :ivl, :factor, :reps, :lapses, :left, :odue, :odid, :flags, :data)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to put card %d: %w", row.ID, err)
	}
	return nil
}

// CardsByNote returns the cards of a note by template ordinal.
func (q *Queries) CardsByNote(ctx context.Context, nid int64) ([]domain.CardRow, error) {
	var rows []domain.CardRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, `SELECT `+cardColumns+` FROM cards WHERE nid = ? ORDER BY ord`, nid); err != nil {
		return nil, fmt.Errorf("failed to get cards of note %d: %w", nid, err)
	}
	return rows, nil
}

// CardsByIDs returns the given cards in id order.
func (q *Queries) CardsByIDs(ctx context.Context, ids []int64) ([]domain.CardRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []domain.CardRow
	if err := q.selectIn(ctx, &rows, `SELECT `+cardColumns+` FROM cards WHERE id IN (?) ORDER BY id`, ids); err != nil {
		return nil, fmt.Errorf("failed to get cards: %w", err)
	}
	return rows, nil
}

// CardCountByNote counts the cards of a note.
func (q *Queries) CardCountByNote(ctx context.Context, nid int64) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, q.ext, &n, `SELECT count() FROM cards WHERE nid = ?`, nid); err != nil {
		return 0, fmt.Errorf("failed to count cards of note %d: %w", nid, err)
	}
	return n, nil
}

// CardIDsByDecks returns the cards currently in any of dids.
func (q *Queries) CardIDsByDecks(ctx context.Context, dids []int64) ([]int64, error) {
	if len(dids) == 0 {
		return nil, nil
	}
	var ids []int64
	if err := q.selectIn(ctx, &ids, `SELECT id FROM cards WHERE did IN (?) ORDER BY id`, dids); err != nil {
		return nil, fmt.Errorf("failed to get card ids of decks: %w", err)
	}
	return ids, nil
}

// CardIDsByHomeDeck returns the cards in did, including those a filtered
// deck has borrowed from it.
func (q *Queries) CardIDsByHomeDeck(ctx context.Context, did int64) ([]int64, error) {
	var ids []int64
	if err := sqlx.SelectContext(ctx, q.ext, &ids, `SELECT id FROM cards WHERE did = ? OR odid = ? ORDER BY id`, did, did); err != nil {
		return nil, fmt.Errorf("failed to get card ids of deck %d: %w", did, err)
	}
	return ids, nil
}

// CardIDsByNotes returns the cards of the given notes.
func (q *Queries) CardIDsByNotes(ctx context.Context, nids []int64) ([]int64, error) {
	if len(nids) == 0 {
		return nil, nil
	}
	var ids []int64
	if err := q.selectIn(ctx, &ids, `SELECT id FROM cards WHERE nid IN (?) ORDER BY id`, nids); err != nil {
		return nil, fmt.Errorf("failed to get card ids of notes: %w", err)
	}
	return ids, nil
}

// NoteIDsByCards returns the distinct notes owning the given cards.
func (q *Queries) NoteIDsByCards(ctx context.Context, cids []int64) ([]int64, error) {
	if len(cids) == 0 {
		return nil, nil
	}
	var ids []int64
	if err := q.selectIn(ctx, &ids, `SELECT DISTINCT nid FROM cards WHERE id IN (?) ORDER BY nid`, cids); err != nil {
		return nil, fmt.Errorf("failed to get note ids of cards: %w", err)
	}
	return ids, nil
}

// DeleteCards removes card rows.
func (q *Queries) DeleteCards(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.execIn(ctx, `DELETE FROM cards WHERE id IN (?)`, ids); err != nil {
		return fmt.Errorf("failed to delete cards: %w", err)
	}
	return nil
}

// SetCardsQueue moves cards to queue.
func (q *Queries) SetCardsQueue(ctx context.Context, ids []int64, queue domain.Queue, mod int64, usn int) error {
	if len(ids) == 0 {
		return nil
	}
	err := q.execIn(ctx, `UPDATE cards SET queue = ?, mod = ?, usn = ? WHERE id IN (?)`, int(queue), mod, usn, ids)
	if err != nil {
		return fmt.Errorf("failed to set queue of cards: %w", err)
	}
	return nil
}

// restoreQueue puts a parked card back in the queue its type and due imply.
// Learning cards due as a timestamp go to the intraday queue, those due as a
// day number to the day-learn queue.
const restoreQueue = `(CASE WHEN type IN (1, 3) THEN (CASE WHEN due > 1000000000 THEN 1 ELSE 3 END) ELSE type END)`

// RestoreCardsQueue returns those of the given cards that sit in one of
// fromQueues to their natural queue.
func (q *Queries) RestoreCardsQueue(ctx context.Context, ids []int64, fromQueues []domain.Queue, mod int64, usn int) error {
	if len(ids) == 0 || len(fromQueues) == 0 {
		return nil
	}
	queues := make([]int, len(fromQueues))
	for i, fq := range fromQueues {
		queues[i] = int(fq)
	}
	err := q.execIn(ctx, `UPDATE cards SET queue = `+restoreQueue+`, mod = ?, usn = ? WHERE id IN (?) AND queue IN (?)`, mod, usn, ids, queues)
	if err != nil {
		return fmt.Errorf("failed to restore queue of cards: %w", err)
	}
	return nil
}

// SetCardsDeck moves cards to did.
func (q *Queries) SetCardsDeck(ctx context.Context, ids []int64, did int64, mod int64, usn int) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.execIn(ctx, `UPDATE cards SET did = ?, mod = ?, usn = ? WHERE id IN (?)`, did, mod, usn, ids); err != nil {
		return fmt.Errorf("failed to move cards to deck %d: %w", did, err)
	}
	return nil
}

// homeQueue is the queue a card borrowed by a filtered deck returns to.
// Parked cards stay parked. Learning cards are judged by their original due,
// which the SET clause still sees before odue is cleared.
const homeQueue = `(CASE WHEN queue < 0 THEN queue
	WHEN type IN (1, 3) THEN (CASE WHEN (CASE WHEN odue THEN odue ELSE due END) > 1000000000 THEN 1 ELSE 3 END)
	ELSE type END)`

const returnHome = `
	UPDATE cards
	SET did = odid, queue = ` + homeQueue + `,
	    due = (CASE WHEN odue > 0 THEN odue ELSE due END),
	    odue = 0, odid = 0, mod = ?, usn = ?
`

// EmptyFilteredDeck sends the cards of filtered deck did back home.
func (q *Queries) EmptyFilteredDeck(ctx context.Context, did int64, mod int64, usn int) error {
	_, err := q.ext.ExecContext(ctx, returnHome+`WHERE did = ? AND odid != 0`, mod, usn, did)
	if err != nil {
		return fmt.Errorf("failed to empty filtered deck %d: %w", did, err)
	}
	return nil
}

// ReturnCardsHome sends those of the given cards that a filtered deck has
// borrowed back to their home deck.
func (q *Queries) ReturnCardsHome(ctx context.Context, ids []int64, mod int64, usn int) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.execIn(ctx, returnHome+`WHERE id IN (?) AND odid != 0`, mod, usn, ids); err != nil {
		return fmt.Errorf("failed to return cards home: %w", err)
	}
	return nil
}

// MoveOrphanCards puts cards whose deck no longer exists into toDid and
// returns how many were moved.
func (q *Queries) MoveOrphanCards(ctx context.Context, validDids []int64, toDid int64, mod int64, usn int) (int64, error) {
	if len(validDids) == 0 {
		return 0, nil
	}
	query, args, err := in(`UPDATE cards SET did = ?, mod = ?, usn = ? WHERE did NOT IN (?)`, toDid, mod, usn, validDids)
	if err != nil {
		return 0, err
	}
	res, err := q.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to recover orphan cards: %w", err)
	}
	return res.RowsAffected()
}

// CardCount counts every card.
func (q *Queries) CardCount(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, q.ext, &n, `SELECT count() FROM cards`); err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return n, nil
}

// UpdateCardSched writes only the scheduling columns of a card, leaving its
// note, template and flags as stored.
func (q *Queries) UpdateCardSched(ctx context.Context, row domain.CardRow) error {
	res, err := sqlx.NamedExecContext(ctx, q.ext, `
		UPDATE cards SET
			mod = :mod, usn = :usn, did = :did, type = :type, queue = :queue, due = :due,
			ivl = :ivl, factor = :factor, reps = :reps, lapses = :lapses, left = :left,
			odue = :odue, odid = :odid
		WHERE id = :id
	`, row)
	if err != nil {
		return fmt.Errorf("failed to update schedule of card %d: %w", row.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{Kind: "card", ID: row.ID}
	}
	return nil
}
