package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/conorfennell/knolbase/internal/domain"
)

// GraveKind says what a grave row refers to.
type GraveKind int

const (
	GraveCard GraveKind = iota
	GraveNote
	GraveDeck
)

// Grave records a deletion.
type Grave struct {
	Usn  int       `db:"usn"`
	OID  int64     `db:"oid"`
	Kind GraveKind `db:"type"`
}

// InsertRevlog appends a review log entry.
func (q *Queries) InsertRevlog(ctx context.Context, l domain.ReviewLog) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO revlog (id, cid, usn, ease, ivl, lastIvl, factor, time, type)
		VALUES (:id, :cid, :usn, :ease, :ivl, :lastIvl, :factor, :time, :type)
	`, l)
	if err != nil {
		return fmt.Errorf("failed to insert review log for card %d: %w", l.CardID, err)
	}
	return nil
}

// DeleteLastRevlog removes the most recent review log entry of a card.
func (q *Queries) DeleteLastRevlog(ctx context.Context, cid int64) error {
	_, err := q.ext.ExecContext(ctx, `
		DELETE FROM revlog
		WHERE id = (SELECT id FROM revlog WHERE cid = ? ORDER BY id DESC LIMIT 1)
	`, cid)
	if err != nil {
		return fmt.Errorf("failed to delete last review of card %d: %w", cid, err)
	}
	return nil
}

// RevlogByCard returns the review history of a card, oldest first.
func (q *Queries) RevlogByCard(ctx context.Context, cid int64) ([]domain.ReviewLog, error) {
	var logs []domain.ReviewLog
	err := sqlx.SelectContext(ctx, q.ext, &logs, `
		SELECT id, cid, usn, ease, ivl, lastIvl, factor, time, type
		FROM revlog WHERE cid = ? ORDER BY id
	`, cid)
	if err != nil {
		return nil, fmt.Errorf("failed to get reviews of card %d: %w", cid, err)
	}
	return logs, nil
}

// DeleteRevlogByCards removes the history of deleted cards.
func (q *Queries) DeleteRevlogByCards(ctx context.Context, cids []int64) error {
	if len(cids) == 0 {
		return nil
	}
	if err := q.execIn(ctx, `DELETE FROM revlog WHERE cid IN (?)`, cids); err != nil {
		return fmt.Errorf("failed to delete reviews: %w", err)
	}
	return nil
}

// InsertGraves records deleted objects of one kind.
func (q *Queries) InsertGraves(ctx context.Context, usn int, kind GraveKind, oids []int64) error {
	for _, oid := range oids {
		_, err := q.ext.ExecContext(ctx, `INSERT INTO graves (usn, oid, type) VALUES (?, ?, ?)`, usn, oid, int(kind))
		if err != nil {
			return fmt.Errorf("failed to record grave for %d: %w", oid, err)
		}
	}
	return nil
}

// Graves returns every recorded deletion.
func (q *Queries) Graves(ctx context.Context) ([]Grave, error) {
	var graves []Grave
	if err := sqlx.SelectContext(ctx, q.ext, &graves, `SELECT usn, oid, type FROM graves ORDER BY rowid`); err != nil {
		return nil, fmt.Errorf("failed to get graves: %w", err)
	}
	return graves, nil
}

// DeleteGraves forgets recorded deletions of oids, for objects that were
// restored.
func (q *Queries) DeleteGraves(ctx context.Context, oids []int64) error {
	if len(oids) == 0 {
		return nil
	}
	if err := q.execIn(ctx, `DELETE FROM graves WHERE oid IN (?)`, oids); err != nil {
		return fmt.Errorf("failed to delete graves: %w", err)
	}
	return nil
}
