package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ColRow is the single collection row.
type ColRow struct {
	ID     int64  `db:"id"`
	Crt    int64  `db:"crt"`
	Mod    int64  `db:"mod"`
	Scm    int64  `db:"scm"`
	Ver    int    `db:"ver"`
	Dty    int    `db:"dty"`
	Usn    int    `db:"usn"`
	Ls     int64  `db:"ls"`
	Conf   string `db:"conf"`
	Models string `db:"models"`
	Decks  string `db:"decks"`
	Dconf  string `db:"dconf"`
	Tags   string `db:"tags"`
}

// GetCol reads the collection row.
func (q *Queries) GetCol(ctx context.Context) (*ColRow, error) {
	var row ColRow
	err := sqlx.GetContext(ctx, q.ext, &row, `SELECT * FROM col WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "collection", ID: 1}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection row: %w", err)
	}
	return &row, nil
}

// PutCol writes the whole collection row.
func (q *Queries) PutCol(ctx context.Context, row ColRow) error {
	row.ID = 1
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT OR REPLACE INTO col (id, crt, mod, scm, ver, dty, usn, ls, conf, models, decks, dconf, tags)
		VALUES (:id, :crt, :mod, :scm, :ver, :dty, :usn, :ls, :conf, :models, :decks, :dconf, :tags)
	`, row)
	if err != nil {
		return fmt.Errorf("failed to write collection row: %w", err)
	}
	return nil
}

// ResetUsns marks every pending change as synced and clears the graves,
// ahead of a full upload.
func (q *Queries) ResetUsns(ctx context.Context) error {
	for _, table := range []string{"notes", "cards", "revlog"} {
		if _, err := q.ext.ExecContext(ctx, `UPDATE `+table+` SET usn = 0 WHERE usn = -1`); err != nil {
			return fmt.Errorf("failed to reset usn of %s: %w", table, err)
		}
	}
	if _, err := q.ext.ExecContext(ctx, `DELETE FROM graves`); err != nil {
		return fmt.Errorf("failed to clear graves: %w", err)
	}
	return nil
}
