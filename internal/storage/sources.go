package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Source represents a note source, either a local path or a Git URL.
type Source struct {
	ID          int64        `db:"id"`
	Path        string       `db:"path"`
	LastScanned sql.NullTime `db:"last_scanned"`
}

// IsGit reports whether the path is a repository URL rather than a directory.
func (s Source) IsGit() bool {
	return strings.HasPrefix(s.Path, "http://") || strings.HasPrefix(s.Path, "https://") ||
		strings.HasPrefix(s.Path, "git@") || strings.HasSuffix(s.Path, ".git")
}

// InsertSource inserts a new source path into the database and returns its ID.
func (q *Queries) InsertSource(ctx context.Context, path string) (int64, error) {
	res, err := q.ext.ExecContext(ctx, `
		INSERT INTO sources (path, last_scanned)
		VALUES (?, NULL)
	`, path)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for source %s: %w", path, err)
	}
	return id, nil
}

// FindSourceByPath retrieves a source by its path.
func (q *Queries) FindSourceByPath(ctx context.Context, path string) (*Source, error) {
	var s Source
	err := sqlx.GetContext(ctx, q.ext, &s, `SELECT id, path, last_scanned FROM sources WHERE path = ?`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "source"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	return &s, nil
}

// GetAllSources retrieves all stored sources.
func (q *Queries) GetAllSources(ctx context.Context) ([]Source, error) {
	var sources []Source
	if err := sqlx.SelectContext(ctx, q.ext, &sources, `SELECT id, path, last_scanned FROM sources ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	return sources, nil
}

// UpdateSourceLastScanned updates the last_scanned timestamp for a source.
func (q *Queries) UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error {
	_, err := q.ext.ExecContext(ctx, `UPDATE sources SET last_scanned = ? WHERE id = ?`, at, sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}

// LinkSourceNote records that a note was imported from a source.
func (q *Queries) LinkSourceNote(ctx context.Context, sourceID, nid int64) error {
	_, err := q.ext.ExecContext(ctx, `INSERT OR IGNORE INTO source_notes (source_id, nid) VALUES (?, ?)`, sourceID, nid)
	if err != nil {
		return fmt.Errorf("failed to link note %d to source %d: %w", nid, sourceID, err)
	}
	return nil
}

// NotesBySource returns the ids of notes imported from a source.
func (q *Queries) NotesBySource(ctx context.Context, sourceID int64) ([]int64, error) {
	var ids []int64
	if err := sqlx.SelectContext(ctx, q.ext, &ids, `SELECT nid FROM source_notes WHERE source_id = ? ORDER BY nid`, sourceID); err != nil {
		return nil, fmt.Errorf("failed to get notes for source ID %d: %w", sourceID, err)
	}
	return ids, nil
}

// UnlinkNotes forgets the source of deleted notes.
func (q *Queries) UnlinkNotes(ctx context.Context, nids []int64) error {
	if len(nids) == 0 {
		return nil
	}
	if err := q.execIn(ctx, `DELETE FROM source_notes WHERE nid IN (?)`, nids); err != nil {
		return fmt.Errorf("failed to unlink notes: %w", err)
	}
	return nil
}
