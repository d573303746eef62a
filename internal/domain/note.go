package domain

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/conorfennell/knolbase/internal/fields"
)

// Note holds the field values and tags cards are rendered from.
type Note struct {
	ID      int64
	GUID    string
	ModelID int64
	Mod     int64
	Usn     int
	Tags    []string
	Fields  []string
	Flags   int
	Data    string
}

// NoteRow is the notes table row in column order.
type NoteRow struct {
	ID        int64  `db:"id"`
	GUID      string `db:"guid"`
	ModelID   int64  `db:"mid"`
	Mod       int64  `db:"mod"`
	Usn       int    `db:"usn"`
	Tags      string `db:"tags"`
	Fields    string `db:"flds"`
	SortField string `db:"sfld"`
	Checksum  int64  `db:"csum"`
	Flags     int    `db:"flags"`
	Data      string `db:"data"`
}

// ErrFieldCount is returned when a note's field values do not match its model.
var ErrFieldCount = errors.New("field count does not match model")

// NewNote returns a note with fieldCount empty fields.
func NewNote(id int64, guid string, modelID int64, fieldCount int) *Note {
	return &Note{
		ID:      id,
		GUID:    guid,
		ModelID: modelID,
		Fields:  make([]string, fieldCount),
	}
}

// JoinedFields is the stored form of the field values.
func (n *Note) JoinedFields() string {
	return fields.Join(n.Fields)
}

// Field returns the value at idx, or "" when out of range.
func (n *Note) Field(idx int) string {
	if idx < 0 || idx >= len(n.Fields) {
		return ""
	}
	return n.Fields[idx]
}

// SetField replaces the value at idx.
func (n *Note) SetField(idx int, value string) error {
	if idx < 0 || idx >= len(n.Fields) {
		return fmt.Errorf("note %d field %d of %d: %w", n.ID, idx, len(n.Fields), ErrFieldCount)
	}
	n.Fields[idx] = value
	return nil
}

// HasTag compares case-insensitively.
func (n *Note) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// AddTag appends tag as given. Duplicates are removed when the note is flushed.
func (n *Note) AddTag(tag string) {
	n.Tags = append(n.Tags, tag)
}

// AddTags appends every tag.
func (n *Note) AddTags(tags ...string) {
	n.Tags = append(n.Tags, tags...)
}

// DelTag removes every case-insensitive match of tag.
func (n *Note) DelTag(tag string) {
	kept := n.Tags[:0]
	for _, t := range n.Tags {
		if !strings.EqualFold(t, tag) {
			kept = append(kept, t)
		}
	}
	n.Tags = kept
}

// Clone returns an independent copy.
func (n *Note) Clone() *Note {
	cp := *n
	cp.Tags = append([]string(nil), n.Tags...)
	cp.Fields = append([]string(nil), n.Fields...)
	return &cp
}

// DupeStatus classifies the first field of a note being added.
type DupeStatus int

const (
	Unique DupeStatus = iota
	Empty
	Duplicate
)

func (s DupeStatus) String() string {
	switch s {
	case Empty:
		return "empty"
	case Duplicate:
		return "duplicate"
	}
	return "unique"
}

// DupeFinder returns the joined fields of other notes of the same model whose
// first-field checksum matches.
type DupeFinder interface {
	FieldsByChecksum(ctx context.Context, modelID int64, checksum int64, excludeID int64) ([]string, error)
}

// DupeOrEmpty reports whether the first field is blank, duplicates the first
// field of another note of the same model, or neither.
func (n *Note) DupeOrEmpty(ctx context.Context, finder DupeFinder) (DupeStatus, error) {
	if len(n.Fields) == 0 || strings.TrimSpace(n.Fields[0]) == "" {
		return Empty, nil
	}
	stripped := fields.StripHTMLMedia(n.Fields[0])
	candidates, err := finder.FieldsByChecksum(ctx, n.ModelID, fields.Checksum(stripped), n.ID)
	if err != nil {
		return Unique, err
	}
	for _, joined := range candidates {
		if fields.StripHTMLMedia(fields.Split(joined)[0]) == stripped {
			return Duplicate, nil
		}
	}
	return Unique, nil
}

var clozeNumber = regexp.MustCompile(`\{\{c(\d+)::`)

// NextClozeIndex is one more than the highest cloze number used in values,
// gaps and ordering notwithstanding.
func NextClozeIndex(values []string) int {
	highest := 0
	for _, v := range values {
		for _, m := range clozeNumber.FindAllStringSubmatch(v, -1) {
			if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
				highest = n
			}
		}
	}
	return highest + 1
}
