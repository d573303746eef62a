package models

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/conorfennell/knolbase/internal/clock"
	"github.com/conorfennell/knolbase/internal/document"
)

// Registry is the in-memory set of note types, loaded from and flushed to
// the models document of the collection row.
type Registry struct {
	clk     clock.Clock
	models  map[int64]*Model
	current int64
	changed bool
}

func NewRegistry(clk clock.Clock) *Registry {
	return &Registry{clk: clk, models: map[int64]*Model{}}
}

// Load replaces the registry with the models document.
func (r *Registry) Load(data []byte, currentID int64) error {
	r.models = map[int64]*Model{}
	if len(data) > 0 {
		docs, err := document.ParseSet(data)
		if err != nil {
			return fmt.Errorf("failed to parse models: %w", err)
		}
		for id, doc := range docs {
			m, err := FromDocument(doc)
			if err != nil {
				return fmt.Errorf("failed to read model %d: %w", id, err)
			}
			m.ID = id
			r.models[id] = m
		}
	}
	r.current = currentID
	r.changed = false
	return nil
}

// Marshal renders the models document.
func (r *Registry) Marshal() ([]byte, error) {
	docs := make(map[int64]*document.Document, len(r.models))
	for id, m := range r.models {
		doc, err := m.Document()
		if err != nil {
			return nil, fmt.Errorf("failed to render model %d: %w", id, err)
		}
		docs[id] = doc
	}
	return document.MarshalSet(slices.Sorted(maps.Keys(r.models)), docs)
}

// Changed reports whether the registry differs from what was loaded or last
// marked flushed.
func (r *Registry) Changed() bool { return r.changed }

// MarkFlushed clears the changed flag after the document was written.
func (r *Registry) MarkFlushed() { r.changed = false }

// Get returns the model with id.
func (r *Registry) Get(id int64) (*Model, bool) {
	m, ok := r.models[id]
	return m, ok
}

// Have reports whether id names a model.
func (r *Registry) Have(id int64) bool {
	_, ok := r.models[id]
	return ok
}

// All models ordered by name.
func (r *Registry) All() []*Model {
	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *Model) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// ByName looks a model up case-insensitively.
func (r *Registry) ByName(name string) (*Model, bool) {
	for _, m := range r.All() {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return nil, false
}

// Current is the model last used for adding, falling back to any model.
func (r *Registry) Current() (*Model, bool) {
	if m, ok := r.models[r.current]; ok {
		return m, true
	}
	all := r.All()
	if len(all) == 0 {
		return nil, false
	}
	return all[0], true
}

// CurrentID is persisted in the collection config as curModel.
func (r *Registry) CurrentID() int64 { return r.current }

func (r *Registry) SetCurrent(id int64) {
	r.current = id
	r.changed = true
}

// Add assigns a fresh id to m and stores it.
func (r *Registry) Add(m *Model, usn int, setCurrent bool) {
	id := clock.Millis(r.clk)
	for r.Have(id) {
		id = clock.Millis(r.clk)
	}
	m.ID = id
	r.Save(m, usn)
	if setCurrent {
		r.SetCurrent(id)
	}
}

// Save stamps m and marks the registry changed.
func (r *Registry) Save(m *Model, usn int) {
	m.Mod = clock.Seconds(r.clk)
	m.Usn = usn
	r.models[m.ID] = m
	r.changed = true
}

// Update stores m as given without touching mod or usn. Used when merging.
func (r *Registry) Update(m *Model) {
	r.models[m.ID] = m
	r.changed = true
}

// BeforeUpload zeroes every usn ahead of a full upload.
func (r *Registry) BeforeUpload() {
	for _, m := range r.models {
		m.Usn = 0
	}
	r.changed = true
}

const (
	BasicName = "Basic"
	ClozeName = "Cloze"
)

// EnsureDefaults adds the Basic and Cloze note types to an empty registry.
func (r *Registry) EnsureDefaults(usn int) {
	if len(r.models) > 0 {
		return
	}
	r.Add(NewBasic(), usn, true)
	r.Add(NewCloze(), usn, false)
}

// NewBasic is a Front/Back note type with one forward card.
func NewBasic() *Model {
	m := New(BasicName, Standard)
	m.AddField("Front")
	m.AddField("Back")
	m.AddTemplate("Card 1", "{{Front}}", "{{FrontSide}}\n\n<hr id=answer>\n\n{{Back}}")
	return m
}

// NewCloze is a Text/Extra note type with one card per cloze deletion.
func NewCloze() *Model {
	m := New(ClozeName, Cloze)
	m.AddField("Text")
	m.AddField("Extra")
	m.AddTemplate("Cloze", "{{cloze:Text}}", "{{cloze:Text}}<br>\n{{Extra}}")
	return m
}
