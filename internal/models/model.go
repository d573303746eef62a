// Package models holds note types: the field and template definitions notes
// and cards are built from.
package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/conorfennell/knolbase/internal/document"
	"github.com/conorfennell/knolbase/internal/fields"
)

// Kind distinguishes standard note types from cloze ones.
type Kind int

const (
	Standard Kind = 0
	Cloze    Kind = 1
)

type Field struct {
	Name   string `json:"name"`
	Ord    int    `json:"ord"`
	Sticky bool   `json:"sticky"`
	RTL    bool   `json:"rtl"`
	Font   string `json:"font"`
	Size   int    `json:"size"`
}

type Template struct {
	Name string `json:"name"`
	Ord  int    `json:"ord"`
	QFmt string `json:"qfmt"`
	AFmt string `json:"afmt"`
	// Did overrides the deck new cards of this template go to.
	Did *int64 `json:"did"`
}

// Model is a typed view of one note type document. Keys it does not cover,
// such as the LaTeX preamble, are carried through unchanged.
type Model struct {
	ID        int64
	Name      string
	Type      Kind
	Mod       int64
	Usn       int
	SortField int
	Did       int64
	Fields    []Field
	Templates []Template
	CSS       string
	Tags      []string

	doc *document.Document
}

const defaultCSS = ".card {\n font-family: arial;\n font-size: 20px;\n text-align: center;\n color: black;\n background-color: white;\n}\n"

// New returns an empty model of the given kind. Its id is assigned when it
// is added to a registry.
func New(name string, kind Kind) *Model {
	return &Model{
		Name:      name,
		Type:      kind,
		Did:       1,
		Fields:    []Field{},
		Templates: []Template{},
		CSS:       defaultCSS,
		Tags:      []string{},
		doc:       document.New(),
	}
}

// FromDocument builds the typed view of doc. doc is cloned.
func FromDocument(doc *document.Document) (*Model, error) {
	m := &Model{doc: doc.Clone()}
	var err error
	get := func(key string, dst any) {
		if err != nil {
			return
		}
		raw, ok := m.doc.Raw(key)
		if !ok || string(raw) == "null" {
			return
		}
		if e := json.Unmarshal(raw, dst); e != nil {
			err = fmt.Errorf("model key %q: %w", key, e)
		}
	}
	get("id", &m.ID)
	get("name", &m.Name)
	get("type", &m.Type)
	get("mod", &m.Mod)
	get("usn", &m.Usn)
	get("sortf", &m.SortField)
	get("did", &m.Did)
	get("flds", &m.Fields)
	get("tmpls", &m.Templates)
	get("css", &m.CSS)
	get("tags", &m.Tags)
	if err != nil {
		return nil, err
	}
	if m.Fields == nil {
		m.Fields = []Field{}
	}
	if m.Templates == nil {
		m.Templates = []Template{}
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	return m, nil
}

// Document renders the model over the document it was read from.
func (m *Model) Document() (*document.Document, error) {
	doc := document.New()
	if m.doc != nil {
		doc = m.doc.Clone()
	}
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	kvs := []struct {
		key string
		v   any
	}{
		{"id", m.ID},
		{"name", m.Name},
		{"type", m.Type},
		{"mod", m.Mod},
		{"usn", m.Usn},
		{"sortf", m.SortField},
		{"did", m.Did},
		{"flds", m.Fields},
		{"tmpls", m.Templates},
		{"css", m.CSS},
		{"tags", tags},
	}
	for _, kv := range kvs {
		if err := doc.Set(kv.key, kv.v); err != nil {
			return nil, fmt.Errorf("model %d key %q: %w", m.ID, kv.key, err)
		}
	}
	return doc, nil
}

// AddField appends a field and renumbers ordinals.
func (m *Model) AddField(name string) {
	m.Fields = append(m.Fields, Field{Name: name, Font: "Arial", Size: 20})
	for i := range m.Fields {
		m.Fields[i].Ord = i
	}
}

// AddTemplate appends a card template and renumbers ordinals.
func (m *Model) AddTemplate(name, qfmt, afmt string) {
	m.Templates = append(m.Templates, Template{Name: name, QFmt: qfmt, AFmt: afmt})
	for i := range m.Templates {
		m.Templates[i].Ord = i
	}
}

// FieldNames in ordinal order.
func (m *Model) FieldNames() []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldMap maps field names to ordinals.
func (m *Model) FieldMap() map[string]int {
	fm := make(map[string]int, len(m.Fields))
	for _, f := range m.Fields {
		fm[f.Name] = f.Ord
	}
	return fm
}

// SortIdx is the field used for the sort column, clamped to the field range.
func (m *Model) SortIdx() int {
	if m.SortField < 0 || m.SortField >= len(m.Fields) {
		return 0
	}
	return m.SortField
}

// Clone returns a deep copy.
func (m *Model) Clone() *Model {
	cp := *m
	cp.Fields = append([]Field(nil), m.Fields...)
	cp.Templates = append([]Template(nil), m.Templates...)
	cp.Tags = append([]string{}, m.Tags...)
	if m.doc != nil {
		cp.doc = m.doc.Clone()
	}
	return &cp
}

var (
	fieldRef   = regexp.MustCompile(`\{\{[#^/]?([^{}]+?)\}\}`)
	clozeRef   = regexp.MustCompile(`\{\{cloze:([^{}]+?)\}\}`)
	clozeIndex = regexp.MustCompile(`(?s)\{\{c(\d+)::.+?\}\}`)
)

// specialFields are replaced by the renderer rather than read from the note.
var specialFields = map[string]bool{
	"FrontSide": true,
	"Tags":      true,
	"Type":      true,
	"Deck":      true,
	"Subdeck":   true,
	"Card":      true,
	"CardFlag":  true,
}

// referencedFields returns the ordinals of note fields a question format reads.
// Filters such as "text:" are ignored.
func referencedFields(m *Model, qfmt string) []int {
	fm := m.FieldMap()
	seen := map[int]bool{}
	var out []int
	for _, match := range fieldRef.FindAllStringSubmatch(qfmt, -1) {
		name := strings.TrimSpace(match[1])
		if i := strings.LastIndex(name, ":"); i >= 0 {
			name = name[i+1:]
		}
		if specialFields[name] {
			continue
		}
		if ord, ok := fm[name]; ok && !seen[ord] {
			seen[ord] = true
			out = append(out, ord)
		}
	}
	return out
}

// AvailableOrds returns the template ordinals that produce a non-empty card
// for the given field values. A standard template is available when any note
// field its question references is non-empty. A cloze model yields one
// ordinal per cloze number present in the cloze fields, or ordinal 0 when
// there are none.
func AvailableOrds(m *Model, values []string) []int {
	if m.Type == Cloze {
		return availableClozeOrds(m, values)
	}
	var avail []int
	for _, t := range m.Templates {
		for _, ord := range referencedFields(m, t.QFmt) {
			if ord < len(values) && strings.TrimSpace(fields.StripHTMLMedia(values[ord])) != "" {
				avail = append(avail, t.Ord)
				break
			}
		}
	}
	return avail
}

func availableClozeOrds(m *Model, values []string) []int {
	if len(m.Templates) == 0 {
		return nil
	}
	fm := m.FieldMap()
	seen := map[int]bool{}
	var avail []int
	for _, match := range clozeRef.FindAllStringSubmatch(m.Templates[0].QFmt, -1) {
		ord, ok := fm[strings.TrimSpace(match[1])]
		if !ok || ord >= len(values) {
			continue
		}
		for _, c := range clozeIndex.FindAllStringSubmatch(values[ord], -1) {
			n, err := strconv.Atoi(c[1])
			if err != nil || n < 1 || seen[n-1] {
				continue
			}
			seen[n-1] = true
			avail = append(avail, n-1)
		}
	}
	if len(avail) == 0 {
		return []int{0}
	}
	slices.Sort(avail)
	return avail
}
