// Package tags keeps the registry of known tag names and the string helpers
// note tag columns are read and written with.
//
// The registry only grows during normal use. Tags no note carries any more
// are dropped by a full rescan with RegisterNotes(ctx, src, nil).
package tags

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/conorfennell/knolbase/internal/document"
)

// NoteTagSource reads raw tag columns from storage.
type NoteTagSource interface {
	// NoteTags returns the distinct tag strings of the given notes, or of
	// every note when nids is nil.
	NoteTags(ctx context.Context, nids []int64) ([]string, error)
	// DeckNoteTags returns the distinct tag strings of notes with a card in
	// one of dids.
	DeckNoteTags(ctx context.Context, dids []int64) ([]string, error)
}

type entry struct {
	name string
	usn  int
}

// Registry maps case-folded tag keys to their canonical casing and usn.
type Registry struct {
	tags    map[string]entry
	changed bool

	caser cases.Caser
	folds map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		tags:  map[string]entry{},
		caser: cases.Fold(),
		folds: map[string]string{},
	}
}

func (r *Registry) key(tag string) string {
	if k, ok := r.folds[tag]; ok {
		return k
	}
	k := r.caser.String(norm.NFC.String(tag))
	r.folds[tag] = k
	return k
}

// Load replaces the registry with the tags document: tag name to usn.
func (r *Registry) Load(data []byte) error {
	r.tags = map[string]entry{}
	r.changed = false
	if len(data) == 0 {
		return nil
	}
	doc, err := document.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse tags: %w", err)
	}
	for _, name := range doc.Keys() {
		usn, err := document.Get[int](doc, name)
		if err != nil {
			return fmt.Errorf("failed to parse usn of tag %q: %w", name, err)
		}
		k := r.key(name)
		if _, ok := r.tags[k]; !ok {
			r.tags[k] = entry{name: name, usn: usn}
		}
	}
	return nil
}

// Marshal renders the tags document in case-insensitive order.
func (r *Registry) Marshal() ([]byte, error) {
	doc := document.New()
	for _, item := range r.Items() {
		if err := doc.Set(item.Name, item.Usn); err != nil {
			return nil, err
		}
	}
	return doc.MarshalJSON()
}

// Changed reports whether tags were added or cleared since the last flush.
func (r *Registry) Changed() bool { return r.changed }

// MarkFlushed clears the changed flag after the document was written.
func (r *Registry) MarkFlushed() { r.changed = false }

// Register adds any tag not yet known under usn. The casing seen first is kept.
func (r *Registry) Register(tags []string, usn int) {
	for _, t := range tags {
		k := r.key(t)
		if _, ok := r.tags[k]; ok {
			continue
		}
		r.tags[k] = entry{name: t, usn: usn}
		r.changed = true
	}
}

// Has reports whether tag is registered under any casing.
func (r *Registry) Has(tag string) bool {
	_, ok := r.tags[r.key(tag)]
	return ok
}

// Item is a registered tag and its usn.
type Item struct {
	Name string
	Usn  int
}

// Items returns every registered tag in case-insensitive order.
func (r *Registry) Items() []Item {
	out := make([]Item, 0, len(r.tags))
	for _, e := range r.tags {
		out = append(out, Item{Name: e.name, Usn: e.usn})
	}
	slices.SortFunc(out, func(a, b Item) int { return r.compare(a.Name, b.Name) })
	return out
}

// All returns the registered tag names in case-insensitive order.
func (r *Registry) All() []string {
	items := r.Items()
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func (r *Registry) compare(a, b string) int {
	if c := strings.Compare(r.key(a), r.key(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

// RegisterNotes adds the tags of the given notes. With nil nids the registry
// is cleared first and rebuilt from every note.
func (r *Registry) RegisterNotes(ctx context.Context, src NoteTagSource, nids []int64, usn int) error {
	if nids == nil {
		r.tags = map[string]entry{}
		r.changed = true
	}
	raw, err := src.NoteTags(ctx, nids)
	if err != nil {
		return fmt.Errorf("failed to read note tags: %w", err)
	}
	r.Register(Split(strings.Join(raw, " ")), usn)
	return nil
}

// ByDeck returns the distinct tags of notes with cards in dids.
func (r *Registry) ByDeck(ctx context.Context, src NoteTagSource, dids []int64) ([]string, error) {
	raw, err := src.DeckNoteTags(ctx, dids)
	if err != nil {
		return nil, fmt.Errorf("failed to read deck tags: %w", err)
	}
	seen := map[string]bool{}
	var out []string
	for _, t := range Split(strings.Join(raw, " ")) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	slices.SortFunc(out, r.compare)
	return out, nil
}

var quotes = regexp.MustCompile(`["']`)

// Canonify strips quotes, maps each tag to its registered casing and removes
// case-insensitive duplicates. Unregistered tags keep the casing seen first.
// The result is sorted case-insensitively.
func (r *Registry) Canonify(list []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range list {
		s := quotes.ReplaceAllString(t, "")
		if s == "" {
			continue
		}
		k := r.key(s)
		if seen[k] {
			continue
		}
		seen[k] = true
		if e, ok := r.tags[k]; ok {
			s = e.name
		}
		out = append(out, s)
	}
	slices.SortFunc(out, r.compare)
	return out
}

// AddToStr adds addTags to the tag column tags, returning the canonified column.
func (r *Registry) AddToStr(addTags, tags string) string {
	current := Split(tags)
	for _, t := range Split(addTags) {
		if !InList(t, current) {
			current = append(current, t)
		}
	}
	return Join(r.Canonify(current))
}

// BeforeUpload zeroes every usn ahead of a full upload.
func (r *Registry) BeforeUpload() {
	for k, e := range r.tags {
		if e.usn != 0 {
			e.usn = 0
			r.tags[k] = e
			r.changed = true
		}
	}
}

// Split breaks a tag column into tags. Ideographic spaces separate too.
func Split(tags string) []string {
	return strings.Fields(strings.ReplaceAll(tags, "\u3000", " "))
}

// Join renders tags as a column value, padded with spaces so a single tag can
// be matched with "% tag %".
func Join(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return " " + strings.Join(tags, " ") + " "
}

// InList compares case-insensitively.
func InList(tag string, tags []string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// RemFromStr removes delTags from the column tags. A "*" in a tag to delete
// matches any run of characters.
func RemFromStr(delTags, tags string) string {
	current := Split(tags)
	for _, del := range Split(delTags) {
		match := wildcard(del)
		current = slices.DeleteFunc(current, func(t string) bool {
			return strings.EqualFold(del, t) || match(t)
		})
	}
	return Join(current)
}

func wildcard(pattern string) func(string) bool {
	if !strings.Contains(pattern, "*") {
		return func(string) bool { return false }
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re := regexp.MustCompile("(?i)^" + strings.Join(parts, ".*") + "$")
	return re.MatchString
}
