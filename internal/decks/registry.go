package decks

import (
	"cmp"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/conorfennell/knolbase/internal/clock"
	"github.com/conorfennell/knolbase/internal/document"
)

// Collection is what the registry needs from the collection that owns it.
type Collection interface {
	Usn() int
	ModSchema(check bool) error
	// RemoveDeckCards deletes the cards whose deck or original deck is did.
	RemoveDeckCards(ctx context.Context, did int64) error
	// EmptyFiltered returns the cards of a filtered deck to their home decks.
	EmptyFiltered(ctx context.Context, did int64) error
	LogDeckGrave(ctx context.Context, did int64) error
}

// Registry holds every deck and deck configuration of a collection. The
// selected deck and the active set are kept here and persisted by the
// collection in its config document.
type Registry struct {
	col Collection
	clk clock.Clock

	decks    map[int64]*Deck
	confs    map[int64]*Config
	selected int64
	active   []int64
	changed  bool

	caser cases.Caser
	keys  map[string]string
	paths map[string][]string
}

func NewRegistry(col Collection, clk clock.Clock) *Registry {
	return &Registry{
		col:   col,
		clk:   clk,
		decks: map[int64]*Deck{},
		confs: map[int64]*Config{},
		caser: cases.Fold(),
		keys:  map[string]string{},
		paths: map[string][]string{},
	}
}

// Load replaces the registry with the decks and dconf documents.
func (r *Registry) Load(decksJSON, confJSON []byte, selected int64, active []int64) error {
	r.decks = map[int64]*Deck{}
	r.confs = map[int64]*Config{}
	if len(decksJSON) > 0 {
		docs, err := document.ParseSet(decksJSON)
		if err != nil {
			return fmt.Errorf("failed to parse decks: %w", err)
		}
		for id, doc := range docs {
			d, err := DeckFromDocument(doc)
			if err != nil {
				return fmt.Errorf("failed to read deck %d: %w", id, err)
			}
			d.ID = id
			r.decks[id] = d
		}
	}
	if len(confJSON) > 0 {
		docs, err := document.ParseSet(confJSON)
		if err != nil {
			return fmt.Errorf("failed to parse deck configs: %w", err)
		}
		for id, doc := range docs {
			c, err := ConfigFromDocument(doc)
			if err != nil {
				return fmt.Errorf("failed to read deck config %d: %w", id, err)
			}
			c.ID = id
			r.confs[id] = c
		}
	}
	r.selected = selected
	r.active = slices.Clone(active)
	r.changed = false
	return nil
}

// Marshal renders the decks and dconf documents.
func (r *Registry) Marshal() (decksJSON, confJSON []byte, err error) {
	deckDocs := make(map[int64]*document.Document, len(r.decks))
	for id, d := range r.decks {
		if deckDocs[id], err = d.Document(); err != nil {
			return nil, nil, fmt.Errorf("failed to render deck %d: %w", id, err)
		}
	}
	confDocs := make(map[int64]*document.Document, len(r.confs))
	for id, c := range r.confs {
		if confDocs[id], err = c.Document(); err != nil {
			return nil, nil, fmt.Errorf("failed to render deck config %d: %w", id, err)
		}
	}
	if decksJSON, err = document.MarshalSet(r.AllIDs(), deckDocs); err != nil {
		return nil, nil, err
	}
	if confJSON, err = document.MarshalSet(sortedKeys(r.confs), confDocs); err != nil {
		return nil, nil, err
	}
	return decksJSON, confJSON, nil
}

func (r *Registry) Changed() bool { return r.changed }

func (r *Registry) MarkFlushed() { r.changed = false }

// EnsureDefaults creates the Default deck and configuration when missing and
// makes sure a valid deck is selected.
func (r *Registry) EnsureDefaults() {
	if _, ok := r.confs[DefaultConfID]; !ok {
		c := newConfig()
		c.ID = DefaultConfID
		c.Name = DefaultName
		r.confs[c.ID] = c
		r.changed = true
	}
	if _, ok := r.decks[DefaultDeckID]; !ok {
		d := newDeck(defaultDeckJSON)
		d.ID = DefaultDeckID
		d.Name = DefaultName
		d.Conf = DefaultConfID
		r.decks[d.ID] = d
		r.changed = true
	}
	if _, ok := r.decks[r.selected]; !ok {
		_ = r.Select(DefaultDeckID)
	}
}

var spaceAroundSeparator = regexp.MustCompile(`\s*::\s*`)

// Strip removes whitespace around "::" separators and at both ends.
func Strip(name string) string {
	return strings.TrimSpace(spaceAroundSeparator.ReplaceAllString(name, "::"))
}

// key is the case- and composition-insensitive form names are compared by.
func (r *Registry) key(name string) string {
	if k, ok := r.keys[name]; ok {
		return k
	}
	k := r.caser.String(norm.NFC.String(name))
	r.keys[name] = k
	return k
}

func (r *Registry) path(name string) []string {
	if p, ok := r.paths[name]; ok {
		return p
	}
	p := strings.Split(name, "::")
	r.paths[name] = p
	return p
}

func (r *Registry) validName(name string) error {
	if name == "" {
		return &RenameError{Name: name, Reason: ReasonInvalidName}
	}
	for _, part := range r.path(name) {
		if part == "" {
			return &RenameError{Name: name, Reason: ReasonInvalidName}
		}
	}
	return nil
}

func (r *Registry) byKey(name string) (*Deck, bool) {
	k := r.key(name)
	for _, id := range r.AllIDs() {
		if d := r.decks[id]; r.key(d.Name) == k {
			return d, true
		}
	}
	return nil, false
}

// ID returns the id of the deck called name, creating it and any missing
// ancestors when create is set.
func (r *Registry) ID(name string, create bool) (int64, error) {
	return r.id(name, create, defaultDeckJSON)
}

func (r *Registry) id(name string, create bool, template string) (int64, error) {
	name = Strip(strings.ReplaceAll(name, `"`, ""))
	if err := r.validName(name); err != nil {
		return 0, err
	}
	if d, ok := r.byKey(name); ok {
		return d.ID, nil
	}
	if !create {
		return 0, fmt.Errorf("deck %q: %w", name, ErrNotFound)
	}
	name, err := r.ensureParents(name)
	if err != nil {
		return 0, err
	}
	d := newDeck(template)
	d.Name = name
	d.ID = r.newID(func(id int64) bool { _, ok := r.decks[id]; return ok })
	r.decks[d.ID] = d
	r.Save(d)
	r.maybeAddToActive()
	return d.ID, nil
}

// ensureParents creates the missing ancestors of name and returns name with
// each ancestor segment in the casing of the existing deck.
func (r *Registry) ensureParents(name string) (string, error) {
	path := r.path(name)
	if len(path) < 2 {
		return name, nil
	}
	s := ""
	for i, part := range path[:len(path)-1] {
		if i == 0 {
			s = part
		} else {
			s = s + "::" + part
		}
		did, err := r.id(s, true, defaultDeckJSON)
		if err != nil {
			return "", err
		}
		parent := r.decks[did]
		if parent.Filtered {
			return "", &RenameError{Name: name, Reason: ReasonFilteredNoSubdecks}
		}
		s = parent.Name
	}
	return s + "::" + path[len(path)-1], nil
}

func (r *Registry) newID(taken func(int64) bool) int64 {
	id := clock.Millis(r.clk)
	for taken(id) {
		id = clock.Millis(r.clk)
	}
	return id
}

// Save stamps d with the current time and usn.
func (r *Registry) Save(d *Deck) {
	d.Mod = clock.Seconds(r.clk)
	d.Usn = r.col.Usn()
	r.changed = true
}

// Update inserts or replaces a deck document as given, for merges.
func (r *Registry) Update(doc *document.Document) error {
	d, err := DeckFromDocument(doc)
	if err != nil {
		return fmt.Errorf("failed to read deck: %w", err)
	}
	r.decks[d.ID] = d
	r.maybeAddToActive()
	r.changed = true
	return nil
}

// Rename gives d a new name and moves its descendants along.
func (r *Registry) Rename(d *Deck, newName string) error {
	newName = Strip(strings.ReplaceAll(newName, `"`, ""))
	if err := r.validName(newName); err != nil {
		return err
	}
	if other, ok := r.byKey(newName); ok && other.ID != d.ID {
		return &RenameError{Name: newName, Reason: ReasonAlreadyExists}
	}
	oldName := d.Name
	if strings.HasPrefix(r.key(newName), r.key(oldName)+"::") {
		return &RenameError{Name: newName, Reason: ReasonInvalidName}
	}
	if parent, ok := r.parentOf(newName); ok && parent.Filtered {
		return &RenameError{Name: newName, Reason: ReasonFilteredNoSubdecks}
	}
	newName, err := r.ensureParents(newName)
	if err != nil {
		return err
	}
	depth := len(r.path(oldName))
	for _, child := range r.Children(d.ID) {
		child.Name = newName + "::" + strings.Join(r.path(child.Name)[depth:], "::")
		r.Save(child)
	}
	d.Name = newName
	r.Save(d)
	r.maybeAddToActive()
	return nil
}

func (r *Registry) parentOf(name string) (*Deck, bool) {
	path := r.path(name)
	if len(path) < 2 {
		return nil, false
	}
	return r.byKey(strings.Join(path[:len(path)-1], "::"))
}

// Rem deletes a deck. Normal decks take their descendants with them when
// childrenToo is set, and their cards when cardsToo is set. Filtered decks
// hand their cards back to the home decks instead. The default deck is never
// deleted; if it is nested it moves back to the top level.
func (r *Registry) Rem(ctx context.Context, did int64, cardsToo, childrenToo bool) error {
	if did == DefaultDeckID {
		if d, ok := r.decks[did]; ok && strings.Contains(d.Name, "::") {
			name := DefaultName
			for {
				other, taken := r.byKey(name)
				if !taken || other.ID == did {
					break
				}
				name += "+"
			}
			d.Name = name
			r.Save(d)
		}
		return nil
	}
	d, ok := r.decks[did]
	if !ok {
		return nil
	}
	if err := r.col.LogDeckGrave(ctx, did); err != nil {
		return err
	}
	if d.Filtered {
		if err := r.col.EmptyFiltered(ctx, did); err != nil {
			return err
		}
	}
	if childrenToo {
		children := r.Children(did)
		// Deepest first so every child is still named under its parent.
		slices.Reverse(children)
		for _, child := range children {
			if err := r.Rem(ctx, child.ID, cardsToo, false); err != nil {
				return err
			}
		}
	}
	if cardsToo && !d.Filtered {
		if err := r.col.RemoveDeckCards(ctx, did); err != nil {
			return err
		}
	}
	delete(r.decks, did)
	if r.selected == did || slices.Contains(r.active, did) {
		if err := r.Select(r.fallback()); err != nil {
			return err
		}
	}
	r.changed = true
	return nil
}

func (r *Registry) fallback() int64 {
	if _, ok := r.decks[DefaultDeckID]; ok {
		return DefaultDeckID
	}
	ids := r.AllIDs()
	if len(ids) == 0 {
		return 0
	}
	return ids[0]
}

// AllNames returns deck names in name order, without filtered decks unless
// includeFiltered is set.
func (r *Registry) AllNames(includeFiltered bool) []string {
	var names []string
	for _, d := range r.AllSorted() {
		if includeFiltered || !d.Filtered {
			names = append(names, d.Name)
		}
	}
	return names
}

// All returns every deck in id order.
func (r *Registry) All() []*Deck {
	out := make([]*Deck, 0, len(r.decks))
	for _, id := range r.AllIDs() {
		out = append(out, r.decks[id])
	}
	return out
}

// AllSorted returns every deck in name order.
func (r *Registry) AllSorted() []*Deck {
	out := r.All()
	slices.SortFunc(out, func(a, b *Deck) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (r *Registry) AllIDs() []int64 { return sortedKeys(r.decks) }

func (r *Registry) Count() int { return len(r.decks) }

// Get returns the deck with did.
func (r *Registry) Get(did int64) (*Deck, bool) {
	d, ok := r.decks[did]
	return d, ok
}

// GetOrDefault falls back to the default deck, then to any deck.
func (r *Registry) GetOrDefault(did int64) *Deck {
	if d, ok := r.decks[did]; ok {
		return d
	}
	return r.decks[r.fallback()]
}

// ByName finds a deck by name, ignoring case and surrounding whitespace.
func (r *Registry) ByName(name string) (*Deck, bool) {
	return r.byKey(Strip(name))
}

func (r *Registry) Name(did int64) string {
	if d, ok := r.decks[did]; ok {
		return d.Name
	}
	return "[no deck]"
}

func (r *Registry) IsFiltered(did int64) bool {
	d, ok := r.decks[did]
	return ok && d.Filtered
}

// NewFiltered creates a filtered deck and selects it.
func (r *Registry) NewFiltered(name string) (int64, error) {
	did, err := r.id(name, true, defaultFilteredJSON)
	if err != nil {
		return 0, err
	}
	if !r.decks[did].Filtered {
		return 0, &RenameError{Name: name, Reason: ReasonAlreadyExists}
	}
	return did, r.Select(did)
}

// Collapse toggles whether the deck's children are shown.
func (r *Registry) Collapse(did int64) error {
	d, ok := r.decks[did]
	if !ok {
		return fmt.Errorf("deck %d: %w", did, ErrNotFound)
	}
	d.Collapsed = !d.Collapsed
	r.Save(d)
	return nil
}

// Children returns the descendants of did in name order.
func (r *Registry) Children(did int64) []*Deck {
	d, ok := r.decks[did]
	if !ok {
		return nil
	}
	prefix := r.key(d.Name) + "::"
	var out []*Deck
	for _, c := range r.AllSorted() {
		if strings.HasPrefix(r.key(c.Name), prefix) {
			out = append(out, c)
		}
	}
	return out
}

// DeckAndChildIDs returns did followed by its descendants.
func (r *Registry) DeckAndChildIDs(did int64) []int64 {
	ids := []int64{did}
	for _, c := range r.Children(did) {
		ids = append(ids, c.ID)
	}
	return ids
}

// Parents returns the existing ancestors of did, outermost first.
func (r *Registry) Parents(did int64) []*Deck {
	d, ok := r.decks[did]
	if !ok {
		return nil
	}
	path := r.path(d.Name)
	var out []*Deck
	for i := 1; i < len(path); i++ {
		if p, ok := r.byKey(strings.Join(path[:i], "::")); ok {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) maybeAddToActive() {
	if c := r.Current(); c != nil {
		_ = r.Select(c.ID)
	}
}

// Select makes did the current deck and activates it with its descendants.
// The descendant set is recomputed on every call.
func (r *Registry) Select(did int64) error {
	d, ok := r.decks[did]
	if !ok {
		return fmt.Errorf("deck %d: %w", did, ErrNotFound)
	}
	r.selected = did
	active := append([]*Deck{d}, r.Children(did)...)
	slices.SortFunc(active, func(a, b *Deck) int { return strings.Compare(a.Name, b.Name) })
	r.active = r.active[:0]
	for _, a := range active {
		r.active = append(r.active, a.ID)
	}
	r.changed = true
	return nil
}

// Selected is the current deck id.
func (r *Registry) Selected() int64 { return r.selected }

// Active returns a copy of the active deck ids.
func (r *Registry) Active() []int64 { return slices.Clone(r.active) }

// Current is the selected deck, or the default deck if it has gone.
func (r *Registry) Current() *Deck { return r.GetOrDefault(r.selected) }

// AllConf returns every configuration in id order.
func (r *Registry) AllConf() []*Config {
	out := make([]*Config, 0, len(r.confs))
	for _, id := range sortedKeys(r.confs) {
		out = append(out, r.confs[id])
	}
	return out
}

func (r *Registry) GetConf(id int64) (*Config, bool) {
	c, ok := r.confs[id]
	return c, ok
}

// ConfForDid returns the configuration governing did. Filtered decks have no
// shared configuration; they get a copy of the default one with Dyn set.
func (r *Registry) ConfForDid(did int64) (*Config, error) {
	d, ok := r.decks[did]
	if !ok {
		return nil, fmt.Errorf("deck %d: %w", did, ErrNotFound)
	}
	if d.Filtered {
		def, ok := r.confs[DefaultConfID]
		if !ok {
			return nil, fmt.Errorf("deck config %d: %w", DefaultConfID, ErrConfNotFound)
		}
		c := def.Clone()
		c.Dyn = true
		return c, nil
	}
	c, ok := r.confs[d.Conf]
	if !ok {
		return nil, fmt.Errorf("deck config %d of deck %d: %w", d.Conf, did, ErrConfNotFound)
	}
	return c, nil
}

// UpdateConf inserts or replaces c as given.
func (r *Registry) UpdateConf(c *Config) {
	r.confs[c.ID] = c
	r.changed = true
}

// SaveConf stamps c with the current time and usn.
func (r *Registry) SaveConf(c *Config) {
	c.Mod = clock.Seconds(r.clk)
	c.Usn = r.col.Usn()
	r.changed = true
}

// AddConf creates a configuration named name, copied from cloneFrom or from
// the built-in defaults when cloneFrom is nil.
func (r *Registry) AddConf(name string, cloneFrom *Config) int64 {
	c := newConfig()
	if cloneFrom != nil {
		c = cloneFrom.Clone()
		c.Dyn = false
	}
	c.ID = r.newID(func(id int64) bool { _, ok := r.confs[id]; return ok })
	c.Name = name
	r.confs[c.ID] = c
	r.SaveConf(c)
	return c.ID
}

// RemConf deletes a configuration and points its decks at the default one.
// It needs a confirmed schema change.
func (r *Registry) RemConf(id int64) error {
	if id == DefaultConfID {
		return ErrDefaultConf
	}
	if _, ok := r.confs[id]; !ok {
		return fmt.Errorf("deck config %d: %w", id, ErrConfNotFound)
	}
	if err := r.col.ModSchema(true); err != nil {
		return err
	}
	delete(r.confs, id)
	for _, d := range r.All() {
		if !d.Filtered && d.Conf == id {
			d.Conf = DefaultConfID
			r.Save(d)
		}
	}
	r.changed = true
	return nil
}

// SetConf points d at configuration id.
func (r *Registry) SetConf(d *Deck, id int64) {
	d.Conf = id
	r.Save(d)
}

// DidsForConf returns the decks using configuration id.
func (r *Registry) DidsForConf(id int64) []int64 {
	var dids []int64
	for _, d := range r.All() {
		if !d.Filtered && d.Conf == id {
			dids = append(dids, d.ID)
		}
	}
	return dids
}

// RestoreToDefault resets c to the built-in defaults, keeping its id and name.
func (r *Registry) RestoreToDefault(c *Config) *Config {
	fresh := newConfig()
	fresh.ID = c.ID
	fresh.Name = c.Name
	r.confs[c.ID] = fresh
	r.SaveConf(fresh)
	return fresh
}

// BeforeUpload zeroes every usn ahead of a full upload.
func (r *Registry) BeforeUpload() {
	for _, d := range r.decks {
		d.Usn = 0
	}
	for _, c := range r.confs {
		c.Usn = 0
	}
	r.changed = true
}

func sortedKeys[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, cmp.Compare[int64])
	return ids
}
