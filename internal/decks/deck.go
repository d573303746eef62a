// Package decks manages the deck tree and the shared deck configurations.
//
// Decks and configurations are stored as JSON documents in the collection
// row. Each is read into a typed struct; keys the struct does not know about
// are carried along untouched and written back in their original position.
package decks

import (
	"encoding/json"
	"fmt"

	"github.com/conorfennell/knolbase/internal/document"
)

const (
	// DefaultDeckID is the deck that always exists.
	DefaultDeckID int64 = 1
	// DefaultConfID is the configuration decks fall back to.
	DefaultConfID int64 = 1

	DefaultName = "Default"
)

const defaultDeckJSON = `{
	"newToday": [0, 0],
	"revToday": [0, 0],
	"lrnToday": [0, 0],
	"timeToday": [0, 0],
	"conf": 1,
	"usn": 0,
	"desc": "",
	"dyn": 0,
	"collapsed": false,
	"extendNew": 10,
	"extendRev": 50
}`

const defaultFilteredJSON = `{
	"newToday": [0, 0],
	"revToday": [0, 0],
	"lrnToday": [0, 0],
	"timeToday": [0, 0],
	"collapsed": false,
	"dyn": 1,
	"desc": "",
	"usn": 0,
	"delays": null,
	"separate": true,
	"terms": [["", 100, 0]],
	"resched": true,
	"return": true
}`

// Term is one search of a filtered deck, stored as [search, limit, order].
type Term struct {
	Search string
	Limit  int
	Order  int
}

func (t Term) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{t.Search, t.Limit, t.Order})
}

func (t *Term) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("filtered deck term has %d parts, want 3", len(parts))
	}
	if err := json.Unmarshal(parts[0], &t.Search); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[1], &t.Limit); err != nil {
		return err
	}
	return json.Unmarshal(parts[2], &t.Order)
}

// Deck is a typed view of a deck document.
type Deck struct {
	ID        int64
	Name      string
	Mod       int64
	Usn       int
	Desc      string
	Filtered  bool
	Collapsed bool
	// Conf is the shared configuration of a normal deck.
	Conf int64

	NewToday  [2]int
	RevToday  [2]int
	LrnToday  [2]int
	TimeToday [2]int

	// Filtered decks only.
	Terms   []Term
	Resched bool

	doc *document.Document
}

func newDeck(template string) *Deck {
	d, err := DeckFromDocument(document.MustParse(template))
	if err != nil {
		panic(err)
	}
	return d
}

// DeckFromDocument builds the typed view of doc. doc is cloned.
func DeckFromDocument(doc *document.Document) (*Deck, error) {
	d := &Deck{doc: doc.Clone()}
	var err error
	get := func(key string, dst any) {
		if err != nil {
			return
		}
		raw, ok := d.doc.Raw(key)
		if !ok || string(raw) == "null" {
			return
		}
		if e := json.Unmarshal(raw, dst); e != nil {
			err = fmt.Errorf("deck key %q: %w", key, e)
		}
	}
	var dyn int
	get("id", &d.ID)
	get("name", &d.Name)
	get("mod", &d.Mod)
	get("usn", &d.Usn)
	get("desc", &d.Desc)
	get("dyn", &dyn)
	get("collapsed", &d.Collapsed)
	get("conf", &d.Conf)
	get("newToday", &d.NewToday)
	get("revToday", &d.RevToday)
	get("lrnToday", &d.LrnToday)
	get("timeToday", &d.TimeToday)
	get("terms", &d.Terms)
	get("resched", &d.Resched)
	if err != nil {
		return nil, err
	}
	d.Filtered = dyn != 0
	return d, nil
}

type keyValue struct {
	key string
	v   any
}

func setAll(doc *document.Document, kvs []keyValue) error {
	for _, kv := range kvs {
		if err := doc.Set(kv.key, kv.v); err != nil {
			return err
		}
	}
	return nil
}

// Document renders the deck, keeping keys the typed view does not cover.
func (d *Deck) Document() (*document.Document, error) {
	doc := d.doc.Clone()
	dyn := 0
	if d.Filtered {
		dyn = 1
	}
	kvs := []keyValue{
		{"id", d.ID},
		{"name", d.Name},
		{"mod", d.Mod},
		{"usn", d.Usn},
		{"desc", d.Desc},
		{"dyn", dyn},
		{"collapsed", d.Collapsed},
		{"newToday", d.NewToday},
		{"revToday", d.RevToday},
		{"lrnToday", d.LrnToday},
		{"timeToday", d.TimeToday},
	}
	if d.Filtered {
		kvs = append(kvs, keyValue{"terms", d.Terms}, keyValue{"resched", d.Resched})
	} else {
		kvs = append(kvs, keyValue{"conf", d.Conf})
	}
	if err := setAll(doc, kvs); err != nil {
		return nil, err
	}
	return doc, nil
}

// Clone returns an independent copy.
func (d *Deck) Clone() *Deck {
	cp := *d
	cp.Terms = append([]Term(nil), d.Terms...)
	cp.doc = d.doc.Clone()
	return &cp
}
