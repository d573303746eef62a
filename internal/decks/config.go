package decks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/conorfennell/knolbase/internal/document"
)

const defaultConfJSON = `{
	"name": "Default",
	"new": {
		"delays": [1, 10],
		"ints": [1, 4, 7],
		"initialFactor": 2500,
		"separate": true,
		"order": 1,
		"perDay": 20,
		"bury": true
	},
	"lapse": {
		"delays": [10],
		"mult": 0,
		"minInt": 1,
		"leechFails": 8,
		"leechAction": 0
	},
	"rev": {
		"perDay": 100,
		"ease4": 1.3,
		"fuzz": 0.05,
		"minSpace": 1,
		"ivlFct": 1,
		"maxIvl": 36500
	},
	"maxTaken": 60,
	"timer": 0,
	"autoplay": true,
	"replayq": true,
	"mod": 0,
	"usn": 0
}`

// Leech actions.
const (
	LeechSuspend = 0
	LeechTagOnly = 1
)

type NewPolicy struct {
	Delays        []float64 `json:"delays"`
	Ints          []int     `json:"ints"`
	InitialFactor int       `json:"initialFactor"`
	Separate      bool      `json:"separate"`
	Order         int       `json:"order"`
	PerDay        int       `json:"perDay"`
	Bury          bool      `json:"bury"`
}

type LapsePolicy struct {
	Delays      []float64 `json:"delays"`
	Mult        float64   `json:"mult"`
	MinInt      int       `json:"minInt"`
	LeechFails  int       `json:"leechFails"`
	LeechAction int       `json:"leechAction"`
}

type ReviewPolicy struct {
	PerDay   int     `json:"perDay"`
	Ease4    float64 `json:"ease4"`
	Fuzz     float64 `json:"fuzz"`
	MinSpace int     `json:"minSpace"`
	IvlFct   float64 `json:"ivlFct"`
	MaxIvl   int     `json:"maxIvl"`
}

// Config is a typed view of a deck configuration document.
type Config struct {
	ID       int64
	Name     string
	Mod      int64
	Usn      int
	New      NewPolicy
	Lapse    LapsePolicy
	Rev      ReviewPolicy
	MaxTaken int
	Timer    int
	Autoplay bool
	Replayq  bool
	// Dyn is set when the configuration was resolved for a filtered deck.
	Dyn bool

	doc *document.Document
}

func newConfig() *Config {
	c, err := ConfigFromDocument(document.MustParse(defaultConfJSON))
	if err != nil {
		panic(err)
	}
	return c
}

// ConfigFromDocument builds the typed view of doc. doc is cloned.
func ConfigFromDocument(doc *document.Document) (*Config, error) {
	c := &Config{doc: doc.Clone()}
	var err error
	get := func(key string, dst any) {
		if err != nil {
			return
		}
		raw, ok := c.doc.Raw(key)
		if !ok || string(raw) == "null" {
			return
		}
		if e := json.Unmarshal(raw, dst); e != nil {
			err = fmt.Errorf("config key %q: %w", key, e)
		}
	}
	var dyn int
	get("id", &c.ID)
	get("name", &c.Name)
	get("mod", &c.Mod)
	get("usn", &c.Usn)
	get("new", &c.New)
	get("lapse", &c.Lapse)
	get("rev", &c.Rev)
	get("maxTaken", &c.MaxTaken)
	get("timer", &c.Timer)
	get("autoplay", &c.Autoplay)
	get("replayq", &c.Replayq)
	get("dyn", &dyn)
	if err != nil {
		return nil, err
	}
	c.Dyn = dyn != 0
	return c, nil
}

// Document renders the configuration, keeping unknown keys.
func (c *Config) Document() (*document.Document, error) {
	doc := c.doc.Clone()
	kvs := []keyValue{
		{"id", c.ID},
		{"name", c.Name},
		{"mod", c.Mod},
		{"usn", c.Usn},
		{"new", c.New},
		{"lapse", c.Lapse},
		{"rev", c.Rev},
		{"maxTaken", c.MaxTaken},
		{"timer", c.Timer},
		{"autoplay", c.Autoplay},
		{"replayq", c.Replayq},
	}
	if err := setAll(doc, kvs); err != nil {
		return nil, err
	}
	// dyn only marks a resolved copy and is never stored.
	doc.Delete("dyn")
	return doc, nil
}

// TimeLimit is the longest a single answer is counted for.
func (c *Config) TimeLimit() time.Duration {
	return time.Duration(c.MaxTaken) * time.Second
}

// Clone returns an independent copy.
func (c *Config) Clone() *Config {
	cp := *c
	cp.New.Delays = append([]float64(nil), c.New.Delays...)
	cp.New.Ints = append([]int(nil), c.New.Ints...)
	cp.Lapse.Delays = append([]float64(nil), c.Lapse.Delays...)
	cp.doc = c.doc.Clone()
	return &cp
}
