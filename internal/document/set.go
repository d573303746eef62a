package document

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ParseSet reads an object of id -> document, as the collection row stores
// decks, deck configurations and note types.
func ParseSet(b []byte) (map[int64]*Document, error) {
	outer, err := Parse(b)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]*Document, outer.Len())
	for _, k := range outer.keys {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse document set: bad id %q: %w", k, err)
		}
		inner, err := Parse(outer.values[k])
		if err != nil {
			return nil, fmt.Errorf("parse document set: id %d: %w", id, err)
		}
		out[id] = inner
	}
	return out, nil
}

// MarshalSet is the inverse of ParseSet. ids fixes the output order.
func MarshalSet(ids []int64, docs map[int64]*Document) ([]byte, error) {
	outer := New()
	for _, id := range ids {
		doc, ok := docs[id]
		if !ok {
			continue
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal document %d: %w", id, err)
		}
		outer.put(strconv.FormatInt(id, 10), raw)
	}
	return json.Marshal(outer)
}
