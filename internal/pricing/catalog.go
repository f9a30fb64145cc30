// Package pricing implements the in-memory price catalog: an atomically
// swapped snapshot mapping model ids to per-token prices in picounits.
package pricing

import (
	"sort"
	"sync/atomic"

	sentinel "github.com/jinzhao-rjb/DeepSentine/internal"
)

// Price is a catalog entry with the currency multiplier already applied, so
// lookups return picounits-per-token directly.
type Price struct {
	InputPico  sentinel.Picounits
	OutputPico sentinel.Picounits
}

// Catalog serves O(1) model price lookups from a copy-on-write snapshot.
// Replace publishes a new snapshot pointer; readers capture the pointer once
// per lookup and never observe a partial swap.
type Catalog struct {
	snapshot atomic.Pointer[map[string]Price]
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	c := &Catalog{}
	empty := make(map[string]Price)
	c.snapshot.Store(&empty)
	return c
}

// Replace converts display-currency prices to picounits (applying each
// entry's multiplier) and atomically swaps the snapshot. Keys are
// normalized; on collision the first entry wins.
func (c *Catalog) Replace(prices map[string]sentinel.ModelPrice) {
	next := make(map[string]Price, len(prices))
	for id, p := range prices {
		mult := p.Multiplier
		if mult <= 0 {
			mult = 1
		}
		key := Normalize(id)
		if _, ok := next[key]; ok {
			continue
		}
		next[key] = Price{
			InputPico:  sentinel.PicounitsFromDisplay(p.Input * mult),
			OutputPico: sentinel.PicounitsFromDisplay(p.Output * mult),
		}
	}
	c.snapshot.Store(&next)
}

// Get looks up the price for a model id. The id is normalized first; when
// the exact id is absent, the well-known family simplification is tried.
func (c *Catalog) Get(model string) (Price, bool) {
	m := *c.snapshot.Load()
	id := Normalize(model)
	if p, ok := m[id]; ok {
		return p, true
	}
	if simple := Simplify(id); simple != id {
		if p, ok := m[simple]; ok {
			return p, true
		}
	}
	return Price{}, false
}

// Len returns the number of models in the current snapshot.
func (c *Catalog) Len() int {
	return len(*c.snapshot.Load())
}

// Models returns the sorted model ids of the current snapshot.
func (c *Catalog) Models() []string {
	m := *c.snapshot.Load()
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
