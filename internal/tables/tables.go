// Package tables is the static catalog of exportable tables.
package tables

import (
	"fmt"
	"sort"
)

// Category groups tables by how backup, restore and period reset treat them.
type Category string

const (
	Core          Category = "core"
	Transactional Category = "transactional"
	Config        Category = "config"
	Auxiliary     Category = "auxiliary"
)

// restoreRank orders categories so referenced data is written first.
var restoreRank = map[Category]int{
	Config:        0,
	Core:          1,
	Auxiliary:     2,
	Transactional: 3,
}

// Descriptor describes one exportable table. Descriptors are immutable.
type Descriptor struct {
	Name     string
	Label    string
	Category Category
	Critical bool

	// TemporalKey names the date column used for range filtering; empty
	// when the table has none.
	TemporalKey string

	// IdentityField is the column rows are keyed by during merge.
	IdentityField string

	// BalanceFields are running totals zeroed on period reset instead of
	// deleting the row.
	BalanceFields []string
}

// HasTemporalKey reports whether rows can be range-filtered by date.
func (d Descriptor) HasTemporalKey() bool {
	return d.TemporalKey != ""
}

// IsBalance reports whether the table holds running balances.
func (d Descriptor) IsBalance() bool {
	return len(d.BalanceFields) > 0
}

// Registry holds table descriptors in declaration order.
type Registry struct {
	order  []string
	byName map[string]Descriptor
}

// NewRegistry builds a registry, rejecting duplicate or incomplete descriptors.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if d.Name == "" {
			return nil, fmt.Errorf("table descriptor without a name")
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate table descriptor %q", d.Name)
		}
		if _, ok := restoreRank[d.Category]; !ok {
			return nil, fmt.Errorf("table %q has unknown category %q", d.Name, d.Category)
		}
		if d.IdentityField == "" {
			d.IdentityField = "id"
		}
		r.byName[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// Get returns a descriptor by name
func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names returns all table names in declaration order
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// All returns every descriptor in declaration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// ByCategory returns the names of tables in any of the given categories.
func (r *Registry) ByCategory(cats ...Category) []string {
	want := make(map[Category]bool, len(cats))
	for _, c := range cats {
		want[c] = true
	}
	var names []string
	for _, name := range r.order {
		if want[r.byName[name].Category] {
			names = append(names, name)
		}
	}
	return names
}

// Unknown returns the names not present in the registry.
func (r *Registry) Unknown(names []string) []string {
	var unknown []string
	for _, n := range names {
		if _, ok := r.byName[n]; !ok {
			unknown = append(unknown, n)
		}
	}
	return unknown
}

// RestoreOrder sorts names so that tables others reference come first:
// config, then core, then auxiliary, then transactional, each in
// declaration order. Names missing from the registry sort last.
func (r *Registry) RestoreOrder(names []string) []string {
	pos := make(map[string]int, len(r.order))
	for i, n := range r.order {
		pos[n] = i
	}
	out := append([]string(nil), names...)
	sort.SliceStable(out, func(i, j int) bool {
		di, iok := r.byName[out[i]]
		dj, jok := r.byName[out[j]]
		if iok != jok {
			return iok
		}
		if !iok {
			return false
		}
		if restoreRank[di.Category] != restoreRank[dj.Category] {
			return restoreRank[di.Category] < restoreRank[dj.Category]
		}
		return pos[out[i]] < pos[out[j]]
	})
	return out
}

// DeleteOrder is RestoreOrder reversed: referencing tables first.
func (r *Registry) DeleteOrder(names []string) []string {
	out := r.RestoreOrder(names)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
