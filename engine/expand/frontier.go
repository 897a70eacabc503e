package expand

import (
	"maps"
	"slices"
	"strings"
)

// Entry is one frontier member.
type Entry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Frontier maps artist ids awaiting expansion to their display names. It is
// not safe for concurrent use; the engine owns it for the length of a round.
type Frontier struct {
	m map[string]string
}

// NewFrontier returns a frontier holding entries.
func NewFrontier(entries ...Entry) *Frontier {
	f := &Frontier{m: make(map[string]string, len(entries))}
	for _, e := range entries {
		f.Add(e.ID, e.Name)
	}
	return f
}

// Add inserts id unless it is already present. It reports whether id was added.
func (f *Frontier) Add(id, name string) bool {
	if id == "" {
		return false
	}
	if _, ok := f.m[id]; ok {
		return false
	}
	f.m[id] = name
	return true
}

func (f *Frontier) Remove(id string) { delete(f.m, id) }

func (f *Frontier) Has(id string) bool {
	_, ok := f.m[id]
	return ok
}

func (f *Frontier) Len() int { return len(f.m) }

// IDs returns the member ids in sorted order.
func (f *Frontier) IDs() []string {
	return slices.Sorted(maps.Keys(f.m))
}

// Snapshot returns a copy of the members ordered by id.
func (f *Frontier) Snapshot() []Entry {
	out := make([]Entry, 0, len(f.m))
	for _, id := range f.IDs() {
		out = append(out, Entry{ID: id, Name: f.m[id]})
	}
	return out
}

func (f *Frontier) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range f.Snapshot() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.ID)
		if e.Name != "" {
			b.WriteString("=" + e.Name)
		}
	}
	b.WriteByte('}')
	return b.String()
}
