package graph

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/WessleyAI/collabgraph/engine/upsert"
)

// Rel is one relationship in a MemoryStore. From and To are "Label:key".
type Rel struct {
	Type string
	From string
	To   string
}

// Snapshot is a deep copy of a MemoryStore's contents.
type Snapshot struct {
	Nodes map[string]map[string]map[string]any // label -> key -> properties
	Rels  []Rel                                // sorted
}

// MemoryStore applies upsert ops to an in-memory graph with MERGE
// semantics. It backs dry runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	nodes map[string]map[string]map[string]any
	rels  map[Rel]struct{}

	// FailOn, when set, is consulted before each op; a non-nil error fails
	// the Apply call as a statement error would.
	FailOn func(op upsert.Op) error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]map[string]map[string]any),
		rels:  make(map[Rel]struct{}),
	}
}

// Apply merges ops atomically: if any op fails none take effect.
func (m *MemoryStore) Apply(ctx context.Context, ops ...upsert.Op) error {
	if err := ctx.Err(); err != nil {
		return &TransactionError{Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, op := range ops {
		err := checkOp(op)
		if err == nil && m.FailOn != nil {
			err = m.FailOn(op)
		}
		if err != nil {
			return &PartialFailure{Failed: []OpError{{Index: i, Kind: op.Kind, Err: err}}, Total: len(ops)}
		}
	}
	for _, op := range ops {
		m.apply(op)
	}
	return nil
}

var required = map[upsert.Kind][]string{
	upsert.KindArtist:      {"artist_uri"},
	upsert.KindArtistGenre: {"artist_uri", "genre"},
	upsert.KindAlbum:       {"artist_uri", "album_uri"},
	upsert.KindAlbumGenre:  {"album_uri", "genre"},
	upsert.KindAlbumImage:  {"album_uri", "image_url"},
	upsert.KindTrack:       {"artist_uri", "album_uri", "track_uri"},
}

func checkOp(op upsert.Op) error {
	keys, ok := required[op.Kind]
	if !ok {
		return fmt.Errorf("unknown op kind %q", op.Kind)
	}
	for _, k := range keys {
		if s, _ := op.Params[k].(string); s == "" {
			return fmt.Errorf("missing merge key %s", k)
		}
	}
	return nil
}

func (m *MemoryStore) apply(op upsert.Op) {
	p := op.Params
	switch op.Kind {
	case upsert.KindArtist:
		m.merge("Artist", p, "artist_uri", map[string]string{
			"name": "artist_name", "popularity": "artist_popularity", "followers": "artist_followers",
		})
	case upsert.KindArtistGenre:
		a := m.merge("Artist", p, "artist_uri", map[string]string{"name": "artist_name"})
		g := m.merge("Genre", p, "genre", nil)
		m.relate("HAS_GENRE", a, g)
	case upsert.KindAlbum:
		a := m.merge("Artist", p, "artist_uri", map[string]string{"name": "artist_name"})
		al := m.merge("Album", p, "album_uri", map[string]string{
			"name": "album_name", "album_type": "album_type", "release_date": "album_release_date",
		})
		m.relate("RELEASED", a, al)
	case upsert.KindAlbumGenre:
		al := m.merge("Album", p, "album_uri", map[string]string{"name": "album_name"})
		g := m.merge("Genre", p, "genre", nil)
		m.relate("HAS_GENRE", al, g)
	case upsert.KindAlbumImage:
		al := m.merge("Album", p, "album_uri", map[string]string{"name": "album_name"})
		img := m.merge("Image", p, "image_url", map[string]string{"width": "image_width", "height": "image_height"})
		m.relate("HAS_ARTWORK", al, img)
	case upsert.KindTrack:
		a := m.merge("Artist", p, "artist_uri", map[string]string{"name": "artist_name"})
		al := m.merge("Album", p, "album_uri", map[string]string{"name": "album_name"})
		t := m.merge("Track", p, "track_uri", map[string]string{
			"name": "track_name", "track_number": "track_number", "disc_number": "disc_number", "duration_ms": "duration_ms",
		})
		m.relate("WROTE", a, t)
		m.relate("CONTAINS", al, t)
	}
}

// merge finds or creates the node keyed by params[keyParam] and sets the
// given properties (property name -> param name). It returns "Label:key".
func (m *MemoryStore) merge(label string, params map[string]any, keyParam string, set map[string]string) string {
	key := params[keyParam].(string)
	byKey, ok := m.nodes[label]
	if !ok {
		byKey = make(map[string]map[string]any)
		m.nodes[label] = byKey
	}
	props, ok := byKey[key]
	if !ok {
		props = make(map[string]any)
		byKey[key] = props
	}
	for prop, param := range set {
		props[prop] = params[param]
	}
	return label + ":" + key
}

func (m *MemoryStore) relate(typ, from, to string) {
	m.rels[Rel{Type: typ, From: from, To: to}] = struct{}{}
}

// ArtistsExcluding yields Artist nodes not in exclude, ordered by uri.
func (m *MemoryStore) ArtistsExcluding(ctx context.Context, exclude []string, yield func(id, name string) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	type row struct{ id, name string }
	m.mu.Lock()
	var rows []row
	for id, props := range m.nodes["Artist"] {
		if _, ok := skip[id]; ok {
			continue
		}
		name, _ := props["name"].(string)
		rows = append(rows, row{id, name})
	}
	m.mu.Unlock()

	slices.SortFunc(rows, func(a, b row) int { return cmp.Compare(a.id, b.id) })
	for _, r := range rows {
		if !yield(r.id, r.name) {
			return nil
		}
	}
	return nil
}

// EnsureSchema is a no-op; map keys already enforce uniqueness.
func (m *MemoryStore) EnsureSchema(context.Context) error { return nil }

// Counts returns node counts by label and relationship counts by type.
func (m *MemoryStore) Counts(context.Context) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := Counts{Nodes: make(map[string]int64), Relationships: make(map[string]int64)}
	for label, byKey := range m.nodes {
		c.Nodes[label] = int64(len(byKey))
	}
	for r := range m.rels {
		c.Relationships[r.Type]++
	}
	return c, nil
}

// Dump returns a deep copy of the graph.
func (m *MemoryStore) Dump() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{Nodes: make(map[string]map[string]map[string]any, len(m.nodes))}
	for label, byKey := range m.nodes {
		cp := make(map[string]map[string]any, len(byKey))
		for k, props := range byKey {
			cp[k] = maps.Clone(props)
		}
		s.Nodes[label] = cp
	}
	s.Rels = slices.Collect(maps.Keys(m.rels))
	slices.SortFunc(s.Rels, compareRel)
	return s
}

// Has reports whether the relationship exists.
func (s Snapshot) Has(typ, from, to string) bool {
	_, ok := slices.BinarySearchFunc(s.Rels, Rel{typ, from, to}, compareRel)
	return ok
}

func compareRel(a, b Rel) int {
	return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.From, b.From), cmp.Compare(a.To, b.To))
}
