package expand

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/WessleyAI/collabgraph/engine/catalog"
	"github.com/WessleyAI/collabgraph/engine/events"
	"github.com/WessleyAI/collabgraph/engine/graph"
	"github.com/WessleyAI/collabgraph/engine/upsert"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeCatalog serves artists and albums from maps.
type fakeCatalog struct {
	artists map[string]catalog.Artist
	refs    map[string][]catalog.AlbumRef // by artist id
	albums  map[string]catalog.Album
	errs    map[string]error // by artist or album id
	delay   time.Duration

	mu          sync.Mutex
	artistCalls []string
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		artists: map[string]catalog.Artist{},
		refs:    map[string][]catalog.AlbumRef{},
		albums:  map[string]catalog.Album{},
		errs:    map[string]error{},
	}
}

// addArtist registers an artist with one album per entry in albums.
func (c *fakeCatalog) addArtist(a catalog.Artist, albums ...catalog.Album) {
	c.artists[a.ID] = a
	for _, al := range albums {
		c.refs[a.ID] = append(c.refs[a.ID], catalog.AlbumRef{ID: al.ID, Name: al.Name})
		c.albums[al.ID] = al
	}
}

func (c *fakeCatalog) Artist(ctx context.Context, id string) (catalog.Artist, error) {
	c.mu.Lock()
	c.artistCalls = append(c.artistCalls, id)
	c.mu.Unlock()
	if err := c.errs[id]; err != nil {
		return catalog.Artist{}, err
	}
	a, ok := c.artists[id]
	if !ok {
		return catalog.Artist{}, catalog.ErrNotFound
	}
	return a, ctx.Err()
}

func (c *fakeCatalog) ArtistAlbums(ctx context.Context, artistID string, offset, limit int) (catalog.Page[catalog.AlbumRef], error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		m := c.maxInFlight.Load()
		if n <= m || c.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return catalog.Page[catalog.AlbumRef]{}, ctx.Err()
		}
	}
	if err := c.errs[fmt.Sprintf("%s@%d", artistID, offset)]; err != nil {
		return catalog.Page[catalog.AlbumRef]{}, err
	}
	all := c.refs[artistID]
	end := min(offset+limit, len(all))
	var items []catalog.AlbumRef
	if offset < len(all) {
		items = all[offset:end]
	}
	return catalog.Page[catalog.AlbumRef]{
		Items:  items,
		Total:  len(all),
		Offset: offset,
		Limit:  limit,
		Next:   end < len(all),
	}, nil
}

func (c *fakeCatalog) Album(_ context.Context, id string) (catalog.Album, error) {
	if err := c.errs[id]; err != nil {
		return catalog.Album{}, err
	}
	al, ok := c.albums[id]
	if !ok {
		return catalog.Album{}, catalog.ErrNotFound
	}
	return al, nil
}

func tracks(album string, contributors ...string) []catalog.Track {
	out := make([]catalog.Track, len(contributors))
	for i, c := range contributors {
		out[i] = catalog.Track{
			ID:      fmt.Sprintf("%s:t%d", album, i),
			Name:    fmt.Sprintf("track %d", i),
			Artists: []catalog.SimpleArtist{{ID: c, Name: "name of " + c}},
		}
	}
	return out
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func TestRoundScenario(t *testing.T) {
	cat := newFakeCatalog()
	cat.addArtist(
		catalog.Artist{ID: "uri:A", Name: "ArtistA", Genres: []string{"rock"}},
		catalog.Album{ID: "uri:album", Name: "Album", Tracks: tracks("uri:album", "uri:A", "uri:A")},
	)
	store := graph.NewMemoryStore()
	// An artist already in the graph from an earlier crawl.
	require.NoError(t, store.Apply(context.Background(), upsert.Compile(catalog.Artist{ID: "uri:B", Name: "ArtistB"}, nil).Ops...))

	pub := &recordingPublisher{}
	e := New(cat, store, Options{Publisher: pub}, quiet)
	f := NewFrontier(Entry{ID: "uri:A", Name: "ArtistA"})

	rep, err := e.Round(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, 5, rep.Ops)
	assert.Equal(t, 0, rep.OpFailures)
	assert.Equal(t, 1, rep.Visited)
	assert.Equal(t, 1, rep.Added)
	assert.False(t, f.Has("uri:A"))
	assert.Equal(t, []string{"uri:B"}, f.IDs())
	assert.Equal(t, 1, rep.FrontierSize)
	assert.Equal(t, []string{events.SubjectArtistExpanded, events.SubjectRoundCompleted}, pub.subjects)
}

func TestRoundDiscoversCollaborators(t *testing.T) {
	cat := newFakeCatalog()
	cat.addArtist(
		catalog.Artist{ID: "a", Name: "A"},
		catalog.Album{ID: "al", Tracks: tracks("al", "a", "b", "c")},
	)
	e := New(cat, graph.NewMemoryStore(), Options{}, quiet)
	f := NewFrontier(Entry{ID: "a"})

	rep, err := e.Round(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, f.IDs())
	assert.Equal(t, 2, rep.Added)
}

func TestFrontierShrinksAcrossRounds(t *testing.T) {
	// a -> b, c; b -> a, d; c -> d; d -> a
	cat := newFakeCatalog()
	cat.addArtist(catalog.Artist{ID: "a", Name: "A"}, catalog.Album{ID: "al-a", Tracks: tracks("al-a", "b", "c")})
	cat.addArtist(catalog.Artist{ID: "b", Name: "B"}, catalog.Album{ID: "al-b", Tracks: tracks("al-b", "a", "d")})
	cat.addArtist(catalog.Artist{ID: "c", Name: "C"}, catalog.Album{ID: "al-c", Tracks: tracks("al-c", "d")})
	cat.addArtist(catalog.Artist{ID: "d", Name: "D"}, catalog.Album{ID: "al-d", Tracks: tracks("al-d", "a")})

	e := New(cat, graph.NewMemoryStore(), Options{ArtistWorkers: 2}, quiet)
	f := NewFrontier(Entry{ID: "a", Name: "A"})

	visited := map[string]bool{}
	for round := 1; round <= 4; round++ {
		before := f.IDs()
		_, err := e.Round(context.Background(), f)
		require.NoError(t, err)
		for _, id := range before {
			assert.False(t, f.Has(id), "round %d: visited %s requeued", round, id)
			assert.False(t, visited[id], "round %d: %s visited twice", round, id)
			visited[id] = true
		}
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true, "d": true}, visited)
	assert.Zero(t, f.Len())

	counts := map[string]int{}
	for _, id := range cat.artistCalls {
		counts[id]++
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, counts)
}

func TestPartialFailureIsolation(t *testing.T) {
	contributors := make([]string, 9)
	for i := range contributors {
		contributors[i] = "a"
	}
	cat := newFakeCatalog()
	cat.addArtist(
		catalog.Artist{ID: "a", Name: "A", Genres: []string{"g"}},
		catalog.Album{ID: "al", Tracks: tracks("al", contributors...)},
	)

	store := graph.NewMemoryStore()
	var calls int
	var attempted []upsert.Kind
	store.FailOn = func(op upsert.Op) error {
		calls++
		attempted = append(attempted, op.Kind)
		if calls == 5 {
			return errors.New("lock timeout")
		}
		return nil
	}

	e := New(cat, store, Options{}, quiet)
	rep, err := e.Round(context.Background(), NewFrontier(Entry{ID: "a"}))
	require.NoError(t, err)

	assert.Equal(t, 12, calls, "ops after the failure are still attempted")
	assert.Equal(t, 12, rep.Ops)
	assert.Equal(t, 1, rep.OpFailures)
	assert.Equal(t, 1, rep.Visited)
	assert.Len(t, store.Dump().Nodes["Track"], 8)
	assert.Equal(t, upsert.KindTrack, attempted[4])
}

func TestRoundSkipsFailedArtist(t *testing.T) {
	cat := newFakeCatalog()
	cat.addArtist(catalog.Artist{ID: "a", Name: "A"}, catalog.Album{ID: "al", Tracks: tracks("al", "a")})
	cat.errs["b"] = catalog.ErrRateLimited

	e := New(cat, graph.NewMemoryStore(), Options{}, quiet)
	f := NewFrontier(Entry{ID: "a"}, Entry{ID: "b", Name: "B"})

	rep, err := e.Round(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Visited)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, []string{"b"}, f.IDs(), "failed artist stays queued")
}

func TestRoundAbortOnError(t *testing.T) {
	cat := newFakeCatalog()
	cat.addArtist(catalog.Artist{ID: "a", Name: "A"}, catalog.Album{ID: "al", Tracks: tracks("al", "x")})
	cat.errs["b"] = catalog.ErrNotFound

	store := graph.NewMemoryStore()
	e := New(cat, store, Options{AbortOnError: true, ArtistWorkers: 1}, quiet)
	f := NewFrontier(Entry{ID: "a"}, Entry{ID: "b"})

	_, err := e.Round(context.Background(), f)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	assert.Equal(t, []string{"a", "b"}, f.IDs(), "frontier untouched on abort")
}

func TestRoundAuthErrorIsFatal(t *testing.T) {
	cat := newFakeCatalog()
	cat.errs["a"] = fmt.Errorf("token: %w", catalog.ErrAuth)
	e := New(cat, graph.NewMemoryStore(), Options{}, quiet)

	_, err := e.Round(context.Background(), NewFrontier(Entry{ID: "a"}))
	require.ErrorIs(t, err, catalog.ErrAuth)
}

func TestRoundAlbumFailureSkipsArtist(t *testing.T) {
	cat := newFakeCatalog()
	cat.addArtist(catalog.Artist{ID: "a"}, catalog.Album{ID: "al1", Tracks: tracks("al1", "a")}, catalog.Album{ID: "al2"})
	cat.errs["al2"] = &catalog.StatusError{Endpoint: "album", Code: 502}

	store := graph.NewMemoryStore()
	e := New(cat, store, Options{}, quiet)
	rep, err := e.Round(context.Background(), NewFrontier(Entry{ID: "a"}))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Zero(t, rep.Ops, "nothing is written for an artist whose retrieval failed")
	assert.Empty(t, store.Dump().Nodes)
}

func TestRoundCountsMalformed(t *testing.T) {
	cat := newFakeCatalog()
	al := catalog.Album{ID: "al", Tracks: append(tracks("al", "a"), catalog.Track{Name: "local"})}
	cat.addArtist(catalog.Artist{ID: "a"}, al)

	e := New(cat, graph.NewMemoryStore(), Options{}, quiet)
	rep, err := e.Round(context.Background(), NewFrontier(Entry{ID: "a"}))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Malformed)
	assert.Equal(t, 3, rep.Ops)
}

func TestAlbumRefsPagedInOrder(t *testing.T) {
	cat := newFakeCatalog()
	var refs []catalog.AlbumRef
	for i := range 230 {
		refs = append(refs, catalog.AlbumRef{ID: fmt.Sprintf("al%03d", i%200)})
	}
	cat.refs["a"] = refs
	cat.delay = 5 * time.Millisecond

	e := New(cat, graph.NewMemoryStore(), Options{AlbumFanout: 2, PageSize: 20}, quiet)
	got, err := e.albumRefs(context.Background(), "a")
	require.NoError(t, err)

	require.Len(t, got, 200)
	for i, ref := range got {
		assert.Equal(t, fmt.Sprintf("al%03d", i), ref.ID)
	}
	assert.LessOrEqual(t, cat.maxInFlight.Load(), int32(2))
}

func TestAlbumRefsPageError(t *testing.T) {
	cat := newFakeCatalog()
	for i := range 120 {
		cat.refs["a"] = append(cat.refs["a"], catalog.AlbumRef{ID: fmt.Sprint(i)})
	}
	cat.errs["a@50"] = catalog.ErrRateLimited

	e := New(cat, graph.NewMemoryStore(), Options{}, quiet)
	_, err := e.albumRefs(context.Background(), "a")
	assert.ErrorIs(t, err, catalog.ErrRateLimited)
}

func TestRunStopsWhenFrontierEmpty(t *testing.T) {
	cat := newFakeCatalog()
	cat.addArtist(catalog.Artist{ID: "a"}, catalog.Album{ID: "al", Tracks: tracks("al", "a")})
	e := New(cat, graph.NewMemoryStore(), Options{}, quiet)

	reports, err := e.Run(context.Background(), NewFrontier(Entry{ID: "a"}), 5)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Round)
}

func TestRunStopsOnCancel(t *testing.T) {
	cat := newFakeCatalog()
	cat.addArtist(catalog.Artist{ID: "a"}, catalog.Album{ID: "al", Tracks: tracks("al", "b")})
	e := New(cat, graph.NewMemoryStore(), Options{}, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reports, err := e.Run(ctx, NewFrontier(Entry{ID: "a"}), 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, reports)
}

func TestRoundPropagatesRefreshError(t *testing.T) {
	cat := newFakeCatalog()
	cat.addArtist(catalog.Artist{ID: "a"})
	boom := errors.New("unavailable")
	store := &failingReadStore{MemoryStore: graph.NewMemoryStore(), err: boom}

	f := NewFrontier(Entry{ID: "a"})
	_, err := New(cat, store, Options{}, quiet).Round(context.Background(), f)
	assert.ErrorIs(t, err, boom)
	assert.True(t, f.Has("a"))
}

type failingReadStore struct {
	*graph.MemoryStore
	err error
}

func (s *failingReadStore) ArtistsExcluding(context.Context, []string, func(string, string) bool) error {
	return s.err
}
