// Package expand grows the collaboration graph one round at a time. A round
// visits every frontier artist, writes its discography to the graph, and then
// re-derives the frontier from the artists the graph now holds.
package expand

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/collabgraph/engine/catalog"
	"github.com/WessleyAI/collabgraph/engine/events"
	"github.com/WessleyAI/collabgraph/engine/upsert"
	"github.com/WessleyAI/collabgraph/pkg/fn"
)

// Catalog is the subset of the catalog client the engine reads from.
type Catalog interface {
	Artist(ctx context.Context, id string) (catalog.Artist, error)
	ArtistAlbums(ctx context.Context, artistID string, offset, limit int) (catalog.Page[catalog.AlbumRef], error)
	Album(ctx context.Context, id string) (catalog.Album, error)
}

// Store is the subset of the graph store the engine writes to and reads from.
type Store interface {
	Apply(ctx context.Context, ops ...upsert.Op) error
	ArtistsExcluding(ctx context.Context, exclude []string, yield func(id, name string) bool) error
}

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	ArtistWorkers int           // artists visited at once (default 4)
	AlbumFanout   int           // album listing pages fetched at once (default 10)
	PageSize      int           // album listing page size (default 50)
	CallTimeout   time.Duration // per catalog call; 0 disables
	// AbortOnError fails the round on the first retrieval error instead of
	// skipping the artist. Authentication failures always fail the round.
	AbortOnError bool
	Publisher    events.Publisher
}

func (o *Options) defaults() {
	if o.ArtistWorkers <= 0 {
		o.ArtistWorkers = 4
	}
	if o.AlbumFanout <= 0 {
		o.AlbumFanout = 10
	}
	if o.PageSize <= 0 {
		o.PageSize = 50
	}
	if o.Publisher == nil {
		o.Publisher = events.Nop{}
	}
}

// RoundReport summarizes one round.
type RoundReport struct {
	Round        int           `json:"round"`
	Visited      int           `json:"visited"`
	Failed       int           `json:"failed"`
	Ops          int           `json:"ops"`
	OpFailures   int           `json:"op_failures"`
	Malformed    int           `json:"malformed"`
	Added        int           `json:"added"`
	FrontierSize int           `json:"frontier_size"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// Engine runs expansion rounds. Rounds must not overlap.
type Engine struct {
	cat   Catalog
	store Store
	opts  Options
	log   *slog.Logger

	round    int
	expanded map[string]struct{} // every artist id visited so far
	seq      atomic.Int64        // global op sequence number
}

var tracer = otel.Tracer("engine/expand")

// New creates an Engine. A nil logger uses slog.Default().
func New(cat Catalog, store Store, opts Options, log *slog.Logger) *Engine {
	opts.defaults()
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cat:      cat,
		store:    store,
		opts:     opts,
		log:      log,
		expanded: make(map[string]struct{}),
	}
}

// Run executes up to rounds rounds against f. It stops early when the
// frontier empties, a round fails, or ctx is done. Reports of completed
// rounds are returned in every case.
func (e *Engine) Run(ctx context.Context, f *Frontier, rounds int) ([]RoundReport, error) {
	var reports []RoundReport
	for i := 0; i < rounds; i++ {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		if f.Len() == 0 {
			e.log.Info("frontier empty, stopping", "rounds_run", i)
			break
		}
		rep, err := e.Round(ctx, f)
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

type visitResult struct {
	entry    Entry
	resolved string // id the catalog returned, when it differs from entry.ID
	albums   int
	ops      int
	failures int
	bad      int
	err      error
}

// Round visits every artist in f, then refreshes f from the graph. On error
// f is left untouched.
func (e *Engine) Round(ctx context.Context, f *Frontier) (RoundReport, error) {
	e.round++
	start := time.Now()
	rep := RoundReport{Round: e.round}
	snapshot := f.Snapshot()

	ctx, span := tracer.Start(ctx, "expand.round", trace.WithAttributes(
		attribute.Int("round", e.round),
		attribute.Int("frontier", len(snapshot)),
	))
	defer span.End()

	e.log.Info("round started", "round", e.round, "frontier", len(snapshot))

	// Each worker writes only its own slot.
	visits := make([]visitResult, len(snapshot))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.ArtistWorkers)
	for i, entry := range snapshot {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			visits[i] = e.visit(gctx, entry)
			err := visits[i].err
			if err == nil {
				return nil
			}
			if e.opts.AbortOnError || errors.Is(err, catalog.ErrAuth) {
				return err
			}
			if gctx.Err() == nil {
				e.log.Warn("artist skipped", "round", e.round, "id", entry.ID, "name", entry.Name, "err", err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rep, fmt.Errorf("round %d: %w", e.round, err)
	}

	var done []string
	for _, v := range visits {
		rep.Ops += v.ops
		rep.OpFailures += v.failures
		rep.Malformed += v.bad
		if v.err != nil {
			rep.Failed++
			continue
		}
		rep.Visited++
		done = append(done, v.entry.ID)
		if v.resolved != "" {
			done = append(done, v.resolved)
		}
	}
	for _, id := range done {
		e.expanded[id] = struct{}{}
	}

	// Artists already expanded are never requeued; everything else the graph
	// knows about joins the frontier.
	exclude := make([]string, 0, len(e.expanded))
	for id := range e.expanded {
		exclude = append(exclude, id)
	}
	slices.Sort(exclude)
	err = e.store.ArtistsExcluding(ctx, exclude, func(id, name string) bool {
		if f.Add(id, name) {
			rep.Added++
		}
		return true
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rep, fmt.Errorf("round %d: frontier refresh: %w", e.round, err)
	}
	for _, id := range done {
		f.Remove(id)
	}

	rep.FrontierSize = f.Len()
	rep.Elapsed = time.Since(start)
	mFrontier.Set(float64(rep.FrontierSize))
	span.SetAttributes(attribute.Int("visited", rep.Visited), attribute.Int("added", rep.Added))

	e.log.Info("round finished",
		"round", rep.Round,
		"visited", rep.Visited,
		"failed", rep.Failed,
		"ops", rep.Ops,
		"op_failures", rep.OpFailures,
		"malformed", rep.Malformed,
		"added", rep.Added,
		"frontier", rep.FrontierSize,
		"elapsed", rep.Elapsed,
	)
	e.publish(ctx, events.SubjectRoundCompleted, rep)
	return rep, nil
}

// visit retrieves one artist's discography and applies it op by op.
func (e *Engine) visit(ctx context.Context, entry Entry) (v visitResult) {
	start := time.Now()
	v.entry = entry
	ctx, span := tracer.Start(ctx, "expand.artist", trace.WithAttributes(attribute.String("artist.id", entry.ID)))
	defer func() {
		result := "ok"
		if v.err != nil {
			result = "failed"
			span.RecordError(v.err)
			span.SetStatus(codes.Error, v.err.Error())
		}
		mArtists.WithLabelValues(result).Inc()
		mArtistDur.Observe(time.Since(start).Seconds())
		span.End()
	}()

	artist, err := withTimeout(ctx, e.opts.CallTimeout, func(ctx context.Context) (catalog.Artist, error) {
		return e.cat.Artist(ctx, entry.ID)
	})
	if err != nil {
		v.err = fmt.Errorf("artist %s: %w", entry.ID, err)
		return v
	}
	if artist.ID != "" && artist.ID != entry.ID {
		v.resolved = artist.ID
	}

	albums, err := e.discography(ctx, cmp.Or(artist.ID, entry.ID))
	if err != nil {
		v.err = fmt.Errorf("discography %s: %w", entry.ID, err)
		return v
	}
	v.albums = len(albums)

	batch := upsert.Compile(artist, albums)
	for _, m := range batch.Malformed {
		v.bad++
		mMalformed.Inc()
		e.log.Warn("malformed entity skipped", "artist", entry.ID, "err", m)
	}

	for _, op := range batch.Ops {
		if err := ctx.Err(); err != nil {
			v.err = err
			return v
		}
		seq := e.seq.Add(1)
		opStart := time.Now()
		err := e.store.Apply(ctx, op)
		elapsed := time.Since(opStart)
		mOpDur.Observe(elapsed.Seconds())
		v.ops++
		if err != nil {
			v.failures++
			mOps.WithLabelValues("failed").Inc()
			e.log.Warn("upsert failed", "seq", seq, "kind", op.Kind, "artist", entry.ID, "elapsed", elapsed, "err", err)
			continue
		}
		mOps.WithLabelValues("ok").Inc()
		e.log.Debug("upsert applied", "seq", seq, "kind", op.Kind, "artist", entry.ID, "elapsed", elapsed)
	}

	elapsed := time.Since(start)
	e.log.Info("artist expanded",
		"id", entry.ID,
		"name", artist.Name,
		"albums", v.albums,
		"ops", v.ops,
		"op_failures", v.failures,
		"malformed", v.bad,
		"elapsed", elapsed,
	)
	e.publish(ctx, events.SubjectArtistExpanded, events.ArtistExpanded{
		ID:         entry.ID,
		Name:       artist.Name,
		Round:      e.round,
		Albums:     v.albums,
		Ops:        v.ops,
		OpFailures: v.failures,
		Malformed:  v.bad,
		Elapsed:    elapsed,
	})
	return v
}

// discography lists the artist's albums and resolves each one in listing
// order. Listing pages are fetched concurrently; albums one at a time.
func (e *Engine) discography(ctx context.Context, artistID string) ([]catalog.Album, error) {
	refs, err := e.albumRefs(ctx, artistID)
	if err != nil {
		return nil, err
	}
	albums := make([]catalog.Album, 0, len(refs))
	for _, ref := range refs {
		if ref.ID == "" {
			// Passed through so the compiler reports it.
			albums = append(albums, catalog.Album{Name: ref.Name, AlbumType: ref.AlbumType, ReleaseDate: ref.ReleaseDate})
			continue
		}
		album, err := withTimeout(ctx, e.opts.CallTimeout, func(ctx context.Context) (catalog.Album, error) {
			return e.cat.Album(ctx, ref.ID)
		})
		if err != nil {
			return nil, fmt.Errorf("album %s: %w", ref.ID, err)
		}
		albums = append(albums, album)
	}
	return albums, nil
}

type albumPage struct {
	offset int
	items  []catalog.AlbumRef
}

// albumRefs fetches the first listing page, then the rest with at most
// AlbumFanout requests in flight. Refs come back in listing order with
// duplicates removed.
func (e *Engine) albumRefs(ctx context.Context, artistID string) ([]catalog.AlbumRef, error) {
	first, err := e.albumPage(ctx, artistID, 0, e.opts.PageSize)
	if err != nil {
		return nil, err
	}
	pages := []albumPage{{offset: 0, items: first.Items}}

	limit := cmp.Or(first.Limit, e.opts.PageSize)
	if first.Next && first.Total > limit {
		col := fn.NewCollector[albumPage](e.opts.AlbumFanout)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.AlbumFanout)
		for off := limit; off < first.Total; off += limit {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				p, err := e.albumPage(gctx, artistID, off, limit)
				if err != nil {
					return err
				}
				return col.Add(gctx, albumPage{offset: off, items: p.Items})
			})
		}
		err := g.Wait()
		rest := col.Close()
		if err != nil {
			return nil, err
		}
		pages = append(pages, rest...)
	}

	slices.SortFunc(pages, func(a, b albumPage) int { return cmp.Compare(a.offset, b.offset) })
	seen := make(map[string]struct{})
	var refs []catalog.AlbumRef
	for _, p := range pages {
		for _, ref := range p.items {
			if ref.ID != "" {
				if _, dup := seen[ref.ID]; dup {
					continue
				}
				seen[ref.ID] = struct{}{}
			}
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func (e *Engine) albumPage(ctx context.Context, artistID string, offset, limit int) (catalog.Page[catalog.AlbumRef], error) {
	return withTimeout(ctx, e.opts.CallTimeout, func(ctx context.Context) (catalog.Page[catalog.AlbumRef], error) {
		return e.cat.ArtistAlbums(ctx, artistID, offset, limit)
	})
}

func (e *Engine) publish(ctx context.Context, subject string, v any) {
	if err := e.opts.Publisher.Publish(ctx, subject, v); err != nil {
		e.log.Warn("event publish failed", "subject", subject, "err", err)
	}
}

func withTimeout[T any](ctx context.Context, d time.Duration, f func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return f(ctx)
}
