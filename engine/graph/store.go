// Package graph persists the collaboration graph in Neo4j.
package graph

import (
	"context"
	"errors"
	"time"

	"github.com/WessleyAI/collabgraph/engine/upsert"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// DefaultTimeout bounds every store call when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Counts holds node counts by label and relationship counts by type.
type Counts struct {
	Nodes         map[string]int64 `json:"nodes"`
	Relationships map[string]int64 `json:"relationships"`
}

// Store is the Neo4j-backed graph store.
type Store struct {
	opener  SessionOpener
	timeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout bounds each call and transaction.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a Store on top of a driver. database may be empty for the
// server default.
func New(driver neo4j.DriverWithContext, database string, opts ...Option) *Store {
	return NewWithOpener(&driverOpener{driver: driver, database: database}, opts...)
}

// NewWithOpener creates a Store with a custom session opener.
func NewWithOpener(opener SessionOpener, opts ...Option) *Store {
	s := &Store{opener: opener, timeout: DefaultTimeout}
	for _, o := range opts {
		o(s)
	}
	return s
}

var schema = []string{
	`CREATE CONSTRAINT artist_uri IF NOT EXISTS FOR (n:Artist) REQUIRE n.uri IS UNIQUE`,
	`CREATE CONSTRAINT album_uri IF NOT EXISTS FOR (n:Album) REQUIRE n.uri IS UNIQUE`,
	`CREATE CONSTRAINT track_uri IF NOT EXISTS FOR (n:Track) REQUIRE n.uri IS UNIQUE`,
	`CREATE CONSTRAINT genre_name IF NOT EXISTS FOR (n:Genre) REQUIRE n.name IS UNIQUE`,
	`CREATE CONSTRAINT image_url IF NOT EXISTS FOR (n:Image) REQUIRE n.url IS UNIQUE`,
}

// EnsureSchema creates the uniqueness constraints backing every MERGE key.
// It is safe to call on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess := s.opener.OpenSession(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)

	for _, cypher := range schema {
		res, err := sess.Run(ctx, cypher, nil)
		if err == nil {
			err = drain(ctx, res)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Apply runs ops in one write transaction. A statement failure rolls the
// transaction back and is reported as *PartialFailure; failures outside any
// statement are reported as *TransactionError.
func (s *Store) Apply(ctx context.Context, ops ...upsert.Op) error {
	if len(ops) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess := s.opener.OpenSession(ctx, neo4j.AccessModeWrite)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx CypherRunner) (any, error) {
		// A statement error poisons the transaction, so stop at the first one.
		for i, op := range ops {
			res, err := tx.Run(ctx, op.Cypher, op.Params)
			if err == nil {
				err = drain(ctx, res)
			}
			if err != nil {
				return nil, &PartialFailure{
					Failed: []OpError{{Index: i, Kind: op.Kind, Err: err}},
					Total:  len(ops),
				}
			}
		}
		return nil, nil
	}, neo4j.WithTxTimeout(s.timeout))
	if err == nil {
		return nil
	}
	var pf *PartialFailure
	if errors.As(err, &pf) {
		return pf
	}
	return &TransactionError{Err: err}
}

// ArtistsExcluding streams the uri and name of every Artist node whose uri
// is not in exclude. Streaming stops early when yield returns false.
func (s *Store) ArtistsExcluding(ctx context.Context, exclude []string, yield func(id, name string) bool) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess := s.opener.OpenSession(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	if exclude == nil {
		exclude = []string{}
	}
	cypher := `MATCH (a:Artist) WHERE NOT a.uri IN $exclude RETURN a.uri AS uri, a.name AS name`
	res, err := sess.Run(ctx, cypher, map[string]any{"exclude": exclude})
	if err != nil {
		return err
	}
	for res.Next(ctx) {
		rec := res.Record()
		uri, _ := rec.Get("uri")
		name, _ := rec.Get("name")
		id, ok := uri.(string)
		if !ok || id == "" {
			continue
		}
		n, _ := name.(string)
		if !yield(id, n) {
			return nil
		}
	}
	return res.Err()
}

// Counts returns node counts by label and relationship counts by type.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess := s.opener.OpenSession(ctx, neo4j.AccessModeRead)
	defer sess.Close(ctx)

	nodes, err := countBy(ctx, sess, `MATCH (n) RETURN labels(n)[0] AS type, count(*) AS count`)
	if err != nil {
		return Counts{}, err
	}
	rels, err := countBy(ctx, sess, `MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count`)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Nodes: nodes, Relationships: rels}, nil
}

func countBy(ctx context.Context, sess CypherRunner, cypher string) (map[string]int64, error) {
	res, err := sess.Run(ctx, cypher, nil)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for res.Next(ctx) {
		rec := res.Record()
		typ, _ := rec.Get("type")
		cnt, _ := rec.Get("count")
		if t, ok := typ.(string); ok {
			if c, ok := cnt.(int64); ok {
				counts[t] = c
			}
		}
	}
	return counts, res.Err()
}

// drain consumes a result so statement errors surface before commit.
func drain(ctx context.Context, res CypherResult) error {
	for res.Next(ctx) {
	}
	return res.Err()
}
