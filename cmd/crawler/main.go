// Command crawler grows an artist collaboration graph in Neo4j. Starting from
// the configured seed artists it runs a fixed number of expansion rounds
// against the music catalog and exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/WessleyAI/collabgraph/engine/catalog"
	"github.com/WessleyAI/collabgraph/engine/config"
	"github.com/WessleyAI/collabgraph/engine/events"
	"github.com/WessleyAI/collabgraph/engine/expand"
	"github.com/WessleyAI/collabgraph/engine/graph"
	"github.com/WessleyAI/collabgraph/pkg/mid"
)

// graphStore is what the crawler needs from either the Neo4j store or the
// dry-run script store.
type graphStore interface {
	expand.Store
	EnsureSchema(ctx context.Context) error
	Counts(ctx context.Context) (graph.Counts, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("crawl failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	var pub events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("collabgraph-crawler"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		pub = events.NewNATSPublisher(nc)
		log.Info("publishing events", "url", cfg.NATSURL)
	}

	cat := catalog.New(catalog.Options{
		BaseURL:      cfg.Catalog.BaseURL,
		TokenURL:     cfg.Catalog.TokenURL,
		ClientID:     cfg.Catalog.ClientID,
		ClientSecret: cfg.Catalog.ClientSecret,
		RPS:          cfg.Catalog.RPS,
		Burst:        cfg.Catalog.Burst,
		Timeout:      cfg.Crawl.CallTimeout,
		MaxRetries:   3,
		Logger:       log,
	})

	seeds, err := cfg.Crawl.Seeds()
	if err != nil {
		return err
	}
	frontier := expand.NewFrontier()
	for _, s := range seeds {
		frontier.Add(s.ID, s.Name)
	}

	engine := expand.New(cat, store, expand.Options{
		ArtistWorkers: cfg.Crawl.ArtistWorkers,
		AlbumFanout:   cfg.Crawl.AlbumFanout,
		CallTimeout:   cfg.Crawl.CallTimeout,
		AbortOnError:  cfg.Crawl.AbortOnError,
		Publisher:     pub,
	}, log)

	log.Info("crawl starting", "rounds", cfg.Crawl.Rounds, "seeds", frontier.String(), "dry_run", cfg.DryRun())
	start := time.Now()
	reports, runErr := engine.Run(ctx, frontier, cfg.Crawl.Rounds)

	var visited, ops, failures int
	for _, r := range reports {
		visited += r.Visited
		ops += r.Ops
		failures += r.OpFailures
	}
	counts, err := store.Counts(context.WithoutCancel(ctx))
	if err != nil {
		log.Warn("graph counts unavailable", "err", err)
	}
	log.Info("crawl finished",
		"rounds", len(reports),
		"visited", visited,
		"ops", ops,
		"op_failures", failures,
		"frontier", frontier.Len(),
		"nodes", counts.Nodes,
		"relationships", counts.Relationships,
		"elapsed", time.Since(start),
	)
	return runErr
}

// openStore connects to Neo4j, or opens the dry-run script when configured.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (graphStore, func(), error) {
	if cfg.DryRun() {
		f, err := os.Create(cfg.DryRunPath)
		if err != nil {
			return nil, nil, fmt.Errorf("dry run: %w", err)
		}
		s := graph.NewScriptStore(f)
		log.Info("dry run, writing cypher", "path", cfg.DryRunPath)
		return s, func() {
			if err := s.Flush(); err != nil {
				log.Error("flush script", "err", err)
			}
			f.Close()
		}, nil
	}

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URI, neo4j.BasicAuth(cfg.Neo4j.Username, cfg.Neo4j.Password, ""))
	if err != nil {
		return nil, nil, fmt.Errorf("neo4j driver: %w", err)
	}
	vctx, cancel := context.WithTimeout(ctx, cfg.Neo4j.QueryTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		driver.Close(context.Background())
		return nil, nil, fmt.Errorf("neo4j connect %s: %w", cfg.Neo4j.URI, err)
	}
	log.Info("connected to neo4j", "uri", cfg.Neo4j.URI, "database", cfg.Neo4j.Database)
	s := graph.New(driver, cfg.Neo4j.Database, graph.WithTimeout(cfg.Neo4j.QueryTimeout))
	return s, func() { driver.Close(context.Background()) }, nil
}

func serveMetrics(addr string, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mid.Chain(promhttp.Handler(),
		mid.Recover(log),
		mid.AccessLog(log, slog.LevelDebug),
		mid.OTel("metrics"),
	))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "err", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
	return srv
}
