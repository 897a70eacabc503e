// Package config loads crawler settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrMissing is wrapped by Validate when required settings are absent.
var ErrMissing = errors.New("config: missing required setting")

// Config holds all crawler configuration.
type Config struct {
	Catalog CatalogConfig
	Neo4j   Neo4jConfig
	Crawl   CrawlConfig

	DryRunPath  string `env:"DRY_RUN_PATH"` // write Cypher here instead of to Neo4j
	MetricsAddr string `env:"METRICS_ADDR"`
	NATSURL     string `env:"NATS_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`
}

// CatalogConfig holds catalog API credentials and pacing.
type CatalogConfig struct {
	ClientID     string  `env:"CLIENT_ID"`
	ClientSecret string  `env:"CLIENT_SECRET"`
	BaseURL      string  `env:"CATALOG_BASE_URL" envDefault:"https://api.spotify.com/v1"`
	TokenURL     string  `env:"CATALOG_TOKEN_URL" envDefault:"https://accounts.spotify.com/api/token"`
	RPS          float64 `env:"CATALOG_RPS" envDefault:"5"`
	Burst        int     `env:"CATALOG_BURST" envDefault:"5"`
}

// Neo4jConfig holds graph database connection settings.
type Neo4jConfig struct {
	URI          string        `env:"NEO4J_URI"`
	Username     string        `env:"NEO4J_USERNAME"`
	Password     string        `env:"NEO4J_PASSWORD"`
	Database     string        `env:"NEO4J_DATABASE"`
	QueryTimeout time.Duration `env:"NEO4J_QUERY_TIMEOUT" envDefault:"30s"`
}

// CrawlConfig controls expansion.
type CrawlConfig struct {
	Rounds        int           `env:"CRAWL_ROUNDS" envDefault:"2"`
	SeedSpec      string        `env:"CRAWL_SEEDS" envDefault:"spotify:artist:4Z8W4fKeB5YxbusRsdQVPb=Radiohead,spotify:artist:6styCzc1Ej4NxISL0LiigM=The Smile,spotify:artist:7tA9Eeeb68kkiG9Nrvuzmi=Atoms For Peace"`
	ArtistWorkers int           `env:"CRAWL_ARTIST_WORKERS" envDefault:"4"`
	AlbumFanout   int           `env:"CRAWL_ALBUM_FANOUT" envDefault:"10"`
	AbortOnError  bool          `env:"CRAWL_ABORT_ON_ERROR" envDefault:"false"`
	CallTimeout   time.Duration `env:"CRAWL_CALL_TIMEOUT" envDefault:"30s"`
}

// Seed is one starting artist.
type Seed struct {
	ID   string
	Name string
}

// Seeds parses CRAWL_SEEDS.
func (c CrawlConfig) Seeds() ([]Seed, error) { return ParseSeeds(c.SeedSpec) }

// ParseSeeds parses a comma-separated list of id=name pairs. The name is
// optional.
func ParseSeeds(s string) ([]Seed, error) {
	var out []Seed
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, _ := strings.Cut(part, "=")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("seed %q has no id", part)
		}
		out = append(out, Seed{ID: id, Name: strings.TrimSpace(name)})
	}
	return out, nil
}

// Load reads the optional dotenv files (default ".env") into the process
// environment without overriding variables already set, then parses Config.
func Load(dotenv ...string) (*Config, error) {
	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, path := range dotenv {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return Parse(env.Options{})
}

// Parse builds a Config from the environment described by opts.
func Parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// DryRun reports whether statements go to a script instead of Neo4j.
func (c *Config) DryRun() bool { return c.DryRunPath != "" }

// Validate checks that every credential the run needs is present and that
// numeric settings are usable.
func (c *Config) Validate() error {
	var missing []string
	need := func(key, v string) {
		if v == "" {
			missing = append(missing, key)
		}
	}
	need("CLIENT_ID", c.Catalog.ClientID)
	need("CLIENT_SECRET", c.Catalog.ClientSecret)
	if !c.DryRun() {
		need("NEO4J_URI", c.Neo4j.URI)
		need("NEO4J_USERNAME", c.Neo4j.Username)
		need("NEO4J_PASSWORD", c.Neo4j.Password)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	switch {
	case c.Crawl.Rounds < 0:
		return fmt.Errorf("config: CRAWL_ROUNDS must not be negative, got %d", c.Crawl.Rounds)
	case c.Crawl.ArtistWorkers < 1:
		return fmt.Errorf("config: CRAWL_ARTIST_WORKERS must be at least 1, got %d", c.Crawl.ArtistWorkers)
	case c.Crawl.AlbumFanout < 1:
		return fmt.Errorf("config: CRAWL_ALBUM_FANOUT must be at least 1, got %d", c.Crawl.AlbumFanout)
	case c.Catalog.RPS <= 0:
		return fmt.Errorf("config: CATALOG_RPS must be positive, got %g", c.Catalog.RPS)
	}
	seeds, err := c.Crawl.Seeds()
	if err != nil {
		return fmt.Errorf("config: CRAWL_SEEDS: %w", err)
	}
	if len(seeds) == 0 {
		return fmt.Errorf("%w: CRAWL_SEEDS", ErrMissing)
	}
	return nil
}

// NewLogger builds the process logger. format is "json" or "text"; an
// unknown level falls back to info.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
