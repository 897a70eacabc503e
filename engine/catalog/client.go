package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/WessleyAI/collabgraph/pkg/fn"
	"github.com/WessleyAI/collabgraph/pkg/resilience"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://api.spotify.com/v1"
	DefaultTokenURL = "https://accounts.spotify.com/api/token"

	// pageLimit is the largest page the Web API serves for album and track listings.
	pageLimit = 50
)

// Options configures a Client.
type Options struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string

	// RPS and Burst pace every outgoing request.
	RPS   float64
	Burst int

	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration
	// MaxRetries is how many times a 429 or 5xx is retried before the error
	// is returned to the caller.
	MaxRetries int

	// HTTPClient replaces the OAuth2 client-credentials client. Tests use it
	// to talk to a fake server without a token endpoint.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the catalog Web API.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	retry   fn.RetryOpts
	log     *slog.Logger
}

// New creates a Client. Unless opts.HTTPClient is set, requests are
// authenticated with the OAuth2 client-credentials flow and the token is
// refreshed transparently.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.TokenURL == "" {
		opts.TokenURL = DefaultTokenURL
	}
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	hc := opts.HTTPClient
	if hc == nil {
		base := &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   opts.Timeout,
		}
		cc := clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
		}
		hc = cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, base))
		hc.Timeout = opts.Timeout
	}

	retry := fn.DefaultRetry
	retry.MaxAttempts = opts.MaxRetries + 1
	retry.Retryable = retryable
	retry.Delay = retryAfter

	return &Client{
		baseURL: opts.BaseURL,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		breaker: resilience.NewBreaker(resilience.BreakerOpts{
			FailThreshold: 5,
			Timeout:       30 * time.Second,
			IsFailure:     countsAgainstBreaker,
		}),
		retry: retry,
		log:   log,
	}
}

// Artist fetches one artist by URI or bare id.
func (c *Client) Artist(ctx context.Context, id string) (Artist, error) {
	var w wireArtist
	if err := c.get(ctx, "artist", "/artists/"+url.PathEscape(BareID(id)), nil, &w); err != nil {
		return Artist{}, fmt.Errorf("artist %s: %w", id, err)
	}
	return w.toArtist(), nil
}

// ArtistAlbums fetches one page of the artist's albums. Only full albums are
// listed; singles, compilations and appearances are excluded.
func (c *Client) ArtistAlbums(ctx context.Context, artistID string, offset, limit int) (Page[AlbumRef], error) {
	if limit <= 0 || limit > pageLimit {
		limit = pageLimit
	}
	q := url.Values{
		"include_groups": {"album"},
		"offset":         {strconv.Itoa(offset)},
		"limit":          {strconv.Itoa(limit)},
	}
	var w wirePaging[wireAlbumRef]
	path := "/artists/" + url.PathEscape(BareID(artistID)) + "/albums"
	if err := c.get(ctx, "artist_albums", path, q, &w); err != nil {
		return Page[AlbumRef]{}, fmt.Errorf("albums of %s at %d: %w", artistID, offset, err)
	}
	p := Page[AlbumRef]{
		Items:  make([]AlbumRef, len(w.Items)),
		Total:  w.Total,
		Offset: w.Offset,
		Limit:  w.Limit,
		Next:   w.Next != nil && *w.Next != "",
	}
	for i, a := range w.Items {
		p.Items[i] = a.toAlbumRef()
	}
	return p, nil
}

// Album fetches a full album. Track listings longer than one page are
// followed until every track is loaded.
func (c *Client) Album(ctx context.Context, id string) (Album, error) {
	bare := url.PathEscape(BareID(id))
	var w wireAlbum
	if err := c.get(ctx, "album", "/albums/"+bare, nil, &w); err != nil {
		return Album{}, fmt.Errorf("album %s: %w", id, err)
	}
	album := w.toAlbum()

	next := w.Tracks.Next != nil && *w.Tracks.Next != ""
	offset := len(w.Tracks.Items)
	for next {
		q := url.Values{
			"offset": {strconv.Itoa(offset)},
			"limit":  {strconv.Itoa(pageLimit)},
		}
		var page wirePaging[wireTrack]
		if err := c.get(ctx, "album_tracks", "/albums/"+bare+"/tracks", q, &page); err != nil {
			return Album{}, fmt.Errorf("tracks of album %s at %d: %w", id, offset, err)
		}
		for _, t := range page.Items {
			album.Tracks = append(album.Tracks, t.toTrack())
		}
		offset += len(page.Items)
		next = page.Next != nil && *page.Next != "" && len(page.Items) > 0
	}
	return album, nil
}

// get performs a paced, retried, breaker-guarded GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values, out any) error {
	_, err := fn.Retry(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.breaker.Call(ctx, func(ctx context.Context) error {
			return c.do(ctx, endpoint, path, q, out)
		})
	})
	return err
}

func (c *Client) do(ctx context.Context, endpoint, path string, q url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		mRequests.WithLabelValues(endpoint, "error").Inc()
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return fmt.Errorf("%w: token: %v", ErrAuth, re)
		}
		return err
	}
	defer resp.Body.Close()
	mRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	mRequestDur.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", endpoint, err)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Wrapped: ErrNotFound}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Wrapped: ErrAuth}
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.log.Warn("catalog rate limited", "endpoint", endpoint, "retry_after", wait)
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, RetryAfter: wait, Wrapped: ErrRateLimited}
	default:
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode}
	}
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
