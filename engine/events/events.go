// Package events publishes crawl progress to NATS as JSON, carrying the
// OpenTelemetry trace context in message headers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Subjects.
const (
	SubjectArtistExpanded = "collabgraph.artist.expanded"
	SubjectRoundCompleted = "collabgraph.round.completed"
)

// ArtistExpanded is published after an artist's discography has been applied.
type ArtistExpanded struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Round      int           `json:"round"`
	Albums     int           `json:"albums"`
	Ops        int           `json:"ops"`
	OpFailures int           `json:"op_failures"`
	Malformed  int           `json:"malformed"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Publisher sends an event. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// NATSPublisher publishes events on a NATS connection.
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher wraps an open connection. The caller owns nc.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// Publish serializes v as JSON and publishes it to subject.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, v any) error {
	return Publish(ctx, p.nc, subject, v)
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that decodes JSON messages of type T.
// Trace context is extracted from the headers and passed to the handler.
// Malformed messages are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, v)
	})
}

// headerCarrier adapts nats.Msg headers for propagation.TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
