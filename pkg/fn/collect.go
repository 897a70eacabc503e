package fn

import "context"

// Collector gathers values produced by many goroutines into a slice owned by
// a single goroutine. Producers never touch the slice; they send batches over
// a channel and the owner appends them in arrival order.
type Collector[T any] struct {
	in    chan []T
	done  chan struct{}
	items []T
}

// NewCollector starts a collector whose input channel holds up to buf batches.
func NewCollector[T any](buf int) *Collector[T] {
	if buf < 0 {
		buf = 0
	}
	c := &Collector[T]{
		in:   make(chan []T, buf),
		done: make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *Collector[T]) loop() {
	defer close(c.done)
	for batch := range c.in {
		c.items = append(c.items, batch...)
	}
}

// Add hands vs to the owner goroutine. It blocks while the buffer is full and
// gives up when ctx is done. Add must not be called after Close.
func (c *Collector[T]) Add(ctx context.Context, vs ...T) error {
	if len(vs) == 0 {
		return nil
	}
	select {
	case c.in <- vs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the collector and returns everything received. It waits for
// batches already sent to be appended.
func (c *Collector[T]) Close() []T {
	close(c.in)
	<-c.done
	return c.items
}
