package graph

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/WessleyAI/collabgraph/engine/upsert"
)

// ScriptStore writes every applied op as a standalone Cypher statement to w
// instead of executing it. Ops are mirrored into an in-memory graph so reads
// see what the script would have produced.
type ScriptStore struct {
	*MemoryStore

	mu sync.Mutex
	w  *bufio.Writer
}

// NewScriptStore returns a ScriptStore writing to w. Call Flush before
// closing w.
func NewScriptStore(w io.Writer) *ScriptStore {
	return &ScriptStore{MemoryStore: NewMemoryStore(), w: bufio.NewWriter(w)}
}

// Apply writes ops, wrapped in :begin and :commit when there is more than one.
func (s *ScriptStore) Apply(ctx context.Context, ops ...upsert.Op) error {
	if len(ops) == 0 {
		return nil
	}
	if err := s.MemoryStore.Apply(ctx, ops...); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ops) > 1 {
		s.w.WriteString(":begin\n")
	}
	for _, op := range ops {
		s.w.WriteString(op.Render())
		s.w.WriteString(";\n")
	}
	if len(ops) > 1 {
		s.w.WriteString(":commit\n")
	}
	if err := s.w.Flush(); err != nil {
		return &TransactionError{Err: err}
	}
	return nil
}

// EnsureSchema writes the constraint statements.
func (s *ScriptStore) EnsureSchema(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cypher := range schema {
		s.w.WriteString(cypher)
		s.w.WriteString(";\n")
	}
	return s.w.Flush()
}

// Flush flushes buffered statements.
func (s *ScriptStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}
