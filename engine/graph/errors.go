package graph

import (
	"fmt"
	"strings"

	"github.com/WessleyAI/collabgraph/engine/upsert"
)

// OpError is the failure of one statement inside an Apply call.
type OpError struct {
	Index int // position in the Apply arguments
	Kind  upsert.Kind
	Err   error
}

func (e OpError) Error() string {
	return fmt.Sprintf("op %d (%s): %v", e.Index, e.Kind, e.Err)
}

func (e OpError) Unwrap() error { return e.Err }

// PartialFailure reports statements that failed inside a transaction. The
// transaction was rolled back, so none of the Apply call's ops took effect.
type PartialFailure struct {
	Failed []OpError
	Total  int
}

func (e *PartialFailure) Error() string {
	msgs := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("graph: %d of %d ops failed: %s", len(e.Failed), e.Total, strings.Join(msgs, "; "))
}

// Unwrap exposes every per-op error to errors.Is and errors.As.
func (e *PartialFailure) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errs
}

// TransactionError is a failure to begin, run or commit the transaction
// itself, as opposed to a particular statement.
type TransactionError struct {
	Err error
}

func (e *TransactionError) Error() string { return "graph: transaction: " + e.Err.Error() }

func (e *TransactionError) Unwrap() error { return e.Err }
