package eventlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowkernel/agentkernel/internal/ids"
)

// ErrDuplicateSeq is returned when Append is called with a (RunID, Seq) pair
// that already exists. Executors carry the run-wide counter and allocate
// each seq exactly once; a duplicate indicates a programmer bug in the
// calling executor, not a recoverable runtime condition.
var ErrDuplicateSeq = errors.New("eventlog: duplicate (run_id, seq)")

// Store is the append-only event store every executor writes to and every
// reader (replay, memory derivation) reads from.
//
// Append must be safe for concurrent use. Implementations serialize writes;
// readers may proceed concurrently with writers and are only guaranteed to
// observe events appended before the read began (snapshot consistency).
// Append failures must be durable in the sense that a successful return
// guarantees the event survives a process restart.
type Store interface {
	// Append stores e. Returns ErrDuplicateSeq if (e.RunID, e.Seq) already
	// exists.
	Append(ctx context.Context, e Event) error

	// QueryByRun returns every event for runID ordered by Seq ascending.
	QueryByRun(ctx context.Context, runID ids.RunID) ([]Event, error)

	// QueryByKind returns every event for runID with the given Kind, ordered
	// by Seq ascending.
	QueryByKind(ctx context.Context, runID ids.RunID, kind Kind) ([]Event, error)
}

// Replay is an alias for QueryByRun that signals the caller's intent is
// deterministic reconstruction rather than incidental inspection.
func Replay(ctx context.Context, s Store, runID ids.RunID) ([]Event, error) {
	return s.QueryByRun(ctx, runID)
}

// ValidateDenseSeq checks that events form the dense series 0..N-1 with no
// gaps or duplicates, as required by spec §8's universal invariant. It is a
// test/verification helper, not invoked by Store implementations themselves
// (sequencing is the executors' responsibility, not the log's).
func ValidateDenseSeq(events []Event) error {
	for i, e := range events {
		if e.Seq != int64(i) {
			return fmt.Errorf("eventlog: expected seq %d at position %d, got %d", i, i, e.Seq)
		}
	}
	return nil
}
