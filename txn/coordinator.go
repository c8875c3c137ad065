// Package txn layers optimistic read-modify-write transactions on top of
// the sync client. Each attempt reads the current local view, runs the
// user's update function, and submits the result as a provisional write;
// a conflicting server update arriving before the ack reverts the write
// and triggers a retry against the fresh data, up to a bounded cap.
package txn

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/treedb/errors"
	"github.com/teranos/treedb/sync"
	"github.com/teranos/treedb/types"
)

// DefaultMaxAttempts bounds the optimistic retry loop. The cap is a
// tunable, not a contract; override it through Options.
const DefaultMaxAttempts = 25

// UpdateFunc computes a transaction attempt's result from the current
// value. Returning an error aborts the transaction; no write is issued
// for that attempt.
type UpdateFunc func(current types.Variant) (types.Variant, error)

// Database is the slice of the sync client the coordinator needs.
type Database interface {
	LocalValue(path types.Path) types.Variant
	PutProvisional(path types.Path, value types.Variant, visible bool, onOutcome sync.OutcomeFunc) uint64
	BeginTransaction(path types.Path) error
	EndTransaction(path types.Path)
}

// Options tunes the retry policy.
type Options struct {
	// MaxAttempts caps how many times the update function runs.
	// Zero means DefaultMaxAttempts.
	MaxAttempts int

	// RetryDelay pauses between attempts. Zero retries immediately.
	RetryDelay time.Duration

	// SkipLocalApply keeps each attempt's provisional write out of the
	// local view until the server confirms it: listeners see no
	// optimistic events from the transaction's intermediate states.
	SkipLocalApply bool
}

// Coordinator runs transactions against one database.
type Coordinator struct {
	db     Database
	opts   Options
	logger *zap.SugaredLogger
}

// NewCoordinator builds a coordinator. logger may be nil.
func NewCoordinator(db Database, opts Options, logger *zap.SugaredLogger) *Coordinator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Coordinator{db: db, opts: opts, logger: logger}
}

type outcomeMsg struct {
	outcome sync.WriteOutcome
	code    errors.Code
}

// Run executes one transaction at path and returns the committed value.
//
// Failure modes map onto the error taxonomy: a second transaction on an
// overlapping path fails synchronously with
// ConflictingOperationInProgress; an aborting update function yields
// TransactionAbortedByUser; exhausting the retry cap yields MaxRetries;
// a rejection not caused by an overlapping update (OverriddenBySet,
// PermissionDenied, ...) surfaces directly instead of retrying.
func (c *Coordinator) Run(ctx context.Context, path types.Path, fn UpdateFunc) (types.Variant, error) {
	if err := c.db.BeginTransaction(path); err != nil {
		return types.Null(), err
	}
	defer c.db.EndTransaction(path)

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		current := c.db.LocalValue(path)
		result, err := fn(current)
		if err != nil {
			return types.Null(), errors.Wrapf(
				errors.NewCode(errors.CodeTransactionAbortedByUser),
				"update function aborted: %v", err)
		}

		outcomeCh := make(chan outcomeMsg, 1)
		c.db.PutProvisional(path, result, !c.opts.SkipLocalApply, func(outcome sync.WriteOutcome, code errors.Code) {
			outcomeCh <- outcomeMsg{outcome: outcome, code: code}
		})

		select {
		case m := <-outcomeCh:
			switch m.outcome {
			case sync.WriteAcked:
				return result, nil
			case sync.WriteRejected:
				return types.Null(), errors.NewCode(m.code)
			case sync.WriteConflicted:
				c.logger.Debugw("transaction conflicted, retrying",
					"path", path.String(), "attempt", attempt)
			}
		case <-ctx.Done():
			return types.Null(), ctx.Err()
		}

		if c.opts.RetryDelay > 0 {
			select {
			case <-time.After(c.opts.RetryDelay):
			case <-ctx.Done():
				return types.Null(), ctx.Err()
			}
		}
	}
	return types.Null(), errors.NewCode(errors.CodeMaxRetries)
}
