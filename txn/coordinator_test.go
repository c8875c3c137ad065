package txn

import (
	"context"
	"testing"

	"github.com/teranos/treedb/errors"
	"github.com/teranos/treedb/query"
	"github.com/teranos/treedb/sync"
	"github.com/teranos/treedb/types"
)

// fakeDB scripts the outcome of each provisional write so retry behavior
// is fully deterministic.
type fakeDB struct {
	values   []types.Variant // LocalValue per attempt, last repeats
	outcomes []outcomeMsg    // outcome per attempt, last repeats
	reads    int
	puts     []types.Variant
	visibles []bool
	beginErr error
	ended    bool
}

func (f *fakeDB) LocalValue(types.Path) types.Variant {
	i := f.reads
	if i >= len(f.values) {
		i = len(f.values) - 1
	}
	f.reads++
	return f.values[i]
}

func (f *fakeDB) PutProvisional(_ types.Path, value types.Variant, visible bool, onOutcome sync.OutcomeFunc) uint64 {
	i := len(f.puts)
	f.puts = append(f.puts, value)
	f.visibles = append(f.visibles, visible)
	if i >= len(f.outcomes) {
		i = len(f.outcomes) - 1
	}
	m := f.outcomes[i]
	onOutcome(m.outcome, m.code)
	return uint64(i + 1)
}

func (f *fakeDB) BeginTransaction(types.Path) error { return f.beginErr }
func (f *fakeDB) EndTransaction(types.Path)         { f.ended = true }

func acked() outcomeMsg      { return outcomeMsg{outcome: sync.WriteAcked} }
func conflicted() outcomeMsg { return outcomeMsg{outcome: sync.WriteConflicted} }

func increment(current types.Variant) (types.Variant, error) {
	return types.Int64(current.AsInt64() + 1), nil
}

func TestCoordinator_CommitsFirstAttempt(t *testing.T) {
	db := &fakeDB{
		values:   []types.Variant{types.Int64(1)},
		outcomes: []outcomeMsg{acked()},
	}
	c := NewCoordinator(db, Options{}, nil)

	result, err := c.Run(context.Background(), types.NewPath("counter"), increment)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt64() != 2 {
		t.Errorf("result = %s, want 2", result)
	}
	if !db.ended {
		t.Error("transaction claim must be released")
	}
	if len(db.visibles) != 1 || !db.visibles[0] {
		t.Error("attempts apply locally by default")
	}
}

func TestCoordinator_SkipLocalApplyHidesAttempts(t *testing.T) {
	db := &fakeDB{
		values:   []types.Variant{types.Int64(1), types.Int64(5)},
		outcomes: []outcomeMsg{conflicted(), acked()},
	}
	c := NewCoordinator(db, Options{SkipLocalApply: true}, nil)

	if _, err := c.Run(context.Background(), types.NewPath("counter"), increment); err != nil {
		t.Fatal(err)
	}
	if len(db.visibles) != 2 {
		t.Fatalf("attempts = %d, want 2", len(db.visibles))
	}
	for i, v := range db.visibles {
		if v {
			t.Errorf("attempt %d applied locally, want hidden", i+1)
		}
	}
}

func TestCoordinator_RetryReadsFreshValue(t *testing.T) {
	// The first attempt reads 1 but conflicts; the retry must see the
	// post-conflict value 5, not the stale 1.
	db := &fakeDB{
		values:   []types.Variant{types.Int64(1), types.Int64(5)},
		outcomes: []outcomeMsg{conflicted(), acked()},
	}
	c := NewCoordinator(db, Options{}, nil)

	result, err := c.Run(context.Background(), types.NewPath("counter"), increment)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt64() != 6 {
		t.Errorf("result = %s, want 6 (5+1)", result)
	}
	if len(db.puts) != 2 {
		t.Errorf("attempts = %d, want 2", len(db.puts))
	}
	if db.puts[0].AsInt64() != 2 || db.puts[1].AsInt64() != 6 {
		t.Errorf("submitted %v, want [2 6]", db.puts)
	}
}

func TestCoordinator_MaxRetriesExhausted(t *testing.T) {
	db := &fakeDB{
		values:   []types.Variant{types.Int64(0)},
		outcomes: []outcomeMsg{conflicted()},
	}
	c := NewCoordinator(db, Options{MaxAttempts: 3}, nil)

	_, err := c.Run(context.Background(), types.NewPath("counter"), increment)
	if errors.CodeOf(err) != errors.CodeMaxRetries {
		t.Errorf("err = %v, want max retries", err)
	}
	if len(db.puts) != 3 {
		t.Errorf("attempts = %d, want 3", len(db.puts))
	}
	if !db.ended {
		t.Error("claim must be released on failure too")
	}
}

func TestCoordinator_UserAbortStopsWithoutWrite(t *testing.T) {
	db := &fakeDB{
		values:   []types.Variant{types.Int64(1)},
		outcomes: []outcomeMsg{acked()},
	}
	c := NewCoordinator(db, Options{}, nil)

	_, err := c.Run(context.Background(), types.NewPath("counter"),
		func(types.Variant) (types.Variant, error) {
			return types.Null(), errors.New("balance too low")
		})
	if errors.CodeOf(err) != errors.CodeTransactionAbortedByUser {
		t.Errorf("err = %v, want aborted by user", err)
	}
	if len(db.puts) != 0 {
		t.Error("an aborting attempt must not write")
	}
}

func TestCoordinator_RejectionSurfacesWithoutRetry(t *testing.T) {
	db := &fakeDB{
		values: []types.Variant{types.Int64(1)},
		outcomes: []outcomeMsg{{
			outcome: sync.WriteRejected,
			code:    errors.CodeOverriddenBySet,
		}},
	}
	c := NewCoordinator(db, Options{}, nil)

	_, err := c.Run(context.Background(), types.NewPath("counter"), increment)
	if errors.CodeOf(err) != errors.CodeOverriddenBySet {
		t.Errorf("err = %v, want overridden by set", err)
	}
	if len(db.puts) != 1 {
		t.Errorf("attempts = %d, a rejection must not retry", len(db.puts))
	}
}

func TestCoordinator_BeginFailurePropagates(t *testing.T) {
	db := &fakeDB{
		values:   []types.Variant{types.Null()},
		outcomes: []outcomeMsg{acked()},
		beginErr: errors.NewCode(errors.CodeConflictingOperationInProgress),
	}
	c := NewCoordinator(db, Options{}, nil)

	_, err := c.Run(context.Background(), types.NewPath("counter"), increment)
	if errors.CodeOf(err) != errors.CodeConflictingOperationInProgress {
		t.Errorf("err = %v, want conflicting operation", err)
	}
	if db.reads != 0 {
		t.Error("a failed begin must not run any attempt")
	}
}

func TestCoordinator_ContextCancellation(t *testing.T) {
	db := &fakeDB{
		values:   []types.Variant{types.Int64(0)},
		outcomes: []outcomeMsg{conflicted()},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// The outcome channel is buffered, so the first select may still pick
	// the conflict; the canceled context stops the loop at the retry gate.
	c := NewCoordinator(db, Options{MaxAttempts: 100, RetryDelay: 1}, nil)

	_, err := c.Run(ctx, types.NewPath("counter"), increment)
	if err == nil || errors.CodeOf(err) == errors.CodeMaxRetries {
		t.Errorf("err = %v, want context cancellation before exhaustion", err)
	}
	if !db.ended {
		t.Error("claim must be released on cancellation")
	}
}

// scriptedRemote hands submitted puts to the test goroutine so it can
// interleave server pushes and acks deterministically.
type scriptedRemote struct {
	puts chan scriptedPut
}

type scriptedPut struct {
	path  types.Path
	value types.Variant
	onAck sync.AckFunc
}

func (r *scriptedRemote) Listen(query.Spec)   {}
func (r *scriptedRemote) Unlisten(query.Spec) {}

func (r *scriptedRemote) Put(path types.Path, value types.Variant, onAck sync.AckFunc) {
	r.puts <- scriptedPut{path: path, value: value, onAck: onAck}
}

func (r *scriptedRemote) Merge(types.Path, map[string]types.Variant, sync.AckFunc) {}

func (r *scriptedRemote) ServerTimeOffsetMillis() int64 { return 0 }

// End-to-end against the real client: a server update that lands between
// the provisional write and its ack forces a retry that observes the new
// value.
func TestCoordinator_RetryAgainstRealClient(t *testing.T) {
	remote := &scriptedRemote{puts: make(chan scriptedPut, 4)}
	client := sync.NewClient(remote, nil)
	defer client.Close()

	path := types.NewPath("counter")
	client.OnServerUpdate(path, types.Int64(1))
	// Flush the scheduled update before the transaction reads.
	client.LocalValue(types.RootPath())

	go func() {
		// A concurrent writer wins the race against the first attempt.
		<-remote.puts
		client.OnServerUpdate(path, types.Int64(5))
		// The retry's write goes through cleanly.
		second := <-remote.puts
		second.onAck(true, errors.CodeNone)
	}()

	c := NewCoordinator(client, Options{}, nil)
	result, err := c.Run(context.Background(), path, increment)
	if err != nil {
		t.Fatal(err)
	}
	if result.AsInt64() != 6 {
		t.Errorf("result = %s, want 6 (fresh 5 + 1)", result)
	}
}
