package sync

import (
	gosync "sync"
	"testing"
	"time"

	"github.com/teranos/treedb/errors"
	"github.com/teranos/treedb/query"
	"github.com/teranos/treedb/types"
	"github.com/teranos/treedb/view"
)

// fakeRemote records transport calls and lets tests drive acks by hand.
type fakeRemote struct {
	mu        gosync.Mutex
	listens   []query.Spec
	unlistens []query.Spec
	puts      []fakePut
	merges    []fakeMerge
	offset    int64
}

type fakePut struct {
	path  types.Path
	value types.Variant
	onAck AckFunc
}

type fakeMerge struct {
	path     types.Path
	children map[string]types.Variant
	onAck    AckFunc
}

func (f *fakeRemote) Listen(spec query.Spec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listens = append(f.listens, spec)
}

func (f *fakeRemote) Unlisten(spec query.Spec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlistens = append(f.unlistens, spec)
}

func (f *fakeRemote) Put(path types.Path, value types.Variant, onAck AckFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, fakePut{path: path, value: value, onAck: onAck})
}

func (f *fakeRemote) Merge(path types.Path, children map[string]types.Variant, onAck AckFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges = append(f.merges, fakeMerge{path: path, children: children, onAck: onAck})
}

func (f *fakeRemote) ServerTimeOffsetMillis() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

func (f *fakeRemote) listenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listens)
}

func (f *fakeRemote) unlistenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unlistens)
}

func (f *fakeRemote) lastPut() fakePut {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts[len(f.puts)-1]
}

func (f *fakeRemote) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts)
}

// recorder collects delivered events; deliveries happen on the client's
// worker goroutine.
type recorder struct {
	mu     gosync.Mutex
	events []view.Event
}

func (r *recorder) notify(e view.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []view.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]view.Event, len(r.events))
	copy(out, r.events)
	return out
}

// flush waits for every scheduled operation to finish.
func flush(c *Client) {
	c.LocalValue(types.RootPath())
}

func TestClient_FirstListenerStartsServerListen(t *testing.T) {
	remote := &fakeRemote{}
	c := NewClient(remote, nil)
	defer c.Close()

	spec := query.NewSpec(types.NewPath("list"))
	if err := c.AddListener(spec, view.NewValueRegistration(func(view.Event) {})); err != nil {
		t.Fatal(err)
	}
	if remote.listenCount() != 1 {
		t.Fatalf("listens = %d, want 1", remote.listenCount())
	}

	// Same spec again: the view is shared, no second listen.
	if err := c.AddListener(spec, view.NewValueRegistration(func(view.Event) {})); err != nil {
		t.Fatal(err)
	}
	if remote.listenCount() != 1 {
		t.Errorf("listens = %d after second registration, want 1", remote.listenCount())
	}
}

func TestClient_LastListenerStopsServerListen(t *testing.T) {
	remote := &fakeRemote{}
	c := NewClient(remote, nil)
	defer c.Close()

	spec := query.NewSpec(types.NewPath("list"))
	reg := view.NewValueRegistration(func(view.Event) {})
	if err := c.AddListener(spec, reg); err != nil {
		t.Fatal(err)
	}

	c.RemoveListener(spec, reg.ID())
	flush(c)
	if remote.unlistenCount() != 1 {
		t.Errorf("unlistens = %d, want 1", remote.unlistenCount())
	}
}

func TestClient_ServerUpdateReachesListeners(t *testing.T) {
	c := NewClient(nil, nil)
	defer c.Close()

	rec := &recorder{}
	spec := query.NewSpec(types.NewPath("v"))
	if err := c.AddListener(spec, view.NewValueRegistration(rec.notify)); err != nil {
		t.Fatal(err)
	}

	c.OnServerUpdate(types.NewPath("v"), types.Int64(7))
	flush(c)

	events := rec.snapshot()
	if len(events) == 0 {
		t.Fatal("listener saw no events")
	}
	last := events[len(events)-1]
	if last.Type != view.EventTypeValue || last.Snapshot.Value.AsInt64() != 7 {
		t.Errorf("last event = %v, want value 7", last)
	}
}

func TestClient_PutVisibleLocallyBeforeAck(t *testing.T) {
	remote := &fakeRemote{}
	c := NewClient(remote, nil)
	defer c.Close()

	c.Put(types.NewPath("v"), types.Int64(1))
	if c.LocalValue(types.NewPath("v")).AsInt64() != 1 {
		t.Error("optimistic write should be visible immediately")
	}
	if remote.putCount() != 1 {
		t.Fatalf("puts = %d, want 1", remote.putCount())
	}
}

func TestClient_SuccessfulAckSettlesWrite(t *testing.T) {
	remote := &fakeRemote{}
	c := NewClient(remote, nil)
	defer c.Close()

	c.Put(types.NewPath("v"), types.Int64(1))
	put := remote.lastPut()

	c.OnServerUpdate(types.NewPath("v"), types.Int64(1))
	put.onAck(true, errors.CodeNone)
	flush(c)

	if c.LocalValue(types.NewPath("v")).AsInt64() != 1 {
		t.Error("confirmed value should remain visible")
	}
}

func TestClient_RejectedAckRollsBackAndCancelsListener(t *testing.T) {
	remote := &fakeRemote{}
	c := NewClient(remote, nil)
	defer c.Close()

	rec := &recorder{}
	if err := c.AddListener(query.NewSpec(types.NewPath("v")), view.NewValueRegistration(rec.notify)); err != nil {
		t.Fatal(err)
	}

	c.OnServerUpdate(types.NewPath("v"), types.Int64(1))
	c.Put(types.NewPath("v"), types.Int64(2))
	remote.lastPut().onAck(false, errors.CodePermissionDenied)
	flush(c)

	if c.LocalValue(types.NewPath("v")).AsInt64() != 1 {
		t.Error("rejected write must roll back")
	}
	var sawCancel bool
	for _, e := range rec.snapshot() {
		if e.Type == view.EventTypeError && e.Error == errors.CodePermissionDenied {
			sawCancel = true
		}
	}
	if !sawCancel {
		t.Error("overlapping listener should be canceled with the rejection code")
	}
}

func TestClient_OfflinePutStaysLocal(t *testing.T) {
	c := NewClient(nil, nil)
	defer c.Close()

	c.Put(types.NewPath("v"), types.Int64(5))
	if c.LocalValue(types.NewPath("v")).AsInt64() != 5 {
		t.Error("offline write should land in the local view")
	}
}

func TestClient_ServerTimestampResolvedAtSend(t *testing.T) {
	remote := &fakeRemote{offset: 1000}
	c := NewClient(remote, nil)
	defer c.Close()

	before := time.Now().UnixMilli() + 1000
	c.Put(types.NewPath("ts"), types.ServerTimestamp())
	after := time.Now().UnixMilli() + 1000

	sent := remote.lastPut().value
	if types.IsServerTimestamp(sent) {
		t.Fatal("placeholder must resolve before hitting the wire")
	}
	if got := sent.AsInt64(); got < before || got > after {
		t.Errorf("resolved timestamp %d outside [%d, %d]", got, before, after)
	}
	if types.IsServerTimestamp(c.LocalValue(types.NewPath("ts"))) {
		t.Error("local view must show the resolved estimate, not the placeholder")
	}
}

func TestClient_UpdateMergesChildren(t *testing.T) {
	remote := &fakeRemote{}
	c := NewClient(remote, nil)
	defer c.Close()

	c.OnServerUpdate(types.NewPath("m"), types.Map(map[string]types.Variant{
		"a": types.Int64(1),
		"b": types.Int64(2),
	}))
	c.Update(types.NewPath("m"), map[string]types.Variant{"b": types.Int64(9)})

	got := c.LocalValue(types.NewPath("m"))
	if got.Child("a").AsInt64() != 1 || got.Child("b").AsInt64() != 9 {
		t.Errorf("merged view wrong: %s", got)
	}
	remote.mu.Lock()
	merges := len(remote.merges)
	remote.mu.Unlock()
	if merges != 1 {
		t.Errorf("merges = %d, want 1", merges)
	}
}

func TestClient_ProvisionalConflictsWithServerUpdate(t *testing.T) {
	c := NewClient(nil, nil)
	defer c.Close()

	outcomes := make(chan WriteOutcome, 1)
	c.PutProvisional(types.NewPath("v"), types.Int64(10), true, func(o WriteOutcome, _ errors.Code) {
		outcomes <- o
	})

	c.OnServerUpdate(types.NewPath("v"), types.Int64(2))
	flush(c)

	select {
	case o := <-outcomes:
		if o != WriteConflicted {
			t.Errorf("outcome = %v, want conflicted", o)
		}
	default:
		t.Fatal("provisional write never settled")
	}
	if c.LocalValue(types.NewPath("v")).AsInt64() != 2 {
		t.Error("conflicted provisional write must be reverted")
	}
}

func TestClient_InvisibleProvisionalWriteStaysOutOfLocalView(t *testing.T) {
	remote := &fakeRemote{}
	c := NewClient(remote, nil)
	defer c.Close()

	c.OnServerUpdate(types.NewPath("v"), types.Int64(1))

	outcomes := make(chan WriteOutcome, 1)
	c.PutProvisional(types.NewPath("v"), types.Int64(10), false, func(o WriteOutcome, _ errors.Code) {
		outcomes <- o
	})

	// The write is on its way to the server but hidden locally.
	if got := c.LocalValue(types.NewPath("v")).AsInt64(); got != 1 {
		t.Errorf("local view = %d, want the server value while hidden", got)
	}
	remote.mu.Lock()
	puts := len(remote.puts)
	remote.mu.Unlock()
	if puts != 1 {
		t.Fatalf("puts = %d, want 1", puts)
	}

	// Ack then server echo: the value lands through the server cache.
	remote.mu.Lock()
	remote.puts[0].onAck(true, errors.CodeNone)
	remote.mu.Unlock()
	flush(c)
	c.OnServerUpdate(types.NewPath("v"), types.Int64(10))
	flush(c)

	select {
	case o := <-outcomes:
		if o != WriteAcked {
			t.Errorf("outcome = %v, want acked", o)
		}
	default:
		t.Fatal("hidden provisional write never settled")
	}
	if got := c.LocalValue(types.NewPath("v")).AsInt64(); got != 10 {
		t.Errorf("local view = %d, want 10 after the echo", got)
	}
}

func TestClient_PutOverridesActiveTransaction(t *testing.T) {
	c := NewClient(nil, nil)
	defer c.Close()

	path := types.NewPath("v")
	if err := c.BeginTransaction(path); err != nil {
		t.Fatal(err)
	}
	defer c.EndTransaction(path)

	outcomes := make(chan errors.Code, 2)
	c.PutProvisional(path, types.Int64(10), true, func(_ WriteOutcome, code errors.Code) {
		outcomes <- code
	})
	c.Put(path, types.Int64(3))

	select {
	case code := <-outcomes:
		if code != errors.CodeOverriddenBySet {
			t.Errorf("code = %s, want overridden by set", code)
		}
	default:
		t.Fatal("in-flight provisional write should settle on override")
	}

	// The next attempt fails fast without a round trip.
	c.PutProvisional(path, types.Int64(11), true, func(_ WriteOutcome, code errors.Code) {
		outcomes <- code
	})
	select {
	case code := <-outcomes:
		if code != errors.CodeOverriddenBySet {
			t.Errorf("retry code = %s, want overridden by set", code)
		}
	default:
		t.Fatal("post-override attempt should fail immediately")
	}

	if c.LocalValue(path).AsInt64() != 3 {
		t.Error("the plain put wins the path")
	}
}

func TestClient_ConcurrentTransactionsConflict(t *testing.T) {
	c := NewClient(nil, nil)
	defer c.Close()

	if err := c.BeginTransaction(types.NewPath("a")); err != nil {
		t.Fatal(err)
	}
	err := c.BeginTransaction(types.NewPath("a/b"))
	if errors.CodeOf(err) != errors.CodeConflictingOperationInProgress {
		t.Errorf("overlapping transaction error = %v", err)
	}
	if err := c.BeginTransaction(types.NewPath("other")); err != nil {
		t.Errorf("disjoint transaction should start: %v", err)
	}

	c.EndTransaction(types.NewPath("a"))
	if err := c.BeginTransaction(types.NewPath("a/b")); err != nil {
		t.Errorf("released path should be claimable: %v", err)
	}
}

func TestClient_ReconnectedReplaysListensAndWrites(t *testing.T) {
	remote := &fakeRemote{}
	c := NewClient(remote, nil)
	defer c.Close()

	if err := c.AddListener(query.NewSpec(types.NewPath("list")), view.NewValueRegistration(func(view.Event) {})); err != nil {
		t.Fatal(err)
	}
	c.Put(types.NewPath("v"), types.Int64(1))

	c.OnReconnected()
	flush(c)

	if remote.listenCount() != 2 {
		t.Errorf("listens = %d, want 2 (initial + replay)", remote.listenCount())
	}
	if remote.putCount() != 2 {
		t.Errorf("puts = %d, want 2 (initial + replay)", remote.putCount())
	}
}

func TestClient_ListenRevokedCancelsQueries(t *testing.T) {
	c := NewClient(nil, nil)
	defer c.Close()

	rec := &recorder{}
	if err := c.AddListener(query.NewSpec(types.NewPath("list")), view.NewValueRegistration(rec.notify)); err != nil {
		t.Fatal(err)
	}

	c.OnListenRevoked(types.NewPath("list"), errors.CodeExpiredToken)
	flush(c)

	events := rec.snapshot()
	last := events[len(events)-1]
	if last.Type != view.EventTypeError || last.Error != errors.CodeExpiredToken {
		t.Errorf("last event = %v, want expired-token error", last)
	}
}
