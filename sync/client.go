package sync

import (
	"time"

	"go.uber.org/zap"

	"github.com/teranos/treedb/errors"
	"github.com/teranos/treedb/query"
	"github.com/teranos/treedb/types"
	"github.com/teranos/treedb/view"
)

// AckFunc reports the server's verdict on one write.
type AckFunc func(success bool, code errors.Code)

// RemoteStore is the transport collaborator: it owns the connection,
// authentication, and the wire format, and calls back into the client
// (through transport.Handler) with server pushes. The sync core never
// blocks on it; every method is fire-and-forget with async acks.
type RemoteStore interface {
	Listen(spec query.Spec)
	Unlisten(spec query.Spec)
	Put(path types.Path, value types.Variant, onAck AckFunc)
	Merge(path types.Path, children map[string]types.Variant, onAck AckFunc)

	// ServerTimeOffsetMillis estimates serverTime - localTime, used to
	// resolve server-value placeholders.
	ServerTimeOffsetMillis() int64
}

// WriteOutcome is the terminal state of a provisional (transaction)
// write.
type WriteOutcome int

const (
	// WriteAcked: the server accepted the write.
	WriteAcked WriteOutcome = iota
	// WriteRejected: the server or a local override refused the write;
	// the accompanying code says why.
	WriteRejected
	// WriteConflicted: a server update overlapping the write's path
	// arrived before the ack; the write has been reverted and the
	// transaction should retry against fresh data.
	WriteConflicted
)

// OutcomeFunc observes a provisional write's terminal state. Called from
// the serialized context; implementations must hand off to their own
// goroutine and not re-enter the client synchronously.
type OutcomeFunc func(outcome WriteOutcome, code errors.Code)

// provisionalWrite tracks an unacked transaction write awaiting its
// outcome.
type provisionalWrite struct {
	path      types.Path
	onOutcome OutcomeFunc
	settled   bool
}

// txnState marks a path as being under an active transaction.
type txnState struct {
	path       types.Path
	writeID    uint64 // in-flight provisional write, 0 when none
	overridden bool   // a plain Put landed on the path mid-transaction
}

// Client is the public face of the sync core. It funnels transport
// callbacks and application calls through one Dispatcher, keeps the
// SyncTree coherent, and delivers events synchronously from the
// serialized context.
type Client struct {
	dispatcher  *Dispatcher
	tree        *SyncTree
	remote      RemoteStore
	logger      *zap.SugaredLogger
	provisional map[uint64]*provisionalWrite
	txns        map[string]*txnState // keyed by path string
}

// NewClient assembles a client over the given transport. remote may be
// nil for a purely local (offline) client, which is also how tests drive
// the core without a connection.
func NewClient(remote RemoteStore, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		dispatcher:  NewDispatcher(),
		tree:        NewSyncTree(logger),
		remote:      remote,
		logger:      logger,
		provisional: make(map[uint64]*provisionalWrite),
		txns:        make(map[string]*txnState),
	}
}

// SetRemote wires the transport in after construction. The client and
// transport reference each other (pushes come in, listens and writes go
// out), so one side has to be attached late; this is that side.
func (c *Client) SetRemote(remote RemoteStore) {
	c.dispatcher.Call(func() {
		c.remote = remote
	})
}

// Close stops the serialization worker. Pending scheduled operations are
// drained first.
func (c *Client) Close() {
	c.dispatcher.Close()
}

// serverNowMillis estimates the server's current clock.
func (c *Client) serverNowMillis() int64 {
	now := time.Now().UnixMilli()
	if c.remote != nil {
		now += c.remote.ServerTimeOffsetMillis()
	}
	return now
}

// deliver invokes listener callbacks for a batch of events, in order,
// from inside the serialized context.
func (c *Client) deliver(events []view.Event) {
	for _, e := range events {
		e.Registration.Notify(e)
	}
}

// --- Transport-facing entry points -----------------------------------

// OnServerUpdate ingests an authoritative subtree push. Provisional
// writes overlapping the path conflict: they are reverted first so their
// transactions re-read fresh data, then the update lands.
func (c *Client) OnServerUpdate(path types.Path, value types.Variant) {
	c.dispatcher.Schedule(func() {
		c.conflictProvisional(path)
		c.deliver(c.tree.ApplyServerUpdate(path, value))
	})
}

// OnServerMerge ingests a sparse child-set push.
func (c *Client) OnServerMerge(path types.Path, children map[string]types.Variant) {
	c.dispatcher.Schedule(func() {
		c.conflictProvisional(path)
		c.deliver(c.tree.ApplyServerMerge(path, children))
	})
}

// OnWriteAck ingests the server's verdict on write writeID.
func (c *Client) OnWriteAck(writeID uint64, success bool, code errors.Code) {
	c.dispatcher.Schedule(func() {
		if p, ok := c.provisional[writeID]; ok && !p.settled {
			p.settled = true
			delete(c.provisional, writeID)
			c.clearTxnWrite(writeID)
			if success {
				p.onOutcome(WriteAcked, errors.CodeNone)
			} else {
				p.onOutcome(WriteRejected, code)
			}
		}
		c.deliver(c.tree.AckUserWrite(writeID, success, code))
	})
}

// OnListenRevoked tears down every listener overlapping path with the
// given error code. The cached local view survives; only event delivery
// stops.
func (c *Client) OnListenRevoked(path types.Path, code errors.Code) {
	c.dispatcher.Schedule(func() {
		c.deliver(c.tree.CancelQueries(path, code))
	})
}

// OnReconnected restores server state after the transport re-establishes
// its session: every live query listens again and every still-pending
// write is resent with its server-value placeholders freshly resolved.
func (c *Client) OnReconnected() {
	c.dispatcher.Schedule(func() {
		if c.remote == nil {
			return
		}
		for _, spec := range c.tree.ActiveSpecs() {
			c.remote.Listen(spec)
		}
		estimate := c.serverNowMillis()
		for _, r := range c.tree.WriteTree().PendingWrites() {
			writeID := r.WriteID
			ack := func(success bool, code errors.Code) {
				c.OnWriteAck(writeID, success, code)
			}
			if r.IsMerge {
				resolved := make(map[string]types.Variant, len(r.Merge))
				for k, v := range r.Merge {
					resolved[k] = types.ResolveDeferredValue(v, estimate)
				}
				c.remote.Merge(r.Path, resolved, ack)
			} else {
				c.remote.Put(r.Path, types.ResolveDeferredValue(r.Overwrite, estimate), ack)
			}
		}
		c.logger.Infow("replayed state after reconnect",
			"specs", len(c.tree.ActiveSpecs()), "pending_writes", len(c.tree.WriteTree().PendingWrites()))
	})
}

// conflictProvisional reverts every unacked provisional write overlapping
// path and reports WriteConflicted so its transaction retries.
func (c *Client) conflictProvisional(path types.Path) {
	for writeID, p := range c.provisional {
		if p.settled || !p.path.Overlaps(path) {
			continue
		}
		p.settled = true
		delete(c.provisional, writeID)
		c.clearTxnWrite(writeID)
		c.deliver(c.tree.RevertUserWrite(writeID))
		p.onOutcome(WriteConflicted, errors.CodeNone)
	}
}

func (c *Client) clearTxnWrite(writeID uint64) {
	for _, t := range c.txns {
		if t.writeID == writeID {
			t.writeID = 0
		}
	}
}

// --- Application-facing entry points ---------------------------------

// AddListener attaches a listener for spec, firing its initial events
// synchronously before returning. The first listener for a spec starts a
// server listen.
func (c *Client) AddListener(spec query.Spec, reg view.EventRegistration) error {
	var err error
	c.dispatcher.Call(func() {
		events, created, addErr := c.tree.AddEventRegistration(spec, reg)
		if addErr != nil {
			err = addErr
			return
		}
		if created && c.remote != nil {
			c.remote.Listen(spec)
		}
		c.deliver(events)
	})
	return err
}

// RemoveListener detaches a listener. Removing the last listener for a
// spec stops the server listen. Takes effect on the next serialization
// turn; an Error event already in flight for the registration still
// completes delivery.
func (c *Client) RemoveListener(spec query.Spec, registrationID string) {
	c.dispatcher.Schedule(func() {
		_, evicted := c.tree.RemoveEventRegistration(spec, registrationID)
		if evicted && c.remote != nil {
			c.remote.Unlisten(spec)
		}
	})
}

// Put writes a full value at path. The optimistic change is visible to
// local listeners before the call returns; the returned write id is
// resolved later by the server's ack. A Put overriding a path under an
// active transaction aborts that transaction with OverriddenBySet.
func (c *Client) Put(path types.Path, value types.Variant) uint64 {
	var writeID uint64
	c.dispatcher.Call(func() {
		c.overrideTxns(path)
		writeID = c.put(path, value, true, nil)
	})
	return writeID
}

// Update applies a sparse multi-child write under path.
func (c *Client) Update(path types.Path, children map[string]types.Variant) uint64 {
	var writeID uint64
	c.dispatcher.Call(func() {
		c.overrideTxns(path)
		estimate := c.serverNowMillis()
		id, events := c.tree.ApplyUserMerge(path, children, estimate)
		writeID = id
		c.deliver(events)
		if c.remote != nil {
			resolved := make(map[string]types.Variant, len(children))
			for k, v := range children {
				resolved[k] = types.ResolveDeferredValue(v, estimate)
			}
			c.remote.Merge(path, resolved, func(success bool, code errors.Code) {
				c.OnWriteAck(id, success, code)
			})
		}
	})
	return writeID
}

// LocalValue reads the current local view at path: server-confirmed data
// with all pending writes applied.
func (c *Client) LocalValue(path types.Path) types.Variant {
	var v types.Variant
	c.dispatcher.Call(func() {
		v = c.tree.LocalView(path)
	})
	return v
}

// put records and sends one overwrite from inside the serialized
// context. A non-nil onOutcome makes the write provisional; visible=false
// keeps it out of the local view until the server folds it in.
func (c *Client) put(path types.Path, value types.Variant, visible bool, onOutcome OutcomeFunc) uint64 {
	estimate := c.serverNowMillis()
	writeID, events := c.tree.ApplyUserWrite(path, value, estimate, visible)
	if onOutcome != nil {
		c.provisional[writeID] = &provisionalWrite{path: path, onOutcome: onOutcome}
	}
	c.deliver(events)
	if c.remote != nil {
		// Promotion point: placeholders resolve exactly once per send.
		resolved := types.ResolveDeferredValue(value, estimate)
		c.remote.Put(path, resolved, func(success bool, code errors.Code) {
			c.OnWriteAck(writeID, success, code)
		})
	}
	return writeID
}

// overrideTxns settles any transaction overlapping path with
// OverriddenBySet: its in-flight provisional write is reverted and its
// next attempt fails fast.
func (c *Client) overrideTxns(path types.Path) {
	for _, t := range c.txns {
		if !t.path.Overlaps(path) {
			continue
		}
		t.overridden = true
		if t.writeID == 0 {
			continue
		}
		if p, ok := c.provisional[t.writeID]; ok && !p.settled {
			p.settled = true
			delete(c.provisional, t.writeID)
			c.deliver(c.tree.RevertUserWrite(t.writeID))
			p.onOutcome(WriteRejected, errors.CodeOverriddenBySet)
		}
		t.writeID = 0
	}
}

// --- Transaction support (used by the txn coordinator) ----------------

// BeginTransaction claims path for a transaction. Starting a second
// transaction on an overlapping path fails synchronously with
// ConflictingOperationInProgress.
func (c *Client) BeginTransaction(path types.Path) error {
	var err error
	c.dispatcher.Call(func() {
		for _, t := range c.txns {
			if t.path.Overlaps(path) {
				err = errors.Wrapf(errors.NewCode(errors.CodeConflictingOperationInProgress),
					"transaction already active at %q", t.path.String())
				return
			}
		}
		c.txns[path.String()] = &txnState{path: path}
	})
	return err
}

// EndTransaction releases the claim taken by BeginTransaction.
func (c *Client) EndTransaction(path types.Path) {
	c.dispatcher.Call(func() {
		delete(c.txns, path.String())
	})
}

// PutProvisional submits one transaction attempt's result. The outcome
// callback fires exactly once: acked, rejected, or conflicted (already
// reverted). visible=false suppresses the optimistic local application,
// so listeners only see the value once the server confirms it. Returns 0
// with an immediate rejection when the transaction was overridden by a
// plain Put since the last attempt.
func (c *Client) PutProvisional(path types.Path, value types.Variant, visible bool, onOutcome OutcomeFunc) uint64 {
	var writeID uint64
	c.dispatcher.Call(func() {
		t := c.txns[path.String()]
		if t != nil && t.overridden {
			onOutcome(WriteRejected, errors.CodeOverriddenBySet)
			return
		}
		writeID = c.put(path, value, visible, onOutcome)
		if t != nil {
			t.writeID = writeID
		}
	})
	return writeID
}
