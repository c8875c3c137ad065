// Package sync is the heart of the client: it keeps the server-confirmed
// cache and the pending-write overlay coherent, recomputes the views a
// change touches, and turns their projection diffs into the ordered event
// stream listeners observe.
//
// Nothing in this package locks. Every method of SyncTree must run under
// the single serialization point the Client provides (see Dispatcher);
// interleaving server pushes, acks, and local writes non-deterministically
// would break the diff-ordering guarantee the event stream depends on.
package sync

import (
	"sort"

	"go.uber.org/zap"

	"github.com/teranos/treedb/errors"
	"github.com/teranos/treedb/query"
	"github.com/teranos/treedb/store"
	"github.com/teranos/treedb/types"
	"github.com/teranos/treedb/view"
)

// SyncTree owns the server cache, the write log, and the active views.
// The local view at any path is always computable from scratch as the
// server cache with the write log's merged overlay applied; incremental
// recomputation never diverges from that ground truth.
type SyncTree struct {
	serverCache types.Variant
	writeTree   *store.WriteTree
	views       map[string]*view.View
	logger      *zap.SugaredLogger
}

// NewSyncTree creates an empty sync tree.
func NewSyncTree(logger *zap.SugaredLogger) *SyncTree {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SyncTree{
		writeTree: store.NewWriteTree(),
		views:     make(map[string]*view.View),
		logger:    logger,
	}
}

// LocalView computes the value listeners observe at path: the server
// cache with the pending-write overlay applied.
func (st *SyncTree) LocalView(path types.Path) types.Variant {
	return st.writeTree.CalculateValue(st.serverCache.GetChild(path), path)
}

// ServerCache returns the server-confirmed value at path, ignoring any
// pending local writes.
func (st *SyncTree) ServerCache(path types.Path) types.Variant {
	return st.serverCache.GetChild(path)
}

// WriteTree exposes the pending-write log for transport replay.
func (st *SyncTree) WriteTree() *store.WriteTree {
	return st.writeTree
}

// ApplyServerUpdate overwrites the server cache at path with an
// authoritative subtree from the server (a full replacement, never a
// merge) and recomputes every view the path touches.
func (st *SyncTree) ApplyServerUpdate(path types.Path, value types.Variant) []view.Event {
	st.serverCache = st.serverCache.WithChild(path, value)
	st.logger.Debugw("applied server update", "path", path.String())
	return st.recomputeAffected(path)
}

// ApplyServerMerge applies a sparse set of child overwrites under path,
// used for partial pushes. Each child is authoritative; unnamed children
// are untouched.
func (st *SyncTree) ApplyServerMerge(path types.Path, children map[string]types.Variant) []view.Event {
	for key, v := range children {
		st.serverCache = st.serverCache.WithChild(path.Child(key), v)
	}
	st.logger.Debugw("applied server merge", "path", path.String(), "children", len(children))
	return st.recomputeAffected(path)
}

// ApplyUserWrite records a pending local overwrite and, when visible,
// immediately recomputes affected views, so the optimistic change shows
// before any server round trip. An invisible write stays out of the
// local view until the server folds it in; transactions run this way
// when local application is suppressed. serverTimeEstimate resolves any
// server-value placeholders for local viewing; the stored write keeps
// them unresolved for replay. Returns the allocated write id and the
// rollout events.
func (st *SyncTree) ApplyUserWrite(path types.Path, value types.Variant, serverTimeEstimate int64, visible bool) (uint64, []view.Event) {
	writeID := st.writeTree.AllocateWriteID()
	st.writeTree.AddOverwrite(path, value, writeID, visible, serverTimeEstimate)
	st.logger.Debugw("applied user write", "path", path.String(), "write_id", writeID, "visible", visible)
	if !visible {
		return writeID, nil
	}
	return writeID, st.recomputeAffected(path)
}

// ApplyUserMerge records a pending sparse multi-child write under path.
func (st *SyncTree) ApplyUserMerge(path types.Path, children map[string]types.Variant, serverTimeEstimate int64) (uint64, []view.Event) {
	writeID := st.writeTree.AllocateWriteID()
	st.writeTree.AddMerge(path, children, writeID, serverTimeEstimate)
	st.logger.Debugw("applied user merge", "path", path.String(), "write_id", writeID)
	return writeID, st.recomputeAffected(path)
}

// AckUserWrite resolves a pending write. On success the write leaves the
// log; its effect is already (or imminently) folded into a server update.
// On failure the optimistic change is rolled back and every registration
// listening over the write's path is torn down with an Error event
// carrying the rejection code. Unknown ids are a no-op, tolerating
// duplicate acks from the transport.
func (st *SyncTree) AckUserWrite(writeID uint64, success bool, code errors.Code) []view.Event {
	r := st.writeTree.GetWrite(writeID)
	if r == nil {
		return nil
	}
	path := r.Path
	st.writeTree.RemoveWrite(writeID)

	events := st.recomputeAffected(path)
	if success {
		return events
	}

	st.logger.Warnw("user write rejected", "write_id", writeID, "path", path.String(), "code", code.String())
	for _, hash := range st.sortedViewHashes() {
		v := st.views[hash]
		if !v.Spec().Path.Overlaps(path) {
			continue
		}
		events = append(events, v.CancelRegistrations(code)...)
		delete(st.views, hash)
	}
	return events
}

// RevertUserWrite discards a pending write and rolls its optimistic
// effect back without raising any error: the transaction retry loop uses
// it when a conflicting server update makes a provisional write stale.
func (st *SyncTree) RevertUserWrite(writeID uint64) []view.Event {
	r := st.writeTree.GetWrite(writeID)
	if r == nil {
		return nil
	}
	path := r.Path
	st.writeTree.RemoveWrite(writeID)
	return st.recomputeAffected(path)
}

// AddEventRegistration attaches a listener under spec, creating and
// seeding the view on first use. The returned events are the listener's
// initial state: synthetic ChildAdded events for already-present
// children, or a single Value event, depending on the listener kind.
// The second return reports whether this is the first registration for
// the spec, i.e. the transport should start a server listen.
func (st *SyncTree) AddEventRegistration(spec query.Spec, reg view.EventRegistration) ([]view.Event, bool, error) {
	if err := spec.Params.Validate(); err != nil {
		return nil, false, errors.Wrap(err, "invalid query spec")
	}
	hash := spec.Hash()
	v, ok := st.views[hash]
	created := false
	if !ok {
		v = view.NewView(spec)
		// Materialize the current projection before any registration is
		// attached; a listener never sees the load-time diff, only its
		// seed events.
		v.ApplyChange(st.LocalView(spec.Path))
		st.views[hash] = v
		created = true
		st.logger.Debugw("created view", "spec", spec.String())
	}
	v.AddRegistration(reg)
	return v.SeedRegistration(reg), created, nil
}

// RemoveEventRegistration detaches a listener. When the view's last
// registration goes, the view is evicted and the second return tells the
// transport to stop the server listen.
func (st *SyncTree) RemoveEventRegistration(spec query.Spec, registrationID string) (removed, evicted bool) {
	hash := spec.Hash()
	v, ok := st.views[hash]
	if !ok {
		return false, false
	}
	_, removed = v.RemoveRegistration(registrationID)
	if removed && v.IsEmpty() {
		delete(st.views, hash)
		st.logger.Debugw("evicted view", "spec", spec.String())
		return true, true
	}
	return removed, false
}

// CancelQueries tears down every view overlapping path, producing one
// owning Error event per registration. Used for transport-level failures
// (disconnects, token errors, listen rejections); the cached local view
// is left untouched.
func (st *SyncTree) CancelQueries(path types.Path, code errors.Code) []view.Event {
	var events []view.Event
	for _, hash := range st.sortedViewHashes() {
		v := st.views[hash]
		if !v.Spec().Path.Overlaps(path) {
			continue
		}
		events = append(events, v.CancelRegistrations(code)...)
		delete(st.views, hash)
	}
	if len(events) > 0 {
		st.logger.Warnw("canceled queries", "path", path.String(), "code", code.String(), "registrations", len(events))
	}
	return events
}

// ActiveSpecs returns the specs of all live views, for transport
// re-listen after reconnect.
func (st *SyncTree) ActiveSpecs() []query.Spec {
	specs := make([]query.Spec, 0, len(st.views))
	for _, v := range st.views {
		specs = append(specs, v.Spec())
	}
	return specs
}

// recomputeAffected recomputes every view whose query path is an
// ancestor of, equal to, or a descendant of path. Views on disjoint
// subtrees are never touched, bounding recomputation to queries actually
// overlapping the change. Views recompute in sorted spec order so the
// full event log is deterministic, not just each view's slice of it.
func (st *SyncTree) recomputeAffected(path types.Path) []view.Event {
	var events []view.Event
	for _, hash := range st.sortedViewHashes() {
		v := st.views[hash]
		spec := v.Spec()
		if !spec.Path.Overlaps(path) {
			continue
		}
		events = append(events, v.ApplyChange(st.LocalView(spec.Path))...)
	}
	return events
}

func (st *SyncTree) sortedViewHashes() []string {
	hashes := make([]string, 0, len(st.views))
	for h := range st.views {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes
}
