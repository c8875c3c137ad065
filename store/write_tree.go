package store

import (
	"github.com/teranos/treedb/types"
)

// WriteRecord is one pending local write, tagged with its monotonically
// increasing id. Exactly one of Overwrite / Merge is meaningful,
// discriminated by IsMerge. Visible=false hides the write from local-view
// computation without removing it from the log (the "set during
// transaction" window).
//
// Payloads are stored with server-value placeholders unresolved, so a
// replay after disconnect can resolve them against a fresh server-time
// estimate. ServerTimeEstimate freezes the estimate taken at submission;
// overlay computation resolves against it, which keeps the overlay a pure
// function of the record log no matter when or how often it is computed.
type WriteRecord struct {
	WriteID            uint64
	Path               types.Path
	Overwrite          types.Variant
	Merge              map[string]types.Variant
	IsMerge            bool
	Visible            bool
	ServerTimeEstimate int64 // millis since epoch at submission
}

// WriteTree is the ordered log of pending writes. Write ids are unique
// and strictly increasing; removal only ever takes out the record with
// the matching id and never reorders the rest.
//
// The merged overlay is recomputed from the record log on every query and
// never cached across mutations. Overlay computation must stay a pure
// function of (server value, record log): resolved server-value
// placeholders from a removed write must not linger in any cache.
type WriteTree struct {
	records     []WriteRecord
	lastWriteID uint64
}

// NewWriteTree returns an empty write log.
func NewWriteTree() *WriteTree {
	return &WriteTree{}
}

// AllocateWriteID returns the next write id in submission order.
func (wt *WriteTree) AllocateWriteID() uint64 {
	wt.lastWriteID++
	return wt.lastWriteID
}

// AddOverwrite appends a full-value write at path. The value keeps any
// server-value placeholders; serverTimeEstimate is the millisecond
// estimate they resolve against for local viewing.
func (wt *WriteTree) AddOverwrite(path types.Path, value types.Variant, writeID uint64, visible bool, serverTimeEstimate int64) {
	wt.records = append(wt.records, WriteRecord{
		WriteID:            writeID,
		Path:               path,
		Overwrite:          value,
		Visible:            visible,
		ServerTimeEstimate: serverTimeEstimate,
	})
}

// AddMerge appends a sparse multi-child write at path. Merges are always
// visible.
func (wt *WriteTree) AddMerge(path types.Path, children map[string]types.Variant, writeID uint64, serverTimeEstimate int64) {
	copied := make(map[string]types.Variant, len(children))
	for k, v := range children {
		copied[k] = v
	}
	wt.records = append(wt.records, WriteRecord{
		WriteID:            writeID,
		Path:               path,
		Merge:              copied,
		IsMerge:            true,
		Visible:            true,
		ServerTimeEstimate: serverTimeEstimate,
	})
}

// GetWrite returns the record with the given id, or nil.
func (wt *WriteTree) GetWrite(writeID uint64) *WriteRecord {
	for i := range wt.records {
		if wt.records[i].WriteID == writeID {
			return &wt.records[i]
		}
	}
	return nil
}

// RemoveWrite deletes the record with the given id. Unknown ids are a
// no-op so duplicate acks from the transport are tolerated. The return
// reports whether a record was removed.
func (wt *WriteTree) RemoveWrite(writeID uint64) bool {
	for i := range wt.records {
		if wt.records[i].WriteID == writeID {
			wt.records = append(wt.records[:i], wt.records[i+1:]...)
			return true
		}
	}
	return false
}

// PendingWrites returns the records in id order. The slice is shared;
// callers must not mutate it.
func (wt *WriteTree) PendingWrites() []WriteRecord {
	return wt.records
}

// IsEmpty reports whether no writes are pending.
func (wt *WriteTree) IsEmpty() bool {
	return len(wt.records) == 0
}

// CalculateOverlay merges every visible pending write that touches
// treePath into one CompoundWrite re-rooted at treePath. Writes are
// applied in ascending id order, so a later write at a shallower-or-equal
// path fully shadows an earlier deeper one.
func (wt *WriteTree) CalculateOverlay(treePath types.Path) CompoundWrite {
	overlay := EmptyCompoundWrite()
	for _, r := range wt.records {
		if !r.Visible || !r.Path.Overlaps(treePath) {
			continue
		}
		if r.IsMerge {
			resolved := make(map[string]types.Variant, len(r.Merge))
			for k, v := range r.Merge {
				resolved[k] = types.ResolveDeferredValue(v, r.ServerTimeEstimate)
			}
			overlay = overlay.Merge(r.Path, resolved)
		} else {
			overlay = overlay.Write(r.Path, types.ResolveDeferredValue(r.Overwrite, r.ServerTimeEstimate))
		}
	}
	return overlay.ChildCompoundWrite(treePath)
}

// CalculateValue computes the local view at treePath: the server subtree
// with the merged overlay applied.
func (wt *WriteTree) CalculateValue(serverSubtree types.Variant, treePath types.Path) types.Variant {
	return wt.CalculateOverlay(treePath).Apply(serverSubtree)
}

// TouchesPath reports whether any visible pending write overlaps path.
func (wt *WriteTree) TouchesPath(path types.Path) bool {
	for _, r := range wt.records {
		if r.Visible && r.Path.Overlaps(path) {
			return true
		}
	}
	return false
}
