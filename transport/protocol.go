// Package transport is the session collaborator: it owns the WebSocket
// connection to the backend, the JSON wire format, write acks, and the
// server-time estimate. The sync core talks to it only through the
// sync.RemoteStore interface and receives pushes through Handler.
package transport

import (
	"github.com/teranos/treedb/errors"
	"github.com/teranos/treedb/query"
	"github.com/teranos/treedb/types"
)

// Handler receives server-initiated traffic. Implemented by sync.Client;
// every method hands off to the client's serialization point, so calls
// from the read goroutine return immediately.
type Handler interface {
	OnServerUpdate(path types.Path, value types.Variant)
	OnServerMerge(path types.Path, children map[string]types.Variant)
	OnListenRevoked(path types.Path, code errors.Code)
	OnReconnected()
}

// MsgType identifies the wire protocol message kind.
type MsgType string

const (
	// MsgHello is the server's session greeting, carrying its clock.
	MsgHello MsgType = "hello"

	// MsgListen starts server-side change streaming for a query.
	MsgListen MsgType = "listen"

	// MsgUnlisten stops it.
	MsgUnlisten MsgType = "unlisten"

	// MsgPut is a full-value client write.
	MsgPut MsgType = "put"

	// MsgMerge is a sparse multi-child client write.
	MsgMerge MsgType = "merge"

	// MsgAck is the server's verdict on a put or merge, matched by
	// request id.
	MsgAck MsgType = "ack"

	// MsgUpdate is an authoritative subtree push.
	MsgUpdate MsgType = "update"

	// MsgMergeUpdate is a sparse child-set push.
	MsgMergeUpdate MsgType = "merge_update"

	// MsgRevoke cancels a listen server-side (permission change, etc).
	MsgRevoke MsgType = "revoke"
)

// Msg is the envelope for all wire messages. Fields are populated per
// type; unused fields are omitted on the wire.
type Msg struct {
	Type  MsgType `json:"type"`
	ReqID string  `json:"req_id,omitempty"`
	Path  string  `json:"path,omitempty"`

	// Put / Update payload.
	Data interface{} `json:"data,omitempty"`

	// Merge / MergeUpdate payload.
	Children map[string]interface{} `json:"children,omitempty"`

	// Listen / Unlisten query settings.
	Query *QueryMsg `json:"query,omitempty"`

	// Ack / Revoke verdict.
	Success   bool `json:"success,omitempty"`
	ErrorCode int  `json:"error_code,omitempty"`

	// Hello.
	ServerTimeMillis int64 `json:"server_time_ms,omitempty"`
}

// QueryMsg is the wire form of query params.
type QueryMsg struct {
	OrderBy    string      `json:"order_by,omitempty"`
	ChildKey   string      `json:"child_key,omitempty"`
	StartValue interface{} `json:"start_value,omitempty"`
	StartKey   string      `json:"start_key,omitempty"`
	HasStart   bool        `json:"has_start,omitempty"`
	EndValue   interface{} `json:"end_value,omitempty"`
	EndKey     string      `json:"end_key,omitempty"`
	HasEnd     bool        `json:"has_end,omitempty"`
	LimitFirst int         `json:"limit_first,omitempty"`
	LimitLast  int         `json:"limit_last,omitempty"`
}

// encodeQuery renders a spec's params for the wire.
func encodeQuery(spec query.Spec) *QueryMsg {
	p := spec.Params
	if p.IsDefault() {
		return nil
	}
	m := &QueryMsg{
		ChildKey:   p.ChildKey,
		LimitFirst: p.LimitFirst,
		LimitLast:  p.LimitLast,
	}
	switch p.OrderBy {
	case query.OrderByPriority:
		m.OrderBy = "priority"
	case query.OrderByChild:
		m.OrderBy = "child"
	case query.OrderByKey:
		m.OrderBy = "key"
	case query.OrderByValue:
		m.OrderBy = "value"
	}
	if v, k, ok := p.StartBound(); ok {
		m.HasStart = true
		m.StartValue = v.ToInterface()
		m.StartKey = k
	}
	if v, k, ok := p.EndBound(); ok {
		m.HasEnd = true
		m.EndValue = v.ToInterface()
		m.EndKey = k
	}
	return m
}

// decodeChildren converts a wire child map into Variants.
func decodeChildren(raw map[string]interface{}) map[string]types.Variant {
	children := make(map[string]types.Variant, len(raw))
	for k, v := range raw {
		children[k] = types.FromInterface(v)
	}
	return children
}
