package transport

import (
	"context"
	gosync "sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/treedb/errors"
	"github.com/teranos/treedb/query"
	"github.com/teranos/treedb/sync"
	"github.com/teranos/treedb/types"
)

// Options tunes the connection.
type Options struct {
	// DialAttempts caps connect and reconnect attempts. Zero means 5.
	DialAttempts uint

	// WritesPerSecond paces outbound messages. Zero means 100.
	WritesPerSecond float64

	// WriteBurst is the pacing burst size. Zero means 10.
	WriteBurst int

	// Dialer overrides connection establishment, for tests. The default
	// dials the store's URL with gorilla's dialer.
	Dialer func(ctx context.Context) (Conn, error)
}

// Store is the WebSocket implementation of sync.RemoteStore. One Store
// serves one logical session; it reconnects with bounded backoff on read
// failure, asks the handler to re-listen and replay writes afterward,
// and revokes all listeners with Disconnected when it finally gives up.
type Store struct {
	url     string
	handler Handler
	opts    Options
	logger  *zap.SugaredLogger
	limiter *rate.Limiter

	offsetMillis atomic.Int64

	mu      gosync.Mutex
	conn    Conn
	pending map[string]sync.AckFunc

	outbound  chan Msg
	connected chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closed    gosync.Once
}

// NewStore builds a store for the given WebSocket URL. Call Connect
// before use.
func NewStore(url string, handler Handler, opts Options, logger *zap.SugaredLogger) *Store {
	if opts.DialAttempts == 0 {
		opts.DialAttempts = 5
	}
	if opts.WritesPerSecond == 0 {
		opts.WritesPerSecond = 100
	}
	if opts.WriteBurst == 0 {
		opts.WriteBurst = 10
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		url:       url,
		handler:   handler,
		opts:      opts,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(opts.WritesPerSecond), opts.WriteBurst),
		pending:   make(map[string]sync.AckFunc),
		outbound:  make(chan Msg, 64),
		connected: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	if s.opts.Dialer == nil {
		s.opts.Dialer = s.dialWebSocket
	}
	return s
}

func (s *Store) dialWebSocket(ctx context.Context) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", s.url)
	}
	return newWSConn(conn), nil
}

// Connect establishes the session and starts the read and write loops.
func (s *Store) Connect(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	close(s.connected)

	go s.readLoop()
	go s.writeLoop()
	s.logger.Infow("connected", "url", s.url)
	return nil
}

// dial attempts the connection with bounded exponential backoff.
func (s *Store) dial(ctx context.Context) (Conn, error) {
	return retry.DoWithData(
		func() (Conn, error) { return s.opts.Dialer(ctx) },
		retry.Context(ctx),
		retry.Attempts(s.opts.DialAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warnw("dial failed, retrying", "attempt", n+1, "error", err)
		}),
	)
}

// Close tears the session down. Pending acks are dropped; the sync layer
// keeps its writes and would replay them on a future session.
func (s *Store) Close() {
	s.closed.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
	})
}

// ServerTimeOffsetMillis reports the estimated serverTime - localTime,
// taken from the session hello.
func (s *Store) ServerTimeOffsetMillis() int64 {
	return s.offsetMillis.Load()
}

// Listen starts server-side streaming for spec.
func (s *Store) Listen(spec query.Spec) {
	s.send(Msg{Type: MsgListen, Path: spec.Path.String(), Query: encodeQuery(spec)})
}

// Unlisten stops server-side streaming for spec.
func (s *Store) Unlisten(spec query.Spec) {
	s.send(Msg{Type: MsgUnlisten, Path: spec.Path.String(), Query: encodeQuery(spec)})
}

// Put sends a full-value write. onAck fires when the server's verdict
// arrives; it never fires if the session dies first (the sync layer
// replays the write on reconnect instead).
func (s *Store) Put(path types.Path, value types.Variant, onAck sync.AckFunc) {
	reqID := uuid.NewString()
	s.mu.Lock()
	s.pending[reqID] = onAck
	s.mu.Unlock()
	s.send(Msg{Type: MsgPut, ReqID: reqID, Path: path.String(), Data: value.ToInterface()})
}

// Merge sends a sparse multi-child write.
func (s *Store) Merge(path types.Path, children map[string]types.Variant, onAck sync.AckFunc) {
	reqID := uuid.NewString()
	wire := make(map[string]interface{}, len(children))
	for k, v := range children {
		wire[k] = v.ToInterface()
	}
	s.mu.Lock()
	s.pending[reqID] = onAck
	s.mu.Unlock()
	s.send(Msg{Type: MsgMerge, ReqID: reqID, Path: path.String(), Children: wire})
}

// send queues one outbound message. Messages are dropped once the store
// is closed.
func (s *Store) send(msg Msg) {
	select {
	case s.outbound <- msg:
	case <-s.ctx.Done():
	}
}

// writeLoop drains the outbound queue through the rate limiter and keeps
// the connection alive with pings.
func (s *Store) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-s.outbound:
			if err := s.limiter.Wait(s.ctx); err != nil {
				return
			}
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if conn == nil {
				// Queued before Connect: hold the message until the
				// session is up instead of dropping it.
				select {
				case <-s.connected:
				case <-s.ctx.Done():
					return
				}
				s.mu.Lock()
				conn = s.conn
				s.mu.Unlock()
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Warnw("write failed", "type", msg.Type, "error", err)
			}
		case <-ticker.C:
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()
			if p, ok := conn.(interface{ Ping() error }); ok {
				if err := p.Ping(); err != nil {
					s.logger.Debugw("ping failed", "error", err)
				}
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// readLoop consumes server messages until the connection dies, then
// reconnects. When reconnection gives up it revokes every listener with
// Disconnected and shuts the store down.
func (s *Store) readLoop() {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		var msg Msg
		err := conn.ReadJSON(&msg)
		if err == nil {
			s.dispatch(msg)
			continue
		}
		if s.ctx.Err() != nil {
			return
		}

		s.logger.Warnw("connection lost, reconnecting", "error", err)
		s.dropPending()

		newConn, dialErr := s.dial(s.ctx)
		if dialErr != nil {
			s.logger.Errorw("reconnect failed, revoking listeners", "error", dialErr)
			s.handler.OnListenRevoked(types.RootPath(), errors.CodeDisconnected)
			s.Close()
			return
		}
		s.mu.Lock()
		s.conn = newConn
		s.mu.Unlock()
		s.handler.OnReconnected()
	}
}

// dropPending forgets in-flight acks from a dead connection. The writes
// themselves stay pending in the sync layer and are replayed after
// reconnect under fresh request ids.
func (s *Store) dropPending() {
	s.mu.Lock()
	s.pending = make(map[string]sync.AckFunc)
	s.mu.Unlock()
}

// dispatch routes one server message.
func (s *Store) dispatch(msg Msg) {
	switch msg.Type {
	case MsgHello:
		offset := msg.ServerTimeMillis - time.Now().UnixMilli()
		s.offsetMillis.Store(offset)
		s.logger.Debugw("session hello", "server_time_offset_ms", offset)

	case MsgUpdate:
		s.handler.OnServerUpdate(types.NewPath(msg.Path), types.FromInterface(msg.Data))

	case MsgMergeUpdate:
		s.handler.OnServerMerge(types.NewPath(msg.Path), decodeChildren(msg.Children))

	case MsgAck:
		s.mu.Lock()
		onAck, ok := s.pending[msg.ReqID]
		delete(s.pending, msg.ReqID)
		s.mu.Unlock()
		if ok {
			code := errors.Code(msg.ErrorCode)
			if msg.Success {
				code = errors.CodeNone
			}
			onAck(msg.Success, code)
		}

	case MsgRevoke:
		s.handler.OnListenRevoked(types.NewPath(msg.Path), errors.Code(msg.ErrorCode))

	default:
		s.logger.Warnw("unknown message type", "type", msg.Type)
	}
}
