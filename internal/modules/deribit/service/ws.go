package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const heartbeatInterval = 30 // секунды, минимум у Deribit 10

var errWSClosed = errors.New("deribit ws: connection closed")

// WSTransport — JSON-RPC поверх одного WebSocket. Ответы матчатся по id,
// соединение поднимается лениво и переподключается на следующем вызове.
type WSTransport struct {
	url    string
	dialer *websocket.Dialer
	log    *zap.Logger

	seq   atomic.Int64
	epoch atomic.Uint64

	mu      sync.Mutex // conn + pending
	conn    *websocket.Conn
	pending map[int64]chan rpcResponse
	closed  bool

	writeMu sync.Mutex
}

func NewWSTransport(url string, log *zap.Logger) *WSTransport {
	return &WSTransport{
		url:     url,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:     log.Named("deribit_ws"),
		pending: make(map[int64]chan rpcResponse),
	}
}

func (t *WSTransport) Epoch() uint64 { return t.epoch.Load() }

func (t *WSTransport) Call(ctx context.Context, method string, params any, _ string, out any) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}

	id := t.seq.Add(1)
	ch := make(chan rpcResponse, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.write(conn, rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		t.drop(conn)
		return errors.Wrapf(err, "%s write", method)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return errors.Wrap(errWSClosed, method)
		}
		return decodeResult(method, resp, out)
	}
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.drop(conn)
	return nil
}

func (t *WSTransport) connect(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errWSClosed
	}
	if t.conn != nil {
		return t.conn, nil
	}

	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "deribit ws dial")
	}
	t.conn = conn
	t.epoch.Add(1)
	t.log.Info("connected", zap.String("url", t.url), zap.Uint64("epoch", t.epoch.Load()))

	go t.readLoop(conn)

	// heartbeat, иначе биржа молча закрывает простаивающий сокет
	hb := rpcRequest{
		JSONRPC: "2.0",
		ID:      t.seq.Add(1),
		Method:  "public/set_heartbeat",
		Params:  map[string]any{"interval": heartbeatInterval},
	}
	if err := t.write(conn, hb); err != nil {
		t.log.Warn("set_heartbeat failed", zap.Error(err))
	}
	return conn, nil
}

func (t *WSTransport) write(conn *websocket.Conn, req rpcRequest) error {
	payload, err := sonic.Marshal(req)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	defer t.drop(conn)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.log.Warn("read error", zap.Error(err))
			return
		}

		var resp rpcResponse
		if err := sonic.Unmarshal(msg, &resp); err != nil {
			continue
		}

		if resp.Method == "heartbeat" {
			var p struct {
				Type string `json:"type"`
			}
			_ = sonic.Unmarshal(resp.Params, &p)
			if p.Type == "test_request" {
				_ = t.write(conn, rpcRequest{JSONRPC: "2.0", ID: t.seq.Add(1), Method: "public/test"})
			}
			continue
		}

		t.mu.Lock()
		if ch, ok := t.pending[resp.ID]; ok {
			delete(t.pending, resp.ID)
			ch <- resp
		}
		t.mu.Unlock()
	}
}

// drop закрывает соединение и будит всех ожидающих.
func (t *WSTransport) drop(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn != conn {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	pending := t.pending
	t.pending = make(map[int64]chan rpcResponse)
	t.mu.Unlock()

	_ = conn.Close()
	for _, ch := range pending {
		close(ch)
	}
}
