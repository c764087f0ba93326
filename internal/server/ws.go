package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solana-token-ledger/internal/domain"
	"solana-token-ledger/internal/journal"
	"solana-token-ledger/internal/observability"
	"solana-token-ledger/internal/pda"
)

const (
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 64
	wsMaxMessage   = 64 << 10
)

// JSON-RPC 2.0 error codes.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcNotification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  notificationParams `json:"params"`
}

type notificationParams struct {
	Subscription uint64             `json:"subscription"`
	Result       notificationResult `json:"result"`
}

type notificationResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value EventResponse `json:"value"`
}

// Hub pushes journal events to WebSocket clients subscribed to an account
// or mint address. It implements journal.Notifier.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
}

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*wsClient]struct{}),
	}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu   sync.Mutex
	subs map[uint64]string // subscription id -> address
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// ServeHTTP upgrades the connection and serves JSON-RPC subscription calls
// until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		done: make(chan struct{}),
		subs: make(map[uint64]string),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(c)
	}()

	h.readLoop(c)

	c.close()
	wg.Wait()
	_ = conn.Close()

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	observability.UpdateWSSubscriptions(h.Subscriptions())
}

func (h *Hub) readLoop(c *wsClient) {
	c.conn.SetReadLimit(wsMaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		resp := h.dispatch(c, data)
		out, err := json.Marshal(resp)
		if err != nil {
			h.logger.Error("marshal rpc response", zap.Error(err))
			continue
		}
		select {
		case c.send <- out:
		case <-c.done:
			return
		}
	}
}

func (h *Hub) writeLoop(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			return
		}
	}
}

func (h *Hub) dispatch(c *wsClient, data []byte) rpcResponse {
	var req rpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return rpcFailure(nil, rpcParseError, "parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return rpcFailure(req.ID, rpcInvalidRequest, "invalid request")
	}

	switch req.Method {
	case "accountSubscribe":
		var address string
		if len(req.Params) < 1 || json.Unmarshal(req.Params[0], &address) != nil {
			return rpcFailure(req.ID, rpcInvalidParams, "expected [address]")
		}
		if err := pda.ValidateAddress(address); err != nil {
			return rpcFailure(req.ID, rpcInvalidParams, err.Error())
		}
		id := h.nextID.Add(1)
		c.mu.Lock()
		c.subs[id] = address
		c.mu.Unlock()
		observability.UpdateWSSubscriptions(h.Subscriptions())
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: id}

	case "accountUnsubscribe":
		var id uint64
		if len(req.Params) < 1 || json.Unmarshal(req.Params[0], &id) != nil {
			return rpcFailure(req.ID, rpcInvalidParams, "expected [subscription]")
		}
		c.mu.Lock()
		_, ok := c.subs[id]
		delete(c.subs, id)
		c.mu.Unlock()
		observability.UpdateWSSubscriptions(h.Subscriptions())
		return rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: ok}

	default:
		return rpcFailure(req.ID, rpcMethodNotFound, "method not found: "+req.Method)
	}
}

func rpcFailure(id json.RawMessage, code int, msg string) rpcResponse {
	return rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}

// Notify implements journal.Notifier. Slow clients whose send buffer is
// full miss the notification.
func (h *Hub) Notify(e *domain.LedgerEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		c.mu.Lock()
		var ids []uint64
		for id, addr := range c.subs {
			if e.Touches(addr) {
				ids = append(ids, id)
			}
		}
		c.mu.Unlock()

		for _, id := range ids {
			n := rpcNotification{
				JSONRPC: "2.0",
				Method:  "accountNotification",
				Params: notificationParams{
					Subscription: id,
				},
			}
			n.Params.Result.Context.Slot = e.Slot
			n.Params.Result.Value = eventResponse(e)

			msg, err := json.Marshal(n)
			if err != nil {
				h.logger.Error("marshal notification", zap.Error(err))
				continue
			}
			select {
			case c.send <- msg:
				observability.RecordWSNotification()
			default:
				h.logger.Warn("websocket client too slow, notification dropped",
					zap.Uint64("subscription", id),
					zap.Uint64("slot", e.Slot),
				)
			}
		}
	}
}

// Subscriptions returns the number of active subscriptions.
func (h *Hub) Subscriptions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.clients {
		c.mu.Lock()
		n += len(c.subs)
		c.mu.Unlock()
	}
	return n
}

// Close disconnects all clients and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		c.close()
		_ = c.conn.Close()
	}
}

var _ journal.Notifier = (*Hub)(nil)
