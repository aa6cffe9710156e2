// Package xrpl implements the WebSocket client for rippled nodes: a
// request/response surface correlated by request id, plus the live
// transaction stream.
package xrpl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is the per-node surface the rest of the monitor depends on.
// A client owns exactly one connection; when the connection is lost the
// client is dead and must be replaced, which the node pool handles.
type Client interface {
	Endpoint() string
	LedgerCurrent(ctx context.Context) (int64, error)
	Ledger(ctx context.Context, index int64) ([]TransactionWithMeta, error)
	AccountTx(ctx context.Context, account string, limit int) ([]TransactionWithMeta, error)
	AccountLines(ctx context.Context, account string) ([]TrustLine, error)
	AMMInfo(ctx context.Context, ammAccount string) (*AMMInfo, error)
	SubscribeTransactions(ctx context.Context) (<-chan StreamTx, error)
	// Done is closed when the connection is lost or the client is closed.
	Done() <-chan struct{}
	Close() error
}

// ClientConfig configures connection behavior.
type ClientConfig struct {
	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration
	// PingInterval is the interval for keepalive ping frames.
	PingInterval time.Duration
	// ReadTimeout is the per-read deadline; pongs extend it.
	ReadTimeout time.Duration
	// WriteTimeout is the per-write deadline.
	WriteTimeout time.Duration
}

// DefaultClientConfig returns default connection configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      90 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// WSClient implements Client over gorilla/websocket.
type WSClient struct {
	endpoint string
	config   ClientConfig

	conn    *websocket.Conn
	writeMu sync.Mutex

	requestID atomic.Uint64
	pending   map[uint64]chan response
	pendingMu sync.Mutex

	txCh     chan StreamTx
	closed   atomic.Bool
	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

type response struct {
	result json.RawMessage
	err    error
}

var _ Client = (*WSClient)(nil)

// Dial connects to a rippled WebSocket endpoint.
func Dial(ctx context.Context, endpoint string, config *ClientConfig) (*WSClient, error) {
	cfg := DefaultClientConfig()
	if config != nil {
		cfg = *config
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", endpoint, err)
	}

	c := &WSClient{
		endpoint: endpoint,
		config:   cfg,
		conn:     conn,
		pending:  make(map[uint64]chan response),
		txCh:     make(chan StreamTx, 1000),
		done:     make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// Endpoint returns the node address the client is connected to.
func (c *WSClient) Endpoint() string { return c.endpoint }

// Done is closed when the connection is lost or the client is closed.
func (c *WSClient) Done() <-chan struct{} { return c.done }

// Close tears down the connection. Idempotent.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.config.WriteTimeout))
	c.conn.Close()
	c.writeMu.Unlock()

	c.markDone()
	c.wg.Wait()
	return nil
}

// markDone signals disconnect and fails all in-flight requests.
func (c *WSClient) markDone() {
	c.doneOnce.Do(func() {
		close(c.done)

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			ch <- response{err: ErrClosed}
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()

		close(c.txCh)
	})
}

// request issues one command and decodes the result field into out.
func (c *WSClient) request(ctx context.Context, command string, params map[string]any, out any) error {
	if c.closed.Load() {
		return ErrClosed
	}

	id := c.requestID.Add(1)
	msg := map[string]any{"id": id, "command": command}
	for k, v := range params {
		msg[k] = v
	}

	ch := make(chan response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return fmt.Errorf("write %s: %w", command, err)
	}

	select {
	case resp := <-ch:
		if resp.err != nil {
			return resp.err
		}
		if out != nil {
			if err := json.Unmarshal(resp.result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", command, err)
			}
		}
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return ctx.Err()
	}
}

// LedgerCurrent returns the node's current in-progress ledger index.
func (c *WSClient) LedgerCurrent(ctx context.Context) (int64, error) {
	var result struct {
		LedgerCurrentIndex int64 `json:"ledger_current_index"`
	}
	if err := c.request(ctx, "ledger_current", nil, &result); err != nil {
		return 0, err
	}
	return result.LedgerCurrentIndex, nil
}

// ledgerTx is a transaction as embedded in an expanded ledger response:
// tx fields inline, metadata under "metaData".
type ledgerTx struct {
	tx   Transaction
	meta Meta
}

func (l *ledgerTx) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &l.tx); err != nil {
		return err
	}
	var wrapper struct {
		MetaData Meta `json:"metaData"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	l.meta = wrapper.MetaData
	return nil
}

// Ledger fetches one closed ledger's transaction list, expanded.
// Returns ErrLedgerNotFound if the ledger has aged out of node history.
func (c *WSClient) Ledger(ctx context.Context, index int64) ([]TransactionWithMeta, error) {
	var result struct {
		Ledger struct {
			Transactions []ledgerTx `json:"transactions"`
		} `json:"ledger"`
	}
	err := c.request(ctx, "ledger", map[string]any{
		"ledger_index": index,
		"transactions": true,
		"expand":       true,
	}, &result)
	if err != nil {
		return nil, err
	}

	txs := make([]TransactionWithMeta, 0, len(result.Ledger.Transactions))
	for _, lt := range result.Ledger.Transactions {
		txs = append(txs, TransactionWithMeta{Tx: lt.tx, Meta: lt.meta})
	}
	return txs, nil
}

// AccountTx returns up to limit most recent transactions for an account.
func (c *WSClient) AccountTx(ctx context.Context, account string, limit int) ([]TransactionWithMeta, error) {
	var result struct {
		Transactions []TransactionWithMeta `json:"transactions"`
	}
	err := c.request(ctx, "account_tx", map[string]any{
		"account": account,
		"limit":   limit,
	}, &result)
	if err != nil {
		return nil, err
	}
	return result.Transactions, nil
}

// AccountLines returns the trust lines held against an account.
func (c *WSClient) AccountLines(ctx context.Context, account string) ([]TrustLine, error) {
	var result struct {
		Lines []TrustLine `json:"lines"`
	}
	err := c.request(ctx, "account_lines", map[string]any{"account": account}, &result)
	if err != nil {
		return nil, err
	}
	return result.Lines, nil
}

// AMMInfo returns the current reserves of an AMM pool account.
func (c *WSClient) AMMInfo(ctx context.Context, ammAccount string) (*AMMInfo, error) {
	var result struct {
		AMM AMMInfo `json:"amm"`
	}
	err := c.request(ctx, "amm_info", map[string]any{"amm_account": ammAccount}, &result)
	if err != nil {
		return nil, err
	}
	return &result.AMM, nil
}

// SubscribeTransactions subscribes to the network's validated transaction
// stream and returns the delivery channel. The channel is closed when the
// connection is lost.
func (c *WSClient) SubscribeTransactions(ctx context.Context) (<-chan StreamTx, error) {
	err := c.request(ctx, "subscribe", map[string]any{
		"streams": []string{"transactions"},
	}, nil)
	if err != nil {
		return nil, err
	}
	return c.txCh, nil
}

// readLoop reads messages and dispatches responses and stream events.
func (c *WSClient) readLoop() {
	defer c.wg.Done()
	defer c.markDone()

	for {
		c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(message)
	}
}

func (c *WSClient) handleMessage(message []byte) {
	var probe struct {
		ID     uint64 `json:"id"`
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(message, &probe); err != nil {
		return
	}

	switch probe.Type {
	case "response":
		c.handleResponse(probe.ID, probe.Status, message)
	case "transaction":
		var tx StreamTx
		if err := json.Unmarshal(message, &tx); err != nil {
			return
		}
		select {
		case c.txCh <- tx:
		case <-c.done:
		}
	}
}

func (c *WSClient) handleResponse(id uint64, status string, message []byte) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}

	if status == "error" {
		var errResp struct {
			Error        string `json:"error"`
			ErrorMessage string `json:"error_message"`
		}
		json.Unmarshal(message, &errResp)
		ch <- response{err: wrapAPIError(&APIError{Code: errResp.Error, Message: errResp.ErrorMessage})}
		return
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(message, &resp); err != nil {
		ch <- response{err: fmt.Errorf("decode response: %w", err)}
		return
	}
	ch <- response{result: resp.Result}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Connection is likely dead, reader will notice.
			}
			c.writeMu.Unlock()
		}
	}
}
