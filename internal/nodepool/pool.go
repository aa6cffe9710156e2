// Package nodepool maintains live connections to redundant rippled
// endpoints, retries queries against any live node, and signals when a
// reconnect may have opened a ledger gap.
package nodepool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"xrpl-token-watch/internal/domain"
	"xrpl-token-watch/internal/observability"
	"xrpl-token-watch/internal/perf"
	"xrpl-token-watch/internal/xrpl"
)

const (
	// DefaultMaxRetries bounds connect and query attempts.
	DefaultMaxRetries = 3

	// DefaultConnectTimeout bounds one connection attempt.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultBackoffBase is the first retry delay; it doubles per attempt.
	DefaultBackoffBase = 1 * time.Second
)

// ErrNoNodes is returned when no endpoint could be connected. This is fatal
// at startup: the process cannot observe the network at all.
var ErrNoNodes = errors.New("nodepool: no nodes connected after retries")

// Dialer establishes a connection to one endpoint. Injectable for tests.
type Dialer func(ctx context.Context, endpoint string) (xrpl.Client, error)

// Pool manages the set of live node connections.
type Pool struct {
	endpoints      []string
	dial           Dialer
	maxRetries     int
	connectTimeout time.Duration
	backoffBase    time.Duration
	logger         *log.Logger
	obs            *observability.Metrics
	perf           *perf.Tracker

	mu         sync.RWMutex
	nodes      []xrpl.Client
	subscribed bool
	closed     bool

	currentLedger atomic.Int64

	txOut  chan xrpl.StreamTx
	resync chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// Options configures a Pool.
type Options struct {
	// Dialer overrides the default WebSocket dialer.
	Dialer         Dialer
	MaxRetries     int
	ConnectTimeout time.Duration
	// BackoffBase overrides the 1s retry backoff base (shrunk in tests).
	BackoffBase time.Duration
	Logger      *log.Logger
	Metrics     *observability.Metrics
	// Perf records NodeConnect latency samples when set.
	Perf *perf.Tracker
}

// New creates a Pool over the configured endpoints.
func New(endpoints []string, opts Options) *Pool {
	dial := opts.Dialer
	if dial == nil {
		dial = func(ctx context.Context, endpoint string) (xrpl.Client, error) {
			return xrpl.Dial(ctx, endpoint, nil)
		}
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = DefaultConnectTimeout
	}
	backoffBase := opts.BackoffBase
	if backoffBase == 0 {
		backoffBase = DefaultBackoffBase
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Pool{
		endpoints:      endpoints,
		dial:           dial,
		maxRetries:     maxRetries,
		connectTimeout: connectTimeout,
		backoffBase:    backoffBase,
		logger:         logger,
		obs:            opts.Metrics,
		perf:           opts.Perf,
		txOut:          make(chan xrpl.StreamTx, 1000),
		resync:         make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
}

// ConnectAll connects every configured endpoint, each with bounded retries
// and exponential backoff, and seeds the pool's view of the network's
// current ledger. Returns ErrNoNodes if zero endpoints succeed.
func (p *Pool) ConnectAll(ctx context.Context) error {
	for _, endpoint := range p.endpoints {
		if _, err := p.connectNode(ctx, endpoint); err != nil {
			p.logger.Printf("giving up on %s: %v", endpoint, err)
		}
	}

	p.mu.RLock()
	n := len(p.nodes)
	p.mu.RUnlock()
	if n == 0 {
		return ErrNoNodes
	}
	p.logger.Printf("connected to %d/%d nodes, current ledger %d", n, len(p.endpoints), p.CurrentLedger())
	return nil
}

// connectNode attempts one endpoint with retries, seeds the current-ledger
// view, adds the node to the pool, and starts its disconnect monitor.
func (p *Pool) connectNode(ctx context.Context, endpoint string) (xrpl.Client, error) {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.backoffBase * time.Duration(1<<(attempt-1))):
			}
		}

		dialCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
		client, err := p.dial(dialCtx, endpoint)
		cancel()
		if err != nil {
			lastErr = err
			p.logger.Printf("attempt %d/%d failed for %s: %v", attempt+1, p.maxRetries, endpoint, err)
			continue
		}

		// Conservative about finality: current ledger is still open, so
		// the last closed one is current-1.
		if idx, err := client.LedgerCurrent(ctx); err == nil {
			p.advanceCurrentLedger(idx - 1)
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			client.Close()
			return nil, ErrNoNodes
		}
		p.nodes = append(p.nodes, client)
		subscribed := p.subscribed
		p.mu.Unlock()

		p.logger.Printf("connected to %s", endpoint)
		if p.obs != nil {
			p.obs.ConnectedNodes.Inc()
		}
		if p.perf != nil {
			p.perf.Record(ctx, domain.CategoryNodeConnect, start, endpoint, true)
		}

		if subscribed {
			p.subscribeNode(ctx, client)
		}

		p.wg.Add(1)
		go p.monitor(client)
		return client, nil
	}

	if p.perf != nil {
		p.perf.Record(ctx, domain.CategoryNodeConnect, start, endpoint, false)
	}
	return nil, fmt.Errorf("connect %s: %w", endpoint, lastErr)
}

func (p *Pool) advanceCurrentLedger(index int64) {
	for {
		cur := p.currentLedger.Load()
		if index <= cur {
			return
		}
		if p.currentLedger.CompareAndSwap(cur, index) {
			return
		}
	}
}

// CurrentLedger returns the pool's view of the last closed network ledger.
func (p *Pool) CurrentLedger() int64 {
	return p.currentLedger.Load()
}

// NoteLedger advances the current-ledger view from stream observations.
func (p *Pool) NoteLedger(index int64) {
	p.advanceCurrentLedger(index)
}

// Resync delivers one signal after any successful reconnect: the dropped
// connection may have caused a gap, so a catch-up run is due. Signals are
// coalesced.
func (p *Pool) Resync() <-chan struct{} {
	return p.resync
}

// Transactions is the merged live transaction feed across all nodes.
// No cross-node ordering is guaranteed; duplicates are possible.
func (p *Pool) Transactions() <-chan xrpl.StreamTx {
	return p.txOut
}

// SubscribeTransactions subscribes every live node to the network
// transaction stream and begins forwarding into Transactions(). Nodes
// connected later (reconnects) are subscribed automatically.
func (p *Pool) SubscribeTransactions(ctx context.Context) error {
	p.mu.Lock()
	p.subscribed = true
	nodes := make([]xrpl.Client, len(p.nodes))
	copy(nodes, p.nodes)
	p.mu.Unlock()

	var ok int
	for _, client := range nodes {
		if err := p.subscribeNode(ctx, client); err != nil {
			p.logger.Printf("subscription failed for %s: %v", client.Endpoint(), err)
			continue
		}
		ok++
	}
	if ok == 0 {
		return fmt.Errorf("nodepool: no node accepted the transaction subscription")
	}
	return nil
}

func (p *Pool) subscribeNode(ctx context.Context, client xrpl.Client) error {
	ch, err := client.SubscribeTransactions(ctx)
	if err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for tx := range ch {
			p.advanceCurrentLedger(tx.LedgerIndex)
			// The consumer may be gone at shutdown with txOut full;
			// never block wg.Wait in Close.
			select {
			case p.txOut <- tx:
			case <-p.done:
				return
			}
		}
	}()
	return nil
}

// monitor waits for a node to drop, removes it, and reconnects.
func (p *Pool) monitor(client xrpl.Client) {
	defer p.wg.Done()

	<-client.Done()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	for i, c := range p.nodes {
		if c == client {
			p.nodes = append(p.nodes[:i], p.nodes[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	endpoint := client.Endpoint()
	p.logger.Printf("disconnected from %s, reconnecting...", endpoint)
	if p.obs != nil {
		p.obs.ConnectedNodes.Dec()
	}

	ctx := context.Background()
	if _, err := p.connectNode(ctx, endpoint); err != nil {
		p.logger.Printf("reconnect to %s failed: %v", endpoint, err)
		return
	}

	if p.obs != nil {
		p.obs.NodeReconnects.Inc()
		p.obs.ResyncsTriggered.Inc()
	}

	// The gap since the last watermark must be reconciled.
	select {
	case p.resync <- struct{}{}:
	default:
	}
}

// liveNode returns a live node, rotated by attempt for crude failover.
func (p *Pool) liveNode(attempt int) (xrpl.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.nodes) == 0 {
		return nil, ErrNoNodes
	}
	return p.nodes[attempt%len(p.nodes)], nil
}

// withRetry runs fn against a live node with bounded exponential-backoff
// retries, surfacing the final error on exhaustion. Permanently-missing-data
// errors are not retried.
func (p *Pool) withRetry(ctx context.Context, op string, fn func(xrpl.Client) error) error {
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			if p.obs != nil {
				p.obs.QueryRetries.Inc()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoffBase * time.Duration(1<<(attempt-1))):
			}
		}

		client, err := p.liveNode(attempt)
		if err != nil {
			lastErr = err
			continue
		}

		err = fn(client)
		if err == nil {
			return nil
		}
		if errors.Is(err, xrpl.ErrLedgerNotFound) || ctx.Err() != nil {
			return err
		}
		lastErr = err
		p.logger.Printf("%s failed (attempt %d/%d) on %s: %v", op, attempt+1, p.maxRetries, client.Endpoint(), err)
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

// LedgerCurrent queries the network's current ledger index.
func (p *Pool) LedgerCurrent(ctx context.Context) (int64, error) {
	var out int64
	err := p.withRetry(ctx, "ledger_current", func(c xrpl.Client) error {
		idx, err := c.LedgerCurrent(ctx)
		if err != nil {
			return err
		}
		out = idx
		return nil
	})
	return out, err
}

// Ledger fetches one ledger's transaction list.
func (p *Pool) Ledger(ctx context.Context, index int64) ([]xrpl.TransactionWithMeta, error) {
	var out []xrpl.TransactionWithMeta
	err := p.withRetry(ctx, "ledger", func(c xrpl.Client) error {
		txs, err := c.Ledger(ctx, index)
		if err != nil {
			return err
		}
		out = txs
		return nil
	})
	return out, err
}

// AccountTx fetches up to limit recent transactions for an account.
func (p *Pool) AccountTx(ctx context.Context, account string, limit int) ([]xrpl.TransactionWithMeta, error) {
	var out []xrpl.TransactionWithMeta
	err := p.withRetry(ctx, "account_tx", func(c xrpl.Client) error {
		txs, err := c.AccountTx(ctx, account, limit)
		if err != nil {
			return err
		}
		out = txs
		return nil
	})
	return out, err
}

// AccountLines fetches the trust lines held against an account.
func (p *Pool) AccountLines(ctx context.Context, account string) ([]xrpl.TrustLine, error) {
	var out []xrpl.TrustLine
	err := p.withRetry(ctx, "account_lines", func(c xrpl.Client) error {
		lines, err := c.AccountLines(ctx, account)
		if err != nil {
			return err
		}
		out = lines
		return nil
	})
	return out, err
}

// AMMInfo fetches the current reserves of an AMM pool account.
func (p *Pool) AMMInfo(ctx context.Context, ammAccount string) (*xrpl.AMMInfo, error) {
	var out *xrpl.AMMInfo
	err := p.withRetry(ctx, "amm_info", func(c xrpl.Client) error {
		amm, err := c.AMMInfo(ctx, ammAccount)
		if err != nil {
			return err
		}
		out = amm
		return nil
	})
	return out, err
}

// AnyNodeEndpoint returns the endpoint of a live node, for tagging metric
// samples, or "" when the pool is empty.
func (p *Pool) AnyNodeEndpoint() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.nodes) == 0 {
		return ""
	}
	return p.nodes[0].Endpoint()
}

// Close tears down every connection.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	nodes := p.nodes
	p.nodes = nil
	p.mu.Unlock()

	close(p.done)

	for _, client := range nodes {
		client.Close()
	}
	p.wg.Wait()
	close(p.txOut)
}
