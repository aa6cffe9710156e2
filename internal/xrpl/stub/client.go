// Package stub provides a scripted xrpl.Client for tests.
package stub

import (
	"context"
	"errors"
	"sync"

	"xrpl-token-watch/internal/xrpl"
)

// ErrNotFound is returned when scripted data is missing.
var ErrNotFound = errors.New("not found")

// Client implements xrpl.Client backed by scripted maps. Per-command error
// fields make every query fail until cleared, which is how retry-exhaustion
// paths are exercised.
type Client struct {
	mu sync.Mutex

	Addr          string
	CurrentLedger int64
	Ledgers       map[int64][]xrpl.TransactionWithMeta
	AccountTxs    map[string][]xrpl.TransactionWithMeta
	Lines         map[string][]xrpl.TrustLine
	AMMs          map[string]*xrpl.AMMInfo

	LedgerErr       map[int64]error
	AccountTxErr    error
	AccountLinesErr error
	AMMInfoErr      error

	Stream chan xrpl.StreamTx
	done   chan struct{}
	closed bool
}

var _ xrpl.Client = (*Client)(nil)

// New creates an empty scripted client.
func New(addr string) *Client {
	return &Client{
		Addr:       addr,
		Ledgers:    make(map[int64][]xrpl.TransactionWithMeta),
		AccountTxs: make(map[string][]xrpl.TransactionWithMeta),
		Lines:      make(map[string][]xrpl.TrustLine),
		AMMs:       make(map[string]*xrpl.AMMInfo),
		LedgerErr:  make(map[int64]error),
		Stream:     make(chan xrpl.StreamTx, 100),
		done:       make(chan struct{}),
	}
}

// Endpoint returns the scripted node address.
func (c *Client) Endpoint() string { return c.Addr }

// LedgerCurrent returns the scripted current ledger index.
func (c *Client) LedgerCurrent(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CurrentLedger, nil
}

// Ledger returns the scripted transaction list for a ledger index.
func (c *Client) Ledger(_ context.Context, index int64) ([]xrpl.TransactionWithMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.LedgerErr[index]; ok {
		return nil, err
	}
	txs, ok := c.Ledgers[index]
	if !ok {
		return nil, nil
	}
	return txs, nil
}

// AccountTx returns the scripted recent transactions for an account.
func (c *Client) AccountTx(_ context.Context, account string, limit int) ([]xrpl.TransactionWithMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AccountTxErr != nil {
		return nil, c.AccountTxErr
	}
	txs := c.AccountTxs[account]
	if limit > 0 && limit < len(txs) {
		txs = txs[:limit]
	}
	return txs, nil
}

// AccountLines returns the scripted trust lines for an account.
func (c *Client) AccountLines(_ context.Context, account string) ([]xrpl.TrustLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AccountLinesErr != nil {
		return nil, c.AccountLinesErr
	}
	return c.Lines[account], nil
}

// AMMInfo returns the scripted pool state for an AMM account.
func (c *Client) AMMInfo(_ context.Context, ammAccount string) (*xrpl.AMMInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AMMInfoErr != nil {
		return nil, c.AMMInfoErr
	}
	amm, ok := c.AMMs[ammAccount]
	if !ok {
		return nil, ErrNotFound
	}
	return amm, nil
}

// SubscribeTransactions returns the scripted stream channel.
func (c *Client) SubscribeTransactions(_ context.Context) (<-chan xrpl.StreamTx, error) {
	return c.Stream, nil
}

// Done is closed by Close.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close marks the client dead and closes the stream.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	close(c.Stream)
	return nil
}

// SetAccountLinesErr scripts a persistent account_lines failure.
func (c *Client) SetAccountLinesErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccountLinesErr = err
}

// SetCurrentLedger updates the scripted current ledger index.
func (c *Client) SetCurrentLedger(index int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CurrentLedger = index
}
