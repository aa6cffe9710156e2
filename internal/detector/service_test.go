package detector

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"xrpl-token-watch/internal/domain"
	"xrpl-token-watch/internal/perf"
	"xrpl-token-watch/internal/storage/memory"
	"xrpl-token-watch/internal/watermark"
	"xrpl-token-watch/internal/xrpl"
	"xrpl-token-watch/internal/xrpl/stub"
)

const (
	testBurnAddress = "rBurnFirstledger"
	testCreator     = "rCreatorAccount1"
	testIssuer      = "rIssuerAccount1"
	testAMMAccount  = "rAMMPoolAccount1"
	testCurrency    = "ABC"
)

// stubQuerier adapts the scripted client to the pool query surface.
type stubQuerier struct {
	c *stub.Client
}

func (q stubQuerier) CurrentLedger() int64 {
	n, _ := q.c.LedgerCurrent(context.Background())
	return n
}

func (q stubQuerier) Ledger(ctx context.Context, index int64) ([]xrpl.TransactionWithMeta, error) {
	return q.c.Ledger(ctx, index)
}

func (q stubQuerier) AccountTx(ctx context.Context, account string, limit int) ([]xrpl.TransactionWithMeta, error) {
	return q.c.AccountTx(ctx, account, limit)
}

func (q stubQuerier) AccountLines(ctx context.Context, account string) ([]xrpl.TrustLine, error) {
	return q.c.AccountLines(ctx, account)
}

func (q stubQuerier) AMMInfo(ctx context.Context, ammAccount string) (*xrpl.AMMInfo, error) {
	return q.c.AMMInfo(ctx, ammAccount)
}

func (q stubQuerier) AnyNodeEndpoint() string {
	return q.c.Endpoint()
}

// capturePublisher records every published update.
type capturePublisher struct {
	mu     sync.Mutex
	tokens []*domain.Token
}

func (p *capturePublisher) SendUpdate(t *domain.Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = append(p.tokens, t)
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens)
}

func (p *capturePublisher) last() *domain.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tokens) == 0 {
		return nil
	}
	return p.tokens[len(p.tokens)-1]
}

type testHarness struct {
	svc     *Service
	client  *stub.Client
	pub     *capturePublisher
	wmStore *memory.WatermarkStore
	samples *memory.MetricSampleStore
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	client := stub.New("wss://stub.test")
	pub := &capturePublisher{}
	wmStore := memory.NewWatermarkStore()
	samples := memory.NewMetricSampleStore()
	quiet := log.New(io.Discard, "", 0)

	wm := watermark.NewTracker(wmStore, watermark.Options{Logger: quiet})
	tracker := perf.NewTracker(samples, perf.Options{Logger: quiet})

	svc := New(Options{
		Queries:   stubQuerier{client},
		Catalog:   NewCatalog(),
		Watermark: wm,
		Perf:      tracker,
		Publisher: pub,
		Logger:    quiet,
		Config:    Config{BurnAddress: testBurnAddress},
	})

	return &testHarness{svc: svc, client: client, pub: pub, wmStore: wmStore, samples: samples}
}

// scriptLaunch populates the stub with a complete successful enrichment:
// a pool creation in the creator's recent activity, two trust lines, and a
// funded pool.
func (h *testHarness) scriptLaunch() {
	h.client.AccountTxs[testCreator] = []xrpl.TransactionWithMeta{
		{
			Tx: xrpl.Transaction{
				Kind:    xrpl.TxAMMCreate,
				Account: testCreator,
				Asset:   xrpl.Asset{Currency: testCurrency, Issuer: testIssuer},
			},
			Meta: ammCreateMeta(testAMMAccount),
		},
	}
	h.client.Lines[testIssuer] = []xrpl.TrustLine{
		{Account: "rHolder1", Balance: "-600000", Currency: testCurrency},
		{Account: "rHolder2", Balance: "400000", Currency: testCurrency},
	}
	h.client.AMMs[testAMMAccount] = &xrpl.AMMInfo{
		Account: testAMMAccount,
		Amount:  xrpl.Amount{Drops: "100000000"},
		Amount2: xrpl.Amount{Currency: testCurrency, Issuer: testIssuer, Value: "500000"},
	}
}

func ammCreateMeta(account string) xrpl.Meta {
	m := xrpl.Meta{
		TransactionResult: "tesSUCCESS",
		AffectedNodes: []xrpl.AffectedNode{
			{CreatedNode: &xrpl.CreatedNode{LedgerEntryType: "AMM"}},
		},
	}
	m.AffectedNodes[0].CreatedNode.NewFields.Account = account
	return m
}

// seedToken runs a synchronous enrichment so the catalog holds the scripted
// launch token, then clears the publish capture.
func (h *testHarness) seedToken(t *testing.T) {
	t.Helper()
	h.svc.Enrich(context.Background(), testCreator, decimal.NewFromInt(100), true)
	if h.svc.Catalog().Len() != 1 {
		t.Fatal("seed enrichment did not produce a token")
	}
	h.pub.mu.Lock()
	h.pub.tokens = nil
	h.pub.mu.Unlock()
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func burnPayment(destination, drops string) xrpl.Transaction {
	return xrpl.Transaction{
		Kind:        xrpl.TxPayment,
		Account:     testCreator,
		Destination: destination,
		Amount:      xrpl.Amount{Drops: drops},
	}
}
