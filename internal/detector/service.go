// Package detector implements the classification pipeline: catch-up
// reconciliation against the persisted watermark, real-time burn and
// pool-update detection, and the asynchronous token enrichment workflow.
package detector

import (
	"context"
	"log"
	"sync/atomic"

	"xrpl-token-watch/internal/domain"
	"xrpl-token-watch/internal/observability"
	"xrpl-token-watch/internal/perf"
	"xrpl-token-watch/internal/watermark"
	"xrpl-token-watch/internal/xrpl"
)

// MaxLookback bounds catch-up to this many ledgers behind the network's
// current index, no matter how old the watermark is.
const MaxLookback = 1000

// DefaultBurnAmounts are the allow-listed burn payment amounts in drops
// (100, 400, and 1000 XRP) that signal a token-pool launch.
var DefaultBurnAmounts = []string{"100000000", "400000000", "1000000000"}

// Querier is the request/response surface the detector needs from the node
// pool. Satisfied by *nodepool.Pool; tests script it over a stub client.
type Querier interface {
	CurrentLedger() int64
	Ledger(ctx context.Context, index int64) ([]xrpl.TransactionWithMeta, error)
	AccountTx(ctx context.Context, account string, limit int) ([]xrpl.TransactionWithMeta, error)
	AccountLines(ctx context.Context, account string) ([]xrpl.TrustLine, error)
	AMMInfo(ctx context.Context, ammAccount string) (*xrpl.AMMInfo, error)
	AnyNodeEndpoint() string
}

// Publisher receives every token create/refresh for outward delivery.
type Publisher interface {
	SendUpdate(t *domain.Token)
}

// Config holds detection parameters.
type Config struct {
	// BurnAddress is the known burn-receiving account. Payments of an
	// allow-listed amount to any other destination are tracked as
	// unconfirmed.
	BurnAddress string
	// BurnAmounts overrides DefaultBurnAmounts (drops strings).
	BurnAmounts []string
	// AccountTxLimit bounds the recent-transaction scan during enrichment.
	AccountTxLimit int
}

// Service ties the classifier, reconciler, and enrichment workflow to the
// shared catalog and watermark.
type Service struct {
	queries Querier
	catalog *Catalog
	wm      *watermark.Tracker
	perf    *perf.Tracker
	pub     Publisher
	obs     *observability.Metrics
	logger  *log.Logger

	burnAddress    string
	burnAmounts    map[string]struct{}
	accountTxLimit int

	lastLedger atomic.Int64
}

// Options configures a Service.
type Options struct {
	Queries   Querier
	Catalog   *Catalog
	Watermark *watermark.Tracker
	Perf      *perf.Tracker
	Publisher Publisher
	Metrics   *observability.Metrics
	Logger    *log.Logger
	Config    Config
}

// New creates a detector Service.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	amounts := opts.Config.BurnAmounts
	if len(amounts) == 0 {
		amounts = DefaultBurnAmounts
	}
	burnAmounts := make(map[string]struct{}, len(amounts))
	for _, a := range amounts {
		burnAmounts[a] = struct{}{}
	}
	limit := opts.Config.AccountTxLimit
	if limit == 0 {
		limit = 10
	}

	return &Service{
		queries:        opts.Queries,
		catalog:        opts.Catalog,
		wm:             opts.Watermark,
		perf:           opts.Perf,
		pub:            opts.Publisher,
		obs:            opts.Metrics,
		logger:         logger,
		burnAddress:    opts.Config.BurnAddress,
		burnAmounts:    burnAmounts,
		accountTxLimit: limit,
	}
}

// Catalog returns the shared token catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// LastLedger returns the highest ledger index seen on the live stream.
func (s *Service) LastLedger() int64 { return s.lastLedger.Load() }

func (s *Service) noteLedger(index int64) {
	for {
		cur := s.lastLedger.Load()
		if index <= cur {
			return
		}
		if s.lastLedger.CompareAndSwap(cur, index) {
			return
		}
	}
}

func (s *Service) publish(t *domain.Token) {
	if s.pub != nil {
		s.pub.SendUpdate(t)
	}
}

func (s *Service) isBurnAmount(a xrpl.Amount) bool {
	if !a.IsNative() {
		return false
	}
	_, ok := s.burnAmounts[a.Drops]
	return ok
}
