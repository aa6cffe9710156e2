package detector

import (
	"context"
	"time"

	"xrpl-token-watch/internal/domain"
	"xrpl-token-watch/internal/xrpl"

	"github.com/shopspring/decimal"
)

// Enrich materializes token state for a detected burn: recent account
// activity, the pool-creation transaction, the issuer's trust lines, and
// the pool snapshot. Any step's exhausted-retry failure abandons the whole
// enrichment; the burn event itself is not re-attempted.
func (s *Service) Enrich(ctx context.Context, creator string, burnedXRP decimal.Decimal, confirmed bool) {
	start := time.Now()
	node := s.queries.AnyNodeEndpoint()

	token, err := s.buildToken(ctx, creator, burnedXRP, confirmed)
	if err != nil {
		s.logger.Printf("failed to fetch token info for %s: %v", creator, err)
		if s.obs != nil {
			s.obs.EnrichmentOutcomes.WithLabelValues("error").Inc()
		}
		if s.perf != nil {
			s.perf.Record(ctx, domain.CategoryInitialDetection, start, node, false)
		}
		return
	}
	if token == nil {
		// No pool-creation transaction within the recent window. Not
		// expected to appear later, so not retried.
		s.logger.Printf("no pool creation found in recent activity of %s", creator)
		if s.obs != nil {
			s.obs.EnrichmentOutcomes.WithLabelValues("no_pool_create").Inc()
		}
		return
	}

	s.catalog.Put(token)
	if s.obs != nil {
		s.obs.EnrichmentOutcomes.WithLabelValues("success").Inc()
		s.obs.TokensTracked.Set(float64(s.catalog.Len()))
	}
	s.publish(token)
	if s.perf != nil {
		s.perf.Record(ctx, domain.CategoryInitialDetection, start, node, true)
	}
}

// buildToken runs the dependent enrichment queries. Returns (nil, nil) when
// no pool-creation transaction is found in the creator's recent activity.
func (s *Service) buildToken(ctx context.Context, creator string, burnedXRP decimal.Decimal, confirmed bool) (*domain.Token, error) {
	txs, err := s.queries.AccountTx(ctx, creator, s.accountTxLimit)
	if err != nil {
		return nil, err
	}

	var create *xrpl.TransactionWithMeta
	for i := range txs {
		if txs[i].Tx.Kind == xrpl.TxAMMCreate {
			create = &txs[i]
			break
		}
	}
	if create == nil {
		return nil, nil
	}

	// Prefer the first non-empty asset descriptor.
	asset := create.Tx.Asset
	if asset.Empty() {
		asset = create.Tx.Asset2
	}

	token := &domain.Token{
		Currency:   asset.Currency,
		Issuer:     asset.Issuer,
		Creator:    creator,
		BurnedXRP:  burnedXRP,
		Confirmed:  confirmed,
		AMMAccount: create.Meta.CreatedAMMAccount(),
		CreatedAt:  time.Now().UTC(),
	}

	holders, supply, err := s.issuerLines(ctx, token.Issuer)
	if err != nil {
		return nil, err
	}
	token.Holders = holders
	token.Supply = supply

	amm, err := s.queries.AMMInfo(ctx, token.AMMAccount)
	if err != nil {
		return nil, err
	}
	token.LiquidityXRP = amm.Amount.XRP()
	token.LiquidityTokens = amm.Amount2.TokenValue()
	token.RecomputeDerived()

	return token, nil
}

// issuerLines derives holder count and supply from the issuer's trust lines.
// Supply is the sum of counterparty balances; unparseable balances count as
// holders but contribute nothing to supply.
func (s *Service) issuerLines(ctx context.Context, issuer string) (int, decimal.Decimal, error) {
	lines, err := s.queries.AccountLines(ctx, issuer)
	if err != nil {
		return 0, decimal.Zero, err
	}

	supply := decimal.Zero
	for _, line := range lines {
		balance, err := decimal.NewFromString(line.Balance)
		if err != nil {
			continue
		}
		supply = supply.Add(balance.Abs())
	}
	return len(lines), supply, nil
}

// Refresh re-derives a tracked token's liquidity, price, market cap, and
// holder count from the pool's current reserves, then publishes the update.
// Used for pool-update triggers and shares the same query retry contract.
func (s *Service) Refresh(ctx context.Context, key string) {
	start := time.Now()
	node := s.queries.AnyNodeEndpoint()

	token, ok := s.catalog.Get(key)
	if !ok {
		return
	}

	amm, err := s.queries.AMMInfo(ctx, token.AMMAccount)
	if err != nil {
		s.logger.Printf("pool update failed for %s: %v", token.Currency, err)
		if s.perf != nil {
			s.perf.Record(ctx, domain.CategoryMarketUpdate, start, node, false)
		}
		return
	}

	holders, _, err := s.issuerLines(ctx, token.Issuer)
	if err != nil {
		s.logger.Printf("holder refresh failed for %s: %v", token.Currency, err)
		if s.perf != nil {
			s.perf.Record(ctx, domain.CategoryMarketUpdate, start, node, false)
		}
		return
	}

	// Queries ran unlocked; apply the mutation under the per-key lock.
	s.catalog.Update(key, func(t *domain.Token) {
		t.LiquidityXRP = amm.Amount.XRP()
		t.LiquidityTokens = amm.Amount2.TokenValue()
		t.Holders = holders
		t.RecomputeDerived()
	})

	if updated, ok := s.catalog.Get(key); ok {
		s.publish(updated)
	}
	if s.perf != nil {
		s.perf.Record(ctx, domain.CategoryMarketUpdate, start, node, true)
	}
}
