package detector

import (
	"context"

	"xrpl-token-watch/internal/domain"
	"xrpl-token-watch/internal/xrpl"
)

// Run consumes the live transaction stream until the channel closes or the
// context is cancelled. Per-transaction anomalies are logged and never abort
// the stream.
func (s *Service) Run(ctx context.Context, txs <-chan xrpl.StreamTx) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-txs:
			if !ok {
				return nil
			}
			s.ClassifyStream(ctx, st)
		}
	}
}

// ClassifyStream processes one live-stream transaction: advances the
// last-seen ledger, runs burn and pool-update detection, then advances the
// watermark.
func (s *Service) ClassifyStream(ctx context.Context, st xrpl.StreamTx) {
	defer s.recoverAnomaly("stream")

	if st.LedgerIndex > 0 {
		s.noteLedger(st.LedgerIndex)
	}
	if s.obs != nil {
		s.obs.TransactionsProcessed.Inc()
	}

	result := st.Meta.TransactionResult
	if result == "" {
		result = st.EngineResult
	}

	s.classifyTx(ctx, st.Transaction, result)

	if st.LedgerIndex > 0 {
		s.wm.MarkProcessed(ctx, st.LedgerIndex)
	}
}

// classifyTx is the per-transaction logic shared by the live stream and the
// catch-up reconciler.
func (s *Service) classifyTx(ctx context.Context, tx xrpl.Transaction, result string) {
	s.checkBurn(ctx, tx, result)
	s.checkPoolUpdate(ctx, tx)
}

func (s *Service) recoverAnomaly(source string) {
	if r := recover(); r != nil {
		s.logger.Printf("%s transaction processing error: %v", source, r)
		if s.obs != nil {
			s.obs.StreamAnomalies.Inc()
		}
	}
}

// checkBurn qualifies a transaction as a candidate launch burn: a successful
// native-currency payment of exactly one of the allow-listed amounts.
// Enrichment runs on its own goroutine so the stream is never blocked.
func (s *Service) checkBurn(ctx context.Context, tx xrpl.Transaction, result string) {
	if tx.Kind != xrpl.TxPayment || result != "tesSUCCESS" || !s.isBurnAmount(tx.Amount) {
		return
	}

	burned := tx.Amount.XRP()
	confirmed := tx.Destination == s.burnAddress

	confidence := "Unsure"
	if confirmed {
		confidence = "Confirmed"
	}
	s.logger.Printf("Burn detected: %s XRP to %s (%s)", burned, tx.Destination, confidence)
	if s.obs != nil {
		s.obs.BurnsDetected.WithLabelValues(confidence).Inc()
	}

	go s.Enrich(ctx, tx.Account, burned, confirmed)
}

// checkPoolUpdate matches a transaction against tracked tokens by its asset
// descriptor and triggers a state refresh when the transaction touches the
// token's pool: a pool deposit, a pool withdrawal, or a payment where either
// side is the pool account.
func (s *Service) checkPoolUpdate(ctx context.Context, tx xrpl.Transaction) {
	// Fall back to the secondary descriptor only when the primary one is
	// entirely absent.
	asset := tx.Asset
	if asset.Empty() {
		asset = tx.Asset2
	}
	if asset.Empty() {
		return
	}

	key := domain.TokenKey(asset.Currency, asset.Issuer)
	token, ok := s.catalog.Get(key)
	if !ok {
		return
	}

	switch tx.Kind {
	case xrpl.TxAMMDeposit, xrpl.TxAMMWithdraw:
	case xrpl.TxPayment:
		if tx.Account != token.AMMAccount && tx.Destination != token.AMMAccount {
			return
		}
	default:
		return
	}

	if s.obs != nil {
		s.obs.PoolUpdatesDetected.Inc()
	}
	go s.Refresh(ctx, key)
}
