package detector

import (
	"context"
	"errors"

	"xrpl-token-watch/internal/xrpl"
)

// CatchUp replays every ledger between the persisted watermark and the
// network's current index through the classifier, bounded to MaxLookback
// ledgers. Runs once after initial connection and again after any
// reconnect. Replay is strictly sequential: later transactions may
// reference pool state created by earlier ones.
func (s *Service) CatchUp(ctx context.Context) error {
	if s.obs != nil {
		s.obs.CatchupRuns.Inc()
	}

	highest, err := s.wm.HighestProcessed(ctx)
	if err != nil {
		return err
	}

	current := s.queries.CurrentLedger()
	start := highest + 1
	if floor := current - MaxLookback; start < floor {
		start = floor
	}
	if start >= current {
		return nil
	}

	s.logger.Printf("Catching up from ledger %d to %d", start, current)
	return s.Replay(ctx, start, current)
}

// Replay runs the ledgers from..to (inclusive, ascending) through the
// classifier, marking each successfully fetched ledger processed.
func (s *Service) Replay(ctx context.Context, from, to int64) error {
	for i := from; i <= to; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		txs, err := s.queries.Ledger(ctx, i)
		if err != nil {
			if errors.Is(err, xrpl.ErrLedgerNotFound) {
				// The rest of the range has aged out of the node's
				// retained history and is unrecoverable from it.
				s.logger.Printf("ledger %d not found, stopping catch-up: %v", i, err)
				return nil
			}
			// Log and move on. The watermark is a high-water mark, so
			// once a later ledger is marked this one is gone for good.
			s.logger.Printf("failed to process ledger %d: %v", i, err)
			if s.obs != nil {
				s.obs.CatchupLedgersSkipped.Inc()
			}
			continue
		}

		for _, twm := range txs {
			s.replayTx(ctx, twm)
		}

		s.wm.MarkProcessed(ctx, i)
		if s.obs != nil {
			s.obs.CatchupLedgersProcessed.Inc()
		}
	}

	return nil
}

// replayTx runs one historical transaction through the shared classifier
// logic, isolating per-transaction anomalies from the rest of the replay.
func (s *Service) replayTx(ctx context.Context, twm xrpl.TransactionWithMeta) {
	defer s.recoverAnomaly("catch-up")
	s.classifyTx(ctx, twm.Tx, twm.Meta.TransactionResult)
}
