package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpl-token-watch/internal/domain"
	"xrpl-token-watch/internal/xrpl"
)

func TestClassifyStream_BurnAllowList(t *testing.T) {
	tests := []struct {
		name   string
		tx     xrpl.Transaction
		result string
		want   bool
	}{
		{"100 XRP burn", burnPayment(testBurnAddress, "100000000"), "tesSUCCESS", true},
		{"400 XRP burn", burnPayment(testBurnAddress, "400000000"), "tesSUCCESS", true},
		{"1000 XRP burn", burnPayment(testBurnAddress, "1000000000"), "tesSUCCESS", true},
		{"off-list amount", burnPayment(testBurnAddress, "250000000"), "tesSUCCESS", false},
		{"issued currency payment", xrpl.Transaction{
			Kind:        xrpl.TxPayment,
			Account:     testCreator,
			Destination: testBurnAddress,
			Amount:      xrpl.Amount{Currency: testCurrency, Issuer: testIssuer, Value: "100"},
		}, "tesSUCCESS", false},
		{"failed payment", burnPayment(testBurnAddress, "100000000"), "tecUNFUNDED_PAYMENT", false},
		{"non-payment", xrpl.Transaction{
			Kind:    xrpl.TxAMMDeposit,
			Account: testCreator,
			Amount:  xrpl.Amount{Drops: "100000000"},
		}, "tesSUCCESS", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHarness(t)
			h.scriptLaunch()

			h.svc.ClassifyStream(context.Background(), xrpl.StreamTx{
				LedgerIndex: 94300001,
				Transaction: tt.tx,
				Meta:        xrpl.Meta{TransactionResult: tt.result},
			})

			if tt.want {
				require.Eventually(t, func() bool {
					return h.svc.Catalog().Len() == 1
				}, time.Second, 5*time.Millisecond)
			} else {
				// Enrichment would run asynchronously; give it a moment.
				time.Sleep(20 * time.Millisecond)
				assert.Zero(t, h.svc.Catalog().Len())
			}
		})
	}
}

func TestClassifyStream_ConfirmedFlag(t *testing.T) {
	tests := []struct {
		name        string
		destination string
		confirmed   bool
	}{
		{"burn address", testBurnAddress, true},
		{"look-alike destination", "rSomeOtherAccount", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHarness(t)
			h.scriptLaunch()

			h.svc.ClassifyStream(context.Background(), xrpl.StreamTx{
				LedgerIndex: 94300001,
				Transaction: burnPayment(tt.destination, "400000000"),
				Meta:        xrpl.Meta{TransactionResult: "tesSUCCESS"},
			})

			require.Eventually(t, func() bool {
				return h.svc.Catalog().Len() == 1
			}, time.Second, 5*time.Millisecond)

			token, ok := h.svc.Catalog().Get(domain.TokenKey(testCurrency, testIssuer))
			require.True(t, ok)
			assert.Equal(t, tt.confirmed, token.Confirmed)
			assert.True(t, token.BurnedXRP.Equal(decimalFromString(t, "400")))
		})
	}
}

func TestClassifyStream_EngineResultFallback(t *testing.T) {
	h := newTestHarness(t)
	h.scriptLaunch()

	// Some stream frames carry the result only at the top level.
	h.svc.ClassifyStream(context.Background(), xrpl.StreamTx{
		EngineResult: "tesSUCCESS",
		LedgerIndex:  94300001,
		Transaction:  burnPayment(testBurnAddress, "100000000"),
	})

	require.Eventually(t, func() bool {
		return h.svc.Catalog().Len() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClassifyStream_AdvancesWatermark(t *testing.T) {
	h := newTestHarness(t)

	h.svc.ClassifyStream(context.Background(), xrpl.StreamTx{
		LedgerIndex: 94300042,
		Transaction: xrpl.Transaction{Kind: xrpl.TxOther},
		Meta:        xrpl.Meta{TransactionResult: "tesSUCCESS"},
	})

	assert.True(t, h.wmStore.Has(94300042))
	assert.Equal(t, int64(94300042), h.svc.LastLedger())
}

func TestClassifyStream_DuplicateDeliveryIdempotent(t *testing.T) {
	h := newTestHarness(t)
	h.scriptLaunch()

	st := xrpl.StreamTx{
		LedgerIndex: 94300001,
		Transaction: burnPayment(testBurnAddress, "100000000"),
		Meta:        xrpl.Meta{TransactionResult: "tesSUCCESS"},
	}
	h.svc.ClassifyStream(context.Background(), st)
	h.svc.ClassifyStream(context.Background(), st)

	require.Eventually(t, func() bool {
		return h.pub.count() >= 2
	}, time.Second, 5*time.Millisecond)

	// Re-enrichment overwrites the same catalog entry.
	assert.Equal(t, 1, h.svc.Catalog().Len())
}

func TestCheckPoolUpdate_UntrackedKey(t *testing.T) {
	h := newTestHarness(t)

	h.svc.ClassifyStream(context.Background(), xrpl.StreamTx{
		LedgerIndex: 94300001,
		Transaction: xrpl.Transaction{
			Kind:  xrpl.TxAMMDeposit,
			Asset: xrpl.Asset{Currency: "ZZZ", Issuer: "rNobody"},
		},
		Meta: xrpl.Meta{TransactionResult: "tesSUCCESS"},
	})

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.pub.count())
	assert.Zero(t, h.samples.Len())
}

func TestCheckPoolUpdate_DepositTriggersRefresh(t *testing.T) {
	h := newTestHarness(t)
	h.scriptLaunch()
	h.seedToken(t)

	// Pool reserves moved since the seeded snapshot.
	h.client.AMMs[testAMMAccount] = &xrpl.AMMInfo{
		Account: testAMMAccount,
		Amount:  xrpl.Amount{Drops: "200000000"},
		Amount2: xrpl.Amount{Currency: testCurrency, Issuer: testIssuer, Value: "400000"},
	}

	h.svc.ClassifyStream(context.Background(), xrpl.StreamTx{
		LedgerIndex: 94300002,
		Transaction: xrpl.Transaction{
			Kind:    xrpl.TxAMMDeposit,
			Account: "rSomeTrader",
			Asset:   xrpl.Asset{Currency: testCurrency, Issuer: testIssuer},
		},
		Meta: xrpl.Meta{TransactionResult: "tesSUCCESS"},
	})

	require.Eventually(t, func() bool {
		return h.pub.count() == 1
	}, time.Second, 5*time.Millisecond)

	token := h.pub.last()
	assert.True(t, token.LiquidityXRP.Equal(decimalFromString(t, "200")))
	assert.True(t, token.Price.Equal(decimalFromString(t, "0.0005")))
}

func TestCheckPoolUpdate_Asset2Fallback(t *testing.T) {
	h := newTestHarness(t)
	h.scriptLaunch()
	h.seedToken(t)

	h.svc.ClassifyStream(context.Background(), xrpl.StreamTx{
		LedgerIndex: 94300002,
		Transaction: xrpl.Transaction{
			Kind:   xrpl.TxAMMWithdraw,
			Asset2: xrpl.Asset{Currency: testCurrency, Issuer: testIssuer},
		},
		Meta: xrpl.Meta{TransactionResult: "tesSUCCESS"},
	})

	require.Eventually(t, func() bool {
		return h.pub.count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCheckPoolUpdate_PaymentNeedsPoolAccount(t *testing.T) {
	h := newTestHarness(t)
	h.scriptLaunch()
	h.seedToken(t)

	// A payment tagged with the tracked asset but not touching the pool
	// account must not trigger a refresh.
	h.svc.ClassifyStream(context.Background(), xrpl.StreamTx{
		LedgerIndex: 94300002,
		Transaction: xrpl.Transaction{
			Kind:        xrpl.TxPayment,
			Account:     "rAlice",
			Destination: "rBob",
			Amount:      xrpl.Amount{Drops: "5000000"},
			Asset:       xrpl.Asset{Currency: testCurrency, Issuer: testIssuer},
		},
		Meta: xrpl.Meta{TransactionResult: "tesSUCCESS"},
	})

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.pub.count())

	// The same payment with the pool account as receiver does.
	h.svc.ClassifyStream(context.Background(), xrpl.StreamTx{
		LedgerIndex: 94300003,
		Transaction: xrpl.Transaction{
			Kind:        xrpl.TxPayment,
			Account:     "rAlice",
			Destination: testAMMAccount,
			Amount:      xrpl.Amount{Drops: "5000000"},
			Asset:       xrpl.Asset{Currency: testCurrency, Issuer: testIssuer},
		},
		Meta: xrpl.Meta{TransactionResult: "tesSUCCESS"},
	})

	require.Eventually(t, func() bool {
		return h.pub.count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRun_StopsOnChannelClose(t *testing.T) {
	h := newTestHarness(t)

	txs := make(chan xrpl.StreamTx)
	close(txs)

	err := h.svc.Run(context.Background(), txs)
	assert.NoError(t, err)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	h := newTestHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.svc.Run(ctx, make(chan xrpl.StreamTx))
	assert.ErrorIs(t, err, context.Canceled)
}
