package detector

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpl-token-watch/internal/domain"
	"xrpl-token-watch/internal/xrpl"
)

func TestEnrich_Success(t *testing.T) {
	h := newTestHarness(t)
	h.scriptLaunch()

	h.svc.Enrich(context.Background(), testCreator, decimal.NewFromInt(100), true)

	token, ok := h.svc.Catalog().Get(domain.TokenKey(testCurrency, testIssuer))
	require.True(t, ok)

	assert.Equal(t, testCurrency, token.Currency)
	assert.Equal(t, testIssuer, token.Issuer)
	assert.Equal(t, testCreator, token.Creator)
	assert.Equal(t, testAMMAccount, token.AMMAccount)
	assert.True(t, token.Confirmed)
	assert.Equal(t, 2, token.Holders)

	// Supply sums absolute trust-line balances: |-600000| + 400000.
	assert.True(t, token.Supply.Equal(decimalFromString(t, "1000000")))
	assert.True(t, token.LiquidityXRP.Equal(decimalFromString(t, "100")))
	assert.True(t, token.LiquidityTokens.Equal(decimalFromString(t, "500000")))
	assert.True(t, token.Price.Equal(decimalFromString(t, "0.0002")))
	assert.True(t, token.MarketCap.Equal(decimalFromString(t, "200")))

	require.Equal(t, 1, h.pub.count())
	assert.Equal(t, token.Key(), h.pub.last().Key())

	samples := h.samples.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, domain.CategoryInitialDetection, samples[0].Category)
	assert.True(t, samples[0].Success)
}

func TestEnrich_QueryFailure(t *testing.T) {
	h := newTestHarness(t)
	h.scriptLaunch()
	h.client.AccountTxErr = errors.New("node unavailable")

	h.svc.Enrich(context.Background(), testCreator, decimal.NewFromInt(100), true)

	assert.Zero(t, h.svc.Catalog().Len())
	assert.Zero(t, h.pub.count())

	samples := h.samples.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, domain.CategoryInitialDetection, samples[0].Category)
	assert.False(t, samples[0].Success)
}

func TestEnrich_NoPoolCreate(t *testing.T) {
	h := newTestHarness(t)

	// Recent activity holds only ordinary payments.
	h.client.AccountTxs[testCreator] = []xrpl.TransactionWithMeta{
		{
			Tx:   burnPayment(testBurnAddress, "100000000"),
			Meta: xrpl.Meta{TransactionResult: "tesSUCCESS"},
		},
	}

	h.svc.Enrich(context.Background(), testCreator, decimal.NewFromInt(100), true)

	// A silent miss: nothing tracked, nothing published, no latency sample.
	assert.Zero(t, h.svc.Catalog().Len())
	assert.Zero(t, h.pub.count())
	assert.Zero(t, h.samples.Len())
}

func TestEnrich_EmptyPool(t *testing.T) {
	h := newTestHarness(t)
	h.scriptLaunch()
	h.client.AMMs[testAMMAccount] = &xrpl.AMMInfo{
		Account: testAMMAccount,
		Amount:  xrpl.Amount{Drops: "0"},
		Amount2: xrpl.Amount{Currency: testCurrency, Issuer: testIssuer, Value: "0"},
	}

	h.svc.Enrich(context.Background(), testCreator, decimal.NewFromInt(100), true)

	token, ok := h.svc.Catalog().Get(domain.TokenKey(testCurrency, testIssuer))
	require.True(t, ok)
	assert.True(t, token.Price.IsZero())
	assert.True(t, token.MarketCap.IsZero())
}

func TestEnrich_AssetDescriptorFallback(t *testing.T) {
	h := newTestHarness(t)
	h.scriptLaunch()

	// The creation transaction carries the token descriptor only in the
	// secondary field.
	h.client.AccountTxs[testCreator] = []xrpl.TransactionWithMeta{
		{
			Tx: xrpl.Transaction{
				Kind:    xrpl.TxAMMCreate,
				Account: testCreator,
				Asset2:  xrpl.Asset{Currency: testCurrency, Issuer: testIssuer},
			},
			Meta: ammCreateMeta(testAMMAccount),
		},
	}

	h.svc.Enrich(context.Background(), testCreator, decimal.NewFromInt(100), false)

	_, ok := h.svc.Catalog().Get(domain.TokenKey(testCurrency, testIssuer))
	assert.True(t, ok)
}

func TestEnrich_UnparseableBalanceSkipped(t *testing.T) {
	h := newTestHarness(t)
	h.scriptLaunch()
	h.client.Lines[testIssuer] = []xrpl.TrustLine{
		{Account: "rHolder1", Balance: "250000", Currency: testCurrency},
		{Account: "rHolder2", Balance: "not-a-number", Currency: testCurrency},
	}

	h.svc.Enrich(context.Background(), testCreator, decimal.NewFromInt(100), true)

	token, ok := h.svc.Catalog().Get(domain.TokenKey(testCurrency, testIssuer))
	require.True(t, ok)

	// Both lines count as holders; only the parseable one adds supply.
	assert.Equal(t, 2, token.Holders)
	assert.True(t, token.Supply.Equal(decimalFromString(t, "250000")))
}

func TestRefresh_UpdatesDerivedState(t *testing.T) {
	h := newTestHarness(t)
	h.scriptLaunch()
	h.seedToken(t)

	h.client.AMMs[testAMMAccount] = &xrpl.AMMInfo{
		Account: testAMMAccount,
		Amount:  xrpl.Amount{Drops: "300000000"},
		Amount2: xrpl.Amount{Currency: testCurrency, Issuer: testIssuer, Value: "600000"},
	}
	h.client.Lines[testIssuer] = []xrpl.TrustLine{
		{Account: "rHolder1", Balance: "300000", Currency: testCurrency},
		{Account: "rHolder2", Balance: "200000", Currency: testCurrency},
		{Account: "rHolder3", Balance: "100000", Currency: testCurrency},
	}

	key := domain.TokenKey(testCurrency, testIssuer)
	h.svc.Refresh(context.Background(), key)

	token, ok := h.svc.Catalog().Get(key)
	require.True(t, ok)
	assert.Equal(t, 3, token.Holders)
	assert.True(t, token.LiquidityXRP.Equal(decimalFromString(t, "300")))
	assert.True(t, token.LiquidityTokens.Equal(decimalFromString(t, "600000")))
	assert.True(t, token.Price.Equal(decimalFromString(t, "0.0005")))

	// Supply is untouched by a refresh; market cap follows the new price.
	assert.True(t, token.Supply.Equal(decimalFromString(t, "1000000")))
	assert.True(t, token.MarketCap.Equal(decimalFromString(t, "500")))

	require.Equal(t, 1, h.pub.count())
}

func TestRefresh_QueryFailure(t *testing.T) {
	h := newTestHarness(t)
	h.scriptLaunch()
	h.seedToken(t)
	before, _ := h.svc.Catalog().Get(domain.TokenKey(testCurrency, testIssuer))

	h.client.AMMInfoErr = errors.New("node unavailable")
	h.svc.Refresh(context.Background(), domain.TokenKey(testCurrency, testIssuer))

	// State stays at the last good snapshot; the failure is sampled.
	after, ok := h.svc.Catalog().Get(domain.TokenKey(testCurrency, testIssuer))
	require.True(t, ok)
	assert.True(t, before.Price.Equal(after.Price))
	assert.Zero(t, h.pub.count())

	samples := h.samples.Samples()
	var failures int
	for _, s := range samples {
		if s.Category == domain.CategoryMarketUpdate && !s.Success {
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestRefresh_UnknownKey(t *testing.T) {
	h := newTestHarness(t)

	h.svc.Refresh(context.Background(), domain.TokenKey("ZZZ", "rNobody"))

	assert.Zero(t, h.pub.count())
	assert.Zero(t, h.samples.Len())
}
