// Package domain contains pure data types shared across the monitor.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Token is the live derived market state for one discovered token.
// Identity is the (Currency, Issuer) pair.
type Token struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`

	// Creator is the account that paid the launch burn.
	Creator string `json:"creator"`

	// BurnedXRP is the burn payment amount in XRP (not drops).
	BurnedXRP decimal.Decimal `json:"burnedXRP"`

	// Confirmed is true only when the burn destination exactly matched the
	// known burn-receiving account. Tokens from look-alike burns are still
	// tracked but flagged unconfirmed.
	Confirmed bool `json:"confirmed"`

	// AMMAccount is the pool's account address, re-resolved by query on
	// every refresh rather than held as an owned object.
	AMMAccount string `json:"ammAccount"`

	// Supply is the sum of counterparty trust-line balances for the issuer.
	Supply decimal.Decimal `json:"supply"`

	// Holders is the number of trust lines against the issuer.
	Holders int `json:"holders"`

	// LiquidityXRP is the native-currency side of the pool.
	LiquidityXRP decimal.Decimal `json:"liquidityXRP"`

	// LiquidityTokens is the token side of the pool.
	LiquidityTokens decimal.Decimal `json:"liquidityTokens"`

	// Price = LiquidityXRP / LiquidityTokens, zero when the pool is empty.
	Price decimal.Decimal `json:"price"`

	// MarketCap = Supply * Price.
	MarketCap decimal.Decimal `json:"marketCap"`

	CreatedAt time.Time `json:"timestamp"`
}

// Key returns the catalog key for the token.
func (t *Token) Key() string {
	return TokenKey(t.Currency, t.Issuer)
}

// TokenKey builds a catalog key from a currency code and issuer address.
func TokenKey(currency, issuer string) string {
	return currency + "-" + issuer
}

// RecomputeDerived re-derives Price and MarketCap from the liquidity and
// supply fields. Price is zero when the token side of the pool is empty.
func (t *Token) RecomputeDerived() {
	if t.LiquidityTokens.IsPositive() {
		t.Price = t.LiquidityXRP.Div(t.LiquidityTokens)
	} else {
		t.Price = decimal.Zero
	}
	t.MarketCap = t.Supply.Mul(t.Price)
}
