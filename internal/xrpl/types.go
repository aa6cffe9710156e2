package xrpl

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// TxKind is the closed set of transaction shapes the monitor cares about.
// Every transaction is decoded into exactly one kind at ingestion; detection
// logic switches on the kind instead of probing raw fields.
type TxKind int

const (
	TxOther TxKind = iota
	TxPayment
	TxAMMCreate
	TxAMMDeposit
	TxAMMWithdraw
)

// String returns the XRPL transaction type name for the kind.
func (k TxKind) String() string {
	switch k {
	case TxPayment:
		return "Payment"
	case TxAMMCreate:
		return "AMMCreate"
	case TxAMMDeposit:
		return "AMMDeposit"
	case TxAMMWithdraw:
		return "AMMWithdraw"
	default:
		return "Other"
	}
}

func kindOf(transactionType string) TxKind {
	switch transactionType {
	case "Payment":
		return TxPayment
	case "AMMCreate":
		return TxAMMCreate
	case "AMMDeposit":
		return TxAMMDeposit
	case "AMMWithdraw":
		return TxAMMWithdraw
	default:
		return TxOther
	}
}

// Amount is an XRPL amount: either native XRP expressed as a drops string,
// or an issued currency expressed as a {currency, issuer, value} object.
type Amount struct {
	Drops    string // non-empty for native amounts
	Currency string
	Issuer   string
	Value    string
}

// IsNative reports whether the amount is XRP (drops form).
func (a Amount) IsNative() bool {
	return a.Drops != ""
}

// XRP converts a native amount to whole XRP. Returns zero for issued
// currencies or unparseable drops.
func (a Amount) XRP() decimal.Decimal {
	if !a.IsNative() {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(a.Drops)
	if err != nil {
		return decimal.Zero
	}
	return d.Shift(-6)
}

// TokenValue returns the issued-currency value, or zero for native amounts.
func (a Amount) TokenValue() decimal.Decimal {
	if a.IsNative() || a.Value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(a.Value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// UnmarshalJSON accepts both the string (drops) and object (IOU) encodings.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var drops string
	if err := json.Unmarshal(data, &drops); err == nil {
		a.Drops = drops
		return nil
	}

	var iou struct {
		Currency string `json:"currency"`
		Issuer   string `json:"issuer"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(data, &iou); err != nil {
		return err
	}
	a.Currency = iou.Currency
	a.Issuer = iou.Issuer
	a.Value = iou.Value
	return nil
}

// Asset is a currency/issuer descriptor as it appears in AMM transaction
// Asset and Asset2 fields. Native XRP has an empty issuer.
type Asset struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
}

// Empty reports whether the descriptor is entirely absent.
func (a Asset) Empty() bool {
	return a.Currency == "" && a.Issuer == ""
}

// Transaction is a decoded XRPL transaction. Kind is derived once from
// TransactionType; detection logic must not re-inspect the type string.
type Transaction struct {
	Kind        TxKind
	Hash        string
	Account     string
	Destination string
	Amount      Amount
	Asset       Asset
	Asset2      Asset
}

// UnmarshalJSON decodes the raw transaction JSON and tags the kind.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var raw struct {
		TransactionType string `json:"TransactionType"`
		Hash            string `json:"hash"`
		Account         string `json:"Account"`
		Destination     string `json:"Destination"`
		Amount          Amount `json:"Amount"`
		Asset           Asset  `json:"Asset"`
		Asset2          Asset  `json:"Asset2"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Kind = kindOf(raw.TransactionType)
	t.Hash = raw.Hash
	t.Account = raw.Account
	t.Destination = raw.Destination
	t.Amount = raw.Amount
	t.Asset = raw.Asset
	t.Asset2 = raw.Asset2
	return nil
}

// Meta is the transaction metadata attached by the ledger.
type Meta struct {
	TransactionResult string         `json:"TransactionResult"`
	AffectedNodes     []AffectedNode `json:"AffectedNodes"`
}

// AffectedNode is one entry of a transaction's resulting ledger-entry effects.
// Only created-node effects are inspected here.
type AffectedNode struct {
	CreatedNode *CreatedNode `json:"CreatedNode"`
}

// CreatedNode describes a ledger entry created by the transaction.
type CreatedNode struct {
	LedgerEntryType string `json:"LedgerEntryType"`
	NewFields       struct {
		Account string `json:"Account"`
	} `json:"NewFields"`
}

// Succeeded reports whether the transaction was applied successfully.
func (m Meta) Succeeded() bool {
	return m.TransactionResult == "tesSUCCESS"
}

// CreatedAMMAccount returns the account address of an AMM ledger entry
// created by the transaction, or "" if none was created.
func (m Meta) CreatedAMMAccount() string {
	for _, n := range m.AffectedNodes {
		if n.CreatedNode != nil && n.CreatedNode.LedgerEntryType == "AMM" {
			return n.CreatedNode.NewFields.Account
		}
	}
	return ""
}

// TransactionWithMeta pairs a transaction with its metadata, as returned by
// account_tx and expanded ledger queries.
type TransactionWithMeta struct {
	Tx   Transaction `json:"tx"`
	Meta Meta        `json:"meta"`
}

// StreamTx is one confirmed transaction delivered by the live stream.
type StreamTx struct {
	EngineResult string      `json:"engine_result"`
	LedgerIndex  int64       `json:"ledger_index"`
	Transaction  Transaction `json:"transaction"`
	Meta         Meta        `json:"meta"`
	Validated    bool        `json:"validated"`
}

// TrustLine is one counterparty trust line against an issuer.
type TrustLine struct {
	Account  string `json:"account"`
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

// AMMInfo is the current state of one AMM pool.
// Amount is conventionally the XRP side, Amount2 the token side.
type AMMInfo struct {
	Account string `json:"account"`
	Amount  Amount `json:"amount"`
	Amount2 Amount `json:"amount2"`
}
