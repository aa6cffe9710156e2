package xrpl

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for requests on a client whose connection has
	// been closed or lost. In-flight requests fail with this error when the
	// node drops.
	ErrClosed = errors.New("xrpl: client closed")

	// ErrLedgerNotFound indicates the requested ledger has aged out of the
	// queried node's retained history. Older ledgers are unrecoverable from
	// that node, so callers stop walking backwards on this error.
	ErrLedgerNotFound = errors.New("xrpl: ledger not found in node history")
)

// APIError is an error response from the rippled API.
type APIError struct {
	Code    string // machine code, e.g. "lgrNotFound"
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("xrpl api error %s: %s", e.Code, e.Message)
}

// wrapAPIError maps well-known API error codes onto sentinel errors.
func wrapAPIError(e *APIError) error {
	if e.Code == "lgrNotFound" {
		return fmt.Errorf("%w: %s", ErrLedgerNotFound, e.Message)
	}
	return e
}
