// Package ledger remembers which PayPal transactions were already applied so
// redeliveries can be acknowledged without touching the mailing list again.
package ledger

import "context"

// TxnLedger records processed transaction ids for a bounded time.
type TxnLedger interface {
	Seen(ctx context.Context, txnID string) (bool, error)
	Mark(ctx context.Context, txnID string) error
}

var _ TxnLedger = Nop{}

// Nop is used when no Redis is configured. Nothing is ever seen.
type Nop struct{}

func (Nop) Seen(context.Context, string) (bool, error) { return false, nil }

func (Nop) Mark(context.Context, string) error { return nil }
