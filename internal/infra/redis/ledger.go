package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/membership-functions/internal/ledger"
	goredis "github.com/redis/go-redis/v9"
)

const (
	ledgerKeyPrefix  = "ipn:txn:"
	defaultLedgerTTL = 30 * 24 * time.Hour
)

var _ ledger.TxnLedger = (*RedisTxnLedger)(nil)

// RedisTxnLedger stores processed transaction ids as expiring keys.
type RedisTxnLedger struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRedisTxnLedger(client *goredis.Client, ttl time.Duration) (*RedisTxnLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	return &RedisTxnLedger{client: client, ttl: ttl}, nil
}

func (l *RedisTxnLedger) Seen(ctx context.Context, txnID string) (bool, error) {
	key, err := ledgerKey(txnID)
	if err != nil {
		return false, err
	}

	err = l.client.Get(ctx, key).Err()
	switch {
	case errors.Is(err, goredis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to read ledger key: %w", err)
	}
	return true, nil
}

// Mark records txnID. Marking an id twice keeps the first expiry.
func (l *RedisTxnLedger) Mark(ctx context.Context, txnID string) error {
	key, err := ledgerKey(txnID)
	if err != nil {
		return err
	}

	if err := l.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write ledger key: %w", err)
	}
	return nil
}

func ledgerKey(txnID string) (string, error) {
	trimmed := strings.TrimSpace(txnID)
	if trimmed == "" {
		return "", fmt.Errorf("transaction id is required")
	}
	return ledgerKeyPrefix + trimmed, nil
}
