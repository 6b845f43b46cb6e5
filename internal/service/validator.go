package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/membership-functions/internal/domain"
	"github.com/samber/lo"
)

// ValidatorConfig holds the business rules applied to verified notifications.
type ValidatorConfig struct {
	Receiver           string
	AcceptedCurrencies []string
	AcceptedTxnTypes   []string
	MinGross           domain.Money
	StalenessWindow    time.Duration
	ClockSkew          time.Duration
}

// Validator applies the acceptance rules in a fixed order and reports the
// first one that fails.
type Validator struct {
	cfg ValidatorConfig
}

func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	cfg.Receiver = strings.TrimSpace(cfg.Receiver)
	if cfg.Receiver == "" {
		return nil, fmt.Errorf("receiver is required")
	}
	if len(cfg.AcceptedCurrencies) == 0 {
		return nil, fmt.Errorf("at least one accepted currency is required")
	}
	if len(cfg.AcceptedTxnTypes) == 0 {
		return nil, fmt.Errorf("at least one accepted transaction type is required")
	}
	if cfg.StalenessWindow <= 0 {
		return nil, fmt.Errorf("staleness window must be positive")
	}
	if cfg.ClockSkew < 0 {
		cfg.ClockSkew = 0
	}

	cfg.AcceptedCurrencies = lo.Map(cfg.AcceptedCurrencies, func(c string, _ int) string {
		return strings.ToUpper(strings.TrimSpace(c))
	})

	return &Validator{cfg: cfg}, nil
}

func (v *Validator) Validate(n domain.ParsedNotification, now time.Time) domain.ValidationOutcome {
	if !v.receiverMatches(n) {
		return domain.Reject(domain.RejectWrongReceiver, fmt.Sprintf("receiver %q / %q", n.ReceiverEmail, n.ReceiverID))
	}

	currency := strings.ToUpper(strings.TrimSpace(n.Currency))
	if !lo.Contains(v.cfg.AcceptedCurrencies, currency) {
		return domain.Reject(domain.RejectUnsupportedCurrency, currency)
	}

	if !lo.Contains(v.cfg.AcceptedTxnTypes, strings.TrimSpace(n.TxnType)) {
		return domain.Reject(domain.RejectUnsupportedTxnType, n.TxnType)
	}

	if n.PaymentStatus != domain.PaymentStatusCompleted {
		return domain.Reject(domain.RejectUnsupportedPaymentStatus, n.RawPaymentStatus)
	}

	if n.PaymentDate != nil {
		paid := *n.PaymentDate
		if now.Sub(paid) > v.cfg.StalenessWindow {
			return domain.Reject(domain.RejectStaleTimestamp, "payment_date "+paid.UTC().Format(time.RFC3339)+" is too old")
		}
		if paid.Sub(now) > v.cfg.ClockSkew {
			return domain.Reject(domain.RejectStaleTimestamp, "payment_date "+paid.UTC().Format(time.RFC3339)+" is in the future")
		}
	}

	if n.Gross.Less(v.cfg.MinGross) {
		return domain.Reject(domain.RejectAmountBelowMinimum, n.Gross.String())
	}

	return domain.Accept(n)
}

func (v *Validator) receiverMatches(n domain.ParsedNotification) bool {
	if email := strings.TrimSpace(n.ReceiverEmail); email != "" && strings.EqualFold(email, v.cfg.Receiver) {
		return true
	}
	id := strings.TrimSpace(n.ReceiverID)
	return id != "" && id == v.cfg.Receiver
}
