package domain

import (
	"fmt"
	"strings"
	"time"
)

// PaymentStatus is the normalized PayPal payment_status.
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusDenied    PaymentStatus = "DENIED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
	PaymentStatusReversed  PaymentStatus = "REVERSED"
	PaymentStatusOther     PaymentStatus = "OTHER"
)

func (s PaymentStatus) String() string { return string(s) }

// ParsePaymentStatus maps a raw payment_status value. Unknown values map to
// PaymentStatusOther rather than failing.
func ParsePaymentStatus(raw string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed":
		return PaymentStatusCompleted
	case "pending":
		return PaymentStatusPending
	case "denied":
		return PaymentStatusDenied
	case "refunded":
		return PaymentStatusRefunded
	case "reversed":
		return PaymentStatusReversed
	}
	return PaymentStatusOther
}

// TxnKind classifies the PayPal txn_type into the handful of cases the
// service cares about.
type TxnKind string

const (
	TxnKindPaymentCompleted    TxnKind = "PAYMENT_COMPLETED"
	TxnKindSubscriptionPayment TxnKind = "SUBSCRIPTION_PAYMENT"
	TxnKindSubscriptionSignup  TxnKind = "SUBSCRIPTION_SIGNUP"
	TxnKindRefund              TxnKind = "REFUND"
	TxnKindOther               TxnKind = "OTHER"
)

func (k TxnKind) String() string { return string(k) }

func ClassifyTxnType(txnType string, status PaymentStatus) TxnKind {
	if status == PaymentStatusRefunded || status == PaymentStatusReversed {
		return TxnKindRefund
	}

	switch strings.ToLower(strings.TrimSpace(txnType)) {
	case "web_accept", "cart", "express_checkout", "send_money", "virtual_terminal":
		return TxnKindPaymentCompleted
	case "subscr_payment":
		return TxnKindSubscriptionPayment
	case "subscr_signup":
		return TxnKindSubscriptionSignup
	}
	return TxnKindOther
}

// Field is a decoded key/value pair that the service does not interpret.
type Field struct {
	Key   string
	Value string
}

// ParsedNotification is the typed projection of an IPN message.
type ParsedNotification struct {
	TxnID            string
	TxnType          string
	Kind             TxnKind
	PaymentStatus    PaymentStatus
	RawPaymentStatus string
	PayerEmail       string
	FirstName        string
	LastName         string
	ReceiverEmail    string
	ReceiverID       string
	Gross            Money
	Currency         string
	PaymentDate      *time.Time
	Test             bool
	Extra            []Field
}

func (n *ParsedNotification) Validate() error {
	if strings.TrimSpace(n.TxnID) == "" {
		return fmt.Errorf("%w: txn_id is required", ErrMalformedPayload)
	}
	return nil
}

// VerificationResult is PayPal's verdict on a received IPN message.
type VerificationResult string

const (
	VerificationVerified            VerificationResult = "VERIFIED"
	VerificationInvalid             VerificationResult = "INVALID"
	VerificationProviderUnreachable VerificationResult = "PROVIDER_UNREACHABLE"
)

func (r VerificationResult) String() string { return string(r) }

// RejectReason is the closed set of business-rule rejections.
type RejectReason string

const (
	RejectWrongReceiver            RejectReason = "wrong_receiver"
	RejectUnsupportedCurrency      RejectReason = "unsupported_currency"
	RejectUnsupportedTxnType       RejectReason = "unsupported_transaction_type"
	RejectUnsupportedPaymentStatus RejectReason = "unsupported_payment_status"
	RejectStaleTimestamp           RejectReason = "stale_timestamp"
	RejectAmountBelowMinimum       RejectReason = "amount_below_minimum"
)

func (r RejectReason) String() string { return string(r) }

// ValidationOutcome is either Accepted with the notification or Rejected with
// a reason.
type ValidationOutcome struct {
	Accepted     bool
	Notification ParsedNotification
	Reason       RejectReason
	Detail       string
}

func Accept(n ParsedNotification) ValidationOutcome {
	return ValidationOutcome{Accepted: true, Notification: n}
}

func Reject(reason RejectReason, detail string) ValidationOutcome {
	return ValidationOutcome{Reason: reason, Detail: detail}
}

// Err returns nil for accepted outcomes and a wrapped ErrValidationRejected otherwise.
func (o ValidationOutcome) Err() error {
	if o.Accepted {
		return nil
	}
	if o.Detail == "" {
		return fmt.Errorf("%w: %s", ErrValidationRejected, o.Reason)
	}
	return fmt.Errorf("%w: %s: %s", ErrValidationRejected, o.Reason, o.Detail)
}

// UpsertResult is the outcome of synchronizing a payer into the mailing list.
type UpsertResult string

const (
	UpsertApplied        UpsertResult = "APPLIED"
	UpsertAlreadyCurrent UpsertResult = "ALREADY_CURRENT"
	UpsertProviderError  UpsertResult = "PROVIDER_ERROR"
)

func (r UpsertResult) String() string { return string(r) }
