package ipn

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/membership-functions/internal/domain"
)

// PayPal sends payment_date as e.g. "08:58:19 Oct 15, 2026 PDT".
const paymentDateLayout = "15:04:05 Jan 2, 2006"

// Zone abbreviations PayPal uses in payment_date. time.Parse does not resolve
// abbreviations to offsets, so they are mapped explicitly.
var paymentDateZones = map[string]int{
	"PST": -8 * 60 * 60,
	"PDT": -7 * 60 * 60,
	"UTC": 0,
	"GMT": 0,
}

var knownFields = map[string]struct{}{
	"txn_id":         {},
	"txn_type":       {},
	"payment_status": {},
	"payer_email":    {},
	"first_name":     {},
	"last_name":      {},
	"receiver_email": {},
	"receiver_id":    {},
	"mc_gross":       {},
	"mc_currency":    {},
	"payment_date":   {},
	"test_ipn":       {},
}

// Decode projects a RawNotification onto the typed ParsedNotification.
func Decode(raw RawNotification) (domain.ParsedNotification, error) {
	status := raw.Value("payment_status")
	currency := strings.ToUpper(strings.TrimSpace(raw.Value("mc_currency")))

	n := domain.ParsedNotification{
		TxnID:            strings.TrimSpace(raw.Value("txn_id")),
		TxnType:          strings.TrimSpace(raw.Value("txn_type")),
		PaymentStatus:    domain.ParsePaymentStatus(status),
		RawPaymentStatus: status,
		PayerEmail:       strings.TrimSpace(raw.Value("payer_email")),
		FirstName:        strings.TrimSpace(raw.Value("first_name")),
		LastName:         strings.TrimSpace(raw.Value("last_name")),
		ReceiverEmail:    strings.TrimSpace(raw.Value("receiver_email")),
		ReceiverID:       strings.TrimSpace(raw.Value("receiver_id")),
		Currency:         currency,
		Test:             raw.Value("test_ipn") == "1",
		Gross:            domain.Money{Currency: currency},
	}
	n.Kind = domain.ClassifyTxnType(n.TxnType, n.PaymentStatus)

	if err := n.Validate(); err != nil {
		return domain.ParsedNotification{}, err
	}

	if gross, ok := raw.Get("mc_gross"); ok && strings.TrimSpace(gross) != "" {
		amount, err := domain.ParseMoney(gross, currency)
		if err != nil {
			return domain.ParsedNotification{}, fmt.Errorf("mc_gross: %w", err)
		}
		n.Gross = amount
	}

	if value, ok := raw.Get("payment_date"); ok && strings.TrimSpace(value) != "" {
		paymentDate, err := ParsePaymentDate(value)
		if err != nil {
			return domain.ParsedNotification{}, err
		}
		n.PaymentDate = &paymentDate
	}

	for _, pair := range raw.Pairs() {
		if _, known := knownFields[pair[0]]; known {
			continue
		}
		n.Extra = append(n.Extra, domain.Field{Key: pair[0], Value: pair[1]})
	}

	return n, nil
}

// ParsePaymentDate parses PayPal's payment_date format.
func ParsePaymentDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	idx := strings.LastIndexByte(trimmed, ' ')
	if idx < 0 {
		return time.Time{}, fmt.Errorf("%w: invalid payment_date %q", domain.ErrMalformedPayload, value)
	}

	zone := strings.ToUpper(trimmed[idx+1:])
	offset, ok := paymentDateZones[zone]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: unknown payment_date zone %q", domain.ErrMalformedPayload, zone)
	}

	t, err := time.ParseInLocation(paymentDateLayout, strings.TrimSpace(trimmed[:idx]), time.FixedZone(zone, offset))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid payment_date %q: %v", domain.ErrMalformedPayload, value, err)
	}
	return t, nil
}
