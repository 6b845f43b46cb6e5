package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/membership-functions/internal/domain"
	"github.com/kursadbilgin/membership-functions/internal/ipn"
)

const (
	PayPalLiveVerifyURL    = "https://ipnpb.paypal.com/cgi-bin/webscr"
	PayPalSandboxVerifyURL = "https://ipnpb.sandbox.paypal.com/cgi-bin/webscr"

	defaultVerifyTimeout = 10 * time.Second
	verifyUserAgent      = "membership-functions-ipn/1.0"

	verifiedToken = "VERIFIED"
	invalidToken  = "INVALID"
)

// PayPalVerifyURL returns the verification endpoint for the configured environment.
func PayPalVerifyURL(sandbox bool) string {
	if sandbox {
		return PayPalSandboxVerifyURL
	}
	return PayPalLiveVerifyURL
}

// PayPalVerifier posts received IPN messages back to PayPal and interprets
// the verdict. It never retries.
type PayPalVerifier struct {
	client   *resty.Client
	endpoint string
}

func NewPayPalVerifier(endpoint string, timeout time.Duration) (*PayPalVerifier, error) {
	client := resty.New()
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	client.SetTimeout(timeout)

	return NewPayPalVerifierWithClient(endpoint, client)
}

func NewPayPalVerifierWithClient(endpoint string, client *resty.Client) (*PayPalVerifier, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("paypal verify endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid paypal verify endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultVerifyTimeout)
	}
	client.SetRetryCount(0)

	return &PayPalVerifier{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

// Verify returns VerificationVerified or VerificationInvalid for a recognized
// verdict. Every other result is VerificationProviderUnreachable with a
// *ProviderError describing the cause.
func (v *PayPalVerifier) Verify(ctx context.Context, raw ipn.RawNotification) (domain.VerificationResult, error) {
	if v == nil || v.client == nil {
		return domain.VerificationProviderUnreachable, &ProviderError{
			Provider:  "paypal",
			Operation: "verify",
			Message:   "verifier is not initialized",
		}
	}

	response, err := v.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", ipn.FormContentType).
		SetHeader("User-Agent", verifyUserAgent).
		SetBody(ipn.VerificationBody(raw)).
		Post(v.endpoint)
	if err != nil {
		return domain.VerificationProviderUnreachable, requestError("paypal", "verify", err)
	}
	if response == nil {
		return domain.VerificationProviderUnreachable, &ProviderError{
			Provider:  "paypal",
			Operation: "verify",
			Message:   "empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	// response.String() trims whitespace; the verdict must match exactly.
	body := string(response.Body())
	if !isSuccessStatus(statusCode) {
		return domain.VerificationProviderUnreachable, statusError("paypal", "verify", statusCode, strings.TrimSpace(body))
	}

	switch body {
	case verifiedToken:
		return domain.VerificationVerified, nil
	case invalidToken:
		return domain.VerificationInvalid, nil
	}

	return domain.VerificationProviderUnreachable, &ProviderError{
		Provider:   "paypal",
		Operation:  "verify",
		StatusCode: statusCode,
		Message:    fmt.Sprintf("unrecognized verification response %q", truncate(body, 64)),
		Transient:  true,
	}
}
