package ipn

import (
	"fmt"
	"mime"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/kursadbilgin/membership-functions/internal/domain"
)

const (
	FormContentType = "application/x-www-form-urlencoded"

	// VerifyCommand prefixes the body re-posted to PayPal for verification.
	VerifyCommand = "cmd=_notify-validate"
)

// Parse decodes a form-encoded IPN body into a RawNotification.
func Parse(body []byte, contentType string) (RawNotification, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != FormContentType {
		return RawNotification{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedMediaType, contentType)
	}
	if len(body) == 0 {
		return RawNotification{}, fmt.Errorf("%w: empty body", domain.ErrMalformedPayload)
	}

	parts := strings.Split(string(body), "&")
	segments := make([]segment, 0, len(parts))
	for i, part := range parts {
		rawKey, rawValue, hasValue := strings.Cut(part, "=")

		key, err := decodeComponent(rawKey)
		if err != nil {
			return RawNotification{}, fmt.Errorf("%w: field %d key: %v", domain.ErrMalformedPayload, i, err)
		}
		value, err := decodeComponent(rawValue)
		if err != nil {
			return RawNotification{}, fmt.Errorf("%w: field %q value: %v", domain.ErrMalformedPayload, key, err)
		}

		segments = append(segments, segment{
			rawKey:   rawKey,
			rawValue: rawValue,
			hasValue: hasValue,
			key:      key,
			value:    value,
		})
	}

	return RawNotification{segments: segments}, nil
}

// VerificationBody is the payload PayPal expects for the verification handshake.
func VerificationBody(raw RawNotification) string {
	return VerifyCommand + "&" + raw.Encode()
}

func decodeComponent(s string) (string, error) {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(decoded) {
		return "", fmt.Errorf("invalid utf-8")
	}
	return decoded, nil
}
