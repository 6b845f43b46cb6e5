package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/membership-functions/internal/domain"
	"github.com/kursadbilgin/membership-functions/internal/provider"
	"github.com/samber/lo"
)

const (
	defaultAcceptedCurrencies = "CAD,USD"
	defaultAcceptedTxnTypes   = "web_accept,subscr_payment"
)

type Config struct {
	MailchimpAPIKey          string `env:"MAILCHIMP_API_KEY,required=true"`
	MailchimpListID          string `env:"MAILCHIMP_LIST_ID,required=true"`
	MailchimpMemberTag       string `env:"MAILCHIMP_MEMBER_TAG,default=Member"`
	MailchimpTimeoutRaw      string `env:"MAILCHIMP_TIMEOUT,default=10s"`
	MailchimpRateLimitPerSec int    `env:"MAILCHIMP_RATE_LIMIT_PER_SEC,default=10"`
	PayPalSandbox            bool   `env:"PAYPAL_SANDBOX,default=false"`
	PayPalReceiver           string `env:"PAYPAL_RECEIVER,required=true"`
	PayPalVerifyTimeoutRaw   string `env:"PAYPAL_VERIFY_TIMEOUT,default=10s"`
	AcceptedCurrenciesRaw    string `env:"ACCEPTED_CURRENCIES"`
	AcceptedTxnTypesRaw      string `env:"ACCEPTED_TXN_TYPES"`
	MinGrossAmountRaw        string `env:"MIN_GROSS_AMOUNT,default=10.00"`
	StalenessWindowRaw       string `env:"IPN_STALENESS_WINDOW,default=96h"`
	ClockSkewRaw             string `env:"IPN_CLOCK_SKEW,default=5m"`
	LedgerTTLRaw             string `env:"IPN_LEDGER_TTL,default=720h"`
	MembershipTimezoneName   string `env:"MEMBERSHIP_TIMEZONE,default=America/Vancouver"`
	RedisURL                 string `env:"REDIS_URL"`
	Host                     string `env:"HOST,default=127.0.0.1"`
	APIPort                  int    `env:"FUNCTIONS_CUSTOMHANDLER_PORT,default=8080"`
	LogLevel                 string `env:"LOG_LEVEL,default=info"`

	// Derived in Load.
	MailchimpTimeout    time.Duration
	PayPalVerifyTimeout time.Duration
	AcceptedCurrencies  []string
	AcceptedTxnTypes    []string
	MinGrossAmount      domain.Money
	StalenessWindow     time.Duration
	ClockSkew           time.Duration
	LedgerTTL           time.Duration
	MembershipTimezone  *time.Location
	MailchimpBaseURL    string
	PayPalVerifyURL     string
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.derive(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.APIPort)
}

func (c *Config) derive() error {
	var err error

	if c.MailchimpTimeout, err = parsePositiveDuration("MAILCHIMP_TIMEOUT", c.MailchimpTimeoutRaw); err != nil {
		return err
	}
	if c.PayPalVerifyTimeout, err = parsePositiveDuration("PAYPAL_VERIFY_TIMEOUT", c.PayPalVerifyTimeoutRaw); err != nil {
		return err
	}
	if c.StalenessWindow, err = parsePositiveDuration("IPN_STALENESS_WINDOW", c.StalenessWindowRaw); err != nil {
		return err
	}
	if c.ClockSkew, err = parseDuration("IPN_CLOCK_SKEW", c.ClockSkewRaw); err != nil {
		return err
	}
	if c.LedgerTTL, err = parsePositiveDuration("IPN_LEDGER_TTL", c.LedgerTTLRaw); err != nil {
		return err
	}

	// go-env splits tag options on commas, so list defaults live here.
	c.AcceptedCurrenciesRaw = lo.CoalesceOrEmpty(strings.TrimSpace(c.AcceptedCurrenciesRaw), defaultAcceptedCurrencies)
	c.AcceptedTxnTypesRaw = lo.CoalesceOrEmpty(strings.TrimSpace(c.AcceptedTxnTypesRaw), defaultAcceptedTxnTypes)

	c.AcceptedCurrencies = splitList(strings.ToUpper(c.AcceptedCurrenciesRaw))
	if len(c.AcceptedCurrencies) == 0 {
		return fmt.Errorf("ACCEPTED_CURRENCIES must list at least one currency")
	}
	c.AcceptedTxnTypes = splitList(c.AcceptedTxnTypesRaw)
	if len(c.AcceptedTxnTypes) == 0 {
		return fmt.Errorf("ACCEPTED_TXN_TYPES must list at least one transaction type")
	}

	if c.MinGrossAmount, err = domain.ParseMoney(c.MinGrossAmountRaw, ""); err != nil {
		return fmt.Errorf("invalid MIN_GROSS_AMOUNT: %w", err)
	}
	if c.MinGrossAmount.IsNegative() {
		return fmt.Errorf("MIN_GROSS_AMOUNT must not be negative")
	}

	if c.MembershipTimezone, err = time.LoadLocation(strings.TrimSpace(c.MembershipTimezoneName)); err != nil {
		return fmt.Errorf("invalid MEMBERSHIP_TIMEZONE: %w", err)
	}

	c.PayPalReceiver = strings.TrimSpace(c.PayPalReceiver)
	if c.PayPalReceiver == "" {
		return fmt.Errorf("PAYPAL_RECEIVER must not be blank")
	}
	c.MailchimpMemberTag = strings.TrimSpace(c.MailchimpMemberTag)
	if c.MailchimpMemberTag == "" {
		return fmt.Errorf("MAILCHIMP_MEMBER_TAG must not be blank")
	}
	if c.MailchimpRateLimitPerSec <= 0 {
		return fmt.Errorf("MAILCHIMP_RATE_LIMIT_PER_SEC must be positive")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("FUNCTIONS_CUSTOMHANDLER_PORT %d is out of range", c.APIPort)
	}

	if c.MailchimpBaseURL, err = provider.MailchimpBaseURL(c.MailchimpAPIKey); err != nil {
		return fmt.Errorf("invalid MAILCHIMP_API_KEY: %w", err)
	}
	c.PayPalVerifyURL = provider.PayPalVerifyURL(c.PayPalSandbox)
	c.RedisURL = strings.TrimSpace(c.RedisURL)

	return nil
}

func splitList(raw string) []string {
	return lo.Uniq(lo.FilterMap(strings.Split(raw, ","), func(item string, _ int) (string, bool) {
		trimmed := strings.TrimSpace(item)
		return trimmed, trimmed != ""
	}))
}

func parseDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}

func parsePositiveDuration(name, raw string) (time.Duration, error) {
	d, err := parseDuration(name, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}
