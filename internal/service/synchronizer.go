package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/kursadbilgin/membership-functions/internal/domain"
	"github.com/kursadbilgin/membership-functions/internal/observability"
	"github.com/kursadbilgin/membership-functions/internal/provider"
	"github.com/kursadbilgin/membership-functions/internal/ratelimit"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	defaultMemberTag     = "Member"
	defaultSyncTimeout   = 10 * time.Second
	membershipTermYears  = 1
	maxGetMemberAttempts = 3
	memberRetryDelay     = 100 * time.Millisecond
)

type SynchronizerConfig struct {
	MemberTag string
	Location  *time.Location
	Timeout   time.Duration
}

// MembershipSynchronizer makes the mailing list reflect a completed payment.
// Running it twice for the same payment leaves the list unchanged the second
// time.
type MembershipSynchronizer struct {
	list        provider.MailingList
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	memberTag   string
	location    *time.Location
	timeout     time.Duration
	retryDelay  time.Duration
	now         func() time.Time
}

func NewMembershipSynchronizer(
	list provider.MailingList,
	rateLimiter ratelimit.RateLimiter,
	cfg SynchronizerConfig,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*MembershipSynchronizer, error) {
	if list == nil {
		return nil, fmt.Errorf("mailing list client is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tag := strings.TrimSpace(cfg.MemberTag)
	if tag == "" {
		tag = defaultMemberTag
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSyncTimeout
	}

	return &MembershipSynchronizer{
		list:        list,
		rateLimiter: rateLimiter,
		logger:      logger,
		metrics:     metrics,
		memberTag:   tag,
		location:    location,
		timeout:     timeout,
		retryDelay:  memberRetryDelay,
		now:         time.Now,
	}, nil
}

// Upsert returns UpsertApplied when the list was written, UpsertAlreadyCurrent
// when nothing needed to change, and UpsertProviderError together with an
// error wrapping domain.ErrSyncProvider when Mailchimp could not be read or
// written.
func (s *MembershipSynchronizer) Upsert(ctx context.Context, n domain.ParsedNotification) (domain.UpsertResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := s.now()
	result, err := s.upsert(ctx, n)
	s.metrics.ObserveUpsert(string(result), s.now().Sub(start))
	return result, err
}

func (s *MembershipSynchronizer) upsert(ctx context.Context, n domain.ParsedNotification) (domain.UpsertResult, error) {
	email := normalizeEmail(n.PayerEmail)
	if email == "" {
		return domain.UpsertProviderError, fmt.Errorf("%w: payer_email is required", domain.ErrMalformedPayload)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("txnId", n.TxnID),
		zap.String("subscriberHash", provider.SubscriberHash(email)),
	)

	today := s.dayOf(s.now())
	paymentDay := today
	if n.PaymentDate != nil {
		paymentDay = s.dayOf(*n.PaymentDate)
	}
	renewal := domain.AddYears(paymentDay, membershipTermYears)

	member, err := s.getMember(ctx, email)
	if errors.Is(err, domain.ErrMemberNotFound) {
		upsert := domain.MemberUpsert{
			Email:     email,
			Status:    domain.MemberStatusPending,
			FirstName: n.FirstName,
			LastName:  n.LastName,
			Joined:    today,
			Expires:   renewal,
		}
		if err := s.putMember(ctx, upsert); err != nil {
			return domain.UpsertProviderError, err
		}
		if err := s.addTag(ctx, email); err != nil {
			return domain.UpsertProviderError, err
		}

		logger.Info("new member added",
			zap.String("expires", renewal.Format(domain.DateLayout)),
		)
		return domain.UpsertApplied, nil
	}
	if err != nil {
		return domain.UpsertProviderError, fmt.Errorf("%w: get member: %w", domain.ErrSyncProvider, err)
	}

	if member.Status == domain.MemberStatusUnsubscribed {
		logger.Info("member unsubscribed, leaving record untouched")
		return domain.UpsertAlreadyCurrent, nil
	}

	target := renewal
	if member.Expires != nil {
		existing := s.calendarDay(*member.Expires)
		switch {
		case existing.After(target):
			target = existing
		case n.PaymentDate == nil && !target.After(existing.AddDate(0, 0, 1)):
			// Without payment_date the renewal follows the local clock, so a
			// redelivery after midnight lands one day later than the first.
			target = existing
		}
	}

	hasTag := member.HasTag(s.memberTag)
	expiryCurrent := member.Expires != nil && member.Expires.Format(domain.DateLayout) == target.Format(domain.DateLayout)
	if expiryCurrent && member.Status.IsActive() && hasTag {
		logger.Debug("member already current",
			zap.String("expires", target.Format(domain.DateLayout)),
		)
		return domain.UpsertAlreadyCurrent, nil
	}

	status := domain.MemberStatusPending
	if member.Status == domain.MemberStatusSubscribed {
		status = domain.MemberStatusSubscribed
	}
	upsert := domain.MemberUpsert{
		Email:     email,
		Status:    status,
		FirstName: lo.CoalesceOrEmpty(n.FirstName, member.FirstName),
		LastName:  lo.CoalesceOrEmpty(n.LastName, member.LastName),
		Expires:   target,
	}
	if strings.TrimSpace(member.Joined) == "" {
		upsert.Joined = today
	}

	if err := s.putMember(ctx, upsert); err != nil {
		return domain.UpsertProviderError, err
	}
	if !hasTag {
		if err := s.addTag(ctx, email); err != nil {
			return domain.UpsertProviderError, err
		}
	}

	logger.Info("member renewed",
		zap.String("previousStatus", member.Status.String()),
		zap.String("previousExpires", member.ExpiresRaw),
		zap.String("expires", target.Format(domain.DateLayout)),
	)
	return domain.UpsertApplied, nil
}

// getMember retries transient read failures. Writes are never retried.
func (s *MembershipSynchronizer) getMember(ctx context.Context, email string) (*domain.Member, error) {
	return retry.DoWithData(
		func() (*domain.Member, error) {
			if err := s.wait(ctx); err != nil {
				return nil, err
			}
			return s.list.GetMember(ctx, email)
		},
		retry.Context(ctx),
		retry.Attempts(maxGetMemberAttempts),
		retry.Delay(s.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(provider.IsTransient),
		retry.OnRetry(func(attempt uint, err error) {
			s.logger.Warn("retrying member lookup",
				zap.Uint("attempt", attempt+1),
				zap.Error(err),
			)
		}),
	)
}

func (s *MembershipSynchronizer) putMember(ctx context.Context, upsert domain.MemberUpsert) error {
	if err := s.wait(ctx); err != nil {
		return fmt.Errorf("%w: put member: %w", domain.ErrSyncProvider, err)
	}

	updated, err := s.list.PutMember(ctx, upsert)
	if err != nil {
		return fmt.Errorf("%w: put member: %w", domain.ErrSyncProvider, err)
	}
	if updated == nil || !updated.Status.IsActive() {
		status := "<nil>"
		if updated != nil {
			status = updated.Status.String()
		}
		return fmt.Errorf("%w: put member: unexpected status %q after update", domain.ErrSyncProvider, status)
	}
	return nil
}

func (s *MembershipSynchronizer) addTag(ctx context.Context, email string) error {
	if err := s.wait(ctx); err != nil {
		return fmt.Errorf("%w: add tag: %w", domain.ErrSyncProvider, err)
	}
	if err := s.list.AddTags(ctx, email, s.memberTag); err != nil {
		return fmt.Errorf("%w: add tag: %w", domain.ErrSyncProvider, err)
	}
	return nil
}

// wait blocks on the shared limiter. A broken limiter does not stop the sync;
// only an expired context does.
func (s *MembershipSynchronizer) wait(ctx context.Context) error {
	err := s.rateLimiter.Wait(ctx, ratelimit.ScopeMailchimp)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	s.logger.Warn("rate limiter unavailable, continuing without it", zap.Error(err))
	return nil
}

// dayOf returns midnight of t's calendar day in the membership time zone.
func (s *MembershipSynchronizer) dayOf(t time.Time) time.Time {
	y, m, d := t.In(s.location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.location)
}

// calendarDay keeps t's date as written and places it in the membership time
// zone. Used for dates read back from merge fields.
func (s *MembershipSynchronizer) calendarDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.location)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
