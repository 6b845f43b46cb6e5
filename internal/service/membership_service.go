package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/membership-functions/internal/domain"
	"github.com/kursadbilgin/membership-functions/internal/observability"
	"github.com/kursadbilgin/membership-functions/internal/provider"
	"github.com/kursadbilgin/membership-functions/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	MembershipActive  = "active"
	MembershipExpired = "expired"
)

// MembershipStatus is the answer to a membership lookup. Expiration is the
// EXPIRES merge field exactly as stored, or nil when unset.
type MembershipStatus struct {
	Membership string
	Expiration *string
}

type MembershipService struct {
	list        provider.MailingList
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
}

func NewMembershipService(
	list provider.MailingList,
	rateLimiter ratelimit.RateLimiter,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*MembershipService, error) {
	if list == nil {
		return nil, fmt.Errorf("mailing list client is required")
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MembershipService{
		list:        list,
		rateLimiter: rateLimiter,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Check looks an email up on the mailing list. It returns domain.ErrValidation
// for a blank email and domain.ErrMemberNotFound when the list has no record.
func (s *MembershipService) Check(ctx context.Context, email string) (*MembershipStatus, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	normalized := normalizeEmail(email)
	if normalized == "" {
		s.metrics.IncMembershipCheck("invalid")
		return nil, fmt.Errorf("%w: email is required", domain.ErrValidation)
	}

	if err := s.rateLimiter.Wait(ctx, ratelimit.ScopeMailchimp); err != nil && ctx.Err() != nil {
		s.metrics.IncMembershipCheck("error")
		return nil, err
	}

	member, err := s.list.GetMember(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrMemberNotFound) {
			s.metrics.IncMembershipCheck("not_found")
			return nil, err
		}
		observability.WithContextLogger(s.logger, ctx).Error("membership lookup failed",
			zap.String("subscriberHash", provider.SubscriberHash(normalized)),
			zap.Int("providerStatus", provider.StatusCode(err)),
			zap.Error(err),
		)
		s.metrics.IncMembershipCheck("error")
		return nil, err
	}

	status := &MembershipStatus{Membership: MembershipExpired}
	if member.Status.IsActive() {
		status.Membership = MembershipActive
	}
	if raw := strings.TrimSpace(member.ExpiresRaw); raw != "" {
		status.Expiration = &raw
	}

	s.metrics.IncMembershipCheck(status.Membership)
	return status, nil
}
