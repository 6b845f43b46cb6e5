package provider

import (
	"context"

	"github.com/kursadbilgin/membership-functions/internal/domain"
	"github.com/kursadbilgin/membership-functions/internal/ipn"
)

// IPNVerifier performs the PayPal verification handshake for a received message.
type IPNVerifier interface {
	Verify(ctx context.Context, raw ipn.RawNotification) (domain.VerificationResult, error)
}

// MailingList is the subscriber store that holds membership state.
type MailingList interface {
	GetMember(ctx context.Context, email string) (*domain.Member, error)
	PutMember(ctx context.Context, upsert domain.MemberUpsert) (*domain.Member, error)
	AddTags(ctx context.Context, email string, tags ...string) error
}
