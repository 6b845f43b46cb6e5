package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/kursadbilgin/membership-functions/internal/domain"
	"github.com/kursadbilgin/membership-functions/internal/ipn"
	"github.com/kursadbilgin/membership-functions/internal/observability"
)

// counterValue reads one counter sample from the metrics registry. name is
// given without the namespace prefix.
func counterValue(t *testing.T, metrics *observability.Metrics, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := metrics.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	fullName := "membership_functions_" + name
	for _, family := range families {
		if family.GetName() != fullName {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := 0
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want == pair.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

type fakeVerifier struct {
	verifyFn func(ctx context.Context, raw ipn.RawNotification) (domain.VerificationResult, error)
	calls    int
}

func (f *fakeVerifier) Verify(ctx context.Context, raw ipn.RawNotification) (domain.VerificationResult, error) {
	f.calls++
	if f.verifyFn != nil {
		return f.verifyFn(ctx, raw)
	}
	return domain.VerificationVerified, nil
}

// fakeMailingList is an in-memory audience. The *Fn hooks override the
// default behaviour when set.
type fakeMailingList struct {
	mu      sync.Mutex
	members map[string]*domain.Member

	getFn  func(ctx context.Context, email string) (*domain.Member, error)
	putFn  func(ctx context.Context, upsert domain.MemberUpsert) (*domain.Member, error)
	tagsFn func(ctx context.Context, email string, tags ...string) error

	getCalls  int
	putCalls  int
	tagCalls  int
	lastPut   domain.MemberUpsert
	lastEmail string
}

func newFakeMailingList(members ...domain.Member) *fakeMailingList {
	f := &fakeMailingList{members: make(map[string]*domain.Member)}
	for i := range members {
		m := members[i]
		m.Expires = domain.ParseDate(m.ExpiresRaw)
		f.members[strings.ToLower(m.Email)] = &m
	}
	return f
}

func (f *fakeMailingList) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls + f.putCalls + f.tagCalls
}

func (f *fakeMailingList) member(email string) *domain.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[strings.ToLower(email)]
}

func (f *fakeMailingList) GetMember(ctx context.Context, email string) (*domain.Member, error) {
	f.mu.Lock()
	f.getCalls++
	f.lastEmail = email
	f.mu.Unlock()

	if f.getFn != nil {
		return f.getFn(ctx, email)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[strings.ToLower(email)]
	if !ok {
		return nil, domain.ErrMemberNotFound
	}
	copied := *m
	copied.Tags = append([]string(nil), m.Tags...)
	return &copied, nil
}

func (f *fakeMailingList) PutMember(ctx context.Context, upsert domain.MemberUpsert) (*domain.Member, error) {
	f.mu.Lock()
	f.putCalls++
	f.lastPut = upsert
	f.mu.Unlock()

	if f.putFn != nil {
		return f.putFn(ctx, upsert)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(upsert.Email)
	m, ok := f.members[key]
	if !ok {
		m = &domain.Member{Email: upsert.Email}
		f.members[key] = m
	}
	m.Status = upsert.Status
	if upsert.FirstName != "" {
		m.FirstName = upsert.FirstName
	}
	if upsert.LastName != "" {
		m.LastName = upsert.LastName
	}
	if !upsert.Joined.IsZero() {
		m.Joined = upsert.Joined.Format(domain.DateLayout)
	}
	m.ExpiresRaw = upsert.Expires.Format(domain.DateLayout)
	m.Expires = domain.ParseDate(m.ExpiresRaw)

	copied := *m
	return &copied, nil
}

func (f *fakeMailingList) AddTags(ctx context.Context, email string, tags ...string) error {
	f.mu.Lock()
	f.tagCalls++
	f.mu.Unlock()

	if f.tagsFn != nil {
		return f.tagsFn(ctx, email, tags...)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[strings.ToLower(email)]; ok {
		for _, tag := range tags {
			if !m.HasTag(tag) {
				m.Tags = append(m.Tags, tag)
			}
		}
	}
	return nil
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, scope string) (bool, error)
	waitFn  func(ctx context.Context, scope string) error
	waits   int
}

func (f *fakeRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, scope)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	f.waits++
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

type fakeLedger struct {
	seenFn func(ctx context.Context, txnID string) (bool, error)
	markFn func(ctx context.Context, txnID string) error
	marked []string
}

func (f *fakeLedger) Seen(ctx context.Context, txnID string) (bool, error) {
	if f.seenFn != nil {
		return f.seenFn(ctx, txnID)
	}
	for _, id := range f.marked {
		if id == txnID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) Mark(ctx context.Context, txnID string) error {
	if f.markFn != nil {
		return f.markFn(ctx, txnID)
	}
	f.marked = append(f.marked, txnID)
	return nil
}
