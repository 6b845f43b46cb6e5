package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kursadbilgin/membership-functions/internal/domain"
	"github.com/kursadbilgin/membership-functions/internal/observability"
	"github.com/kursadbilgin/membership-functions/internal/provider"
)

var (
	pacific = time.FixedZone("PDT", -7*60*60)
	syncNow = time.Date(2026, time.October, 15, 18, 0, 0, 0, time.UTC)
	paidAt  = time.Date(2026, time.October, 15, 15, 58, 19, 0, time.UTC)
)

func newTestSynchronizer(t *testing.T, list *fakeMailingList, limiter *fakeRateLimiter, metrics *observability.Metrics) *MembershipSynchronizer {
	t.Helper()

	if limiter == nil {
		limiter = &fakeRateLimiter{}
	}
	s, err := NewMembershipSynchronizer(list, limiter, SynchronizerConfig{
		MemberTag: "Member",
		Location:  pacific,
		Timeout:   time.Second,
	}, nil, metrics)
	if err != nil {
		t.Fatalf("NewMembershipSynchronizer() error = %v", err)
	}
	s.now = func() time.Time { return syncNow }
	s.retryDelay = time.Millisecond
	return s
}

func paidNotification(email string) domain.ParsedNotification {
	paid := paidAt
	return domain.ParsedNotification{
		TxnID:         "61E67681CH3238416",
		TxnType:       "web_accept",
		PaymentStatus: domain.PaymentStatusCompleted,
		PayerEmail:    email,
		FirstName:     "Ana",
		LastName:      "Doe",
		Gross:         domain.MoneyFromMinor(2500, "CAD"),
		Currency:      "CAD",
		PaymentDate:   &paid,
	}
}

func TestSynchronizerNewMember(t *testing.T) {
	t.Parallel()

	list := newFakeMailingList()
	limiter := &fakeRateLimiter{}
	metrics := observability.NewMetrics()
	s := newTestSynchronizer(t, list, limiter, metrics)

	result, err := s.Upsert(context.Background(), paidNotification(" Ana@Example.com "))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if result != domain.UpsertApplied {
		t.Fatalf("Upsert() = %s, want %s", result, domain.UpsertApplied)
	}

	if list.lastPut.Status != domain.MemberStatusPending {
		t.Fatalf("new member status = %s, want pending", list.lastPut.Status)
	}
	if list.lastPut.Email != "ana@example.com" {
		t.Fatalf("email = %q, want lowercase", list.lastPut.Email)
	}
	if got := list.lastPut.Expires.Format(domain.DateLayout); got != "2027-10-15" {
		t.Fatalf("EXPIRES = %s, want 2027-10-15", got)
	}
	if got := list.lastPut.Joined.Format(domain.DateLayout); got != "2026-10-15" {
		t.Fatalf("JOINED = %s, want 2026-10-15", got)
	}
	if list.lastPut.FirstName != "Ana" || list.lastPut.LastName != "Doe" {
		t.Fatalf("names = %q %q", list.lastPut.FirstName, list.lastPut.LastName)
	}
	if m := list.member("ana@example.com"); m == nil || !m.HasTag("Member") {
		t.Fatal("new member should carry the member tag")
	}
	if limiter.waits != 3 {
		t.Fatalf("rate limiter waits = %d, want 3 (get, put, tag)", limiter.waits)
	}
	if got := counterValue(t, metrics, "membership_upserts_total", map[string]string{"result": "applied"}); got != 1 {
		t.Fatalf("membership_upserts_total{applied} = %v, want 1", got)
	}
}

func TestSynchronizerSecondRunIsAlreadyCurrent(t *testing.T) {
	t.Parallel()

	list := newFakeMailingList()
	s := newTestSynchronizer(t, list, nil, nil)
	n := paidNotification("ana@example.com")

	if result, err := s.Upsert(context.Background(), n); err != nil || result != domain.UpsertApplied {
		t.Fatalf("first Upsert() = %s, %v", result, err)
	}
	writes := list.putCalls + list.tagCalls

	result, err := s.Upsert(context.Background(), n)
	if err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	if result != domain.UpsertAlreadyCurrent {
		t.Fatalf("second Upsert() = %s, want %s", result, domain.UpsertAlreadyCurrent)
	}
	if got := list.putCalls + list.tagCalls; got != writes {
		t.Fatalf("second run wrote to the list (%d writes, want %d)", got, writes)
	}
}

func TestSynchronizerExistingMembers(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		member      domain.Member
		wantResult  domain.UpsertResult
		wantPut     bool
		wantStatus  domain.MemberStatus
		wantExpires string
		wantTag     bool
	}{
		{
			name:       "unsubscribed member is left alone",
			member:     domain.Member{Email: "ana@example.com", Status: domain.MemberStatusUnsubscribed, ExpiresRaw: "2025-01-01"},
			wantResult: domain.UpsertAlreadyCurrent,
		},
		{
			name:        "expired subscriber is renewed and stays subscribed",
			member:      domain.Member{Email: "ana@example.com", Status: domain.MemberStatusSubscribed, ExpiresRaw: "2025-06-01", Joined: "2024-06-01", Tags: []string{"Member"}},
			wantResult:  domain.UpsertApplied,
			wantPut:     true,
			wantStatus:  domain.MemberStatusSubscribed,
			wantExpires: "2027-10-15",
		},
		{
			name:        "later expiry is never shortened",
			member:      domain.Member{Email: "ana@example.com", Status: domain.MemberStatusSubscribed, ExpiresRaw: "2028-03-01", Tags: []string{"member"}},
			wantResult:  domain.UpsertAlreadyCurrent,
			wantExpires: "",
		},
		{
			name:        "later expiry without tag gets tagged",
			member:      domain.Member{Email: "ana@example.com", Status: domain.MemberStatusSubscribed, ExpiresRaw: "2028-03-01"},
			wantResult:  domain.UpsertApplied,
			wantPut:     true,
			wantStatus:  domain.MemberStatusSubscribed,
			wantExpires: "2028-03-01",
			wantTag:     true,
		},
		{
			name:        "cleaned member goes back to pending",
			member:      domain.Member{Email: "ana@example.com", Status: domain.MemberStatusCleaned, ExpiresRaw: "2027-10-15", Tags: []string{"Member"}},
			wantResult:  domain.UpsertApplied,
			wantPut:     true,
			wantStatus:  domain.MemberStatusPending,
			wantExpires: "2027-10-15",
		},
		{
			name:        "unparseable expiry is treated as absent",
			member:      domain.Member{Email: "ana@example.com", Status: domain.MemberStatusPending, ExpiresRaw: "someday", Tags: []string{"Member"}},
			wantResult:  domain.UpsertApplied,
			wantPut:     true,
			wantStatus:  domain.MemberStatusPending,
			wantExpires: "2027-10-15",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			list := newFakeMailingList(tc.member)
			s := newTestSynchronizer(t, list, nil, nil)

			result, err := s.Upsert(context.Background(), paidNotification("ana@example.com"))
			if err != nil {
				t.Fatalf("Upsert() error = %v", err)
			}
			if result != tc.wantResult {
				t.Fatalf("Upsert() = %s, want %s", result, tc.wantResult)
			}

			if !tc.wantPut {
				if list.putCalls != 0 || list.tagCalls != 0 {
					t.Fatalf("unexpected writes: put=%d tag=%d", list.putCalls, list.tagCalls)
				}
				return
			}

			if list.putCalls != 1 {
				t.Fatalf("put calls = %d, want 1", list.putCalls)
			}
			if list.lastPut.Status != tc.wantStatus {
				t.Fatalf("status = %s, want %s", list.lastPut.Status, tc.wantStatus)
			}
			if got := list.lastPut.Expires.Format(domain.DateLayout); got != tc.wantExpires {
				t.Fatalf("EXPIRES = %s, want %s", got, tc.wantExpires)
			}
			if got := list.tagCalls == 1; got != tc.wantTag {
				t.Fatalf("tagged = %v, want %v", got, tc.wantTag)
			}
		})
	}
}

func TestSynchronizerMembershipDates(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		paidAt      *time.Time
		wantExpires string
	}{
		{
			name:        "payment day is taken in the membership time zone",
			paidAt:      ptrTime(time.Date(2026, time.October, 16, 3, 0, 0, 0, time.UTC)),
			wantExpires: "2027-10-15",
		},
		{
			name:        "leap day is clamped",
			paidAt:      ptrTime(time.Date(2028, time.February, 29, 20, 0, 0, 0, time.UTC)),
			wantExpires: "2029-02-28",
		},
		{
			name:        "missing payment date falls back to today",
			paidAt:      nil,
			wantExpires: "2027-10-15",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			list := newFakeMailingList()
			s := newTestSynchronizer(t, list, nil, nil)

			n := paidNotification("ana@example.com")
			n.PaymentDate = tc.paidAt

			if _, err := s.Upsert(context.Background(), n); err != nil {
				t.Fatalf("Upsert() error = %v", err)
			}
			if got := list.lastPut.Expires.Format(domain.DateLayout); got != tc.wantExpires {
				t.Fatalf("EXPIRES = %s, want %s", got, tc.wantExpires)
			}
		})
	}
}

func TestSynchronizerRetriesTransientLookups(t *testing.T) {
	t.Parallel()

	list := newFakeMailingList()
	attempts := 0
	list.getFn = func(ctx context.Context, email string) (*domain.Member, error) {
		attempts++
		if attempts < 3 {
			return nil, &provider.ProviderError{Provider: "mailchimp", Operation: "get member", StatusCode: http.StatusServiceUnavailable, Transient: true}
		}
		return nil, domain.ErrMemberNotFound
	}
	s := newTestSynchronizer(t, list, nil, nil)

	result, err := s.Upsert(context.Background(), paidNotification("ana@example.com"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if result != domain.UpsertApplied {
		t.Fatalf("Upsert() = %s, want %s", result, domain.UpsertApplied)
	}
	if attempts != 3 {
		t.Fatalf("get attempts = %d, want 3", attempts)
	}
}

func TestSynchronizerGivesUpAfterBoundedRetries(t *testing.T) {
	t.Parallel()

	list := newFakeMailingList()
	list.getFn = func(ctx context.Context, email string) (*domain.Member, error) {
		return nil, &provider.ProviderError{Provider: "mailchimp", Operation: "get member", StatusCode: http.StatusTooManyRequests, Transient: true}
	}
	s := newTestSynchronizer(t, list, nil, nil)

	result, err := s.Upsert(context.Background(), paidNotification("ana@example.com"))
	if result != domain.UpsertProviderError {
		t.Fatalf("Upsert() = %s, want %s", result, domain.UpsertProviderError)
	}
	if !errors.Is(err, domain.ErrSyncProvider) {
		t.Fatalf("error = %v, want ErrSyncProvider", err)
	}
	if provider.StatusCode(err) != http.StatusTooManyRequests {
		t.Fatalf("StatusCode(err) = %d, want 429", provider.StatusCode(err))
	}
	if list.getCalls != 3 {
		t.Fatalf("get calls = %d, want 3", list.getCalls)
	}
	if list.putCalls != 0 {
		t.Fatalf("put calls = %d, want 0", list.putCalls)
	}
}

func TestSynchronizerDoesNotRetryPermanentLookups(t *testing.T) {
	t.Parallel()

	list := newFakeMailingList()
	list.getFn = func(ctx context.Context, email string) (*domain.Member, error) {
		return nil, &provider.ProviderError{Provider: "mailchimp", Operation: "get member", StatusCode: http.StatusUnauthorized}
	}
	s := newTestSynchronizer(t, list, nil, nil)

	if _, err := s.Upsert(context.Background(), paidNotification("ana@example.com")); !errors.Is(err, domain.ErrSyncProvider) {
		t.Fatalf("error = %v, want ErrSyncProvider", err)
	}
	if list.getCalls != 1 {
		t.Fatalf("get calls = %d, want 1", list.getCalls)
	}
}

func TestSynchronizerWriteFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		putFn  func(ctx context.Context, upsert domain.MemberUpsert) (*domain.Member, error)
		tagsFn func(ctx context.Context, email string, tags ...string) error
	}{
		{
			name: "put fails and is not retried",
			putFn: func(ctx context.Context, upsert domain.MemberUpsert) (*domain.Member, error) {
				return nil, &provider.ProviderError{Provider: "mailchimp", StatusCode: http.StatusInternalServerError, Transient: true}
			},
		},
		{
			name: "put leaves member in an unexpected status",
			putFn: func(ctx context.Context, upsert domain.MemberUpsert) (*domain.Member, error) {
				return &domain.Member{Email: upsert.Email, Status: domain.MemberStatusCleaned}, nil
			},
		},
		{
			name: "tag fails",
			tagsFn: func(ctx context.Context, email string, tags ...string) error {
				return &provider.ProviderError{Provider: "mailchimp", StatusCode: http.StatusBadRequest}
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			list := newFakeMailingList()
			list.putFn = tc.putFn
			list.tagsFn = tc.tagsFn
			s := newTestSynchronizer(t, list, nil, nil)

			result, err := s.Upsert(context.Background(), paidNotification("ana@example.com"))
			if result != domain.UpsertProviderError {
				t.Fatalf("Upsert() = %s, want %s", result, domain.UpsertProviderError)
			}
			if !errors.Is(err, domain.ErrSyncProvider) {
				t.Fatalf("error = %v, want ErrSyncProvider", err)
			}
			if list.putCalls != 1 {
				t.Fatalf("put calls = %d, want 1", list.putCalls)
			}
		})
	}
}

func TestSynchronizerRequiresPayerEmail(t *testing.T) {
	t.Parallel()

	list := newFakeMailingList()
	s := newTestSynchronizer(t, list, nil, nil)

	_, err := s.Upsert(context.Background(), paidNotification("  "))
	if !errors.Is(err, domain.ErrMalformedPayload) {
		t.Fatalf("error = %v, want ErrMalformedPayload", err)
	}
	if list.totalCalls() != 0 {
		t.Fatalf("mailing list calls = %d, want 0", list.totalCalls())
	}
}

func TestSynchronizerContinuesWhenLimiterFails(t *testing.T) {
	t.Parallel()

	list := newFakeMailingList()
	limiter := &fakeRateLimiter{
		waitFn: func(ctx context.Context, scope string) error {
			if scope != "mailchimp" {
				t.Errorf("scope = %q, want mailchimp", scope)
			}
			return errors.New("redis: connection refused")
		},
	}
	s := newTestSynchronizer(t, list, limiter, nil)

	result, err := s.Upsert(context.Background(), paidNotification("ana@example.com"))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if result != domain.UpsertApplied {
		t.Fatalf("Upsert() = %s, want %s", result, domain.UpsertApplied)
	}
}

func TestSynchronizerUndatedRedeliveryAcrossMidnight(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		existing    string
		dated       bool
		wantResult  domain.UpsertResult
		wantExpires string
	}{
		{name: "undated, expiry set yesterday", existing: "2027-10-14", wantResult: domain.UpsertAlreadyCurrent},
		{name: "undated, expiry two days old", existing: "2027-10-13", wantResult: domain.UpsertApplied, wantExpires: "2027-10-15"},
		{name: "dated payment still extends by a day", existing: "2027-10-14", dated: true, wantResult: domain.UpsertApplied, wantExpires: "2027-10-15"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			list := newFakeMailingList(domain.Member{
				Email:      "ana@example.com",
				Status:     domain.MemberStatusSubscribed,
				Joined:     "2025-10-14",
				ExpiresRaw: tc.existing,
				Tags:       []string{"Member"},
			})
			s := newTestSynchronizer(t, list, nil, nil)

			n := paidNotification("ana@example.com")
			if !tc.dated {
				n.PaymentDate = nil
			}

			result, err := s.Upsert(context.Background(), n)
			if err != nil {
				t.Fatalf("Upsert() error = %v", err)
			}
			if result != tc.wantResult {
				t.Fatalf("Upsert() = %s, want %s", result, tc.wantResult)
			}
			if tc.wantResult == domain.UpsertAlreadyCurrent {
				if list.putCalls != 0 {
					t.Fatalf("put calls = %d, want 0", list.putCalls)
				}
				return
			}
			if got := list.lastPut.Expires.Format(domain.DateLayout); got != tc.wantExpires {
				t.Fatalf("EXPIRES = %s, want %s", got, tc.wantExpires)
			}
		})
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
