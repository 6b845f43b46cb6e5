package domain

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// MemberStatus is a Mailchimp list member status.
type MemberStatus string

const (
	MemberStatusSubscribed    MemberStatus = "subscribed"
	MemberStatusPending       MemberStatus = "pending"
	MemberStatusUnsubscribed  MemberStatus = "unsubscribed"
	MemberStatusCleaned       MemberStatus = "cleaned"
	MemberStatusTransactional MemberStatus = "transactional"
	MemberStatusArchived      MemberStatus = "archived"
)

func (s MemberStatus) String() string { return string(s) }

// IsActive reports whether the status counts as a current membership.
func (s MemberStatus) IsActive() bool {
	return s == MemberStatusSubscribed || s == MemberStatusPending
}

// DateLayout is the format used for date merge fields.
const DateLayout = "2006-01-02"

// Member is a mailing-list subscriber record.
type Member struct {
	Email      string
	Status     MemberStatus
	FirstName  string
	LastName   string
	Joined     string
	ExpiresRaw string
	Expires    *time.Time
	Tags       []string
}

func (m *Member) HasTag(tag string) bool {
	return lo.ContainsBy(m.Tags, func(t string) bool {
		return strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(tag))
	})
}

// MemberUpsert is the desired state written to the mailing list.
type MemberUpsert struct {
	Email     string
	Status    MemberStatus
	FirstName string
	LastName  string
	Joined    time.Time
	Expires   time.Time
}

// ParseDate parses a date merge field. Empty or unparseable values return nil.
func ParseDate(value string) *time.Time {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) < len(DateLayout) {
		return nil
	}
	t, err := time.Parse(DateLayout, trimmed[:len(DateLayout)])
	if err != nil {
		return nil
	}
	return &t
}

// AddYears adds whole years to a date, clamping Feb 29 to Feb 28 when the
// target year has no leap day.
func AddYears(date time.Time, years int) time.Time {
	y, m, d := date.Date()
	target := y + years
	if m == time.February && d == 29 && !isLeap(target) {
		d = 28
	}
	return time.Date(target, m, d, 0, 0, 0, 0, date.Location())
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
