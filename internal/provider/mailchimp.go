package provider

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/membership-functions/internal/domain"
	"github.com/samber/lo"
)

const (
	defaultMailchimpTimeout = 10 * time.Second
	mailchimpUsername       = "any"

	memberPath     = "/3.0/lists/{listId}/members/{subscriberHash}"
	memberTagsPath = "/3.0/lists/{listId}/members/{subscriberHash}/tags"
	memberFields   = "email_address,status,merge_fields,tags"
)

type mailchimpTag struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
}

type mailchimpMember struct {
	EmailAddress string         `json:"email_address"`
	Status       string         `json:"status"`
	MergeFields  map[string]any `json:"merge_fields"`
	Tags         []mailchimpTag `json:"tags"`
}

type mailchimpPutRequest struct {
	EmailAddress string            `json:"email_address"`
	StatusIfNew  string            `json:"status_if_new"`
	Status       string            `json:"status"`
	MergeFields  map[string]string `json:"merge_fields"`
}

type mailchimpTagsRequest struct {
	Tags []mailchimpTagStatus `json:"tags"`
}

type mailchimpTagStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// MailchimpBaseURL derives the API host from the data-center suffix of the
// API key, e.g. "abc123-us6" -> https://us6.api.mailchimp.com.
func MailchimpBaseURL(apiKey string) (string, error) {
	_, dc, ok := strings.Cut(strings.TrimSpace(apiKey), "-")
	if !ok || dc == "" || strings.ContainsAny(dc, "-./:") {
		return "", fmt.Errorf("mailchimp api key must end with a data center suffix such as -us6")
	}
	return fmt.Sprintf("https://%s.api.mailchimp.com", dc), nil
}

// SubscriberHash is Mailchimp's member id: the MD5 of the lowercase email.
func SubscriberHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

// APIKeyFingerprint names an API key in shared state (such as rate-limit
// keys) without exposing the secret.
func APIKeyFingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(apiKey)))
	return "mc-" + hex.EncodeToString(sum[:6])
}

// MailchimpClient reads and writes members of one Mailchimp audience.
type MailchimpClient struct {
	client *resty.Client
	listID string
}

func NewMailchimpClient(apiKey string, listID string, timeout time.Duration) (*MailchimpClient, error) {
	baseURL, err := MailchimpBaseURL(apiKey)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	if timeout <= 0 {
		timeout = defaultMailchimpTimeout
	}
	client.SetTimeout(timeout)

	return NewMailchimpClientWithClient(baseURL, apiKey, listID, client)
}

func NewMailchimpClientWithClient(baseURL string, apiKey string, listID string, client *resty.Client) (*MailchimpClient, error) {
	trimmedBaseURL := strings.TrimSpace(baseURL)
	if _, err := url.ParseRequestURI(trimmedBaseURL); err != nil {
		return nil, fmt.Errorf("invalid mailchimp base url: %w", err)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("mailchimp api key is required")
	}
	if strings.TrimSpace(listID) == "" {
		return nil, fmt.Errorf("mailchimp list id is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultMailchimpTimeout)
	}
	client.SetRetryCount(0)
	client.SetBaseURL(strings.TrimRight(trimmedBaseURL, "/"))
	client.SetBasicAuth(mailchimpUsername, apiKey)
	client.SetHeader("Accept", "application/json")

	return &MailchimpClient{
		client: client,
		listID: strings.TrimSpace(listID),
	}, nil
}

// GetMember returns domain.ErrMemberNotFound when the email is not on the list.
func (c *MailchimpClient) GetMember(ctx context.Context, email string) (*domain.Member, error) {
	response, err := c.memberRequest(ctx, email).
		SetQueryParam("fields", memberFields).
		SetResult(&mailchimpMember{}).
		Get(memberPath)
	if err != nil {
		return nil, requestError("mailchimp", "get member", err)
	}

	switch {
	case response.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", domain.ErrMemberNotFound, email)
	case !isSuccessStatus(response.StatusCode()):
		return nil, statusError("mailchimp", "get member", response.StatusCode(), response.String())
	}

	member, ok := response.Result().(*mailchimpMember)
	if !ok || member == nil {
		return nil, &ProviderError{Provider: "mailchimp", Operation: "get member", Message: "empty member response", Transient: true}
	}
	return member.toDomain(), nil
}

// PutMember creates or updates the member identified by upsert.Email.
func (c *MailchimpClient) PutMember(ctx context.Context, upsert domain.MemberUpsert) (*domain.Member, error) {
	mergeFields := map[string]string{
		"FNAME":   upsert.FirstName,
		"LNAME":   upsert.LastName,
		"EXPIRES": upsert.Expires.Format(domain.DateLayout),
	}
	if !upsert.Joined.IsZero() {
		mergeFields["JOINED"] = upsert.Joined.Format(domain.DateLayout)
	}

	response, err := c.memberRequest(ctx, upsert.Email).
		SetHeader("Content-Type", "application/json").
		SetBody(mailchimpPutRequest{
			EmailAddress: upsert.Email,
			StatusIfNew:  upsert.Status.String(),
			Status:       upsert.Status.String(),
			MergeFields:  lo.PickBy(mergeFields, func(_ string, v string) bool { return v != "" }),
		}).
		SetResult(&mailchimpMember{}).
		Put(memberPath)
	if err != nil {
		return nil, requestError("mailchimp", "put member", err)
	}
	if !isSuccessStatus(response.StatusCode()) {
		return nil, statusError("mailchimp", "put member", response.StatusCode(), response.String())
	}

	member, ok := response.Result().(*mailchimpMember)
	if !ok || member == nil {
		return nil, &ProviderError{Provider: "mailchimp", Operation: "put member", Message: "empty member response", Transient: true}
	}
	return member.toDomain(), nil
}

// AddTags activates tags on an existing member.
func (c *MailchimpClient) AddTags(ctx context.Context, email string, tags ...string) error {
	if len(tags) == 0 {
		return nil
	}

	response, err := c.memberRequest(ctx, email).
		SetHeader("Content-Type", "application/json").
		SetBody(mailchimpTagsRequest{
			Tags: lo.Map(tags, func(tag string, _ int) mailchimpTagStatus {
				return mailchimpTagStatus{Name: tag, Status: "active"}
			}),
		}).
		Post(memberTagsPath)
	if err != nil {
		return requestError("mailchimp", "add tags", err)
	}
	if !isSuccessStatus(response.StatusCode()) {
		return statusError("mailchimp", "add tags", response.StatusCode(), response.String())
	}
	return nil
}

func (c *MailchimpClient) memberRequest(ctx context.Context, email string) *resty.Request {
	return c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"listId":         c.listID,
			"subscriberHash": SubscriberHash(email),
		})
}

func (m *mailchimpMember) toDomain() *domain.Member {
	expiresRaw := mergeString(m.MergeFields, "EXPIRES")
	return &domain.Member{
		Email:      m.EmailAddress,
		Status:     domain.MemberStatus(strings.ToLower(m.Status)),
		FirstName:  mergeString(m.MergeFields, "FNAME"),
		LastName:   mergeString(m.MergeFields, "LNAME"),
		Joined:     mergeString(m.MergeFields, "JOINED"),
		ExpiresRaw: expiresRaw,
		Expires:    domain.ParseDate(expiresRaw),
		Tags:       lo.Map(m.Tags, func(t mailchimpTag, _ int) string { return t.Name }),
	}
}

func mergeString(fields map[string]any, key string) string {
	value, ok := fields[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}
