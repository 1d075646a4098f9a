package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/funnelcoach/relay/pkg/config"
)

const maxErrorBodyBytes = 512

// APIError carries enough of a failed CRM response to diagnose it from logs:
// the status code and a truncated body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm api error: status=%d body=%q", e.Status, e.Body)
}

// Contact is the CRM-side record this service reads and merges into.
// It is owned by the CRM; this service never deletes it.
type Contact struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	FirstName    string            `json:"firstName"`
	LastName     string            `json:"lastName"`
	Phone        string            `json:"phone"`
	Tags         []string          `json:"tags"`
	CustomFields map[string]string `json:"customField"`
}

// UpsertContactRequest is the create-or-update payload, keyed by email.
type UpsertContactRequest struct {
	Email        string            `json:"email"`
	FirstName    string            `json:"firstName,omitempty"`
	LastName     string            `json:"lastName,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Tags         []string          `json:"tags"`
	CustomFields map[string]string `json:"customField,omitempty"`
}

type Client struct {
	baseURL    string
	apiKey     string
	locationID string
	http       *http.Client
	log        *zap.SugaredLogger
}

func NewClient(cfg *cfgpkg.Config, log *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:    cfg.CRM.BaseURL,
		apiKey:     cfg.CRM.APIKey,
		locationID: cfg.CRM.LocationID,
		http:       &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("crm request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
		return &APIError{Status: res.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode crm response: %w", err)
	}
	return nil
}

// lookupResponse tolerates both response shapes the CRM is known to return
// for a contact lookup: an array under "contacts" or a single "contact".
type lookupResponse struct {
	Contacts []*Contact `json:"contacts"`
	Contact  *Contact   `json:"contact"`
}

func (r *lookupResponse) first() *Contact {
	if len(r.Contacts) > 0 {
		return r.Contacts[0]
	}
	return r.Contact
}

// LookupContactByEmail returns the existing contact for email, or nil when
// the CRM has none. Match semantics (case handling) are provider-defined.
func (c *Client) LookupContactByEmail(ctx context.Context, email string) (*Contact, error) {
	q := url.Values{"email": {email}}
	if c.locationID != "" {
		q.Set("locationId", c.locationID)
	}

	var res lookupResponse
	err := c.do(ctx, http.MethodGet, "/contacts/lookup", q, nil, &res)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return res.first(), nil
}

// CreateOpportunityRequest creates a sales opportunity on a pipeline stage,
// attached to an existing contact.
type CreateOpportunityRequest struct {
	Title     string `json:"title"`
	StageID   string `json:"stageId"`
	ContactID string `json:"contactId"`
	Status    string `json:"status"`
}

// CreateOpportunity places a contact onto a pipeline stage as an open
// opportunity.
func (c *Client) CreateOpportunity(ctx context.Context, ref StageRef, contactID, title string) error {
	if ref.PipelineID == "" || ref.StageID == "" {
		return fmt.Errorf("incomplete stage ref: pipeline=%q stage=%q", ref.PipelineID, ref.StageID)
	}
	req := &CreateOpportunityRequest{
		Title:     title,
		StageID:   ref.StageID,
		ContactID: contactID,
		Status:    "open",
	}
	return c.do(ctx, http.MethodPost, "/pipelines/"+ref.PipelineID+"/opportunities/", nil, req, nil)
}

type upsertResponse struct {
	Contact *Contact `json:"contact"`
	ID      string   `json:"id"`
}

// UpsertContact issues the create-or-update call and returns the CRM contact
// id on success.
func (c *Client) UpsertContact(ctx context.Context, req *UpsertContactRequest) (string, error) {
	var res upsertResponse
	if err := c.do(ctx, http.MethodPost, "/contacts/", nil, req, &res); err != nil {
		return "", err
	}
	if res.Contact != nil && res.Contact.ID != "" {
		return res.Contact.ID, nil
	}
	return res.ID, nil
}
