// Package pandadoc is the document-signing collaborator: it classifies the
// payment into a pricing tier, renders the tier's contract template, and
// sends the result for signature.
package pandadoc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"visionlake/fault"
	"visionlake/stripe"
)

const (
	system        = "pandadoc"
	recipientRole = "Client"
	sendMessage   = "Please review and sign your Vision Lake subscription contract"
)

var minorUnitsPerMajor = decimal.NewFromInt(100)

// Client talks to the PandaDoc documents API.
type Client struct {
	baseURL   string
	apiKey    string
	templates Templates
	httpc     *http.Client
	now       func() time.Time
}

// NewClient builds a Client with a bounded per-call timeout.
func NewClient(baseURL, apiKey string, templates Templates) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		templates: templates,
		httpc:     &http.Client{Timeout: 15 * time.Second},
		now:       time.Now,
	}
}

// WithClock overrides the contract-date clock, for tests.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// Dispatch creates a contract from the tier template matching the amount
// and sends it to the customer for signature. The two calls are not
// individually idempotent; dedup of redelivered events is the caller's
// responsibility.
func (c *Client) Dispatch(ctx context.Context, customer stripe.Customer, amountMinorUnits int64) (Document, error) {
	if customer.Email == "" {
		return Document{}, fault.New(fault.UpstreamRejected, system, "create document", fmt.Errorf("customer %s has no email", customer.ID))
	}

	first, last := SplitName(customer.Name)
	create := createDocumentRequest{
		TemplateUUID: c.templates.For(TierFor(amountMinorUnits)),
		Name:         "Vision Lake Contract - " + customer.Name,
		Recipients: []Recipient{{
			Email:     customer.Email,
			FirstName: first,
			LastName:  last,
			Role:      recipientRole,
		}},
		Tokens: []Token{
			{Name: "client.name", Value: customer.Name},
			{Name: "subscription.amount", Value: "$" + majorUnits(amountMinorUnits)},
			{Name: "subscription.date", Value: c.now().Format("1/2/2006")},
		},
	}

	var doc Document
	if err := c.do(ctx, "/public/v1/documents", create, &doc, "create document"); err != nil {
		return Document{}, err
	}
	if doc.ID == "" {
		return Document{}, fault.New(fault.UpstreamRejected, system, "create document", fmt.Errorf("empty document id"))
	}

	send := sendDocumentRequest{Message: sendMessage, Silent: false}
	if err := c.do(ctx, "/public/v1/documents/"+doc.ID+"/send", send, nil, "send document"); err != nil {
		return Document{}, err
	}

	return doc, nil
}

// SplitName splits a display name into first and last: the first token is
// the first name, the remaining tokens joined by spaces are the last name.
// A single-token name yields an empty last name.
func SplitName(name string) (first, last string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func majorUnits(amountMinorUnits int64) string {
	return decimal.NewFromInt(amountMinorUnits).Div(minorUnitsPerMajor).StringFixed(2)
}

func (c *Client) do(ctx context.Context, path string, in, out any, op string) error {
	encoded, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("pandadoc: encode %s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("pandadoc: build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "API-Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fault.New(fault.UpstreamUnavailable, system, op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.New(fault.UpstreamUnavailable, system, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fault.FromStatus(system, op, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 200)))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fault.New(fault.UpstreamRejected, system, op, fmt.Errorf("decode: %w", err))
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
