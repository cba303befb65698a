// Package xero is the accounting collaborator: it resolves customer
// contacts and issues accounts-receivable invoices.
package xero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"visionlake/fault"
	"visionlake/stripe"
)

const (
	system = "xero"

	invoiceTypeAccRec  = "ACCREC"
	invoiceStatusAuth  = "AUTHORISED"
	invoiceAccountCode = "200"
	phoneTypeMobile    = "MOBILE"
	invoiceQuantity    = 1
	invoiceDateFormat  = "2006-01-02"
)

var minorUnitsPerMajor = decimal.NewFromInt(100)

// Client talks to the Xero accounting API for one tenant.
type Client struct {
	baseURL     string
	tenantID    string
	description string
	tokens      *tokenSource
	httpc       *http.Client
	now         func() time.Time
}

// Options configures a Client.
type Options struct {
	BaseURL            string
	IdentityURL        string
	TenantID           string
	ClientID           string
	ClientSecret       string
	InvoiceDescription string
}

// NewClient builds a Client with a bounded per-call timeout.
func NewClient(opts Options) *Client {
	httpc := &http.Client{Timeout: 15 * time.Second}
	return &Client{
		baseURL:     opts.BaseURL,
		tenantID:    opts.TenantID,
		description: opts.InvoiceDescription,
		tokens:      newTokenSource(opts.IdentityURL, opts.ClientID, opts.ClientSecret, httpc),
		httpc:       httpc,
		now:         time.Now,
	}
}

// WithClock overrides the invoice-date clock, for tests.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

// ResolveContact finds the contact for the customer's email or creates one.
// The lookup uses a server-side filtered query so resolution stays constant
// regardless of how large the tenant's contact list grows, and the
// resolve-before-create order keeps at most one contact per email.
func (c *Client) ResolveContact(ctx context.Context, customer stripe.Customer) (Contact, error) {
	if customer.Email == "" {
		return Contact{}, fault.New(fault.UpstreamRejected, system, "resolve contact", fmt.Errorf("customer %s has no email", customer.ID))
	}

	where := url.QueryEscape(fmt.Sprintf("EmailAddress==%q", customer.Email))
	var listed contactsEnvelope
	if err := c.do(ctx, http.MethodGet, "/Contacts?where="+where, nil, &listed, "resolve contact"); err != nil {
		return Contact{}, err
	}
	if len(listed.Contacts) > 0 {
		return listed.Contacts[0], nil
	}

	fresh := Contact{
		Name:         customer.Name,
		EmailAddress: customer.Email,
	}
	if customer.Phone != "" {
		fresh.Phones = []Phone{{PhoneType: phoneTypeMobile, PhoneNumber: customer.Phone}}
	}

	var created contactsEnvelope
	if err := c.do(ctx, http.MethodPost, "/Contacts", contactsEnvelope{Contacts: []Contact{fresh}}, &created, "create contact"); err != nil {
		return Contact{}, err
	}
	if len(created.Contacts) == 0 {
		return Contact{}, fault.New(fault.UpstreamRejected, system, "create contact", fmt.Errorf("empty response"))
	}

	return created.Contacts[0], nil
}

// CreateInvoice issues a single-line-item AUTHORISED invoice against the
// contact. amountMinorUnits is converted to major units with exact decimal
// arithmetic.
func (c *Client) CreateInvoice(ctx context.Context, contactID string, amountMinorUnits int64) (Invoice, error) {
	if contactID == "" {
		return Invoice{}, fault.New(fault.UpstreamRejected, system, "create invoice", fmt.Errorf("empty contact id"))
	}

	invoice := Invoice{
		Type:    invoiceTypeAccRec,
		Contact: ContactRef{ContactID: contactID},
		LineItems: []LineItem{{
			Description: c.description,
			Quantity:    invoiceQuantity,
			UnitAmount:  MajorUnits(amountMinorUnits),
			AccountCode: invoiceAccountCode,
		}},
		Status: invoiceStatusAuth,
		Date:   c.now().Format(invoiceDateFormat),
	}

	var created invoicesEnvelope
	if err := c.do(ctx, http.MethodPost, "/Invoices", invoicesEnvelope{Invoices: []Invoice{invoice}}, &created, "create invoice"); err != nil {
		return Invoice{}, err
	}
	if len(created.Invoices) == 0 {
		return Invoice{}, fault.New(fault.UpstreamRejected, system, "create invoice", fmt.Errorf("empty response"))
	}

	return created.Invoices[0], nil
}

// MajorUnits renders an amount in minor units as a two-decimal major-unit
// string, e.g. 123456 -> "1234.56".
func MajorUnits(amountMinorUnits int64) string {
	return decimal.NewFromInt(amountMinorUnits).Div(minorUnitsPerMajor).StringFixed(2)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, op string) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("xero: encode %s: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("xero: build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Xero-Tenant-Id", c.tenantID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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
