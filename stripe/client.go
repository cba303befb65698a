// Package stripe is the payment-processor collaborator: it parses and
// verifies inbound webhook deliveries and reads customer records back out
// of the Stripe API.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"visionlake/fault"
)

const system = "stripe"

// Client is a thin read-only Stripe API client.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// NewClient builds a Client with a bounded per-call timeout.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchCustomer retrieves the paying customer referenced by a checkout
// session.
func (c *Client) FetchCustomer(ctx context.Context, customerID string) (Customer, error) {
	if customerID == "" {
		return Customer{}, fault.New(fault.UpstreamRejected, system, "fetch customer", fmt.Errorf("empty customer id"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/customers/"+customerID, nil)
	if err != nil {
		return Customer{}, fmt.Errorf("stripe: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Customer{}, fault.New(fault.UpstreamUnavailable, system, "fetch customer", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Customer{}, fault.New(fault.UpstreamUnavailable, system, "fetch customer", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Customer{}, fault.FromStatus(system, "fetch customer", resp.StatusCode,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200)))
	}

	var customer Customer
	if err := json.Unmarshal(body, &customer); err != nil {
		return Customer{}, fault.New(fault.UpstreamRejected, system, "fetch customer", fmt.Errorf("decode: %w", err))
	}

	return customer, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
