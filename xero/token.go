package xero

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"visionlake/fault"
)

// tokenSource obtains and caches OAuth2 client-credentials access tokens
// from the Xero identity host. Xero access tokens are JWTs; the cached
// expiry is taken from the token's exp claim rather than trusting
// expires_in arithmetic across clock skew.
type tokenSource struct {
	identityURL  string
	clientID     string
	clientSecret string
	httpc        *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

const refreshSkew = 30 * time.Second

func newTokenSource(identityURL, clientID, clientSecret string, httpc *http.Client) *tokenSource {
	return &tokenSource{
		identityURL:  identityURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpc:        httpc,
	}
}

// Token returns a valid access token, fetching a fresh one when the cached
// token is missing or close to expiry.
func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Now().Before(ts.expires.Add(-refreshSkew)) {
		return ts.token, nil
	}

	form := url.Values{
		"grant_type": {"client_credentials"},
		"scope":      {"accounting.transactions accounting.contacts"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.identityURL+"/connect/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("xero: build token request: %w", err)
	}
	req.SetBasicAuth(ts.clientID, ts.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpc.Do(req)
	if err != nil {
		return "", fault.New(fault.UpstreamUnavailable, system, "token", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.New(fault.UpstreamUnavailable, system, "token", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fault.FromStatus(system, "token", resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode))
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return "", fault.New(fault.UpstreamRejected, system, "token", fmt.Errorf("decode grant: %w", err))
	}
	if grant.AccessToken == "" {
		return "", fault.New(fault.UpstreamRejected, system, "token", fmt.Errorf("empty access token"))
	}

	ts.token = grant.AccessToken
	ts.expires = tokenExpiry(grant.AccessToken, grant.ExpiresIn)

	return ts.token, nil
}

// tokenExpiry reads the exp claim out of the access token, falling back to
// expires_in when the token is not a parseable JWT.
func tokenExpiry(token string, expiresIn int64) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err == nil {
		if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}
