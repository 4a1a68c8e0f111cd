// Package pricing is a client for the TCGplayer pricing and catalog API,
// authenticated with a cached OAuth client-credentials bearer token.
package pricing

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

	"github.com/mtgpricer/cardbridge/internal/secrets"
	"github.com/rs/zerolog/log"
)

const (
	// expiryBuffer is the safety margin before token expiry: a token within
	// this window of expiring is treated as expired so it can't lapse
	// mid-flight.
	expiryBuffer = 5 * time.Minute

	// defaultExpiresIn applies when the issuer omits expires_in. The
	// provider's tokens last 14 days.
	defaultExpiresIn = 1_209_600 * time.Second
)

// TokenSource caches a bearer token and re-issues it via the
// client-credentials grant when it is absent, expired, or within the expiry
// buffer. It performs no retries: a failed issuance surfaces to the caller.
type TokenSource struct {
	endpoint   string
	provider   secrets.Provider
	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenSource(endpoint string, provider secrets.Provider, httpClient *http.Client) *TokenSource {
	return &TokenSource{
		endpoint:   endpoint,
		provider:   provider,
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Token returns a bearer token that is valid for at least the expiry buffer.
// The cached token is returned without I/O while it remains valid; otherwise
// credentials are fetched and a new token issued.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	if ts.token != "" && now.Before(ts.expiresAt.Add(-expiryBuffer)) {
		return ts.token, nil
	}

	log.Info().Msg("requesting new pricing API bearer token")

	token, expiresIn, err := ts.issue(ctx)
	if err != nil {
		return "", err
	}

	ts.token = token
	ts.expiresAt = now.Add(expiresIn)

	log.Info().Dur("expires_in", expiresIn).Msg("new pricing API token acquired")
	return ts.token, nil
}

// Invalidate discards the cached token so the next Token call re-issues.
// Callers invoke this on a 401 from an authenticated request.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.token = ""
	ts.expiresAt = time.Time{}
}

func (ts *TokenSource) issue(ctx context.Context) (string, time.Duration, error) {
	creds, err := ts.provider.Credentials(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("retrieving pricing API credentials: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", creds.PublicKey)
	form.Set("client_secret", creds.PrivateKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var issued struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &issued); err != nil {
		return "", 0, fmt.Errorf("decoding token response: %w", err)
	}

	if issued.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint returned no access_token")
	}

	expiresIn := defaultExpiresIn
	if issued.ExpiresIn > 0 {
		expiresIn = time.Duration(issued.ExpiresIn) * time.Second
	}

	return issued.AccessToken, expiresIn, nil
}
