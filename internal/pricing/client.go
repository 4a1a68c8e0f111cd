package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mtgpricer/cardbridge/internal/config"
	"github.com/mtgpricer/cardbridge/internal/pace"
	"github.com/mtgpricer/cardbridge/internal/secrets"
	"github.com/rs/zerolog/log"
)

// minRequestInterval is the pause left between consecutive API requests to
// stay inside the provider's rate limits.
const minRequestInterval = 100 * time.Millisecond

// ErrAuthentication indicates the API rejected the bearer token even after
// re-issuance.
var ErrAuthentication = errors.New("pricing API authentication failed: token may be invalid")

// ErrRateLimited indicates the API's rate limit was exceeded.
var ErrRateLimited = errors.New("pricing API rate limit exceeded")

// APIError is a non-2xx, non-auth response from the pricing API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pricing API error %d: %s", e.StatusCode, e.Body)
}

// Client calls the versioned pricing/catalog API with a bearer token from
// its TokenSource. Responses are passed through as raw JSON: the upstream
// envelope is already the shape the frontend consumes.
type Client struct {
	apiURL     string
	tokens     *TokenSource
	httpClient *http.Client
	limiter    *pace.Pacer
}

func New(cfg config.PricingConfig, provider secrets.Provider) (*Client, error) {
	base, err := url.Parse(cfg.APIURL)
	if err != nil || cfg.APIURL == "" {
		return nil, fmt.Errorf("invalid pricing API URL %q: %w", cfg.APIURL, err)
	}

	httpClient := &http.Client{
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}

	return &Client{
		apiURL:     base.JoinPath(cfg.APIVersion).String(),
		tokens:     NewTokenSource(base.JoinPath("token").String(), provider, httpClient),
		httpClient: httpClient,
		limiter:    pace.New(minRequestInterval),
	}, nil
}

// ProductPricing returns market pricing for a product.
func (c *Client) ProductPricing(ctx context.Context, productID string) (json.RawMessage, error) {
	return c.get(ctx, "pricing/product/"+url.PathEscape(productID), nil)
}

// SearchProducts searches the product catalog. Category 1 is Magic: The
// Gathering.
func (c *Client) SearchProducts(ctx context.Context, query string, categoryID, limit int) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("categoryId", strconv.Itoa(categoryID))
	params.Set("limit", strconv.Itoa(limit))

	return c.get(ctx, "catalog/products", params)
}

// ProductDetails returns catalog details for a product.
func (c *Client) ProductDetails(ctx context.Context, productID string) (json.RawMessage, error) {
	return c.get(ctx, "catalog/products/"+url.PathEscape(productID), nil)
}

// get performs an authenticated request. On a 401 the cached token is
// invalidated and the request retried exactly once with a fresh token; a
// second 401 is an authentication failure.
func (c *Client) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	body, status, err := c.do(ctx, path, params)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		log.Info().Str("path", path).Msg("pricing API rejected token, re-issuing")
		c.tokens.Invalidate()

		body, status, err = c.do(ctx, path, params)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			c.tokens.Invalidate()
			return nil, ErrAuthentication
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case status < 200 || status >= 300:
		return nil, &APIError{StatusCode: status, Body: string(body)}
	}

	return json.RawMessage(body), nil
}

func (c *Client) do(ctx context.Context, path string, params url.Values) ([]byte, int, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, 0, err
	}

	u := c.apiURL + "/" + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating pricing API request: %w", err)
	}
	req.Header.Set("Authorization", "bearer "+token)
	req.Header.Set("Accept", "application/json")

	c.limiter.Wait()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("pricing API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading pricing API response: %w", err)
	}

	return body, resp.StatusCode, nil
}
