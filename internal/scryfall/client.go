// Package scryfall is a client for the Scryfall card metadata API, with the
// response reshaping this service's frontend expects.
package scryfall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mtgpricer/cardbridge/internal/config"
	"github.com/mtgpricer/cardbridge/internal/pace"
	"github.com/rs/zerolog/log"
)

// minRequestInterval is the pause the upstream API asks clients to leave
// between consecutive requests.
const minRequestInterval = 100 * time.Millisecond

// APIError is a non-2xx response from the upstream API.
type APIError struct {
	StatusCode int
	Body       string
}

// Status maps an upstream not-found to a client error: an unknown card name
// is the caller's mistake, not a service failure. Other statuses are internal
// failures with no client-facing message of their own.
func (e *APIError) Status() (int, string) {
	if e.StatusCode == http.StatusNotFound {
		return http.StatusBadRequest, "Card not found"
	}
	return http.StatusInternalServerError, ""
}

func (e *APIError) Error() string {
	return fmt.Sprintf("card API error %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *pace.Pacer
}

func New(cfg config.CardsConfig) (Client, error) {
	baseURL := cfg.APIURL
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return Client{}, fmt.Errorf("invalid card API URL %q: %w", baseURL, err)
	}

	return Client{
		baseURL:   baseURL,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		limiter: pace.New(minRequestInterval),
	}, nil
}

// Search finds all printings matching the exact card name. The exact-match
// operator (!"...") is applied here so callers pass the bare name.
func (c Client) Search(ctx context.Context, query string, page int) (SearchResult, error) {
	params := url.Values{}
	params.Set("q", fmt.Sprintf("!%q", query))
	params.Set("page", strconv.Itoa(page))
	params.Set("order", "name")
	params.Set("dir", "asc")
	params.Set("unique", "prints")

	var result SearchResult
	if err := c.get(ctx, "/cards/search", params, &result); err != nil {
		return SearchResult{}, err
	}

	return result, nil
}

// Autocomplete returns name suggestions for a partial card name.
func (c Client) Autocomplete(ctx context.Context, query string) ([]string, error) {
	params := url.Values{}
	params.Set("q", query)

	var catalog Catalog
	if err := c.get(ctx, "/cards/autocomplete", params, &catalog); err != nil {
		return nil, err
	}

	return catalog.Data, nil
}

// NamedCard returns a single card by exact name, optionally pinned to a set.
func (c Client) NamedCard(ctx context.Context, name, setCode string) (Card, error) {
	params := url.Values{}
	params.Set("exact", name)
	if setCode != "" {
		params.Set("set", setCode)
	}

	var card Card
	if err := c.get(ctx, "/cards/named", params, &card); err != nil {
		return Card{}, err
	}

	return card, nil
}

// CardSets returns the distinct sets a card has been printed in, derived from
// a printings search. Ordering follows the search result (name order, so set
// order is incidental but stable).
func (c Client) CardSets(ctx context.Context, cardName string) ([]SetInfo, error) {
	result, err := c.Search(ctx, cardName, 1)
	if err != nil {
		return nil, err
	}

	sets := make([]SetInfo, 0, len(result.Data))
	seen := make(map[string]bool)
	for _, card := range result.Data {
		if card.Set == "" || card.SetName == "" || seen[card.Set] {
			continue
		}
		seen[card.Set] = true
		sets = append(sets, SetInfo{
			Code:       card.Set,
			Name:       card.SetName,
			ReleasedAt: card.ReleasedAt,
		})
	}

	return sets, nil
}

// Ping verifies the upstream API is reachable. The bulk-data listing is a
// small, unauthenticated endpoint suitable for health probes.
func (c Client) Ping(ctx context.Context) error {
	var listing struct {
		Object string `json:"object"`
	}
	return c.get(ctx, "/bulk-data", nil, &listing)
}

func (c Client) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating card API request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	c.limiter.Wait()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("card API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading card API response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Info().Int("status", resp.StatusCode).Str("path", path).
			Msg("card API request rejected")
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding card API response: %w", err)
	}

	return nil
}
