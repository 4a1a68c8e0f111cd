package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mtgpricer/cardbridge/internal/cache"
	"github.com/mtgpricer/cardbridge/internal/pricing"
	"github.com/mtgpricer/cardbridge/internal/scryfall"
	"github.com/rs/zerolog/log"
)

const (
	// searchResultLimit caps the printings returned from a search: generous
	// enough to capture all language variants of a printing run.
	searchResultLimit = 100

	autocompleteLimit    = 10
	autocompleteMinChars = 3

	healthCheckTimeout = 5 * time.Second
)

var availableEndpoints = []string{"/search", "/autocomplete", "/sets", "/card", "/pricing", "/healthcheck"}

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// crossOrigin applies the fixed CORS headers expected by the frontend to
// every response.
func crossOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token")
		h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")

		next.ServeHTTP(w, r)
	})
}

// requestLog records one line per request with the response status and
// duration.
func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func handlePreflight() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusOK, map[string]string{"message": "CORS preflight"})
	})
}

type searchResponse struct {
	Cards      []scryfall.CardVersion `json:"cards"`
	TotalCards int                    `json:"total_cards"`
	HasMore    bool                   `json:"has_more"`
}

func handleCardSearch(cards scryfall.Client, responses *cache.Memory[[]byte]) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		query := queryParam(r, "q", "query")
		if query == "" {
			writeJSONError(w, http.StatusBadRequest, "Missing required parameter: q or query")
			return
		}

		body, err := cache.Fetch(r.Context(), responses, "search:"+strings.ToLower(query),
			func(ctx context.Context) ([]byte, error) {
				result, err := cards.Search(ctx, query, 1)
				if err != nil {
					return nil, err
				}

				printings := result.Data
				if len(printings) > searchResultLimit {
					printings = printings[:searchResultLimit]
				}

				versions := make([]scryfall.CardVersion, 0, len(printings))
				for _, card := range printings {
					versions = append(versions, card.Version())
				}

				return json.Marshal(searchResponse{
					Cards:      versions,
					TotalCards: result.TotalCards,
					HasMore:    result.HasMore,
				})
			})
		if err != nil {
			log.Info().Err(err).Str("query", query).Msg("card search failed")
			writeJSONFailure(w, "Failed to search cards", err)
			return
		}

		writeJSONBody(w, http.StatusOK, body)
	})
}

type autocompleteResponse struct {
	Query       string   `json:"query"`
	Suggestions []string `json:"suggestions"`
}

func handleAutocomplete(cards scryfall.Client) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		query := queryParam(r, "q", "query")
		if query == "" {
			writeJSONError(w, http.StatusBadRequest, "Missing required parameter: q or query")
			return
		}

		// below the minimum the upstream rejects the request, so
		// short-circuit with no suggestions
		if len(strings.TrimSpace(query)) < autocompleteMinChars {
			writeJSON(w, http.StatusOK, map[string][]string{"suggestions": {}})
			return
		}

		suggestions, err := cards.Autocomplete(r.Context(), query)
		if err != nil {
			log.Info().Err(err).Str("query", query).Msg("autocomplete failed")
			writeJSONFailure(w, "Failed to get autocomplete suggestions", err)
			return
		}

		if len(suggestions) > autocompleteLimit {
			suggestions = suggestions[:autocompleteLimit]
		}

		writeJSON(w, http.StatusOK, autocompleteResponse{
			Query:       query,
			Suggestions: suggestions,
		})
	})
}

type cardSetsResponse struct {
	CardName string             `json:"card_name"`
	Sets     []scryfall.SetInfo `json:"sets"`
}

func handleCardSets(cards scryfall.Client, responses *cache.Memory[[]byte]) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		cardName := queryParam(r, "name", "card_name")
		if cardName == "" {
			writeJSONError(w, http.StatusBadRequest, "Missing required parameter: name or card_name")
			return
		}

		body, err := cache.Fetch(r.Context(), responses, "sets:"+strings.ToLower(cardName),
			func(ctx context.Context) ([]byte, error) {
				sets, err := cards.CardSets(ctx, cardName)
				if err != nil {
					return nil, err
				}

				return json.Marshal(cardSetsResponse{CardName: cardName, Sets: sets})
			})
		if err != nil {
			log.Info().Err(err).Str("card", cardName).Msg("card sets lookup failed")
			writeJSONFailure(w, "Failed to get card sets", err)
			return
		}

		writeJSONBody(w, http.StatusOK, body)
	})
}

type cardResponse struct {
	Card scryfall.CardDetail `json:"card"`
}

func handleCard(cards scryfall.Client, responses *cache.Memory[[]byte]) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		cardName := queryParam(r, "name", "card_name")
		if cardName == "" {
			writeJSONError(w, http.StatusBadRequest, "Missing required parameter: name or card_name")
			return
		}
		setCode := queryParam(r, "set", "set_code")

		key := "card:" + strings.ToLower(cardName) + ":" + strings.ToLower(setCode)
		body, err := cache.Fetch(r.Context(), responses, key,
			func(ctx context.Context) ([]byte, error) {
				card, err := cards.NamedCard(ctx, cardName, setCode)
				if err != nil {
					return nil, err
				}

				return json.Marshal(cardResponse{Card: card.Detail()})
			})
		if err != nil {
			log.Info().Err(err).Str("card", cardName).Msg("card lookup failed")
			writeJSONFailure(w, "Failed to get card information", err)
			return
		}

		writeJSONBody(w, http.StatusOK, body)
	})
}

func handlePricing(prices *pricing.Client) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		if prices == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "Pricing is not configured")
			return
		}

		if productID := queryParam(r, "product_id", "productId"); productID != "" {
			result, err := prices.ProductPricing(r.Context(), productID)
			if err != nil {
				log.Info().Err(err).Str("product", productID).Msg("product pricing failed")
				writeJSONFailure(w, "Failed to get pricing information", err)
				return
			}
			writeJSONBody(w, http.StatusOK, result)
			return
		}

		query := queryParam(r, "q", "query")
		if query == "" {
			writeJSONError(w, http.StatusBadRequest, "Missing required parameter: product_id or q")
			return
		}

		categoryID := intParam(r, "category_id", 1)
		limit := intParam(r, "limit", 10)

		result, err := prices.SearchProducts(r.Context(), query, categoryID, limit)
		if err != nil {
			log.Info().Err(err).Str("query", query).Msg("product search failed")
			writeJSONFailure(w, "Failed to search products", err)
			return
		}

		writeJSONBody(w, http.StatusOK, result)
	})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func handleHealthCheck(cards scryfall.Client, pricingEnabled bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status := "healthy"
		statusCode := http.StatusOK
		checks := map[string]string{"card_api": "ok"}

		if err := cards.Ping(ctx); err != nil {
			log.Info().Err(err).Msg("healthcheck: card API unreachable")
			checks["card_api"] = "unreachable"
			status = "unhealthy"
			statusCode = http.StatusServiceUnavailable
		}

		if pricingEnabled {
			checks["pricing_credentials"] = "configured"
		} else {
			checks["pricing_credentials"] = "not configured"
			if status == "healthy" {
				status = "degraded"
			}
		}

		writeJSON(w, statusCode, healthResponse{Status: status, Checks: checks})
	})
}

type invalidEndpointResponse struct {
	Error              string   `json:"error"`
	AvailableEndpoints []string `json:"available_endpoints"`
}

func handleUnknownEndpoint() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		writeJSON(w, http.StatusBadRequest, invalidEndpointResponse{
			Error:              "Invalid endpoint",
			AvailableEndpoints: availableEndpoints,
		})
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// queryParam returns the first non-empty named query parameter, allowing the
// aliases the frontend has historically sent.
func queryParam(r *http.Request, names ...string) string {
	for _, name := range names {
		if value := r.URL.Query().Get(name); value != "" {
			return value
		}
	}
	return ""
}

func intParam(r *http.Request, name string, fallback int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// errorResponse is the JSON error body: message carries the underlying
// error for diagnostics on internal failures.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Info().Err(err).Msg("failed to marshal response")
		requestError(w, http.StatusInternalServerError)
		return
	}
	writeJSONBody(w, statusCode, body)
}

func writeJSONBody(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		// trying to respond to the client at this point will likely fail
		log.Info().Err(err).Msg("failed to write response")
	}
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}

// writeJSONFailure reports an upstream failure, attaching the underlying
// error message for diagnostics. Errors implementing HTTPStatuser choose
// their own status and message; authentication failures against the pricing
// provider surface here after the client has already invalidated its token.
func writeJSONFailure(w http.ResponseWriter, message string, err error) {
	statusCode := http.StatusInternalServerError

	var statuser HTTPStatuser
	switch {
	case errors.As(err, &statuser):
		// errors without a specific client message keep the endpoint's own
		if code, msg := statuser.Status(); msg != "" {
			statusCode, message = code, msg
		}
	case errors.Is(err, pricing.ErrAuthentication):
		message = "Pricing API authentication failed"
	case errors.Is(err, pricing.ErrRateLimited):
		statusCode = http.StatusServiceUnavailable
		message = "Pricing API rate limit exceeded"
	}

	writeJSON(w, statusCode, errorResponse{Error: message, Message: err.Error()})
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// drainRequestBody drains the request body by reading and discarding the
// contents, so the connection can be reused by HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
