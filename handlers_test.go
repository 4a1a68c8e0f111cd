package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mtgpricer/cardbridge/internal/cache"
	"github.com/mtgpricer/cardbridge/internal/config"
	"github.com/mtgpricer/cardbridge/internal/pricing"
	"github.com/mtgpricer/cardbridge/internal/scryfall"
	"github.com/mtgpricer/cardbridge/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cardsClient(t *testing.T, upstream http.HandlerFunc) scryfall.Client {
	t.Helper()

	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	cards, err := scryfall.New(config.CardsConfig{
		APIURL:         server.URL,
		UserAgent:      "test-agent",
		TimeoutSeconds: 5,
	})
	require.NoError(t, err)

	return cards
}

func pricingClient(t *testing.T, api http.HandlerFunc) *pricing.Client {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"test-token","expires_in":3600}`)
	})
	mux.Handle("/v1.39.0/", api)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	prices, err := pricing.New(config.PricingConfig{
		APIURL:         server.URL,
		APIVersion:     "v1.39.0",
		TimeoutSeconds: 5,
	}, secrets.Static{PublicKey: "pub", PrivateKey: "priv"})
	require.NoError(t, err)

	return prices
}

func responseCache(t *testing.T) *cache.Memory[[]byte] {
	t.Helper()

	responses, err := cache.NewMemory[[]byte](time.Minute, 100)
	require.NoError(t, err)

	return responses
}

func get(t *testing.T, handler http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest("GET", target, nil)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	return rr
}

func TestCrossOrigin_SetsHeaders(t *testing.T) {
	handler := crossOrigin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := get(t, handler, "/search")

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token",
		rr.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "GET,POST,OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
}

func TestHandlePreflight(t *testing.T) {
	req, err := http.NewRequest("OPTIONS", "/search", nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	handlePreflight().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"CORS preflight"}`, rr.Body.String())
}

func TestHandleCardSearch_MissingParam(t *testing.T) {
	handler := handleCardSearch(scryfall.Client{}, responseCache(t))

	rr := get(t, handler, "/search")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"Missing required parameter: q or query"}`, rr.Body.String())
}

func TestHandleCardSearch_ReshapesResult(t *testing.T) {
	cards := cardsClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cards/search", r.URL.Path)
		assert.Equal(t, `!"Lightning Bolt"`, r.URL.Query().Get("q"))
		assert.Equal(t, "prints", r.URL.Query().Get("unique"))

		fmt.Fprint(w, `{
			"total_cards": 2,
			"has_more": false,
			"data": [
				{"id": "a1", "name": "Lightning Bolt", "set": "lea", "set_name": "Limited Edition Alpha",
				 "image_uris": {"normal": "https://img.example/a1.jpg"},
				 "prices": {"usd": "450.00", "usd_foil": null}},
				{"id": "b2", "name": "Lightning Bolt", "set": "m10", "set_name": "Magic 2010", "lang": "ja"}
			]
		}`)
	})

	handler := handleCardSearch(cards, responseCache(t))
	rr := get(t, handler, "/search?q=Lightning+Bolt")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, 2, resp.TotalCards)
	assert.False(t, resp.HasMore)
	require.Len(t, resp.Cards, 2)
	assert.Equal(t, "lea", resp.Cards[0].SetCode)
	assert.Equal(t, "https://img.example/a1.jpg", resp.Cards[0].ImageURL)
	assert.Equal(t, "en", resp.Cards[0].Lang) // defaulted
	assert.Equal(t, "ja", resp.Cards[1].Lang)

	usd := resp.Cards[0].Prices["usd"]
	require.NotNil(t, usd)
	assert.Equal(t, "450.00", *usd)
	assert.Nil(t, resp.Cards[0].Prices["usd_foil"])
}

func TestHandleCardSearch_CachesResponse(t *testing.T) {
	var upstreamCalls atomic.Int32
	cards := cardsClient(t, func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls.Add(1)
		fmt.Fprint(w, `{"total_cards": 0, "has_more": false, "data": []}`)
	})

	handler := handleCardSearch(cards, responseCache(t))

	first := get(t, handler, "/search?q=Counterspell")
	second := get(t, handler, "/search?q=counterspell") // key is case-insensitive

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), upstreamCalls.Load())
}

func TestHandleCardSearch_UpstreamFailure(t *testing.T) {
	cards := cardsClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"object":"error"}`, http.StatusInternalServerError)
	})

	handler := handleCardSearch(cards, responseCache(t))
	rr := get(t, handler, "/search?q=Counterspell")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Failed to search cards", resp.Error)
	assert.NotEmpty(t, resp.Message)
}

func TestHandleAutocomplete_ShortQuery(t *testing.T) {
	// upstream must not be called for queries below the minimum length
	cards := cardsClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected upstream request")
	})

	handler := handleAutocomplete(cards)
	rr := get(t, handler, "/autocomplete?q=ab")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"suggestions":[]}`, rr.Body.String())
}

func TestHandleAutocomplete_LimitsSuggestions(t *testing.T) {
	cards := cardsClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cards/autocomplete", r.URL.Path)

		names := make([]string, 15)
		for i := range names {
			names[i] = fmt.Sprintf("Lightning %d", i)
		}
		body, _ := json.Marshal(map[string]any{"data": names})
		w.Write(body)
	})

	handler := handleAutocomplete(cards)
	rr := get(t, handler, "/autocomplete?q=light")

	require.Equal(t, http.StatusOK, rr.Code)

	var resp autocompleteResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "light", resp.Query)
	assert.Len(t, resp.Suggestions, autocompleteLimit)
}

func TestHandleCardSets_DeduplicatesSets(t *testing.T) {
	cards := cardsClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"total_cards": 3,
			"has_more": false,
			"data": [
				{"id": "a", "name": "Opt", "set": "inv", "set_name": "Invasion", "released_at": "2000-10-02"},
				{"id": "b", "name": "Opt", "set": "inv", "set_name": "Invasion", "released_at": "2000-10-02"},
				{"id": "c", "name": "Opt", "set": "dom", "set_name": "Dominaria", "released_at": "2018-04-27"}
			]
		}`)
	})

	handler := handleCardSets(cards, responseCache(t))
	rr := get(t, handler, "/sets?name=Opt")

	require.Equal(t, http.StatusOK, rr.Code)

	var resp cardSetsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Opt", resp.CardName)
	assert.Equal(t, []scryfall.SetInfo{
		{Code: "inv", Name: "Invasion", ReleasedAt: "2000-10-02"},
		{Code: "dom", Name: "Dominaria", ReleasedAt: "2018-04-27"},
	}, resp.Sets)
}

func TestHandleCardSets_MissingParam(t *testing.T) {
	handler := handleCardSets(scryfall.Client{}, responseCache(t))

	rr := get(t, handler, "/sets")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"Missing required parameter: name or card_name"}`, rr.Body.String())
}

func TestHandleCard_ReturnsDetail(t *testing.T) {
	cards := cardsClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cards/named", r.URL.Path)
		assert.Equal(t, "Opt", r.URL.Query().Get("exact"))
		assert.Equal(t, "dom", r.URL.Query().Get("set"))

		fmt.Fprint(w, `{
			"id": "c", "name": "Opt", "set": "dom", "set_name": "Dominaria",
			"type_line": "Instant", "mana_cost": "{U}", "cmc": 1,
			"image_uris": {"normal": "https://img.example/opt.jpg"},
			"legalities": {"modern": "legal"},
			"printed_languages": ["en", "ja"]
		}`)
	})

	handler := handleCard(cards, responseCache(t))
	rr := get(t, handler, "/card?name=Opt&set=dom")

	require.Equal(t, http.StatusOK, rr.Code)

	var resp cardResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "dom", resp.Card.SetCode)
	assert.Equal(t, "https://img.example/opt.jpg", resp.Card.ImageURL)
	assert.Equal(t, map[string]string{"modern": "legal"}, resp.Card.Legalities)
	assert.Equal(t, []string{"en", "ja"}, resp.Card.Languages)
}

func TestHandleCard_NotFound(t *testing.T) {
	cards := cardsClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"object":"error","code":"not_found"}`, http.StatusNotFound)
	})

	handler := handleCard(cards, responseCache(t))
	rr := get(t, handler, "/card?name=Not+A+Real+Card")

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Card not found", resp.Error)
}

func TestHandleCard_MissingParam(t *testing.T) {
	handler := handleCard(scryfall.Client{}, responseCache(t))

	rr := get(t, handler, "/card")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"Missing required parameter: name or card_name"}`, rr.Body.String())
}

func TestHandlePricing_NotConfigured(t *testing.T) {
	handler := handlePricing(nil)

	rr := get(t, handler, "/pricing?product_id=123")

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"error":"Pricing is not configured"}`, rr.Body.String())
}

func TestHandlePricing_MissingParams(t *testing.T) {
	prices := pricingClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected upstream request")
	})

	handler := handlePricing(prices)
	rr := get(t, handler, "/pricing")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"Missing required parameter: product_id or q"}`, rr.Body.String())
}

func TestHandlePricing_ProductPricingPassthrough(t *testing.T) {
	upstreamBody := `{"success":true,"results":[{"productId":123,"marketPrice":4.56}]}`
	prices := pricingClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.39.0/pricing/product/123", r.URL.Path)
		assert.Equal(t, "bearer test-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, upstreamBody)
	})

	handler := handlePricing(prices)
	rr := get(t, handler, "/pricing?product_id=123")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, upstreamBody, rr.Body.String())
}

func TestHandlePricing_ProductSearchDefaults(t *testing.T) {
	prices := pricingClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.39.0/catalog/products", r.URL.Path)
		assert.Equal(t, "Lightning Bolt", r.URL.Query().Get("q"))
		assert.Equal(t, "1", r.URL.Query().Get("categoryId"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))

		fmt.Fprint(w, `{"success":true,"results":[]}`)
	})

	handler := handlePricing(prices)
	rr := get(t, handler, "/pricing?q=Lightning+Bolt")

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandlePricing_RateLimited(t *testing.T) {
	prices := pricingClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	handler := handlePricing(prices)
	rr := get(t, handler, "/pricing?product_id=123")

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Pricing API rate limit exceeded", resp.Error)
}

func TestHandleHealthCheck_Healthy(t *testing.T) {
	cards := cardsClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object":"list"}`)
	})

	handler := handleHealthCheck(cards, true)
	rr := get(t, handler, "/healthcheck")

	require.Equal(t, http.StatusOK, rr.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ok", resp.Checks["card_api"])
	assert.Equal(t, "configured", resp.Checks["pricing_credentials"])
}

func TestHandleHealthCheck_DegradedWithoutPricing(t *testing.T) {
	cards := cardsClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object":"list"}`)
	})

	handler := handleHealthCheck(cards, false)
	rr := get(t, handler, "/healthcheck")

	require.Equal(t, http.StatusOK, rr.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "not configured", resp.Checks["pricing_credentials"])
}

func TestHandleHealthCheck_UnhealthyWhenCardAPIDown(t *testing.T) {
	cards := cardsClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})

	handler := handleHealthCheck(cards, true)
	rr := get(t, handler, "/healthcheck")

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "unreachable", resp.Checks["card_api"])
}

func TestHandleUnknownEndpoint(t *testing.T) {
	rr := get(t, handleUnknownEndpoint(), "/nope")

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var resp invalidEndpointResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Invalid endpoint", resp.Error)
	assert.Contains(t, resp.AvailableEndpoints, "/search")
	assert.Contains(t, resp.AvailableEndpoints, "/pricing")
}

func TestConfigureServerRoutes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object":"list"}`)
	}))
	t.Cleanup(upstream.Close)

	cfg := config.Config{
		Cards: config.CardsConfig{
			APIURL:          upstream.URL,
			UserAgent:       "test-agent",
			TimeoutSeconds:  5,
			CacheTTLSeconds: 60,
		},
		Pricing: config.PricingConfig{CredentialSource: "none"},
		Server:  config.ServerConfig{Port: 0},
	}

	handler, err := configureServerRoutes(t.Context(), cfg)
	require.NoError(t, err)

	t.Run("preflight routes to any path", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/search", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.JSONEq(t, `{"message":"CORS preflight"}`, rr.Body.String())
	})

	t.Run("unknown endpoint gets the fallback", func(t *testing.T) {
		rr := get(t, handler, "/definitely-not-a-route")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "available_endpoints")
	})

	t.Run("pricing route reports unavailable", func(t *testing.T) {
		rr := get(t, handler, "/pricing?product_id=123")

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("healthcheck reports degraded", func(t *testing.T) {
		rr := get(t, handler, "/healthcheck")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"degraded"`)
	})
}
