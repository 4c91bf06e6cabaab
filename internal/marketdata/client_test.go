package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// setupTestServer creates a new test server and a RestClient configured to use it.
func setupTestServer(handler http.Handler, symbols ...string) (*RestClient, *httptest.Server) {
	server := httptest.NewServer(handler)

	filter := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		filter[s] = struct{}{}
	}

	rc := &RestClient{
		client:  resty.New().SetBaseURL(server.URL),
		symbols: filter,
		logger:  zap.NewNop(),
		limiter: rate.NewLimiter(rate.Inf, 1),
	}

	return rc, server
}

func TestGetQuotes(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		// Arrange: the feed reports numbers as JSON strings.
		mockResponse := `[
			{"symbol": "BTCUSDT", "lastPrice": "50000.12", "priceChangePercent": "-2.5"},
			{"symbol": "ETHUSDT", "lastPrice": "3000.50", "priceChangePercent": "1.2"}
		]`

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ticker/24hr", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(mockResponse))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		// Act
		quotes, err := rc.GetQuotes(context.Background())

		// Assert
		assert.NoError(t, err)
		assert.Len(t, quotes, 2)
		assert.Equal(t, "BTCUSDT", quotes[0].Symbol)
		assert.InDelta(t, 50000.12, quotes[0].Price, 1e-9)
		assert.InDelta(t, -2.5, quotes[0].Change24hPercent, 1e-9)
	})

	t.Run("FiltersToConfiguredSymbols", func(t *testing.T) {
		mockResponse := `[
			{"symbol": "BTCUSDT", "lastPrice": "50000", "priceChangePercent": "0"},
			{"symbol": "SHITCOIN", "lastPrice": "0.001", "priceChangePercent": "900"}
		]`

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(mockResponse))
		})

		rc, server := setupTestServer(handler, "BTCUSDT")
		defer server.Close()

		quotes, err := rc.GetQuotes(context.Background())

		assert.NoError(t, err)
		assert.Len(t, quotes, 1)
		assert.Equal(t, "BTCUSDT", quotes[0].Symbol)
	})

	t.Run("SkipsInvalidPrices", func(t *testing.T) {
		mockResponse := `[
			{"symbol": "BTCUSDT", "lastPrice": "not-a-number", "priceChangePercent": "0"},
			{"symbol": "ETHUSDT", "lastPrice": "3000", "priceChangePercent": "0"}
		]`

		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(mockResponse))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		quotes, err := rc.GetQuotes(context.Background())

		assert.NoError(t, err)
		assert.Len(t, quotes, 1)
		assert.Equal(t, "ETHUSDT", quotes[0].Symbol)
	})

	t.Run("APIError", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code": -1100, "msg": "bad request"}`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		quotes, err := rc.GetQuotes(context.Background())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get 24h tickers")
		assert.Nil(t, quotes)
	})

	t.Run("RetriesServerErrors", func(t *testing.T) {
		attempts := 0
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(`[{"symbol": "BTCUSDT", "lastPrice": "50000", "priceChangePercent": "0"}]`))
		})

		rc, server := setupTestServer(handler)
		defer server.Close()

		quotes, err := rc.GetQuotes(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.Len(t, quotes, 1)
	})
}
