package marketdata

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"autotrader/internal/config"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Quote is one instrument's latest market observation.
type Quote struct {
	Symbol           string
	Price            float64
	Change24hPercent float64
	At               time.Time
}

// FeedClient fetches the latest quotes from the market data provider.
type FeedClient interface {
	GetQuotes(ctx context.Context) ([]Quote, error)
}

// RestClient is a rate-limited REST client for the price feed.
// It implements FeedClient.
type RestClient struct {
	client  *resty.Client
	symbols map[string]struct{}
	logger  *zap.Logger
	limiter *rate.Limiter
}

var _ FeedClient = (*RestClient)(nil)

// NewRestClient creates a feed client restricted to the configured symbols.
// An empty symbol list means all symbols the feed reports are accepted.
func NewRestClient(cfg *config.Feed, logger *zap.Logger) *RestClient {
	symbols := make(map[string]struct{}, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols[s] = struct{}{}
	}

	return &RestClient{
		client:  resty.New().SetBaseURL(cfg.BaseURL),
		symbols: symbols,
		logger:  logger.Named("feed"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
	}
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// GetQuotes fetches the 24h ticker for all symbols. Numeric fields arrive
// as JSON strings, so the payload is walked with gjson rather than
// unmarshalled into a rigid struct.
func (c *RestClient) GetQuotes(ctx context.Context) ([]Quote, error) {
	req := c.client.R().SetHeader("Accept", "application/json")

	resp, err := c.doRequest(ctx, "GET", "/ticker/24hr", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get 24h tickers: %w", err)
	}

	now := time.Now()
	var quotes []Quote
	gjson.ParseBytes(resp.Body()).ForEach(func(_, item gjson.Result) bool {
		symbol := item.Get("symbol").String()
		if symbol == "" {
			return true
		}
		if len(c.symbols) > 0 {
			if _, ok := c.symbols[symbol]; !ok {
				return true
			}
		}

		price := item.Get("lastPrice").Float()
		if price <= 0 {
			c.logger.Warn("Skipping ticker with invalid price", zap.String("symbol", symbol))
			return true
		}

		quotes = append(quotes, Quote{
			Symbol:           symbol,
			Price:            price,
			Change24hPercent: item.Get("priceChangePercent").Float(),
			At:               now,
		})
		return true
	})

	return quotes, nil
}
