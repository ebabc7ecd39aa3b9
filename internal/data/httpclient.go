package data

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"mediasync/internal/biz"
	"mediasync/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// apiClient is the rate limited JSON transport shared by the metadata providers.
type apiClient struct {
	name       string
	client     *http.Client
	baseURL    string
	limiter    *rate.Limiter
	maxRetries int
	rdb        *redis.Client
	cacheTTL   time.Duration
	log        *log.Helper

	// authorize decorates each request with credentials.
	authorize func(ctx context.Context, req *http.Request) error
	// rateLimited flags non-429 responses that mean the quota is spent.
	rateLimited func(status int, body []byte) bool
	// unauthorized drops cached credentials so the retry authenticates again.
	unauthorized func()
}

func newAPIClient(name string, c *conf.Provider, rdb *redis.Client, logger log.Logger) *apiClient {
	limit := rate.Inf
	if c.RatePerSecond > 0 {
		limit = rate.Limit(c.RatePerSecond)
	}
	burst := c.Burst
	if burst <= 0 {
		burst = 1
	}
	return &apiClient{
		name: name,
		client: &http.Client{
			Timeout: c.Timeout.AsDuration(),
		},
		baseURL:    c.URL,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: c.MaxRetries,
		rdb:        rdb,
		cacheTTL:   c.CacheTTL.AsDuration(),
		log:        log.NewHelper(log.With(logger, "module", "data/"+name)),
	}
}

// getJSON fetches path and decodes the body into out, serving from the response cache when possible.
func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	cacheKey := "mediasync:http:" + c.name + ":" + path + "?" + query.Encode()

	if c.rdb != nil && c.cacheTTL > 0 {
		cached, err := c.rdb.Get(ctx, cacheKey).Bytes()
		if err == nil {
			if err := json.Unmarshal(cached, out); err == nil {
				return nil
			}
		} else if !errors.Is(err, redis.Nil) {
			c.log.Debugf("response cache read failed: %v", err)
		}
	}

	body, err := c.fetch(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.name, err)
	}

	if c.rdb != nil && c.cacheTTL > 0 {
		if err := c.rdb.Set(ctx, cacheKey, body, c.cacheTTL).Err(); err != nil {
			c.log.Debugf("response cache write failed: %v", err)
		}
	}
	return nil
}

// fetch performs the request, retrying transient failures with linear backoff.
func (c *apiClient) fetch(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			c.log.Debugf("retrying %s request, attempt %d/%d", c.name, attempt, c.maxRetries)
		}

		body, err := c.do(ctx, method, target, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !biz.IsProviderUnavailable(err) {
			break
		}
	}
	return nil, lastErr
}

func (c *apiClient) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authorize != nil {
		if err := c.authorize(ctx, req); err != nil {
			return nil, err
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, biz.ErrorProviderUnavailable("%s request failed: %v", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, biz.ErrorProviderUnavailable("%s response read failed: %v", c.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, biz.ErrorProviderNotFound("%s: %s not found", c.name, req.URL.Path)
	case resp.StatusCode == http.StatusUnauthorized && c.unauthorized != nil:
		c.unauthorized()
		return nil, biz.ErrorProviderUnavailable("%s rejected credentials", c.name)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, biz.ErrorProviderRateLimited("%s rate limit reached", c.name)
	case c.rateLimited != nil && c.rateLimited(resp.StatusCode, body):
		return nil, biz.ErrorProviderRateLimited("%s quota exhausted", c.name)
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, biz.ErrorProviderUnavailable("%s returned status %d", c.name, resp.StatusCode)
	}
	return nil, fmt.Errorf("%s returned unexpected status %d", c.name, resp.StatusCode)
}
