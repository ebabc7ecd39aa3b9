package data

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"mediasync/internal/biz"
	"mediasync/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const youtubeWatchURL = "https://www.youtube.com/watch?v="

// youtubeClient searches the YouTube Data API for trailers by title.
type youtubeClient struct {
	api *apiClient
}

func newYouTubeClient(c *conf.Provider, rdb *redis.Client, logger log.Logger) *youtubeClient {
	api := newAPIClient("youtube", c, rdb, logger)
	key := c.APIKey
	api.authorize = func(_ context.Context, req *http.Request) error {
		q := req.URL.Query()
		q.Set("key", key)
		req.URL.RawQuery = q.Encode()
		return nil
	}
	api.rateLimited = youtubeQuotaExceeded
	return &youtubeClient{api: api}
}

func (c *youtubeClient) Name() string { return "youtube" }

// youtubeQuotaExceeded detects the 403 the API returns once the daily quota is spent.
func youtubeQuotaExceeded(status int, body []byte) bool {
	if status != http.StatusForbidden {
		return false
	}
	var payload struct {
		Error struct {
			Errors []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	for _, e := range payload.Error.Errors {
		if e.Reason == "quotaExceeded" || e.Reason == "rateLimitExceeded" || e.Reason == "dailyLimitExceeded" {
			return true
		}
	}
	return false
}

func (c *youtubeClient) FindTrailer(ctx context.Context, item *biz.MediaItem) (string, error) {
	query := url.Values{
		"q":               {item.Title + " trailer"},
		"part":            {"id,snippet"},
		"type":            {"video"},
		"videoCategoryId": {"1"},
	}
	var result struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
			Snippet struct {
				Title string `json:"title"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := c.api.getJSON(ctx, "/search", query, &result); err != nil {
		return "", err
	}
	for _, it := range result.Items {
		if it.ID.VideoID != "" && strings.Contains(strings.ToLower(it.Snippet.Title), "trailer") {
			return youtubeWatchURL + it.ID.VideoID, nil
		}
	}
	return "", nil
}
