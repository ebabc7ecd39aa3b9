package data

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"mediasync/internal/biz"
	"mediasync/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// traktClient resolves public movie pages through the Trakt id lookup.
type traktClient struct {
	api *apiClient
}

func newTraktClient(c *conf.Provider, rdb *redis.Client, logger log.Logger) *traktClient {
	api := newAPIClient("trakt", c, rdb, logger)
	key := c.APIKey
	api.authorize = func(_ context.Context, req *http.Request) error {
		req.Header.Set("trakt-api-version", "2")
		req.Header.Set("trakt-api-key", key)
		return nil
	}
	return &traktClient{api: api}
}

func (c *traktClient) MovieLinks(ctx context.Context, tmdbID int64) (*biz.ExternalLinks, error) {
	var results []struct {
		Movie struct {
			IDs struct {
				Slug string `json:"slug"`
				IMDB string `json:"imdb"`
			} `json:"ids"`
		} `json:"movie"`
	}
	path := "/search/tmdb/" + strconv.FormatInt(tmdbID, 10)
	if err := c.api.getJSON(ctx, path, url.Values{"type": {"movie"}}, &results); err != nil {
		return nil, err
	}

	tmdbURL := biz.TMDBMovieURL(tmdbID)
	links := &biz.ExternalLinks{TMDBURL: &tmdbURL}
	if len(results) == 0 {
		return links, nil
	}
	ids := results[0].Movie.IDs
	if ids.Slug != "" {
		trakt := "https://trakt.tv/movies/" + ids.Slug
		links.TraktURL = &trakt
	}
	if ids.IMDB != "" {
		imdb := "https://www.imdb.com/title/" + ids.IMDB
		links.IMDBURL = &imdb
	}
	return links, nil
}
