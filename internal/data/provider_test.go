package data

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"mediasync/internal/biz"
	"mediasync/internal/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func providerConf(url, key string) *conf.Provider {
	return &conf.Provider{
		URL:        url,
		APIKey:     key,
		ImageURL:   "https://image.tmdb.org/t/p/original",
		Timeout:    conf.Duration(5 * time.Second),
		MaxRetries: 2,
	}
}

func TestTMDBSearchPerson(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search/person", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key123", r.URL.Query().Get("api_key"))
		assert.Equal(t, "Keanu Reeves", r.URL.Query().Get("query"))
		writeJSON(w, map[string]interface{}{"results": []map[string]interface{}{
			{"id": 1, "name": "Keanu Reevesz"},
			{"id": 6384, "name": "keanu reeves"},
		}})
	})
	mux.HandleFunc("GET /person/6384", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "external_ids", r.URL.Query().Get("append_to_response"))
		writeJSON(w, map[string]interface{}{
			"id":           6384,
			"birthday":     "1964-09-02",
			"profile_path": "/keanu.jpg",
			"external_ids": map[string]interface{}{"imdb_id": "nm0000206", "tvdb_id": 305},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	match, err := newTMDBClient(providerConf(srv.URL, "key123"), nil, testLogger).SearchPerson(context.Background(), "Keanu Reeves")
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, int64(6384), *match.IDs.TMDB)
	assert.Equal(t, "nm0000206", *match.IDs.IMDB)
	assert.Equal(t, int64(305), *match.IDs.TVDB)
	assert.Equal(t, "1964-09-02", match.BirthDate.Format("2006-01-02"))
	assert.Nil(t, match.DeathDate)
	assert.Equal(t, "https://image.tmdb.org/t/p/original/keanu.jpg", *match.PhotoURL)
}

func TestTMDBTrailerAndCast(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /movie/603/videos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer eyJtoken", r.Header.Get("Authorization"))
		writeJSON(w, map[string]interface{}{"results": []map[string]interface{}{
			{"key": "teaser", "site": "YouTube", "type": "Teaser"},
			{"key": "m8e-FF8MsqU", "site": "YouTube", "type": "Trailer"},
		}})
	})
	mux.HandleFunc("GET /search/tv", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"results": []map[string]interface{}{{"id": 95396}}})
	})
	mux.HandleFunc("GET /tv/95396/season/1/episode/2/credits", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"cast":        []map[string]interface{}{{"name": "Adam Scott", "character": "Mark Scout"}},
			"guest_stars": []map[string]interface{}{{"name": "Yul Vazquez", "character": "Peyton"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	client := newTMDBClient(providerConf(srv.URL, "eyJtoken"), nil, testLogger)

	item := &biz.MediaItem{Kind: biz.KindMovie, Title: "The Matrix", IDs: biz.ProviderIDs{TMDB: ptr(int64(603))}}
	url, err := client.FindTrailer(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/embed/m8e-FF8MsqU", url)

	cast, err := client.Cast(context.Background(), biz.CastQuery{
		Kind: biz.KindEpisode, ShowTitle: "Severance", SeasonNumber: 1, EpisodeNumber: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, []biz.CastMember{
		{Name: "Adam Scott", Character: "Mark Scout"},
		{Name: "Yul Vazquez", Character: "Peyton"},
	}, cast)
}

func TestAPIClientStatusMapping(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/limited":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()
	api := newAPIClient("tmdb", providerConf(srv.URL, "k"), nil, testLogger)
	var out struct{}

	err := api.getJSON(context.Background(), "/missing", nil, &out)
	assert.True(t, biz.IsProviderNotFound(err))

	err = api.getJSON(context.Background(), "/limited", nil, &out)
	assert.True(t, biz.IsProviderRateLimited(err))

	atomic.StoreInt32(&calls, 0)
	err = api.getJSON(context.Background(), "/down", nil, &out)
	assert.True(t, biz.IsProviderUnavailable(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "unavailable responses are retried")

	err = api.getJSON(context.Background(), "/teapot", nil, &out)
	require.Error(t, err)
	assert.False(t, biz.IsProviderUnavailable(err))
}

func TestYouTubeTrailer(t *testing.T) {
	quota := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yt-key", r.URL.Query().Get("key"))
		if quota {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"errors":[{"reason":"quotaExceeded"}]}}`))
			return
		}
		assert.Equal(t, "Heat trailer", r.URL.Query().Get("q"))
		writeJSON(w, map[string]interface{}{"items": []map[string]interface{}{
			{"id": map[string]interface{}{"videoId": "clip"}, "snippet": map[string]interface{}{"title": "Heat - Diner Scene"}},
			{"id": map[string]interface{}{"videoId": "2GfZl4kuVNI"}, "snippet": map[string]interface{}{"title": "Heat (1995) Official Trailer"}},
		}})
	}))
	defer srv.Close()
	client := newYouTubeClient(providerConf(srv.URL, "yt-key"), nil, testLogger)
	item := &biz.MediaItem{Kind: biz.KindMovie, Title: "Heat"}

	url, err := client.FindTrailer(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/watch?v=2GfZl4kuVNI", url)

	quota = true
	_, err = client.FindTrailer(context.Background(), item)
	assert.True(t, biz.IsProviderRateLimited(err))
}

func TestTraktMovieLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/tmdb/603", r.URL.Path)
		assert.Equal(t, "2", r.Header.Get("trakt-api-version"))
		assert.Equal(t, "client-id", r.Header.Get("trakt-api-key"))
		writeJSON(w, []map[string]interface{}{
			{"movie": map[string]interface{}{"ids": map[string]interface{}{"slug": "the-matrix-1999", "imdb": "tt0133093"}}},
		})
	}))
	defer srv.Close()

	links, err := newTraktClient(providerConf(srv.URL, "client-id"), nil, testLogger).MovieLinks(context.Background(), 603)
	require.NoError(t, err)
	assert.Equal(t, "https://www.themoviedb.org/movie/603", *links.TMDBURL)
	assert.Equal(t, "https://trakt.tv/movies/the-matrix-1999", *links.TraktURL)
	assert.Equal(t, "https://www.imdb.com/title/tt0133093", *links.IMDBURL)
}

func TestTVDBLoginAndCast(t *testing.T) {
	var logins int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&logins, 1)
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"token": "token-" + string(rune('0'+n))}})
	})
	expired := true
	mux.HandleFunc("GET /series/371980/extended", func(w http.ResponseWriter, r *http.Request) {
		if expired {
			expired = false
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		writeJSON(w, map[string]interface{}{"data": map[string]interface{}{"characters": []map[string]interface{}{
			{"name": "Mark Scout", "personName": "Adam Scott", "peopleType": "Actor"},
			{"name": "", "personName": "Ben Stiller", "peopleType": "Director"},
		}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	client := newTVDBClient(providerConf(srv.URL, "tvdb-key"), nil, testLogger)

	cast, err := client.Cast(context.Background(), biz.CastQuery{Kind: biz.KindShow, Title: "Severance", IDs: biz.ProviderIDs{TVDB: ptr(int64(371980))}})
	require.NoError(t, err)
	assert.Equal(t, []biz.CastMember{{Name: "Adam Scott", Character: "Mark Scout"}}, cast)
	assert.Equal(t, int32(2), atomic.LoadInt32(&logins), "a rejected token is refreshed")
}

func TestNewProvidersChains(t *testing.T) {
	p := NewProviders(&conf.Providers{
		TMDB:    &conf.Provider{APIKey: "a"},
		TVDB:    &conf.Provider{APIKey: "b"},
		YouTube: &conf.Provider{},
		Trakt:   &conf.Provider{APIKey: "c"},
	}, &Data{}, testLogger)

	require.Len(t, p.MovieChain, 2)
	assert.Equal(t, "tmdb", p.MovieChain[0].Name())
	assert.Equal(t, "tvdb", p.MovieChain[1].Name())
	require.Len(t, p.ShowChain, 2)
	assert.Equal(t, "tvdb", p.ShowChain[0].Name())
	require.Len(t, p.Trailers, 1)
	assert.NotNil(t, p.Links)
}

func TestTMDBTrailerNeedsID(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, map[string]interface{}{"results": []map[string]interface{}{{"id": 99}}})
	}))
	defer srv.Close()

	item := &biz.MediaItem{Kind: biz.KindMovie, Title: "Home Video", Year: ptr(2001)}
	url, err := newTMDBClient(providerConf(srv.URL, "k"), nil, testLogger).FindTrailer(context.Background(), item)
	require.NoError(t, err)
	assert.Empty(t, url)
	assert.Zero(t, atomic.LoadInt32(&calls), "no title search for an item without a tmdb id")
}
