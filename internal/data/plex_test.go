package data

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"mediasync/internal/biz"
	"mediasync/internal/conf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func container(fields map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"MediaContainer": fields}
}

func newPlexServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var unauthorized int32
	listing := []map[string]interface{}{
		{"ratingKey": "101", "title": "The Matrix", "year": 1999},
		{"ratingKey": "102", "title": "The Matrix Reloaded", "year": 2003},
		{"ratingKey": "103", "title": "The Matrix Revolutions", "year": 2003, "studio": "Warner Bros."},
	}
	details := map[string]map[string]interface{}{
		"101": {
			"ratingKey":             101,
			"type":                  "movie",
			"title":                 "The Matrix",
			"year":                  1999,
			"rating":                8.7,
			"summary":               "A hacker learns the truth.",
			"studio":                "Warner Bros.",
			"thumb":                 "/library/metadata/101/thumb/1",
			"addedAt":               1600000000,
			"originallyAvailableAt": "1999-03-31",
			"Genre":                 []map[string]interface{}{{"tag": "Action"}, {"tag": "Science Fiction"}},
			"Guid":                  []map[string]interface{}{{"id": "imdb://tt0133093"}, {"id": "tmdb://603"}},
			"Role":                  []map[string]interface{}{{"tag": "Keanu Reeves", "role": "Neo"}},
			"Director":              []map[string]interface{}{{"tag": "Lana Wachowski"}},
		},
		"102": {"ratingKey": "102", "type": "movie", "title": "The Matrix Reloaded", "year": "2003"},
		"201": {
			"ratingKey": "201", "type": "episode", "title": "Good News About Hell",
			"parentIndex": 1, "index": 1, "grandparentTitle": "Severance",
			"Marker": []map[string]interface{}{{"type": "intro"}, {"type": "credits"}},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /library/sections", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, container(map[string]interface{}{
			"Directory": []map[string]interface{}{{"key": "1", "title": "Movies"}, {"key": "2", "title": "TV Shows"}},
		}))
	})
	mux.HandleFunc("GET /library/sections/1/all", func(w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.Atoi(r.URL.Query().Get("X-Plex-Container-Start"))
		size, _ := strconv.Atoi(r.URL.Query().Get("X-Plex-Container-Size"))
		end := start + size
		if end > len(listing) {
			end = len(listing)
		}
		if start > len(listing) {
			start = len(listing)
		}
		writeJSON(w, container(map[string]interface{}{"totalSize": len(listing), "Metadata": listing[start:end]}))
	})
	mux.HandleFunc("GET /library/metadata/{key}", func(w http.ResponseWriter, r *http.Request) {
		d, ok := details[r.PathValue("key")]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, container(map[string]interface{}{"Metadata": []map[string]interface{}{d}}))
	})
	mux.HandleFunc("GET /library/metadata/{key}/allLeaves", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, container(map[string]interface{}{
			"Metadata": []map[string]interface{}{{"ratingKey": "201", "type": "episode", "title": "Good News About Hell"}},
		}))
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Plex-Token") != "secret" {
			atomic.AddInt32(&unauthorized, 1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &unauthorized
}

func newTestCatalog(url string) biz.CatalogSource {
	return NewPlexCatalog(&conf.Catalog{
		URL:           url,
		Token:         "secret",
		MovieSection:  "Movies",
		ShowSection:   "TV Shows",
		PageSize:      2,
		DetailWorkers: 2,
		Timeout:       conf.Duration(5 * time.Second),
	}, testLogger)
}

func TestPlexListMovies(t *testing.T) {
	srv, unauthorized := newPlexServer(t)

	movies, err := newTestCatalog(srv.URL).ListMovies(context.Background())
	require.NoError(t, err)
	require.Len(t, movies, 3)
	assert.Zero(t, atomic.LoadInt32(unauthorized))

	matrix := movies[0]
	assert.Equal(t, "101", matrix.StableKey)
	assert.Equal(t, "The Matrix", matrix.Title)
	assert.Equal(t, 1999, matrix.Year)
	assert.InDelta(t, 8.7, matrix.Rating, 1e-9)
	assert.Equal(t, "Warner Bros.", matrix.Studio)
	assert.Equal(t, srv.URL+"/library/metadata/101/thumb/1", matrix.Thumb)
	assert.Equal(t, []string{"Action", "Science Fiction"}, matrix.Genres)
	assert.Equal(t, []string{"imdb://tt0133093", "tmdb://603"}, matrix.GUIDs)
	require.NotNil(t, matrix.AddedAt)
	assert.Equal(t, int64(1600000000), matrix.AddedAt.Unix())
	require.NotNil(t, matrix.OriginallyAvailableAt)
	assert.Equal(t, "1999-03-31", matrix.OriginallyAvailableAt.Format("2006-01-02"))
	require.Len(t, matrix.Credits, 2)
	assert.Equal(t, biz.RawCredit{Type: biz.RoleActor, Tag: "Keanu Reeves", Role: "Neo"}, matrix.Credits[0])
	assert.Equal(t, biz.RoleDirector, matrix.Credits[1].Type)

	assert.Equal(t, 2003, movies[1].Year, "string encoded numbers are accepted")

	// detail lookup fails, the listing entry is used instead
	assert.Equal(t, "103", movies[2].StableKey)
	assert.Equal(t, "Warner Bros.", movies[2].Studio)
	assert.Empty(t, movies[2].GUIDs)
}

func TestPlexListEpisodes(t *testing.T) {
	srv, _ := newPlexServer(t)

	eps, err := newTestCatalog(srv.URL).ListEpisodes(context.Background(), &biz.RawMedia{StableKey: "10", Title: "Severance"})
	require.NoError(t, err)
	require.Len(t, eps, 1)
	ep := eps[0]
	require.NotNil(t, ep.SeasonNumber)
	require.NotNil(t, ep.EpisodeNumber)
	assert.Equal(t, 1, *ep.SeasonNumber)
	assert.Equal(t, 1, *ep.EpisodeNumber)
	assert.Equal(t, "Severance", ep.ShowTitle)
	assert.True(t, ep.HasIntroMarker)
	assert.True(t, ep.HasCreditsMarker)
	assert.False(t, ep.HasCommercialMarker)
}

func TestPlexUnknownSection(t *testing.T) {
	srv, _ := newPlexServer(t)
	catalog := NewPlexCatalog(&conf.Catalog{URL: srv.URL, Token: "secret", MovieSection: "Films"}, testLogger)

	_, err := catalog.ListMovies(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"Films" not found`)
}
