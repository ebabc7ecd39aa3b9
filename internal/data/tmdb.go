package data

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"mediasync/internal/biz"
	"mediasync/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const youtubeEmbedURL = "https://www.youtube.com/embed/"

// tmdbClient serves person search, cast lists and trailers from TMDB.
type tmdbClient struct {
	api      *apiClient
	imageURL string
}

// newTMDBClient creates a TMDB provider. Keys that look like JWTs are sent as bearer tokens.
func newTMDBClient(c *conf.Provider, rdb *redis.Client, logger log.Logger) *tmdbClient {
	api := newAPIClient("tmdb", c, rdb, logger)
	key := c.APIKey
	api.authorize = func(_ context.Context, req *http.Request) error {
		if strings.HasPrefix(key, "eyJ") {
			req.Header.Set("Authorization", "Bearer "+key)
			return nil
		}
		q := req.URL.Query()
		q.Set("api_key", key)
		req.URL.RawQuery = q.Encode()
		return nil
	}
	return &tmdbClient{api: api, imageURL: strings.TrimSuffix(c.ImageURL, "/")}
}

func (c *tmdbClient) Name() string { return "tmdb" }

type tmdbPerson struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Birthday    string `json:"birthday"`
	Deathday    string `json:"deathday"`
	ProfilePath string `json:"profile_path"`
	ExternalIDs struct {
		IMDBID string `json:"imdb_id"`
		TVDBID *int64 `json:"tvdb_id"`
	} `json:"external_ids"`
}

func (c *tmdbClient) SearchPerson(ctx context.Context, fullName string) (*biz.PersonMatch, error) {
	var search struct {
		Results []tmdbPerson `json:"results"`
	}
	if err := c.api.getJSON(ctx, "/search/person", url.Values{"query": {fullName}}, &search); err != nil {
		return nil, err
	}
	var hit *tmdbPerson
	for i := range search.Results {
		if biz.NormalizeName(search.Results[i].Name) == biz.NormalizeName(fullName) {
			hit = &search.Results[i]
			break
		}
	}
	if hit == nil {
		return nil, nil
	}

	var details tmdbPerson
	path := "/person/" + strconv.FormatInt(hit.ID, 10)
	if err := c.api.getJSON(ctx, path, url.Values{"append_to_response": {"external_ids"}}, &details); err != nil {
		return nil, err
	}

	id := hit.ID
	match := &biz.PersonMatch{
		IDs:       biz.ProviderIDs{TMDB: &id, TVDB: details.ExternalIDs.TVDBID},
		BirthDate: biz.ParseDate(details.Birthday),
		DeathDate: biz.ParseDate(details.Deathday),
	}
	if details.ExternalIDs.IMDBID != "" {
		imdb := details.ExternalIDs.IMDBID
		match.IDs.IMDB = &imdb
	}
	if details.ProfilePath != "" && c.imageURL != "" {
		photo := c.imageURL + details.ProfilePath
		match.PhotoURL = &photo
	}
	return match, nil
}

type tmdbCredits struct {
	Cast []struct {
		Name      string `json:"name"`
		Character string `json:"character"`
	} `json:"cast"`
	GuestStars []struct {
		Name      string `json:"name"`
		Character string `json:"character"`
	} `json:"guest_stars"`
}

func (c *tmdbClient) Cast(ctx context.Context, q biz.CastQuery) ([]biz.CastMember, error) {
	var path string
	switch q.Kind {
	case biz.KindMovie:
		id, err := c.resolveID(ctx, "movie", q.Title, q.Year, q.IDs.TMDB)
		if err != nil || id == 0 {
			return nil, err
		}
		path = fmt.Sprintf("/movie/%d/credits", id)
	case biz.KindShow:
		id, err := c.resolveID(ctx, "tv", q.Title, q.Year, q.IDs.TMDB)
		if err != nil || id == 0 {
			return nil, err
		}
		path = fmt.Sprintf("/tv/%d/credits", id)
	case biz.KindEpisode:
		id, err := c.resolveID(ctx, "tv", q.ShowTitle, nil, q.ShowIDs.TMDB)
		if err != nil || id == 0 {
			return nil, err
		}
		path = fmt.Sprintf("/tv/%d/season/%d/episode/%d/credits", id, q.SeasonNumber, q.EpisodeNumber)
	default:
		return nil, fmt.Errorf("unknown media kind %q", q.Kind)
	}

	var credits tmdbCredits
	if err := c.api.getJSON(ctx, path, nil, &credits); err != nil {
		return nil, err
	}
	cast := make([]biz.CastMember, 0, len(credits.Cast)+len(credits.GuestStars))
	for _, m := range credits.Cast {
		cast = append(cast, biz.CastMember{Name: m.Name, Character: m.Character})
	}
	for _, m := range credits.GuestStars {
		cast = append(cast, biz.CastMember{Name: m.Name, Character: m.Character})
	}
	return cast, nil
}

// resolveID returns the known TMDB id, or searches by title. Zero means no match.
func (c *tmdbClient) resolveID(ctx context.Context, kind, title string, year *int, known *int64) (int64, error) {
	if known != nil {
		return *known, nil
	}
	if title == "" {
		return 0, nil
	}
	query := url.Values{"query": {title}}
	if year != nil {
		if kind == "movie" {
			query.Set("year", strconv.Itoa(*year))
		} else {
			query.Set("first_air_date_year", strconv.Itoa(*year))
		}
	}
	var search struct {
		Results []struct {
			ID int64 `json:"id"`
		} `json:"results"`
	}
	if err := c.api.getJSON(ctx, "/search/"+kind, query, &search); err != nil {
		return 0, err
	}
	if len(search.Results) == 0 {
		return 0, nil
	}
	return search.Results[0].ID, nil
}

// FindTrailer looks up the first YouTube trailer of an item with a known TMDB id.
func (c *tmdbClient) FindTrailer(ctx context.Context, item *biz.MediaItem) (string, error) {
	kind := "movie"
	if item.Kind == biz.KindShow {
		kind = "tv"
	}
	if item.IDs.TMDB == nil {
		return "", nil
	}
	id := *item.IDs.TMDB

	var videos struct {
		Results []struct {
			Key  string `json:"key"`
			Site string `json:"site"`
			Type string `json:"type"`
		} `json:"results"`
	}
	if err := c.api.getJSON(ctx, fmt.Sprintf("/%s/%d/videos", kind, id), nil, &videos); err != nil {
		return "", err
	}
	for _, v := range videos.Results {
		if v.Type == "Trailer" && strings.EqualFold(v.Site, "YouTube") && v.Key != "" {
			return youtubeEmbedURL + v.Key, nil
		}
	}
	return "", nil
}
