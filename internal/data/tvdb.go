package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"mediasync/internal/biz"
	"mediasync/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
)

// tvdbClient serves person search and cast lists from TheTVDB v4.
type tvdbClient struct {
	api    *apiClient
	apiKey string

	mu    sync.Mutex
	token string
}

func newTVDBClient(c *conf.Provider, rdb *redis.Client, logger log.Logger) *tvdbClient {
	t := &tvdbClient{api: newAPIClient("tvdb", c, rdb, logger), apiKey: c.APIKey}
	t.api.authorize = func(ctx context.Context, req *http.Request) error {
		token, err := t.authenticate(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
	t.api.unauthorized = func() {
		t.mu.Lock()
		t.token = ""
		t.mu.Unlock()
	}
	return t
}

func (c *tvdbClient) Name() string { return "tvdb" }

// authenticate exchanges the API key for a bearer token once and reuses it.
func (c *tvdbClient) authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{"apikey": c.apiKey})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.api.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.api.client.Do(req)
	if err != nil {
		return "", biz.ErrorProviderUnavailable("tvdb login failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", biz.ErrorProviderUnavailable("tvdb login returned status %d", resp.StatusCode)
	}
	var result struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode tvdb login: %w", err)
	}
	c.token = result.Data.Token
	return c.token, nil
}

// tvdbRemoteID is one cross reference of a TVDB record. Ids arrive as strings or numbers.
type tvdbRemoteID struct {
	ID         interface{} `json:"id"`
	SourceName string      `json:"sourceName"`
}

func (c *tvdbClient) SearchPerson(ctx context.Context, fullName string) (*biz.PersonMatch, error) {
	var search struct {
		Data []struct {
			TVDBID string `json:"tvdb_id"`
			Name   string `json:"name"`
		} `json:"data"`
	}
	query := url.Values{"query": {fullName}, "type": {"people"}}
	if err := c.api.getJSON(ctx, "/search", query, &search); err != nil {
		return nil, err
	}
	var personID int64
	for _, r := range search.Data {
		if biz.NormalizeName(r.Name) == biz.NormalizeName(fullName) {
			personID = cast.ToInt64(strings.TrimPrefix(r.TVDBID, "people-"))
			break
		}
	}
	if personID == 0 {
		return nil, nil
	}

	var details struct {
		Data struct {
			Birth     string         `json:"birth"`
			Death     string         `json:"death"`
			Image     string         `json:"image"`
			RemoteIDs []tvdbRemoteID `json:"remoteIds"`
		} `json:"data"`
	}
	if err := c.api.getJSON(ctx, "/people/"+strconv.FormatInt(personID, 10)+"/extended", nil, &details); err != nil {
		return nil, err
	}

	match := &biz.PersonMatch{
		IDs:       biz.ProviderIDs{TVDB: &personID},
		BirthDate: biz.ParseDate(details.Data.Birth),
		DeathDate: biz.ParseDate(details.Data.Death),
	}
	for _, r := range details.Data.RemoteIDs {
		value := cast.ToString(r.ID)
		switch {
		case strings.EqualFold(r.SourceName, "IMDB") && strings.HasPrefix(value, "nm"):
			match.IDs.IMDB = &value
		case strings.EqualFold(r.SourceName, "TheMovieDB.com"):
			if id := cast.ToInt64(value); id > 0 {
				match.IDs.TMDB = &id
			}
		}
	}
	if details.Data.Image != "" {
		image := details.Data.Image
		match.PhotoURL = &image
	}
	return match, nil
}

type tvdbCharacters struct {
	Data struct {
		Characters []struct {
			Name       string `json:"name"`
			PersonName string `json:"personName"`
			PeopleType string `json:"peopleType"`
		} `json:"characters"`
	} `json:"data"`
}

func (c *tvdbClient) Cast(ctx context.Context, q biz.CastQuery) ([]biz.CastMember, error) {
	var path string
	switch q.Kind {
	case biz.KindMovie:
		id, err := c.resolveID(ctx, "movie", q.Title, q.Year, q.IDs.TVDB)
		if err != nil || id == 0 {
			return nil, err
		}
		path = fmt.Sprintf("/movies/%d/extended", id)
	case biz.KindShow:
		id, err := c.resolveID(ctx, "series", q.Title, q.Year, q.IDs.TVDB)
		if err != nil || id == 0 {
			return nil, err
		}
		path = fmt.Sprintf("/series/%d/extended", id)
	case biz.KindEpisode:
		episodeID, err := c.episodeID(ctx, q)
		if err != nil || episodeID == 0 {
			return nil, err
		}
		path = fmt.Sprintf("/episodes/%d/extended", episodeID)
	default:
		return nil, fmt.Errorf("unknown media kind %q", q.Kind)
	}

	var chars tvdbCharacters
	if err := c.api.getJSON(ctx, path, nil, &chars); err != nil {
		return nil, err
	}
	var members []biz.CastMember
	for _, ch := range chars.Data.Characters {
		if ch.PeopleType != "" && !strings.EqualFold(ch.PeopleType, "Actor") && !strings.EqualFold(ch.PeopleType, "Guest Star") {
			continue
		}
		members = append(members, biz.CastMember{Name: ch.PersonName, Character: ch.Name})
	}
	return members, nil
}

func (c *tvdbClient) episodeID(ctx context.Context, q biz.CastQuery) (int64, error) {
	seriesID, err := c.resolveID(ctx, "series", q.ShowTitle, nil, q.ShowIDs.TVDB)
	if err != nil || seriesID == 0 {
		return 0, err
	}
	var page struct {
		Data struct {
			Episodes []struct {
				ID           int64 `json:"id"`
				SeasonNumber int   `json:"seasonNumber"`
				Number       int   `json:"number"`
			} `json:"episodes"`
		} `json:"data"`
	}
	query := url.Values{
		"season":        {strconv.Itoa(q.SeasonNumber)},
		"episodeNumber": {strconv.Itoa(q.EpisodeNumber)},
	}
	if err := c.api.getJSON(ctx, fmt.Sprintf("/series/%d/episodes/default", seriesID), query, &page); err != nil {
		return 0, err
	}
	for _, e := range page.Data.Episodes {
		if e.SeasonNumber == q.SeasonNumber && e.Number == q.EpisodeNumber {
			return e.ID, nil
		}
	}
	return 0, nil
}

// resolveID returns the known TVDB id, or searches by title. Zero means no match.
func (c *tvdbClient) resolveID(ctx context.Context, kind, title string, year *int, known *int64) (int64, error) {
	if known != nil {
		return *known, nil
	}
	if title == "" {
		return 0, nil
	}
	query := url.Values{"query": {title}, "type": {kind}}
	if year != nil {
		query.Set("year", strconv.Itoa(*year))
	}
	var search struct {
		Data []struct {
			TVDBID string `json:"tvdb_id"`
		} `json:"data"`
	}
	if err := c.api.getJSON(ctx, "/search", query, &search); err != nil {
		return 0, err
	}
	for _, r := range search.Data {
		if id := cast.ToInt64(r.TVDBID); id > 0 {
			return id, nil
		}
	}
	return 0, nil
}
