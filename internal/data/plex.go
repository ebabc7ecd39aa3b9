package data

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mediasync/internal/biz"
	"mediasync/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/spf13/cast"
	"golang.org/x/sync/errgroup"
)

// plexObject is one loosely typed Plex metadata entry. Plex mixes numeric and string encodings.
type plexObject map[string]interface{}

type plexContainer struct {
	MediaContainer struct {
		TotalSize int          `json:"totalSize"`
		Size      int          `json:"size"`
		Metadata  []plexObject `json:"Metadata"`
		Directory []plexObject `json:"Directory"`
	} `json:"MediaContainer"`
}

// plexCatalog lists movies, shows and episodes from a Plex Media Server.
type plexCatalog struct {
	api      *apiClient
	baseURL  string
	movies   string
	shows    string
	pageSize int
	workers  int
	log      *log.Helper
}

// NewPlexCatalog creates the catalog source backed by the Plex HTTP API
func NewPlexCatalog(c *conf.Catalog, logger log.Logger) biz.CatalogSource {
	api := newAPIClient("plex", &conf.Provider{
		URL:        c.URL,
		Timeout:    c.Timeout,
		MaxRetries: 2,
	}, nil, logger)
	token := c.Token
	api.authorize = func(_ context.Context, req *http.Request) error {
		req.Header.Set("X-Plex-Token", token)
		return nil
	}
	workers := c.DetailWorkers
	if workers < 1 {
		workers = 1
	}
	pageSize := c.PageSize
	if pageSize < 1 {
		pageSize = 200
	}
	return &plexCatalog{
		api:      api,
		baseURL:  strings.TrimSuffix(c.URL, "/"),
		movies:   c.MovieSection,
		shows:    c.ShowSection,
		pageSize: pageSize,
		workers:  workers,
		log:      log.NewHelper(log.With(logger, "module", "data/plex")),
	}
}

func (p *plexCatalog) ListMovies(ctx context.Context) ([]*biz.RawMedia, error) {
	return p.listSection(ctx, p.movies, biz.KindMovie)
}

func (p *plexCatalog) ListShows(ctx context.Context) ([]*biz.RawMedia, error) {
	return p.listSection(ctx, p.shows, biz.KindShow)
}

func (p *plexCatalog) ListEpisodes(ctx context.Context, show *biz.RawMedia) ([]*biz.RawMedia, error) {
	entries, err := p.page(ctx, "/library/metadata/"+url.PathEscape(show.StableKey)+"/allLeaves")
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes of %q: %w", show.Title, err)
	}
	return p.details(ctx, entries, biz.KindEpisode)
}

func (p *plexCatalog) listSection(ctx context.Context, title string, kind biz.MediaKind) ([]*biz.RawMedia, error) {
	key, err := p.sectionKey(ctx, title)
	if err != nil {
		return nil, err
	}
	entries, err := p.page(ctx, "/library/sections/"+url.PathEscape(key)+"/all")
	if err != nil {
		return nil, fmt.Errorf("failed to list section %q: %w", title, err)
	}
	p.log.Infof("listed %d %ss from section %q", len(entries), kind, title)
	return p.details(ctx, entries, kind)
}

func (p *plexCatalog) sectionKey(ctx context.Context, title string) (string, error) {
	var sections plexContainer
	if err := p.api.getJSON(ctx, "/library/sections", nil, &sections); err != nil {
		return "", fmt.Errorf("failed to list library sections: %w", err)
	}
	for _, d := range sections.MediaContainer.Directory {
		if strings.EqualFold(cast.ToString(d["title"]), title) {
			return cast.ToString(d["key"]), nil
		}
	}
	return "", fmt.Errorf("library section %q not found", title)
}

// page walks a paged listing until every entry has been read.
func (p *plexCatalog) page(ctx context.Context, path string) ([]plexObject, error) {
	var all []plexObject
	for start := 0; ; start += p.pageSize {
		query := url.Values{
			"X-Plex-Container-Start": {strconv.Itoa(start)},
			"X-Plex-Container-Size":  {strconv.Itoa(p.pageSize)},
		}
		var page plexContainer
		if err := p.api.getJSON(ctx, path, query, &page); err != nil {
			return nil, err
		}
		all = append(all, page.MediaContainer.Metadata...)
		n := len(page.MediaContainer.Metadata)
		if n == 0 || n < p.pageSize || (page.MediaContainer.TotalSize > 0 && len(all) >= page.MediaContainer.TotalSize) {
			return all, nil
		}
	}
}

// details fetches the full record of every listed entry, which carries guids, credits and markers.
// Entries whose detail call fails are converted from the listing instead.
func (p *plexCatalog) details(ctx context.Context, entries []plexObject, kind biz.MediaKind) ([]*biz.RawMedia, error) {
	out := make([]*biz.RawMedia, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, entry := range entries {
		g.Go(func() error {
			full := entry
			key := cast.ToString(entry["ratingKey"])
			var detail plexContainer
			query := url.Values{"includeGuids": {"1"}}
			if kind == biz.KindEpisode {
				query.Set("includeMarkers", "1")
			}
			err := p.api.getJSON(gctx, "/library/metadata/"+url.PathEscape(key), query, &detail)
			switch {
			case gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				p.log.Warnf("failed to fetch details of %s %q, using listing: %v", kind, cast.ToString(entry["title"]), err)
			case len(detail.MediaContainer.Metadata) > 0:
				full = detail.MediaContainer.Metadata[0]
			}
			out[i] = p.toRaw(full)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *plexCatalog) toRaw(o plexObject) *biz.RawMedia {
	raw := &biz.RawMedia{
		StableKey:             cast.ToString(o["ratingKey"]),
		GUID:                  cast.ToString(o["guid"]),
		Title:                 cast.ToString(o["title"]),
		OriginalTitle:         cast.ToString(o["originalTitle"]),
		Summary:               cast.ToString(o["summary"]),
		Tagline:               cast.ToString(o["tagline"]),
		Year:                  cast.ToInt(o["year"]),
		DurationMS:            cast.ToInt64(o["duration"]),
		ContentRating:         cast.ToString(o["contentRating"]),
		Rating:                cast.ToFloat64(o["rating"]),
		AudienceRating:        cast.ToFloat64(o["audienceRating"]),
		AudienceRatingIcon:    cast.ToString(o["audienceRatingImage"]),
		Thumb:                 p.absolute(cast.ToString(o["thumb"])),
		Art:                   p.absolute(cast.ToString(o["art"])),
		ViewCount:             cast.ToInt(o["viewCount"]),
		Studio:                cast.ToString(o["studio"]),
		Genres:                tags(o["Genre"]),
		GUIDs:                 guids(o["Guid"]),
		OriginallyAvailableAt: plexDate(o["originallyAvailableAt"]),
		AddedAt:               plexTimestamp(o["addedAt"]),
		UpdatedAt:             plexTimestamp(o["updatedAt"]),
		LastViewedAt:          plexTimestamp(o["lastViewedAt"]),
		ShowTitle:             cast.ToString(o["grandparentTitle"]),
	}
	if v, ok := o["parentIndex"]; ok {
		n := cast.ToInt(v)
		raw.SeasonNumber = &n
	}
	if v, ok := o["index"]; ok && cast.ToString(o["type"]) == "episode" {
		n := cast.ToInt(v)
		raw.EpisodeNumber = &n
	}
	for _, m := range objects(o["Marker"]) {
		switch cast.ToString(m["type"]) {
		case "intro":
			raw.HasIntroMarker = true
		case "credits":
			raw.HasCreditsMarker = true
		case "commercial":
			raw.HasCommercialMarker = true
		}
	}

	credits := []struct {
		field string
		typ   biz.RoleType
	}{
		{"Role", biz.RoleActor},
		{"Director", biz.RoleDirector},
		{"Producer", biz.RoleProducer},
		{"Writer", biz.RoleWriter},
	}
	for _, c := range credits {
		for _, person := range objects(o[c.field]) {
			raw.Credits = append(raw.Credits, biz.RawCredit{
				Type:  c.typ,
				Tag:   cast.ToString(person["tag"]),
				Role:  cast.ToString(person["role"]),
				Thumb: cast.ToString(person["thumb"]),
				GUIDs: guids(person["Guid"]),
			})
		}
	}
	return raw
}

func (p *plexCatalog) absolute(path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return p.baseURL + path
}

func objects(v interface{}) []plexObject {
	list := cast.ToSlice(v)
	out := make([]plexObject, 0, len(list))
	for _, item := range list {
		if m := cast.ToStringMap(item); len(m) > 0 {
			out = append(out, m)
		}
	}
	return out
}

func tags(v interface{}) []string {
	var out []string
	for _, o := range objects(v) {
		if t := cast.ToString(o["tag"]); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func guids(v interface{}) []string {
	var out []string
	for _, o := range objects(v) {
		if id := cast.ToString(o["id"]); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func plexTimestamp(v interface{}) *time.Time {
	secs := cast.ToInt64(v)
	if secs <= 0 {
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}

func plexDate(v interface{}) *time.Time {
	return biz.ParseDate(cast.ToString(v))
}
