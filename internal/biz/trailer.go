package biz

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// TrailerFetcher finds trailers through the provider chain and stores the first hit.
type TrailerFetcher struct {
	repo   MediaRepo
	chains *Providers
	retry  RetryPolicy
	log    *log.Helper
}

// NewTrailerFetcher creates a TrailerFetcher.
func NewTrailerFetcher(repo MediaRepo, chains *Providers, retry RetryPolicy, logger log.Logger) *TrailerFetcher {
	return &TrailerFetcher{
		repo:   repo,
		chains: chains,
		retry:  retry,
		log:    log.NewHelper(log.With(logger, "module", "biz/trailer")),
	}
}

// FetchTrailerURL returns the item's trailer, looking it up and persisting it when missing.
// An empty result without error means no provider had one.
func (f *TrailerFetcher) FetchTrailerURL(ctx context.Context, run *RunState, item *MediaItem) (string, error) {
	if item.TrailerURL != nil && *item.TrailerURL != "" {
		return *item.TrailerURL, nil
	}

	for _, provider := range f.chains.Trailers {
		var url string
		err := run.cooldowns.call(provider.Name(), func() error {
			var err error
			url, err = provider.FindTrailer(ctx, item)
			return err
		})
		if err != nil {
			switch {
			case IsProviderCoolingDown(err):
				f.log.Debugf("skipping %s trailer search for %q: %v", provider.Name(), item.Title, err)
			case IsProviderNotFound(err):
				f.log.Debugf("%s has no trailer for %q", provider.Name(), item.Title)
			default:
				f.log.Warnf("%s trailer search for %q failed: %v", provider.Name(), item.Title, err)
			}
			continue
		}
		if url == "" {
			continue
		}

		err = Retry(ctx, f.retry, func(ctx context.Context) error {
			return f.repo.SetTrailerURL(ctx, item.Ref(), url)
		})
		if err != nil {
			return "", fmt.Errorf("failed to store trailer for %s %q: %w", item.Kind, item.Title, err)
		}
		item.TrailerURL = &url
		f.log.Infof("added trailer for %s %q from %s", item.Kind, item.Title, provider.Name())
		return url, nil
	}

	f.log.Warnf("no trailer found for %s %q", item.Kind, item.Title)
	return "", nil
}

// LinkFetcher fills the external page links of movies.
type LinkFetcher struct {
	repo   MediaRepo
	chains *Providers
	retry  RetryPolicy
	log    *log.Helper
}

// NewLinkFetcher creates a LinkFetcher.
func NewLinkFetcher(repo MediaRepo, chains *Providers, retry RetryPolicy, logger log.Logger) *LinkFetcher {
	return &LinkFetcher{
		repo:   repo,
		chains: chains,
		retry:  retry,
		log:    log.NewHelper(log.With(logger, "module", "biz/links")),
	}
}

// TMDBMovieURL is the public TMDB page of a movie.
func TMDBMovieURL(id int64) string {
	return fmt.Sprintf("https://www.themoviedb.org/movie/%d", id)
}

// FetchLinks stores the TMDB, Trakt and IMDb pages of a movie that has a TMDB id. With a link
// provider configured, a movie is revisited until its Trakt page is known.
func (f *LinkFetcher) FetchLinks(ctx context.Context, run *RunState, item *MediaItem) error {
	if item.Kind != KindMovie || item.IDs.TMDB == nil {
		return nil
	}
	hasProvider := f.chains != nil && f.chains.Links != nil
	if item.Links.TMDBURL != nil && (!hasProvider || item.Links.TraktURL != nil) {
		return nil
	}
	tmdbURL := TMDBMovieURL(*item.IDs.TMDB)
	links := item.Links
	links.TMDBURL = &tmdbURL

	if hasProvider {
		var found *ExternalLinks
		err := run.cooldowns.call("trakt", func() error {
			var err error
			found, err = f.chains.Links.MovieLinks(ctx, *item.IDs.TMDB)
			return err
		})
		switch {
		case err != nil && !IsProviderNotFound(err) && !IsProviderCoolingDown(err):
			f.log.Warnf("link lookup for movie %q failed: %v", item.Title, err)
		case found != nil:
			if found.TraktURL != nil {
				links.TraktURL = found.TraktURL
			}
			if found.IMDBURL != nil {
				links.IMDBURL = found.IMDBURL
			}
		}
	}
	if links.IMDBURL == nil && item.IDs.IMDB != nil {
		u := "https://www.imdb.com/title/" + *item.IDs.IMDB
		links.IMDBURL = &u
	}

	err := Retry(ctx, f.retry, func(ctx context.Context) error {
		return f.repo.SetLinks(ctx, item.ID, links)
	})
	if err != nil {
		return fmt.Errorf("failed to store links for movie %q: %w", item.Title, err)
	}
	item.Links = links
	return nil
}
