package data

import (
	"mediasync/internal/biz"
	"mediasync/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// NewProviders builds the provider chains from the enabled clients.
// Movies ask TMDB first, shows and episodes ask TVDB first.
func NewProviders(c *conf.Providers, d *Data, logger log.Logger) *biz.Providers {
	l := log.NewHelper(log.With(logger, "module", "data/providers"))
	p := &biz.Providers{}

	var tmdb *tmdbClient
	var tvdb *tvdbClient
	if c.TMDB.Enabled() {
		tmdb = newTMDBClient(c.TMDB, d.rdb, logger)
	}
	if c.TVDB.Enabled() {
		tvdb = newTVDBClient(c.TVDB, d.rdb, logger)
	}

	if tmdb != nil {
		p.MovieChain = append(p.MovieChain, tmdb)
	}
	if tvdb != nil {
		p.MovieChain = append(p.MovieChain, tvdb)
		p.ShowChain = append(p.ShowChain, tvdb)
	}
	if tmdb != nil {
		p.ShowChain = append(p.ShowChain, tmdb)
		p.Trailers = append(p.Trailers, tmdb)
	}
	if c.YouTube.Enabled() {
		p.Trailers = append(p.Trailers, newYouTubeClient(c.YouTube, d.rdb, logger))
	}
	if c.Trakt.Enabled() {
		p.Links = newTraktClient(c.Trakt, d.rdb, logger)
	}

	l.Infof("providers: %d movie credit, %d show credit, %d trailer, links=%t",
		len(p.MovieChain), len(p.ShowChain), len(p.Trailers), p.Links != nil)
	return p
}
