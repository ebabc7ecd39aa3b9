package data

import (
	"context"
	"testing"
	"time"

	"mediasync/internal/biz"
	"mediasync/internal/conf"
	"mediasync/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCatalog struct {
	movies   []*biz.RawMedia
	shows    []*biz.RawMedia
	episodes map[string][]*biz.RawMedia
}

func (c *staticCatalog) ListMovies(context.Context) ([]*biz.RawMedia, error) { return c.movies, nil }
func (c *staticCatalog) ListShows(context.Context) ([]*biz.RawMedia, error) { return c.shows, nil }
func (c *staticCatalog) ListEpisodes(_ context.Context, show *biz.RawMedia) ([]*biz.RawMedia, error) {
	return c.episodes[show.StableKey], nil
}

func newStoreSync(d *Data, catalog biz.CatalogSource) *biz.SyncUseCase {
	retry := biz.DefaultRetryPolicy()
	retry.Sleep = func(context.Context, time.Duration) error { return nil }
	media := NewMediaRepo(d, testLogger)
	tags := NewTagRepo(d, testLogger)
	chains := &biz.Providers{}
	people := biz.NewPersonResolver(NewPersonRepo(d, testLogger), chains, retry, testLogger)
	return biz.NewSyncUseCase(
		catalog, media, tags, NewRunLocker(d, testLogger),
		biz.NewEntityResolver(media, biz.MergeNonNull, retry, testLogger),
		biz.NewBatchWriter(media, NewTransaction(d), retry, testLogger),
		biz.NewRoleReconciler(people, NewRoleRepo(d, testLogger), chains, retry, testLogger),
		biz.NewTrailerFetcher(media, chains, retry, testLogger),
		biz.NewLinkFetcher(media, chains, retry, testLogger),
		metrics.NewMetrics(&conf.Metrics{}), biz.NewSyncConfig(&conf.Sync{ItemWorkers: 1}), retry, testLogger,
	)
}

func TestSyncRunIsIdempotentOnStore(t *testing.T) {
	ctx := context.Background()
	d := newTestData(t)
	added := time.Date(2021, 3, 4, 5, 6, 7, 890, time.FixedZone("CET", 3600))
	released := time.Date(1999, 3, 31, 0, 0, 0, 0, time.UTC)
	catalog := &staticCatalog{
		movies: []*biz.RawMedia{
			{
				StableKey: "101", Title: "The Matrix", Year: 1999, Rating: 8.7, Studio: "Warner Bros.",
				Genres: []string{"Action", "Science Fiction"}, GUIDs: []string{"tmdb://603", "imdb://tt0133093"},
				AddedAt: &added, OriginallyAvailableAt: &released,
				Credits: []biz.RawCredit{
					{Type: biz.RoleActor, Tag: "Jane Doe as Harper", GUIDs: []string{"tmdb://501"}},
					{Type: biz.RoleActor, Tag: "Keanu Reeves", Role: "Neo"},
					{Type: biz.RoleDirector, Tag: "Jane Doe"},
				},
			},
			{StableKey: "102", Title: "Heat", Year: 1995, Credits: []biz.RawCredit{{Type: biz.RoleActor, Tag: "Jane Doe"}}},
		},
		shows: []*biz.RawMedia{{StableKey: "201", Title: "Severance", Year: 2022, Genres: []string{"Drama"}}},
		episodes: map[string][]*biz.RawMedia{"201": {
			{StableKey: "301", Title: "Good News About Hell", SeasonNumber: ptr(1), EpisodeNumber: ptr(1),
				Credits: []biz.RawCredit{{Type: biz.RoleActor, Tag: "Jane Doe", Role: "Helly"}}},
		}},
	}
	uc := newStoreSync(d, catalog)

	report, err := uc.Run(ctx, biz.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, biz.Totals{Listed: 2, Created: 2}, report.Movies.Items)
	assert.Equal(t, biz.Totals{Listed: 1, Created: 1}, report.Shows.Items)
	assert.Equal(t, biz.Totals{Listed: 1, Created: 1}, report.Shows.Episodes)
	assert.Equal(t, 4, report.Movies.RolesCreated)
	assert.Equal(t, 1, report.Shows.RolesCreated)

	var people []Person
	require.NoError(t, d.db.Order("first_name").Find(&people).Error)
	require.Len(t, people, 2)
	assert.Equal(t, "Jane", people[0].FirstName)
	require.NotNil(t, people[0].TMDBID)
	assert.Equal(t, int64(501), *people[0].TMDBID)

	var harper Role
	require.NoError(t, d.db.Where("person_id = ? AND role_type = ? AND movie_id IS NOT NULL", people[0].ID, string(biz.RoleActor)).
		Joins("JOIN movies ON movies.id = roles.movie_id AND movies.stable_key = ?", "101").First(&harper).Error)
	require.NotNil(t, harper.CharacterName)
	assert.Equal(t, "Harper", *harper.CharacterName)
	assert.Equal(t, 0, harper.Order)

	var stored Movie
	require.NoError(t, d.db.Where("stable_key = ?", "101").First(&stored).Error)
	require.NotNil(t, stored.AddedAt)
	assert.True(t, stored.AddedAt.Equal(added.Truncate(time.Second)))

	for i := 0; i < 2; i++ {
		report, err = uc.Run(ctx, biz.RunOptions{})
		require.NoError(t, err)
		assert.Equal(t, biz.Totals{Listed: 2, Unchanged: 2}, report.Movies.Items, "rerun %d", i)
		assert.Equal(t, biz.Totals{Listed: 1, Unchanged: 1}, report.Shows.Items, "rerun %d", i)
		assert.Equal(t, biz.Totals{Listed: 1, Unchanged: 1}, report.Shows.Episodes, "rerun %d", i)
		assert.Zero(t, report.Movies.RolesCreated+report.Movies.RolesUpdated, "rerun %d", i)
		assert.Zero(t, report.Shows.RolesCreated+report.Shows.RolesUpdated, "rerun %d", i)
	}

	var counts struct{ movies, people, roles, genres int64 }
	require.NoError(t, d.db.Model(&Movie{}).Count(&counts.movies).Error)
	require.NoError(t, d.db.Model(&Person{}).Count(&counts.people).Error)
	require.NoError(t, d.db.Model(&Role{}).Count(&counts.roles).Error)
	require.NoError(t, d.db.Model(&MovieGenre{}).Count(&counts.genres).Error)
	assert.Equal(t, int64(2), counts.movies)
	assert.Equal(t, int64(2), counts.people)
	assert.Equal(t, int64(5), counts.roles)
	assert.Equal(t, int64(2), counts.genres)
}
