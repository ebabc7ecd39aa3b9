package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMatchesByStableKeyAndCreatesNew(t *testing.T) {
	store := newMemMedia()
	existing := store.seed(movie("100", "Heat", 1995))
	r := NewEntityResolver(store, MergeNonNull, noSleepPolicy(), testLogger)

	batch, err := r.Resolve(context.Background(), KindMovie, []*MediaItem{
		movie("100", "Heat", 1995),
		movie("200", "Ronin", 1998),
	})
	require.NoError(t, err)

	require.Len(t, batch.Unchanged, 1)
	assert.Equal(t, existing.ID, batch.Unchanged[0].ID)
	require.Len(t, batch.Creates, 1)
	assert.NotEmpty(t, batch.Creates[0].ID)
	assert.NotEqual(t, existing.ID, batch.Creates[0].ID)
	assert.Empty(t, batch.Updates)
	assert.Len(t, batch.Items, 2)
	assert.Equal(t, 2, batch.Len())
}

func TestResolveMergePolicies(t *testing.T) {
	stored := movie("100", "Heat", 1995)
	stored.Summary = ptr("old")
	stored.Tagline = ptr("A Los Angeles crime saga")

	tests := []struct {
		name   string
		policy MergePolicy
		want   map[string]interface{}
	}{
		{"non null keeps stored values", MergeNonNull, map[string]interface{}{"summary": "new"}},
		{"overwrite clears missing values", MergeOverwrite, map[string]interface{}{"summary": "new", "tagline": nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemMedia()
			existing := store.seed(stored)
			incoming := movie("100", "Heat", 1995)
			incoming.Summary = ptr("new")

			batch, err := NewEntityResolver(store, tt.policy, noSleepPolicy(), testLogger).Resolve(context.Background(), KindMovie, []*MediaItem{incoming})
			require.NoError(t, err)
			require.Len(t, batch.Updates, 1)
			assert.Equal(t, existing.ID, batch.Updates[0].ID)
			assert.Equal(t, tt.want, batch.Updates[0].Changes)
		})
	}
}

func TestResolveReKeysByTMDBID(t *testing.T) {
	store := newMemMedia()
	old := movie("old-key", "The Matrix", 1999)
	old.IDs.TMDB = ptr(int64(603))
	existing := store.seed(old)

	incoming := movie("new-key", "The Matrix", 1999)
	incoming.IDs.TMDB = ptr(int64(603))
	batch, err := NewEntityResolver(store, MergeNonNull, noSleepPolicy(), testLogger).Resolve(context.Background(), KindMovie, []*MediaItem{incoming})
	require.NoError(t, err)

	require.Len(t, batch.Updates, 1)
	assert.Empty(t, batch.Creates)
	assert.Equal(t, existing.ID, batch.Updates[0].ID)
	assert.Equal(t, "new-key", batch.Updates[0].Changes["stable_key"])
	assert.Equal(t, existing.ID, incoming.ID)
}

func TestResolveFallsBackToTitleAndYear(t *testing.T) {
	store := newMemMedia()
	existing := store.seed(movie("k1", "Alien", 1979))
	r := NewEntityResolver(store, MergeNonNull, noSleepPolicy(), testLogger)

	batch, err := r.Resolve(context.Background(), KindMovie, []*MediaItem{movie("k2", " ALIEN ", 1979)})
	require.NoError(t, err)
	require.Len(t, batch.Updates, 1)
	assert.Equal(t, existing.ID, batch.Updates[0].ID)

	batch, err = r.Resolve(context.Background(), KindMovie, []*MediaItem{movie("k3", "Alien", 1986)})
	require.NoError(t, err)
	assert.Len(t, batch.Creates, 1, "a different year is a different film")
}

func TestResolveSkipsDuplicateKeysInBatch(t *testing.T) {
	batch, err := NewEntityResolver(newMemMedia(), MergeNonNull, noSleepPolicy(), testLogger).Resolve(context.Background(), KindMovie, []*MediaItem{
		movie("1", "Heat", 1995),
		movie("1", "Heat (Director's Cut)", 1995),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Skipped)
	assert.Equal(t, 1, batch.Len())
	assert.Equal(t, "Heat", batch.Creates[0].Title)
}

func TestResolveFallbackNeverStealsKeyedRow(t *testing.T) {
	store := newMemMedia()
	keyed := movie("a", "Dune", 2021)
	keyed.IDs.TMDB = ptr(int64(438631))
	existing := store.seed(keyed)

	same := movie("a", "Dune", 2021)
	same.IDs.TMDB = ptr(int64(438631))
	other := movie("b", "Dune", 2021)
	other.IDs.TMDB = ptr(int64(438631))

	batch, err := NewEntityResolver(store, MergeNonNull, noSleepPolicy(), testLogger).Resolve(context.Background(), KindMovie, []*MediaItem{same, other})
	require.NoError(t, err)

	require.Len(t, batch.Unchanged, 1)
	assert.Equal(t, existing.ID, batch.Unchanged[0].ID)
	require.Len(t, batch.Creates, 1)
	assert.Equal(t, "b", batch.Creates[0].StableKey)
}

func TestResolveEpisodeBySlot(t *testing.T) {
	store := newMemMedia()
	existing := store.seed(&MediaItem{
		Kind: KindEpisode, StableKey: "e-old", Title: "Pilot", TitleKey: "pilot",
		ShowID: "show-1", SeasonNumber: 1, EpisodeNumber: 2,
	})

	incoming := &MediaItem{
		Kind: KindEpisode, StableKey: "e-new", Title: "Pilot", TitleKey: "pilot",
		ShowID: "show-1", SeasonNumber: 1, EpisodeNumber: 2,
	}
	elsewhere := &MediaItem{
		Kind: KindEpisode, StableKey: "e-other", Title: "Pilot", TitleKey: "pilot",
		ShowID: "show-2", SeasonNumber: 1, EpisodeNumber: 2,
	}
	batch, err := NewEntityResolver(store, MergeNonNull, noSleepPolicy(), testLogger).Resolve(context.Background(), KindEpisode, []*MediaItem{incoming, elsewhere})
	require.NoError(t, err)

	require.Len(t, batch.Updates, 1)
	assert.Equal(t, existing.ID, batch.Updates[0].ID)
	assert.Equal(t, "e-new", batch.Updates[0].Changes["stable_key"])
	require.Len(t, batch.Creates, 1)
	assert.Equal(t, "e-other", batch.Creates[0].StableKey)
}

func TestResolveKeepsEnrichment(t *testing.T) {
	store := newMemMedia()
	stored := movie("1", "Heat", 1995)
	stored.TrailerURL = ptr("https://www.youtube.com/embed/abc")
	store.seed(stored)

	incoming := movie("1", "Heat", 1995)
	batch, err := NewEntityResolver(store, MergeOverwrite, noSleepPolicy(), testLogger).Resolve(context.Background(), KindMovie, []*MediaItem{incoming})
	require.NoError(t, err)
	assert.Len(t, batch.Unchanged, 1)
	require.NotNil(t, incoming.TrailerURL)
	assert.Equal(t, "https://www.youtube.com/embed/abc", *incoming.TrailerURL)
}

func TestParseMergePolicy(t *testing.T) {
	p, err := ParseMergePolicy("")
	require.NoError(t, err)
	assert.Equal(t, MergeNonNull, p)

	p, err = ParseMergePolicy("overwrite")
	require.NoError(t, err)
	assert.Equal(t, MergeOverwrite, p)

	_, err = ParseMergePolicy("newest")
	assert.Error(t, err)
}
