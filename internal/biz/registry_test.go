package biz

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagRegistryCreatesOnceUnderConcurrency(t *testing.T) {
	repo := newMemTags()
	reg := NewTagRegistry(TagGenre, repo, noSleepPolicy(), testLogger)

	ids := make([]string, 20)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tag, err := reg.GetOrCreate(context.Background(), "Action")
			assert.NoError(t, err)
			if tag != nil {
				ids[i] = tag.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&repo.creates))
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestTagRegistryBlankName(t *testing.T) {
	repo := newMemTags()
	tag, err := NewTagRegistry(TagStudio, repo, noSleepPolicy(), testLogger).GetOrCreate(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, tag)
	assert.Zero(t, atomic.LoadInt32(&repo.creates))
}

func TestTagRegistryPreloadAvoidsWrites(t *testing.T) {
	repo := newMemTags()
	stored, _, err := repo.GetOrCreate(context.Background(), TagStudio, "A24")
	require.NoError(t, err)

	reg := NewTagRegistry(TagStudio, repo, noSleepPolicy(), testLogger)
	n, err := reg.Preload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tag, err := reg.GetOrCreate(context.Background(), "A24")
	require.NoError(t, err)
	assert.Equal(t, stored.ID, tag.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&repo.creates))
}

func TestTagRegistryResolveAll(t *testing.T) {
	reg := NewTagRegistry(TagGenre, newMemTags(), noSleepPolicy(), testLogger)

	ids, err := reg.ResolveAll(context.Background(), []string{"Drama", " Drama ", "", "Comedy"})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}
