package biz

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// MergePolicy decides how upstream values replace stored ones.
type MergePolicy int

const (
	// MergeNonNull lets upstream win when it has a value and keeps the stored value otherwise.
	MergeNonNull MergePolicy = iota
	// MergeOverwrite copies upstream as is, clearing columns upstream no longer carries.
	MergeOverwrite
)

// ParseMergePolicy reads the configured policy name.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch s {
	case "", "non_null":
		return MergeNonNull, nil
	case "overwrite":
		return MergeOverwrite, nil
	}
	return MergeNonNull, fmt.Errorf("unknown merge policy %q", s)
}

func (p MergePolicy) String() string {
	if p == MergeOverwrite {
		return "overwrite"
	}
	return "non_null"
}

// MediaUpdate is the column diff for one existing row.
type MediaUpdate struct {
	ID        string
	StableKey string
	Changes   map[string]interface{}
}

// ResolvedBatch is the write plan for one batch.
type ResolvedBatch struct {
	Kind      MediaKind
	Creates   []*MediaItem
	Updates   []*MediaUpdate
	Unchanged []*MediaItem
	// Items holds every valid record in input order, ids assigned.
	Items   []*MediaItem
	Skipped int
}

// Len counts the valid payloads of the batch.
func (b *ResolvedBatch) Len() int {
	return len(b.Creates) + len(b.Updates) + len(b.Unchanged)
}

// EntityResolver matches extracted items against stored rows.
type EntityResolver struct {
	repo   MediaRepo
	policy MergePolicy
	retry  RetryPolicy
	log    *log.Helper
}

// NewEntityResolver creates an EntityResolver. Store reads are retried on contention.
func NewEntityResolver(repo MediaRepo, policy MergePolicy, retry RetryPolicy, logger log.Logger) *EntityResolver {
	return &EntityResolver{
		repo:   repo,
		policy: policy,
		retry:  retry,
		log:    log.NewHelper(log.With(logger, "module", "biz/resolver")),
	}
}

func (r *EntityResolver) load(ctx context.Context, read func(ctx context.Context) ([]*MediaItem, error)) ([]*MediaItem, error) {
	return RetryValue(ctx, r.retry, read)
}

// Resolve computes creates and diffs for a batch before anything is written. Matching order is
// stable key, then TMDB id, then normalized title (episodes: show, season and episode number).
func (r *EntityResolver) Resolve(ctx context.Context, kind MediaKind, items []*MediaItem) (*ResolvedBatch, error) {
	batch := &ResolvedBatch{Kind: kind}

	incoming := make([]*MediaItem, 0, len(items))
	keys := make([]string, 0, len(items))
	inBatch := make(map[string]bool, len(items))
	for _, it := range items {
		if inBatch[it.StableKey] {
			r.log.Warnf("duplicate %s stable key %q in batch, skipping %q", kind, it.StableKey, it.Title)
			batch.Skipped++
			continue
		}
		inBatch[it.StableKey] = true
		incoming = append(incoming, it)
		keys = append(keys, it.StableKey)
	}
	if len(incoming) == 0 {
		return batch, nil
	}

	byKey, err := r.load(ctx, func(ctx context.Context) ([]*MediaItem, error) {
		return r.repo.FindByStableKeys(ctx, kind, keys)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %ss by stable key: %w", kind, err)
	}
	keyed := make(map[string]*MediaItem, len(byKey))
	for _, ex := range byKey {
		keyed[ex.StableKey] = ex
	}

	matches := make(map[*MediaItem]*MediaItem, len(incoming))
	claimed := make(map[string]bool)
	var pending []*MediaItem
	for _, it := range incoming {
		if ex, ok := keyed[it.StableKey]; ok {
			matches[it] = ex
			claimed[ex.ID] = true
			continue
		}
		pending = append(pending, it)
	}

	// a fallback candidate must not be a row the batch already addresses by key
	available := func(ex *MediaItem) bool {
		return !claimed[ex.ID] && !inBatch[ex.StableKey]
	}

	if len(pending) > 0 {
		pending, err = r.matchByTMDB(ctx, kind, pending, matches, claimed, available)
		if err != nil {
			return nil, err
		}
	}
	if len(pending) > 0 {
		if kind == KindEpisode {
			pending, err = r.matchBySlot(ctx, pending, matches, claimed, available)
		} else {
			pending, err = r.matchByTitle(ctx, kind, pending, matches, claimed, available)
		}
		if err != nil {
			return nil, err
		}
	}
	creating := make(map[*MediaItem]bool, len(pending))
	for _, it := range pending {
		creating[it] = true
	}

	for _, it := range incoming {
		if creating[it] {
			id, err := uuid.NewV7()
			if err != nil {
				return nil, fmt.Errorf("failed to generate %s id: %w", kind, err)
			}
			it.ID = id.String()
			batch.Creates = append(batch.Creates, it)
			batch.Items = append(batch.Items, it)
			continue
		}

		ex := matches[it]
		it.ID = ex.ID
		it.TrailerURL = ex.TrailerURL
		it.Links = ex.Links
		changes := Diff(ex, it, r.policy)
		if ex.StableKey != it.StableKey {
			r.log.Warnf("%s %q re-keyed from %q to %q", kind, it.Title, ex.StableKey, it.StableKey)
			changes["stable_key"] = it.StableKey
		}
		if len(changes) == 0 {
			batch.Unchanged = append(batch.Unchanged, it)
		} else {
			batch.Updates = append(batch.Updates, &MediaUpdate{ID: ex.ID, StableKey: it.StableKey, Changes: changes})
		}
		batch.Items = append(batch.Items, it)
	}
	return batch, nil
}

func (r *EntityResolver) matchByTMDB(ctx context.Context, kind MediaKind, pending []*MediaItem,
	matches map[*MediaItem]*MediaItem, claimed map[string]bool, available func(*MediaItem) bool) ([]*MediaItem, error) {
	var ids []int64
	for _, it := range pending {
		if it.IDs.TMDB != nil {
			ids = append(ids, *it.IDs.TMDB)
		}
	}
	if len(ids) == 0 {
		return pending, nil
	}
	found, err := r.load(ctx, func(ctx context.Context) ([]*MediaItem, error) {
		return r.repo.FindByTMDBIDs(ctx, kind, ids)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %ss by tmdb id: %w", kind, err)
	}
	byID := make(map[int64][]*MediaItem)
	for _, ex := range found {
		if ex.IDs.TMDB != nil {
			byID[*ex.IDs.TMDB] = append(byID[*ex.IDs.TMDB], ex)
		}
	}

	var rest []*MediaItem
	for _, it := range pending {
		if it.IDs.TMDB != nil {
			if ex := firstAvailable(byID[*it.IDs.TMDB], available, nil); ex != nil {
				matches[it] = ex
				claimed[ex.ID] = true
				continue
			}
		}
		rest = append(rest, it)
	}
	return rest, nil
}

func (r *EntityResolver) matchByTitle(ctx context.Context, kind MediaKind, pending []*MediaItem,
	matches map[*MediaItem]*MediaItem, claimed map[string]bool, available func(*MediaItem) bool) ([]*MediaItem, error) {
	titleKeys := make([]string, 0, len(pending))
	for _, it := range pending {
		titleKeys = append(titleKeys, it.TitleKey)
	}
	found, err := r.load(ctx, func(ctx context.Context) ([]*MediaItem, error) {
		return r.repo.FindByTitleKeys(ctx, kind, titleKeys)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %ss by title: %w", kind, err)
	}
	byTitle := make(map[string][]*MediaItem)
	for _, ex := range found {
		byTitle[ex.TitleKey] = append(byTitle[ex.TitleKey], ex)
	}

	var rest []*MediaItem
	for _, it := range pending {
		sameYear := func(ex *MediaItem) bool {
			return it.Year == nil || ex.Year == nil || *it.Year == *ex.Year
		}
		if ex := firstAvailable(byTitle[it.TitleKey], available, sameYear); ex != nil {
			matches[it] = ex
			claimed[ex.ID] = true
			continue
		}
		rest = append(rest, it)
	}
	return rest, nil
}

func (r *EntityResolver) matchBySlot(ctx context.Context, pending []*MediaItem,
	matches map[*MediaItem]*MediaItem, claimed map[string]bool, available func(*MediaItem) bool) ([]*MediaItem, error) {
	type slot struct {
		show            string
		season, episode int
	}
	slots := make(map[slot]*MediaItem)
	loaded := make(map[string]bool)
	var rest []*MediaItem
	for _, it := range pending {
		if it.ShowID == "" {
			rest = append(rest, it)
			continue
		}
		if !loaded[it.ShowID] {
			loaded[it.ShowID] = true
			showID := it.ShowID
			eps, err := r.load(ctx, func(ctx context.Context) ([]*MediaItem, error) {
				return r.repo.FindEpisodesByShow(ctx, showID)
			})
			if err != nil {
				return nil, fmt.Errorf("failed to load episodes of show %s: %w", it.ShowID, err)
			}
			for _, ex := range eps {
				slots[slot{ex.ShowID, ex.SeasonNumber, ex.EpisodeNumber}] = ex
			}
		}
		ex := slots[slot{it.ShowID, it.SeasonNumber, it.EpisodeNumber}]
		if ex != nil && available(ex) {
			matches[it] = ex
			claimed[ex.ID] = true
			continue
		}
		rest = append(rest, it)
	}
	return rest, nil
}

func firstAvailable(candidates []*MediaItem, available func(*MediaItem) bool, extra func(*MediaItem) bool) *MediaItem {
	for _, ex := range candidates {
		if available(ex) && (extra == nil || extra(ex)) {
			return ex
		}
	}
	return nil
}

type mediaField struct {
	column string
	value  func(m *MediaItem) interface{}
}

var commonFields = []mediaField{
	{"title", func(m *MediaItem) interface{} { return m.Title }},
	{"title_key", func(m *MediaItem) interface{} { return m.TitleKey }},
	{"guid", func(m *MediaItem) interface{} { return derefString(m.GUID) }},
	{"original_title", func(m *MediaItem) interface{} { return derefString(m.OriginalTitle) }},
	{"summary", func(m *MediaItem) interface{} { return derefString(m.Summary) }},
	{"tagline", func(m *MediaItem) interface{} { return derefString(m.Tagline) }},
	{"year", func(m *MediaItem) interface{} { return derefInt(m.Year) }},
	{"duration_ms", func(m *MediaItem) interface{} { return derefInt64(m.DurationMS) }},
	{"content_rating", func(m *MediaItem) interface{} { return derefString(m.ContentRating) }},
	{"rating", func(m *MediaItem) interface{} { return derefFloat(m.Rating) }},
	{"audience_rating", func(m *MediaItem) interface{} { return derefFloat(m.AudienceRating) }},
	{"audience_rating_image", func(m *MediaItem) interface{} { return derefString(m.AudienceRatingIcon) }},
	{"poster_url", func(m *MediaItem) interface{} { return derefString(m.PosterURL) }},
	{"art_url", func(m *MediaItem) interface{} { return derefString(m.ArtURL) }},
	{"view_count", func(m *MediaItem) interface{} { return derefInt(m.ViewCount) }},
	{"tmdb_id", func(m *MediaItem) interface{} { return derefInt64(m.IDs.TMDB) }},
	{"imdb_id", func(m *MediaItem) interface{} { return derefString(m.IDs.IMDB) }},
	{"tvdb_id", func(m *MediaItem) interface{} { return derefInt64(m.IDs.TVDB) }},
	{"studio_id", func(m *MediaItem) interface{} { return derefString(m.StudioID) }},
	{"originally_available_at", func(m *MediaItem) interface{} { return derefTime(m.OriginallyAvailableAt) }},
	{"added_at", func(m *MediaItem) interface{} { return derefTime(m.AddedAt) }},
	{"source_updated_at", func(m *MediaItem) interface{} { return derefTime(m.SourceUpdatedAt) }},
	{"last_viewed_at", func(m *MediaItem) interface{} { return derefTime(m.LastViewedAt) }},
}

var episodeFields = []mediaField{
	{"show_id", func(m *MediaItem) interface{} { return m.ShowID }},
	{"season_number", func(m *MediaItem) interface{} { return m.SeasonNumber }},
	{"episode_number", func(m *MediaItem) interface{} { return m.EpisodeNumber }},
	{"has_intro_marker", func(m *MediaItem) interface{} { return m.HasIntroMarker }},
	{"has_credits_marker", func(m *MediaItem) interface{} { return m.HasCreditsMarker }},
	{"has_commercial_marker", func(m *MediaItem) interface{} { return m.HasCommercialMarker }},
}

// Diff returns the columns whose upstream value differs from the stored one under policy.
// Enrichment columns (trailer and link URLs) are never part of the diff.
func Diff(stored, upstream *MediaItem, policy MergePolicy) map[string]interface{} {
	changes := make(map[string]interface{})
	fields := commonFields
	if upstream.Kind == KindEpisode {
		fields = append(append([]mediaField{}, commonFields...), episodeFields...)
	}
	for _, f := range fields {
		next := f.value(upstream)
		if next == nil && policy == MergeNonNull {
			continue
		}
		if !sameValue(f.value(stored), next) {
			changes[f.column] = next
		}
	}
	return changes
}

func sameValue(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case float64:
		bv, ok := b.(float64)
		return ok && math.Abs(av-bv) < 1e-6
	}
	return a == b
}

func derefString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func derefInt(n *int) interface{} {
	if n == nil {
		return nil
	}
	return *n
}

func derefInt64(n *int64) interface{} {
	if n == nil {
		return nil
	}
	return *n
}

func derefFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func derefTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
