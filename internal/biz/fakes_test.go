package biz

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

var testLogger = log.NewStdLogger(io.Discard)

func ptr[T any](v T) *T { return &v }

func noSleepPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func newTestRun(tags TagRepo) *RunState {
	run, err := NewRunState(tags, noSleepPolicy(), testLogger)
	if err != nil {
		panic(err)
	}
	return run
}

func movie(key, title string, year int) *MediaItem {
	m := &MediaItem{Kind: KindMovie, StableKey: key, Title: title, TitleKey: NormalizeName(title)}
	if year > 0 {
		m.Year = &year
	}
	return m
}

// memMedia is an in-memory MediaRepo keyed by kind and row id.
type memMedia struct {
	mu       sync.Mutex
	rows     map[MediaKind]map[string]*MediaItem
	genres   map[string][]string
	seq      int
	busy     int
	readBusy int
	reads    int
	inserts  int
	failKeys map[string]error
}

func newMemMedia() *memMedia {
	return &memMedia{
		rows:     map[MediaKind]map[string]*MediaItem{KindMovie: {}, KindShow: {}, KindEpisode: {}},
		genres:   make(map[string][]string),
		failKeys: make(map[string]error),
	}
}

// seed stores a copy of item and returns the stored row.
func (m *memMedia) seed(item *MediaItem) *MediaItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *item
	if c.ID == "" {
		m.seq++
		c.ID = fmt.Sprintf("seed-%d", m.seq)
	}
	m.rows[c.Kind][c.ID] = &c
	return &c
}

func (m *memMedia) all(kind MediaKind) []*MediaItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MediaItem, 0, len(m.rows[kind]))
	for _, r := range m.rows[kind] {
		c := *r
		out = append(out, &c)
	}
	return out
}

func (m *memMedia) byKey(kind MediaKind, key string) *MediaItem {
	for _, r := range m.all(kind) {
		if r.StableKey == key {
			return r
		}
	}
	return nil
}

func (m *memMedia) find(kind MediaKind, match func(*MediaItem) bool) []*MediaItem {
	var out []*MediaItem
	for _, r := range m.all(kind) {
		if match(r) {
			out = append(out, r)
		}
	}
	return out
}

func (m *memMedia) FindByStableKeys(_ context.Context, kind MediaKind, keys []string) ([]*MediaItem, error) {
	m.mu.Lock()
	m.reads++
	if m.readBusy > 0 {
		m.readBusy--
		m.mu.Unlock()
		return nil, fmt.Errorf("load %ss: %w", kind, ErrStorageBusy)
	}
	m.mu.Unlock()
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return m.find(kind, func(r *MediaItem) bool { return set[r.StableKey] }), nil
}

func (m *memMedia) FindByTMDBIDs(_ context.Context, kind MediaKind, ids []int64) ([]*MediaItem, error) {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return m.find(kind, func(r *MediaItem) bool { return r.IDs.TMDB != nil && set[*r.IDs.TMDB] }), nil
}

func (m *memMedia) FindByTitleKeys(_ context.Context, kind MediaKind, titleKeys []string) ([]*MediaItem, error) {
	set := make(map[string]bool, len(titleKeys))
	for _, k := range titleKeys {
		set[k] = true
	}
	return m.find(kind, func(r *MediaItem) bool { return set[r.TitleKey] }), nil
}

func (m *memMedia) FindEpisodesByShow(_ context.Context, showID string) ([]*MediaItem, error) {
	return m.find(KindEpisode, func(r *MediaItem) bool { return r.ShowID == showID }), nil
}

func (m *memMedia) InsertIgnoringConflicts(_ context.Context, kind MediaKind, items []*MediaItem) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.busy > 0 {
		m.busy--
		return 0, fmt.Errorf("insert %ss: %w", kind, ErrStorageBusy)
	}
	for _, it := range items {
		if err := m.failKeys[it.StableKey]; err != nil {
			return 0, err
		}
	}
	var n int64
	for _, it := range items {
		conflict := false
		for _, r := range m.rows[kind] {
			if r.StableKey == it.StableKey {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		c := *it
		m.rows[kind][c.ID] = &c
		n++
	}
	return n, nil
}

func (m *memMedia) StableKeyIDs(_ context.Context, kind MediaKind, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	for _, r := range m.all(kind) {
		if set[r.StableKey] {
			out[r.StableKey] = r.ID
		}
	}
	return out, nil
}

func (m *memMedia) UpdateFields(_ context.Context, kind MediaKind, id string, changes map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[kind][id]
	if !ok {
		return fmt.Errorf("%s %s not found", kind, id)
	}
	for col, v := range changes {
		switch col {
		case "stable_key":
			r.StableKey = v.(string)
		case "title":
			r.Title = v.(string)
		case "title_key":
			r.TitleKey = v.(string)
		case "summary":
			if v == nil {
				r.Summary = nil
			} else {
				r.Summary = ptr(v.(string))
			}
		case "tagline":
			if v == nil {
				r.Tagline = nil
			} else {
				r.Tagline = ptr(v.(string))
			}
		case "year":
			if v == nil {
				r.Year = nil
			} else {
				r.Year = ptr(v.(int))
			}
		}
	}
	return nil
}

func (m *memMedia) SetGenres(_ context.Context, ref MediaRef, genreIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.genres[ref.String()] = append([]string(nil), genreIDs...)
	return nil
}

func (m *memMedia) SetTrailerURL(_ context.Context, ref MediaRef, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[ref.Kind][ref.ID]
	if !ok {
		return fmt.Errorf("%s not found", ref)
	}
	r.TrailerURL = &url
	return nil
}

func (m *memMedia) SetLinks(_ context.Context, movieID string, links ExternalLinks) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[KindMovie][movieID]
	if !ok {
		return fmt.Errorf("movie %s not found", movieID)
	}
	r.Links = links
	return nil
}

// memPeople is an in-memory PersonRepo that keeps insertion order.
type memPeople struct {
	mu       sync.Mutex
	order    []*Person
	creates  int
	nameBusy int
}

func (m *memPeople) seed(p *Person) *Person {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.order = append(m.order, &c)
	return &c
}

func (m *memPeople) named(first, last string) []*Person {
	people, _ := m.FindByName(context.Background(), first, last)
	return people
}

func (m *memPeople) FindByProviderIDs(_ context.Context, ids ProviderIDs) (*Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.order {
		if (ids.TMDB != nil && p.IDs.TMDB != nil && *ids.TMDB == *p.IDs.TMDB) ||
			(ids.IMDB != nil && p.IDs.IMDB != nil && *ids.IMDB == *p.IDs.IMDB) ||
			(ids.TVDB != nil && p.IDs.TVDB != nil && *ids.TVDB == *p.IDs.TVDB) {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memPeople) FindByName(_ context.Context, first, last string) ([]*Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nameBusy > 0 {
		m.nameBusy--
		return nil, fmt.Errorf("people by name: %w", ErrStorageBusy)
	}
	var out []*Person
	for _, p := range m.order {
		if strings.EqualFold(p.FirstName, first) && strings.EqualFold(p.LastName, last) {
			c := *p
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memPeople) Create(_ context.Context, p *Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *p
	m.order = append(m.order, &c)
	m.creates++
	return nil
}

func (m *memPeople) Update(_ context.Context, id string, changes map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.order {
		if p.ID != id {
			continue
		}
		for col, v := range changes {
			switch col {
			case "tmdb_id":
				p.IDs.TMDB = ptr(v.(int64))
			case "tvdb_id":
				p.IDs.TVDB = ptr(v.(int64))
			case "imdb_id":
				p.IDs.IMDB = ptr(v.(string))
			case "photo_url":
				p.PhotoURL = ptr(v.(string))
			case "birth_date":
				p.BirthDate = ptr(v.(time.Time))
			case "death_date":
				p.DeathDate = ptr(v.(time.Time))
			}
		}
		return nil
	}
	return fmt.Errorf("person %s not found", id)
}

// memRoles is an in-memory RoleRepo with the (person, type, media) uniqueness of the real table.
type memRoles struct {
	mu    sync.Mutex
	roles map[string]*Role
}

func newMemRoles() *memRoles {
	return &memRoles{roles: make(map[string]*Role)}
}

func roleKey(r *Role) string {
	return r.PersonID + "|" + string(r.Type) + "|" + r.Media.String()
}

func (m *memRoles) Upsert(_ context.Context, role *Role) (UpsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := roleKey(role)
	existing, ok := m.roles[k]
	if !ok {
		c := *role
		m.roles[k] = &c
		return OutcomeCreated, nil
	}
	outcome := OutcomeUnchanged
	if existing.Order != role.Order {
		existing.Order = role.Order
		outcome = OutcomeUpdated
	}
	if role.CharacterName != nil && (existing.CharacterName == nil || *existing.CharacterName != *role.CharacterName) {
		existing.CharacterName = role.CharacterName
		outcome = OutcomeUpdated
	}
	return outcome, nil
}

func (m *memRoles) of(media MediaRef) []*Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Role
	for _, r := range m.roles {
		if r.Media == media {
			c := *r
			out = append(out, &c)
		}
	}
	return out
}

// memTags is an in-memory TagRepo that counts real inserts.
type memTags struct {
	mu      sync.Mutex
	tags    map[TagKind]map[string]*Tag
	creates int32
}

func newMemTags() *memTags {
	return &memTags{tags: map[TagKind]map[string]*Tag{TagGenre: {}, TagStudio: {}}}
}

func (m *memTags) GetOrCreate(_ context.Context, kind TagKind, name string) (*Tag, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tags[kind][name]; ok {
		return t, false, nil
	}
	n := atomic.AddInt32(&m.creates, 1)
	t := &Tag{ID: fmt.Sprintf("%s-%d", kind, n), Name: name}
	m.tags[kind][name] = t
	return t, true, nil
}

func (m *memTags) List(_ context.Context, kind TagKind) ([]*Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Tag, 0, len(m.tags[kind]))
	for _, t := range m.tags[kind] {
		out = append(out, t)
	}
	return out, nil
}

type passTx struct{}

func (passTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// heldLocker reports every name in held as owned by another process.
type heldLocker struct {
	held map[string]bool
}

func (l heldLocker) Acquire(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	if l.held[name] {
		return nil, false, nil
	}
	return func() {}, true, nil
}

type fakeCatalog struct {
	movies    []*RawMedia
	shows     []*RawMedia
	episodes  map[string][]*RawMedia
	moviesErr error
	showsErr  error
}

func (c *fakeCatalog) ListMovies(context.Context) ([]*RawMedia, error) { return c.movies, c.moviesErr }
func (c *fakeCatalog) ListShows(context.Context) ([]*RawMedia, error)  { return c.shows, c.showsErr }

func (c *fakeCatalog) ListEpisodes(_ context.Context, show *RawMedia) ([]*RawMedia, error) {
	return c.episodes[show.StableKey], nil
}

// fakeProvider serves canned person matches, casts and a trailer.
type fakeProvider struct {
	name     string
	people   map[string]*PersonMatch
	cast     []CastMember
	castErr  error
	trailer  string
	trailErr error
	searches int32
	casts    int32
	trailers int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) SearchPerson(_ context.Context, fullName string) (*PersonMatch, error) {
	atomic.AddInt32(&p.searches, 1)
	return p.people[NormalizeName(fullName)], nil
}

func (p *fakeProvider) Cast(context.Context, CastQuery) ([]CastMember, error) {
	atomic.AddInt32(&p.casts, 1)
	return p.cast, p.castErr
}

func (p *fakeProvider) FindTrailer(context.Context, *MediaItem) (string, error) {
	atomic.AddInt32(&p.trailers, 1)
	return p.trailer, p.trailErr
}

type fakeLinks struct {
	links *ExternalLinks
	err   error
	calls int32
}

func (l *fakeLinks) MovieLinks(context.Context, int64) (*ExternalLinks, error) {
	atomic.AddInt32(&l.calls, 1)
	return l.links, l.err
}
