package biz

import (
	"context"
	"time"
)

// MediaKind discriminates the three media item variants.
type MediaKind string

const (
	KindMovie   MediaKind = "movie"
	KindShow    MediaKind = "show"
	KindEpisode MediaKind = "episode"
)

// MediaRef points at exactly one media item.
type MediaRef struct {
	Kind MediaKind
	ID   string
}

// MovieRef references a movie row.
func MovieRef(id string) MediaRef { return MediaRef{Kind: KindMovie, ID: id} }

// ShowRef references a show row.
func ShowRef(id string) MediaRef { return MediaRef{Kind: KindShow, ID: id} }

// EpisodeRef references an episode row.
func EpisodeRef(id string) MediaRef { return MediaRef{Kind: KindEpisode, ID: id} }

func (r MediaRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// RoleType is the credit category of a role.
type RoleType string

const (
	RoleActor           RoleType = "ACTOR"
	RoleDirector        RoleType = "DIRECTOR"
	RoleProducer        RoleType = "PRODUCER"
	RoleWriter          RoleType = "WRITER"
	RoleCinematographer RoleType = "CINEMATOGRAPHER"
	RoleComposer        RoleType = "COMPOSER"
	RoleEditor          RoleType = "EDITOR"
	RoleOther           RoleType = "OTHER"
)

// ProviderIDs are the cross-reference ids parsed from catalog guids.
type ProviderIDs struct {
	TMDB *int64
	IMDB *string
	TVDB *int64
}

// Empty reports whether no id is set.
func (p ProviderIDs) Empty() bool {
	return p.TMDB == nil && p.IMDB == nil && p.TVDB == nil
}

// Complete reports whether every id is set.
func (p ProviderIDs) Complete() bool {
	return p.TMDB != nil && p.IMDB != nil && p.TVDB != nil
}

// MediaItem domain model, shared by movies, shows and episodes.
type MediaItem struct {
	ID        string
	Kind      MediaKind
	StableKey string
	GUID      *string

	Title              string
	TitleKey           string
	OriginalTitle      *string
	Summary            *string
	Tagline            *string
	Year               *int
	DurationMS         *int64
	ContentRating      *string
	Rating             *float64
	AudienceRating     *float64
	AudienceRatingIcon *string
	PosterURL          *string
	ArtURL             *string
	ViewCount          *int

	IDs      ProviderIDs
	StudioID *string

	OriginallyAvailableAt *time.Time
	AddedAt               *time.Time
	SourceUpdatedAt       *time.Time
	LastViewedAt          *time.Time

	// Episode only.
	ShowID              string
	SeasonNumber        int
	EpisodeNumber       int
	HasIntroMarker      bool
	HasCreditsMarker    bool
	HasCommercialMarker bool

	// Enrichment, never touched by the upstream diff.
	TrailerURL *string
	Links      ExternalLinks
}

// Ref returns the tagged reference for the item.
func (m *MediaItem) Ref() MediaRef {
	return MediaRef{Kind: m.Kind, ID: m.ID}
}

// ExternalLinks are the public pages of a movie on other services.
type ExternalLinks struct {
	TMDBURL  *string
	TraktURL *string
	IMDBURL  *string
}

// RawMedia is a catalog record as listed by the source, before extraction.
type RawMedia struct {
	StableKey     string
	GUID          string
	Title         string
	OriginalTitle string
	Summary       string
	Tagline       string
	Year          int
	DurationMS    int64
	ContentRating string
	// Rating on a 0-10 scale.
	Rating             float64
	AudienceRating     float64
	AudienceRatingIcon string
	Thumb              string
	Art                string
	ViewCount          int
	Studio             string
	Genres             []string
	GUIDs              []string
	Credits            []RawCredit

	OriginallyAvailableAt *time.Time
	AddedAt               *time.Time
	UpdatedAt             *time.Time
	LastViewedAt          *time.Time

	SeasonNumber        *int
	EpisodeNumber       *int
	ShowTitle           string
	HasIntroMarker      bool
	HasCreditsMarker    bool
	HasCommercialMarker bool
}

// RawCredit is one credited person on a catalog record.
type RawCredit struct {
	Type RoleType
	// Tag is the credited name, possibly "Name as Character".
	Tag string
	// Role is the character attribute some catalogs carry separately.
	Role  string
	Thumb string
	GUIDs []string
}

// Tag is a canonical genre or studio.
type Tag struct {
	ID   string
	Name string
}

// TagKind selects the genre or studio table.
type TagKind string

const (
	TagGenre  TagKind = "genre"
	TagStudio TagKind = "studio"
)

// Person domain model.
type Person struct {
	ID        string
	FirstName string
	LastName  string
	IDs       ProviderIDs
	BirthDate *time.Time
	DeathDate *time.Time
	PhotoURL  *string
}

// FullName joins the first and last name.
func (p *Person) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Role domain model.
type Role struct {
	ID            string
	PersonID      string
	Media         MediaRef
	Type          RoleType
	CharacterName *string
	Order         int
}

// UpsertOutcome reports what a single upsert did.
type UpsertOutcome int

const (
	OutcomeUnchanged UpsertOutcome = iota
	OutcomeCreated
	OutcomeUpdated
)

// PersonMatch is a provider's answer to a person search.
type PersonMatch struct {
	IDs       ProviderIDs
	BirthDate *time.Time
	DeathDate *time.Time
	PhotoURL  *string
}

// CastMember is one entry of a provider cast list.
type CastMember struct {
	Name      string
	Character string
}

// CastQuery identifies the media item whose cast a provider is asked for.
type CastQuery struct {
	Kind          MediaKind
	Title         string
	Year          *int
	IDs           ProviderIDs
	ShowIDs       ProviderIDs
	ShowTitle     string
	SeasonNumber  int
	EpisodeNumber int
}

// Key identifies the query in the lookup cache.
func (q CastQuery) Key() string {
	switch q.Kind {
	case KindEpisode:
		return q.ShowTitle + "|" + itoa(q.SeasonNumber) + "x" + itoa(q.EpisodeNumber) + "|" + idKey(q.ShowIDs)
	default:
		return string(q.Kind) + "|" + q.Title + "|" + idKey(q.IDs)
	}
}

// CatalogSource lists the upstream media catalog.
type CatalogSource interface {
	ListMovies(ctx context.Context) ([]*RawMedia, error)
	ListShows(ctx context.Context) ([]*RawMedia, error)
	ListEpisodes(ctx context.Context, show *RawMedia) ([]*RawMedia, error)
}

// CreditProvider is a metadata provider able to identify people and list casts.
type CreditProvider interface {
	Name() string
	// SearchPerson returns nil without error when nothing matches.
	SearchPerson(ctx context.Context, fullName string) (*PersonMatch, error)
	Cast(ctx context.Context, q CastQuery) ([]CastMember, error)
}

// TrailerProvider finds a playable trailer URL for a media item.
type TrailerProvider interface {
	Name() string
	// FindTrailer returns an empty string without error when nothing matches.
	FindTrailer(ctx context.Context, item *MediaItem) (string, error)
}

// LinkProvider resolves public pages of a movie on other services.
type LinkProvider interface {
	MovieLinks(ctx context.Context, tmdbID int64) (*ExternalLinks, error)
}

// MediaRepo persists media items.
type MediaRepo interface {
	FindByStableKeys(ctx context.Context, kind MediaKind, keys []string) ([]*MediaItem, error)
	FindByTMDBIDs(ctx context.Context, kind MediaKind, ids []int64) ([]*MediaItem, error)
	FindByTitleKeys(ctx context.Context, kind MediaKind, titleKeys []string) ([]*MediaItem, error)
	FindEpisodesByShow(ctx context.Context, showID string) ([]*MediaItem, error)
	// InsertIgnoringConflicts bulk inserts and returns the number of rows actually created.
	InsertIgnoringConflicts(ctx context.Context, kind MediaKind, items []*MediaItem) (int64, error)
	StableKeyIDs(ctx context.Context, kind MediaKind, keys []string) (map[string]string, error)
	UpdateFields(ctx context.Context, kind MediaKind, id string, changes map[string]interface{}) error
	SetGenres(ctx context.Context, ref MediaRef, genreIDs []string) error
	SetTrailerURL(ctx context.Context, ref MediaRef, url string) error
	SetLinks(ctx context.Context, movieID string, links ExternalLinks) error
}

// PersonRepo persists people.
type PersonRepo interface {
	FindByProviderIDs(ctx context.Context, ids ProviderIDs) (*Person, error)
	FindByName(ctx context.Context, firstName, lastName string) ([]*Person, error)
	Create(ctx context.Context, p *Person) error
	Update(ctx context.Context, id string, changes map[string]interface{}) error
}

// RoleRepo persists roles.
type RoleRepo interface {
	Upsert(ctx context.Context, role *Role) (UpsertOutcome, error)
}

// TagRepo persists genres and studios.
type TagRepo interface {
	GetOrCreate(ctx context.Context, kind TagKind, name string) (tag *Tag, created bool, err error)
	List(ctx context.Context, kind TagKind) ([]*Tag, error)
}

// RunLocker guards a sync stream against concurrent runs in other processes.
type RunLocker interface {
	// Acquire returns ok=false when another holder owns the lock.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// Transaction runs fn in a storage transaction carried by ctx.
type Transaction interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
