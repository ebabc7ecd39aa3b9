package data

import (
	"time"
)

// MediaColumns are shared by the movies, shows and episodes tables
type MediaColumns struct {
	StableKey           string     `gorm:"column:stable_key;size:64;not null;uniqueIndex"`
	GUID                *string    `gorm:"column:guid;size:255"`
	Title               string     `gorm:"column:title;size:512;not null"`
	TitleKey            string     `gorm:"column:title_key;size:512;not null;index"`
	OriginalTitle       *string    `gorm:"column:original_title;size:512"`
	Summary             *string    `gorm:"column:summary;type:text"`
	Tagline             *string    `gorm:"column:tagline;size:1024"`
	Year                *int       `gorm:"column:year"`
	DurationMS          *int64     `gorm:"column:duration_ms"`
	ContentRating       *string    `gorm:"column:content_rating;size:32"`
	Rating              *float64   `gorm:"column:rating"`
	AudienceRating      *float64   `gorm:"column:audience_rating"`
	AudienceRatingImage *string    `gorm:"column:audience_rating_image;size:255"`
	PosterURL           *string    `gorm:"column:poster_url;size:1024"`
	ArtURL              *string    `gorm:"column:art_url;size:1024"`
	ViewCount           *int       `gorm:"column:view_count"`
	TMDBID              *int64     `gorm:"column:tmdb_id;index"`
	IMDBID              *string    `gorm:"column:imdb_id;size:32"`
	TVDBID              *int64     `gorm:"column:tvdb_id"`
	StudioID            *string    `gorm:"column:studio_id;size:64;index"`
	TrailerURL          *string    `gorm:"column:trailer_url;size:1024"`
	OriginallyAvailable *time.Time `gorm:"column:originally_available_at"`
	AddedAt             *time.Time `gorm:"column:added_at"`
	SourceUpdatedAt     *time.Time `gorm:"column:source_updated_at"`
	LastViewedAt        *time.Time `gorm:"column:last_viewed_at"`
}

// Movie represents the movies table
type Movie struct {
	ID           string `gorm:"primaryKey;size:64"`
	MediaColumns `gorm:"embedded"`

	// External pages
	TMDBURL  *string `gorm:"column:tmdb_url;size:255"`
	TraktURL *string `gorm:"column:trakt_url;size:255"`
	IMDBURL  *string `gorm:"column:imdb_url;size:255"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName overrides the table name
func (Movie) TableName() string {
	return "movies"
}

// Show represents the shows table
type Show struct {
	ID           string `gorm:"primaryKey;size:64"`
	MediaColumns `gorm:"embedded"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName overrides the table name
func (Show) TableName() string {
	return "shows"
}

// Episode represents the episodes table
type Episode struct {
	ID           string `gorm:"primaryKey;size:64"`
	MediaColumns `gorm:"embedded"`

	ShowID              string `gorm:"column:show_id;size:64;not null;uniqueIndex:uq_episode_slot"`
	SeasonNumber        int    `gorm:"column:season_number;not null;uniqueIndex:uq_episode_slot"`
	EpisodeNumber       int    `gorm:"column:episode_number;not null;uniqueIndex:uq_episode_slot"`
	HasIntroMarker      bool   `gorm:"column:has_intro_marker;not null;default:false"`
	HasCreditsMarker    bool   `gorm:"column:has_credits_marker;not null;default:false"`
	HasCommercialMarker bool   `gorm:"column:has_commercial_marker;not null;default:false"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	// Foreign key
	Show *Show `gorm:"foreignKey:ShowID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName overrides the table name
func (Episode) TableName() string {
	return "episodes"
}

// Genre represents the genres table
type Genre struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Name      string    `gorm:"size:255;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the table name
func (Genre) TableName() string {
	return "genres"
}

// Studio represents the studios table
type Studio struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Name      string    `gorm:"size:255;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the table name
func (Studio) TableName() string {
	return "studios"
}

// MovieGenre links movies to genres
type MovieGenre struct {
	MovieID string `gorm:"primaryKey;size:64"`
	GenreID string `gorm:"primaryKey;size:64;index"`
}

// TableName overrides the table name
func (MovieGenre) TableName() string {
	return "movie_genres"
}

// ShowGenre links shows to genres
type ShowGenre struct {
	ShowID  string `gorm:"primaryKey;size:64"`
	GenreID string `gorm:"primaryKey;size:64;index"`
}

// TableName overrides the table name
func (ShowGenre) TableName() string {
	return "show_genres"
}

// Person represents the people table
type Person struct {
	ID        string     `gorm:"primaryKey;size:64"`
	FirstName string     `gorm:"size:255;not null;index:idx_people_name"`
	LastName  string     `gorm:"size:255;not null;index:idx_people_name"`
	TMDBID    *int64     `gorm:"column:tmdb_id;uniqueIndex"`
	IMDBID    *string    `gorm:"column:imdb_id;size:32;uniqueIndex"`
	TVDBID    *int64     `gorm:"column:tvdb_id;uniqueIndex"`
	BirthDate *time.Time `gorm:"column:birth_date"`
	DeathDate *time.Time `gorm:"column:death_date"`
	PhotoURL  *string    `gorm:"column:photo_url;size:1024"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime"`
}

// TableName overrides the table name
func (Person) TableName() string {
	return "people"
}

// Role represents the roles table. Exactly one of MovieID, ShowID and EpisodeID is set.
type Role struct {
	ID            string  `gorm:"primaryKey;size:64"`
	PersonID      string  `gorm:"size:64;not null;index;uniqueIndex:uq_role_movie,where:movie_id IS NOT NULL;uniqueIndex:uq_role_show,where:show_id IS NOT NULL;uniqueIndex:uq_role_episode,where:episode_id IS NOT NULL"`
	RoleType      string  `gorm:"size:32;not null;uniqueIndex:uq_role_movie,where:movie_id IS NOT NULL;uniqueIndex:uq_role_show,where:show_id IS NOT NULL;uniqueIndex:uq_role_episode,where:episode_id IS NOT NULL"`
	MovieID       *string `gorm:"size:64;index;uniqueIndex:uq_role_movie,where:movie_id IS NOT NULL;check:chk_roles_single_media,(CASE WHEN movie_id IS NULL THEN 0 ELSE 1 END) + (CASE WHEN show_id IS NULL THEN 0 ELSE 1 END) + (CASE WHEN episode_id IS NULL THEN 0 ELSE 1 END) = 1"`
	ShowID        *string `gorm:"size:64;index;uniqueIndex:uq_role_show,where:show_id IS NOT NULL"`
	EpisodeID     *string `gorm:"size:64;index;uniqueIndex:uq_role_episode,where:episode_id IS NOT NULL"`
	CharacterName *string `gorm:"size:512"`
	Order         int     `gorm:"column:billing_order;not null;default:0"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName overrides the table name
func (Role) TableName() string {
	return "roles"
}

func allModels() []interface{} {
	return []interface{}{
		&Studio{}, &Genre{}, &Movie{}, &Show{}, &Episode{},
		&MovieGenre{}, &ShowGenre{}, &Person{}, &Role{},
	}
}
