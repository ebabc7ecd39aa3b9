package data

import (
	"context"
	"fmt"
	"time"

	"mediasync/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// insertChunk keeps bulk inserts under SQLite's bound-parameter limit
const insertChunk = 50

type mediaRepo struct {
	data *Data
	log  *log.Helper
}

// NewMediaRepo creates a new media repository
func NewMediaRepo(data *Data, logger log.Logger) biz.MediaRepo {
	return &mediaRepo{
		data: data,
		log:  log.NewHelper(log.With(logger, "module", "data/media")),
	}
}

func tableOf(kind biz.MediaKind) (string, error) {
	switch kind {
	case biz.KindMovie:
		return Movie{}.TableName(), nil
	case biz.KindShow:
		return Show{}.TableName(), nil
	case biz.KindEpisode:
		return Episode{}.TableName(), nil
	}
	return "", fmt.Errorf("unknown media kind %q", kind)
}

// find loads rows of kind matching the where clause and converts them
func (r *mediaRepo) find(ctx context.Context, kind biz.MediaKind, query string, args ...interface{}) ([]*biz.MediaItem, error) {
	db := r.data.DB(ctx)
	var items []*biz.MediaItem
	switch kind {
	case biz.KindMovie:
		var rows []Movie
		if err := db.Where(query, args...).Find(&rows).Error; err != nil {
			return nil, translateError(err)
		}
		for i := range rows {
			items = append(items, movieToBiz(&rows[i]))
		}
	case biz.KindShow:
		var rows []Show
		if err := db.Where(query, args...).Find(&rows).Error; err != nil {
			return nil, translateError(err)
		}
		for i := range rows {
			items = append(items, showToBiz(&rows[i]))
		}
	case biz.KindEpisode:
		var rows []Episode
		if err := db.Where(query, args...).Find(&rows).Error; err != nil {
			return nil, translateError(err)
		}
		for i := range rows {
			items = append(items, episodeToBiz(&rows[i]))
		}
	default:
		return nil, fmt.Errorf("unknown media kind %q", kind)
	}
	return items, nil
}

func (r *mediaRepo) FindByStableKeys(ctx context.Context, kind biz.MediaKind, keys []string) ([]*biz.MediaItem, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	return r.find(ctx, kind, "stable_key IN ?", keys)
}

func (r *mediaRepo) FindByTMDBIDs(ctx context.Context, kind biz.MediaKind, ids []int64) ([]*biz.MediaItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.find(ctx, kind, "tmdb_id IN ?", ids)
}

func (r *mediaRepo) FindByTitleKeys(ctx context.Context, kind biz.MediaKind, titleKeys []string) ([]*biz.MediaItem, error) {
	if len(titleKeys) == 0 {
		return nil, nil
	}
	return r.find(ctx, kind, "title_key IN ?", titleKeys)
}

func (r *mediaRepo) FindEpisodesByShow(ctx context.Context, showID string) ([]*biz.MediaItem, error) {
	return r.find(ctx, biz.KindEpisode, "show_id = ?", showID)
}

func (r *mediaRepo) InsertIgnoringConflicts(ctx context.Context, kind biz.MediaKind, items []*biz.MediaItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	// Duplicate keys from a concurrent writer are skipped, not raised
	db := r.data.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Omit(clause.Associations)

	var result *gorm.DB
	switch kind {
	case biz.KindMovie:
		rows := make([]Movie, 0, len(items))
		for _, it := range items {
			rows = append(rows, *movieToModel(it))
		}
		result = db.CreateInBatches(&rows, insertChunk)
	case biz.KindShow:
		rows := make([]Show, 0, len(items))
		for _, it := range items {
			rows = append(rows, *showToModel(it))
		}
		result = db.CreateInBatches(&rows, insertChunk)
	case biz.KindEpisode:
		rows := make([]Episode, 0, len(items))
		for _, it := range items {
			rows = append(rows, *episodeToModel(it))
		}
		result = db.CreateInBatches(&rows, insertChunk)
	default:
		return 0, fmt.Errorf("unknown media kind %q", kind)
	}
	if result.Error != nil {
		return 0, fmt.Errorf("failed to insert %ss: %w", kind, translateError(result.Error))
	}
	return result.RowsAffected, nil
}

func (r *mediaRepo) StableKeyIDs(ctx context.Context, kind biz.MediaKind, keys []string) (map[string]string, error) {
	table, err := tableOf(kind)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID        string
		StableKey string
	}
	err = r.data.DB(ctx).Table(table).Select("id", "stable_key").Where("stable_key IN ?", keys).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s ids: %w", kind, translateError(err))
	}
	ids := make(map[string]string, len(rows))
	for _, row := range rows {
		ids[row.StableKey] = row.ID
	}
	return ids, nil
}

func (r *mediaRepo) UpdateFields(ctx context.Context, kind biz.MediaKind, id string, changes map[string]interface{}) error {
	if len(changes) == 0 {
		return nil
	}
	var model interface{}
	switch kind {
	case biz.KindMovie:
		model = &Movie{}
	case biz.KindShow:
		model = &Show{}
	case biz.KindEpisode:
		model = &Episode{}
	default:
		return fmt.Errorf("unknown media kind %q", kind)
	}
	if err := r.data.DB(ctx).Model(model).Where("id = ?", id).Updates(changes).Error; err != nil {
		return translateError(err)
	}
	return nil
}

func (r *mediaRepo) SetGenres(ctx context.Context, ref biz.MediaRef, genreIDs []string) error {
	return translateError(r.data.DB(ctx).Transaction(func(tx *gorm.DB) error {
		switch ref.Kind {
		case biz.KindMovie:
			del := tx.Where("movie_id = ?", ref.ID)
			if len(genreIDs) > 0 {
				del = del.Where("genre_id NOT IN ?", genreIDs)
			}
			if err := del.Delete(&MovieGenre{}).Error; err != nil {
				return err
			}
			if len(genreIDs) == 0 {
				return nil
			}
			rows := make([]MovieGenre, 0, len(genreIDs))
			for _, g := range genreIDs {
				rows = append(rows, MovieGenre{MovieID: ref.ID, GenreID: g})
			}
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
		case biz.KindShow:
			del := tx.Where("show_id = ?", ref.ID)
			if len(genreIDs) > 0 {
				del = del.Where("genre_id NOT IN ?", genreIDs)
			}
			if err := del.Delete(&ShowGenre{}).Error; err != nil {
				return err
			}
			if len(genreIDs) == 0 {
				return nil
			}
			rows := make([]ShowGenre, 0, len(genreIDs))
			for _, g := range genreIDs {
				rows = append(rows, ShowGenre{ShowID: ref.ID, GenreID: g})
			}
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
		}
		return fmt.Errorf("%s items have no genres", ref.Kind)
	}))
}

func (r *mediaRepo) SetTrailerURL(ctx context.Context, ref biz.MediaRef, url string) error {
	table, err := tableOf(ref.Kind)
	if err != nil {
		return err
	}
	err = r.data.DB(ctx).Table(table).Where("id = ?", ref.ID).Update("trailer_url", url).Error
	return translateError(err)
}

func (r *mediaRepo) SetLinks(ctx context.Context, movieID string, links biz.ExternalLinks) error {
	err := r.data.DB(ctx).Model(&Movie{}).Where("id = ?", movieID).Updates(map[string]interface{}{
		"tmdb_url":  links.TMDBURL,
		"trakt_url": links.TraktURL,
		"imdb_url":  links.IMDBURL,
	}).Error
	return translateError(err)
}

func columnsToModel(m *biz.MediaItem) MediaColumns {
	return MediaColumns{
		StableKey:           m.StableKey,
		GUID:                m.GUID,
		Title:               m.Title,
		TitleKey:            m.TitleKey,
		OriginalTitle:       m.OriginalTitle,
		Summary:             m.Summary,
		Tagline:             m.Tagline,
		Year:                m.Year,
		DurationMS:          m.DurationMS,
		ContentRating:       m.ContentRating,
		Rating:              m.Rating,
		AudienceRating:      m.AudienceRating,
		AudienceRatingImage: m.AudienceRatingIcon,
		PosterURL:           m.PosterURL,
		ArtURL:              m.ArtURL,
		ViewCount:           m.ViewCount,
		TMDBID:              m.IDs.TMDB,
		IMDBID:              m.IDs.IMDB,
		TVDBID:              m.IDs.TVDB,
		StudioID:            m.StudioID,
		TrailerURL:          m.TrailerURL,
		OriginallyAvailable: m.OriginallyAvailableAt,
		AddedAt:             m.AddedAt,
		SourceUpdatedAt:     m.SourceUpdatedAt,
		LastViewedAt:        m.LastViewedAt,
	}
}

func columnsToBiz(id string, kind biz.MediaKind, c *MediaColumns) *biz.MediaItem {
	return &biz.MediaItem{
		ID:                    id,
		Kind:                  kind,
		StableKey:             c.StableKey,
		GUID:                  c.GUID,
		Title:                 c.Title,
		TitleKey:              c.TitleKey,
		OriginalTitle:         c.OriginalTitle,
		Summary:               c.Summary,
		Tagline:               c.Tagline,
		Year:                  c.Year,
		DurationMS:            c.DurationMS,
		ContentRating:         c.ContentRating,
		Rating:                c.Rating,
		AudienceRating:        c.AudienceRating,
		AudienceRatingIcon:    c.AudienceRatingImage,
		PosterURL:             c.PosterURL,
		ArtURL:                c.ArtURL,
		ViewCount:             c.ViewCount,
		IDs:                   biz.ProviderIDs{TMDB: c.TMDBID, IMDB: c.IMDBID, TVDB: c.TVDBID},
		StudioID:              c.StudioID,
		TrailerURL:            c.TrailerURL,
		OriginallyAvailableAt: utcTime(c.OriginallyAvailable),
		AddedAt:               utcTime(c.AddedAt),
		SourceUpdatedAt:       utcTime(c.SourceUpdatedAt),
		LastViewedAt:          utcTime(c.LastViewedAt),
	}
}

func movieToModel(m *biz.MediaItem) *Movie {
	return &Movie{
		ID:           m.ID,
		MediaColumns: columnsToModel(m),
		TMDBURL:      m.Links.TMDBURL,
		TraktURL:     m.Links.TraktURL,
		IMDBURL:      m.Links.IMDBURL,
	}
}

func movieToBiz(m *Movie) *biz.MediaItem {
	item := columnsToBiz(m.ID, biz.KindMovie, &m.MediaColumns)
	item.Links = biz.ExternalLinks{TMDBURL: m.TMDBURL, TraktURL: m.TraktURL, IMDBURL: m.IMDBURL}
	return item
}

func showToModel(m *biz.MediaItem) *Show {
	return &Show{ID: m.ID, MediaColumns: columnsToModel(m)}
}

func showToBiz(m *Show) *biz.MediaItem {
	return columnsToBiz(m.ID, biz.KindShow, &m.MediaColumns)
}

func episodeToModel(m *biz.MediaItem) *Episode {
	return &Episode{
		ID:                  m.ID,
		MediaColumns:        columnsToModel(m),
		ShowID:              m.ShowID,
		SeasonNumber:        m.SeasonNumber,
		EpisodeNumber:       m.EpisodeNumber,
		HasIntroMarker:      m.HasIntroMarker,
		HasCreditsMarker:    m.HasCreditsMarker,
		HasCommercialMarker: m.HasCommercialMarker,
	}
}

func episodeToBiz(m *Episode) *biz.MediaItem {
	item := columnsToBiz(m.ID, biz.KindEpisode, &m.MediaColumns)
	item.ShowID = m.ShowID
	item.SeasonNumber = m.SeasonNumber
	item.EpisodeNumber = m.EpisodeNumber
	item.HasIntroMarker = m.HasIntroMarker
	item.HasCreditsMarker = m.HasCreditsMarker
	item.HasCommercialMarker = m.HasCommercialMarker
	return item
}

// utcTime normalizes driver timestamps so upstream diffs compare equal.
func utcTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
