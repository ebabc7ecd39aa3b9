package data

import (
	"context"
	"fmt"

	"mediasync/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

type tagRepo struct {
	data *Data
	log  *log.Helper
}

// NewTagRepo creates a new genre and studio repository
func NewTagRepo(data *Data, logger log.Logger) biz.TagRepo {
	return &tagRepo{
		data: data,
		log:  log.NewHelper(log.With(logger, "module", "data/tag")),
	}
}

func tagTable(kind biz.TagKind) (string, error) {
	switch kind {
	case biz.TagGenre:
		return Genre{}.TableName(), nil
	case biz.TagStudio:
		return Studio{}.TableName(), nil
	}
	return "", fmt.Errorf("unknown tag kind %q", kind)
}

type tagRow struct {
	ID   string
	Name string
}

// GetOrCreate inserts the name unless it exists and returns the stored row either way.
func (r *tagRepo) GetOrCreate(ctx context.Context, kind biz.TagKind, name string) (*biz.Tag, bool, error) {
	table, err := tagTable(kind)
	if err != nil {
		return nil, false, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate %s id: %w", kind, err)
	}

	db := r.data.DB(ctx)
	var inserted int64
	switch kind {
	case biz.TagGenre:
		res := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
			Create(&Genre{ID: id.String(), Name: name})
		if res.Error != nil {
			return nil, false, translateError(res.Error)
		}
		inserted = res.RowsAffected
	case biz.TagStudio:
		res := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
			Create(&Studio{ID: id.String(), Name: name})
		if res.Error != nil {
			return nil, false, translateError(res.Error)
		}
		inserted = res.RowsAffected
	}

	var row tagRow
	if err := db.Table(table).Select("id", "name").Where("name = ?", name).Take(&row).Error; err != nil {
		return nil, false, fmt.Errorf("failed to load %s %q: %w", kind, name, translateError(err))
	}
	return &biz.Tag{ID: row.ID, Name: row.Name}, inserted > 0, nil
}

func (r *tagRepo) List(ctx context.Context, kind biz.TagKind) ([]*biz.Tag, error) {
	table, err := tagTable(kind)
	if err != nil {
		return nil, err
	}
	var rows []tagRow
	if err := r.data.DB(ctx).Table(table).Select("id", "name").Order("name").Scan(&rows).Error; err != nil {
		return nil, translateError(err)
	}
	tags := make([]*biz.Tag, 0, len(rows))
	for _, row := range rows {
		tags = append(tags, &biz.Tag{ID: row.ID, Name: row.Name})
	}
	return tags, nil
}
