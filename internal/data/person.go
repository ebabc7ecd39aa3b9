package data

import (
	"context"
	"fmt"

	"mediasync/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

type personRepo struct {
	data *Data
	log  *log.Helper
}

// NewPersonRepo creates a new person repository
func NewPersonRepo(data *Data, logger log.Logger) biz.PersonRepo {
	return &personRepo{
		data: data,
		log:  log.NewHelper(log.With(logger, "module", "data/person")),
	}
}

// FindByProviderIDs returns the person owning any of ids, preferring tmdb then imdb then tvdb.
func (r *personRepo) FindByProviderIDs(ctx context.Context, ids biz.ProviderIDs) (*biz.Person, error) {
	if ids.Empty() {
		return nil, nil
	}
	lookups := []struct {
		column string
		value  interface{}
	}{
		{"tmdb_id", ids.TMDB},
		{"imdb_id", ids.IMDB},
		{"tvdb_id", ids.TVDB},
	}
	db := r.data.DB(ctx)
	for _, l := range lookups {
		if isNilPtr(l.value) {
			continue
		}
		var p Person
		err := db.Where(l.column+" = ?", l.value).Take(&p).Error
		if err == nil {
			return personToBiz(&p), nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("failed to find person by %s: %w", l.column, translateError(err))
		}
	}
	return nil, nil
}

func (r *personRepo) FindByName(ctx context.Context, firstName, lastName string) ([]*biz.Person, error) {
	var rows []Person
	err := r.data.DB(ctx).
		Where("LOWER(first_name) = LOWER(?) AND LOWER(last_name) = LOWER(?)", firstName, lastName).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err)
	}
	people := make([]*biz.Person, 0, len(rows))
	for i := range rows {
		people = append(people, personToBiz(&rows[i]))
	}
	return people, nil
}

func (r *personRepo) Create(ctx context.Context, p *biz.Person) error {
	if err := r.data.DB(ctx).Create(personToModel(p)).Error; err != nil {
		return fmt.Errorf("failed to create person %q: %w", p.FullName(), translateError(err))
	}
	return nil
}

func (r *personRepo) Update(ctx context.Context, id string, changes map[string]interface{}) error {
	if len(changes) == 0 {
		return nil
	}
	if err := r.data.DB(ctx).Model(&Person{}).Where("id = ?", id).Updates(changes).Error; err != nil {
		return translateError(err)
	}
	return nil
}

func isNilPtr(v interface{}) bool {
	switch p := v.(type) {
	case *int64:
		return p == nil
	case *string:
		return p == nil
	}
	return v == nil
}

func personToModel(p *biz.Person) *Person {
	return &Person{
		ID:        p.ID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		TMDBID:    p.IDs.TMDB,
		IMDBID:    p.IDs.IMDB,
		TVDBID:    p.IDs.TVDB,
		BirthDate: p.BirthDate,
		DeathDate: p.DeathDate,
		PhotoURL:  p.PhotoURL,
	}
}

func personToBiz(p *Person) *biz.Person {
	return &biz.Person{
		ID:        p.ID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		IDs:       biz.ProviderIDs{TMDB: p.TMDBID, IMDB: p.IMDBID, TVDB: p.TVDBID},
		BirthDate: utcTime(p.BirthDate),
		DeathDate: utcTime(p.DeathDate),
		PhotoURL:  p.PhotoURL,
	}
}
