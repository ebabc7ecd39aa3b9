package data

import (
	"context"
	"fmt"

	"mediasync/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type roleRepo struct {
	data *Data
	log  *log.Helper
}

// NewRoleRepo creates a new role repository
func NewRoleRepo(data *Data, logger log.Logger) biz.RoleRepo {
	return &roleRepo{
		data: data,
		log:  log.NewHelper(log.With(logger, "module", "data/role")),
	}
}

func mediaColumn(ref biz.MediaRef) (string, error) {
	switch ref.Kind {
	case biz.KindMovie:
		return "movie_id", nil
	case biz.KindShow:
		return "show_id", nil
	case biz.KindEpisode:
		return "episode_id", nil
	}
	return "", fmt.Errorf("unknown media kind %q", ref.Kind)
}

// Upsert matches on (person, role type, media item). A nil character keeps the stored one.
func (r *roleRepo) Upsert(ctx context.Context, role *biz.Role) (biz.UpsertOutcome, error) {
	column, err := mediaColumn(role.Media)
	if err != nil {
		return biz.OutcomeUnchanged, err
	}
	db := r.data.DB(ctx)

	var existing Role
	err = db.Where("person_id = ? AND role_type = ? AND "+column+" = ?", role.PersonID, string(role.Type), role.Media.ID).
		Take(&existing).Error
	switch {
	case err == nil:
		changes := make(map[string]interface{})
		if existing.Order != role.Order {
			changes["billing_order"] = role.Order
		}
		if role.CharacterName != nil && (existing.CharacterName == nil || *existing.CharacterName != *role.CharacterName) {
			changes["character_name"] = *role.CharacterName
		}
		if len(changes) == 0 {
			return biz.OutcomeUnchanged, nil
		}
		if err := db.Model(&Role{}).Where("id = ?", existing.ID).Updates(changes).Error; err != nil {
			return biz.OutcomeUnchanged, fmt.Errorf("failed to update role: %w", translateError(err))
		}
		return biz.OutcomeUpdated, nil
	case err != gorm.ErrRecordNotFound:
		return biz.OutcomeUnchanged, fmt.Errorf("failed to find role: %w", translateError(err))
	}

	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(roleToModel(role))
	if result.Error != nil {
		return biz.OutcomeUnchanged, fmt.Errorf("failed to create role: %w", translateError(result.Error))
	}
	if result.RowsAffected == 0 {
		// a concurrent writer created the same role first
		return biz.OutcomeUnchanged, nil
	}
	return biz.OutcomeCreated, nil
}

func roleToModel(role *biz.Role) *Role {
	m := &Role{
		ID:            role.ID,
		PersonID:      role.PersonID,
		RoleType:      string(role.Type),
		CharacterName: role.CharacterName,
		Order:         role.Order,
	}
	id := role.Media.ID
	switch role.Media.Kind {
	case biz.KindMovie:
		m.MovieID = &id
	case biz.KindShow:
		m.ShowID = &id
	case biz.KindEpisode:
		m.EpisodeID = &id
	}
	return m
}
