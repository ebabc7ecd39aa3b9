package biz

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// RoleReconciler links credited people to media items.
type RoleReconciler struct {
	people *PersonResolver
	roles  RoleRepo
	chains *Providers
	retry  RetryPolicy
	log    *log.Helper
}

// NewRoleReconciler creates a RoleReconciler.
func NewRoleReconciler(people *PersonResolver, roles RoleRepo, chains *Providers, retry RetryPolicy, logger log.Logger) *RoleReconciler {
	return &RoleReconciler{
		people: people,
		roles:  roles,
		chains: chains,
		retry:  retry,
		log:    log.NewHelper(log.With(logger, "module", "biz/roles")),
	}
}

// ReconcileRoles upserts one role per credit of item. A failing credit is logged and skipped.
func (rr *RoleReconciler) ReconcileRoles(ctx context.Context, run *RunState, item *MediaItem, q CastQuery, credits []RawCredit) (created, updated int) {
	order := make(map[RoleType]int)
	for _, credit := range credits {
		typ := credit.Type
		if typ == "" {
			typ = RoleOther
		}
		billing := 0
		if typ == RoleActor {
			billing = order[typ]
		}
		order[typ]++

		outcome, err := rr.reconcileCredit(ctx, run, item, q, credit, typ, billing)
		if err != nil {
			rr.log.Warnw("msg", "failed to reconcile credit",
				"media", item.Ref().String(), "title", item.Title, "tag", credit.Tag, "role_type", string(typ), "error", err)
			continue
		}
		switch outcome {
		case OutcomeCreated:
			created++
		case OutcomeUpdated:
			updated++
		}
	}
	return created, updated
}

func (rr *RoleReconciler) reconcileCredit(ctx context.Context, run *RunState, item *MediaItem, q CastQuery,
	credit RawCredit, typ RoleType, billing int) (outcome UpsertOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	name, tagCharacter := SplitCreditTag(credit.Tag)
	if name == "" {
		return OutcomeUnchanged, fmt.Errorf("empty credit name")
	}
	person, err := rr.people.Resolve(ctx, run, name, credit, item.Kind)
	if err != nil {
		return OutcomeUnchanged, err
	}

	role := &Role{PersonID: person.ID, Media: item.Ref(), Type: typ, Order: billing}
	if typ == RoleActor {
		role.CharacterName = rr.characterName(ctx, run, name, tagCharacter, credit, q)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("failed to generate role id: %w", err)
	}
	role.ID = id.String()

	return RetryValue(ctx, rr.retry, func(ctx context.Context) (UpsertOutcome, error) {
		return rr.roles.Upsert(ctx, role)
	})
}

// characterName prefers the credit tag, then the credit's role attribute, then the cast lists of
// the provider chain for the media kind.
func (rr *RoleReconciler) characterName(ctx context.Context, run *RunState, actor, tagCharacter string, credit RawCredit, q CastQuery) *string {
	if tagCharacter != "" {
		return &tagCharacter
	}
	if c := strings.TrimSpace(credit.Role); c != "" {
		return &c
	}

	target := strings.ToLower(actor)
	for _, provider := range rr.chains.For(q.Kind) {
		cast, err := rr.cast(ctx, run, provider, q)
		if err != nil {
			if IsProviderCoolingDown(err) {
				rr.log.Debugf("skipping %s cast lookup for %q: %v", provider.Name(), q.Title, err)
			} else {
				rr.log.Warnf("%s cast lookup for %q failed: %v", provider.Name(), q.Title, err)
			}
			continue
		}
		for _, m := range cast {
			if strings.ToLower(strings.TrimSpace(m.Name)) == target && strings.TrimSpace(m.Character) != "" {
				c := strings.TrimSpace(m.Character)
				return &c
			}
		}
	}
	rr.log.Debugf("no character name for %q in %q", actor, q.Title)
	return nil
}

func (rr *RoleReconciler) cast(ctx context.Context, run *RunState, provider CreditProvider, q CastQuery) ([]CastMember, error) {
	v, err := run.Cache.Do(ctx, provider.Name(), "cast:"+q.Key(), func(ctx context.Context) (interface{}, error) {
		var cast []CastMember
		err := run.cooldowns.call(provider.Name(), func() error {
			var err error
			cast, err = provider.Cast(ctx, q)
			return err
		})
		if IsProviderNotFound(err) {
			return []CastMember(nil), nil
		}
		return cast, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]CastMember), nil
}

// CastQueryFor describes item for provider cast lookups. show is required for episodes.
func CastQueryFor(item *MediaItem, show *MediaItem) CastQuery {
	q := CastQuery{Kind: item.Kind, Title: item.Title, Year: item.Year, IDs: item.IDs}
	if item.Kind == KindEpisode && show != nil {
		q.ShowIDs = show.IDs
		q.ShowTitle = show.Title
		q.SeasonNumber = item.SeasonNumber
		q.EpisodeNumber = item.EpisodeNumber
	}
	return q
}
