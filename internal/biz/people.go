package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// PersonResolver maps credited names to local people, creating and enriching them as needed.
type PersonResolver struct {
	repo   PersonRepo
	chains *Providers
	retry  RetryPolicy
	log    *log.Helper
}

// NewPersonResolver creates a PersonResolver.
func NewPersonResolver(repo PersonRepo, chains *Providers, retry RetryPolicy, logger log.Logger) *PersonResolver {
	return &PersonResolver{
		repo:   repo,
		chains: chains,
		retry:  retry,
		log:    log.NewHelper(log.With(logger, "module", "biz/person")),
	}
}

// Resolve returns the local person for a credited name. Results are cached per normalized name for
// the run, so the first credit seen for a name decides its identity.
func (r *PersonResolver) Resolve(ctx context.Context, run *RunState, name string, credit RawCredit, kind MediaKind) (*Person, error) {
	key := NormalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("credit %q has no name", credit.Tag)
	}
	v, err := run.Cache.Do(ctx, "local-person", key, func(ctx context.Context) (interface{}, error) {
		return r.findOrCreate(ctx, run, name, credit, kind)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Person), nil
}

func (r *PersonResolver) findOrCreate(ctx context.Context, run *RunState, name string, credit RawCredit, kind MediaKind) (*Person, error) {
	first, last := SplitName(name)
	ids := ParseGUIDs(credit.GUIDs)

	p, err := r.lookup(ctx, first, last, ids)
	if err != nil {
		return nil, err
	}

	changes := make(map[string]interface{})
	if p == nil {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate person id: %w", err)
		}
		p = &Person{ID: id.String(), FirstName: first, LastName: last, IDs: ids, PhotoURL: optString(credit.Thumb)}
		if err := Retry(ctx, r.retry, func(ctx context.Context) error { return r.repo.Create(ctx, p) }); err != nil {
			return nil, fmt.Errorf("failed to create person %q: %w", name, err)
		}
		r.log.Debugf("created person %q", name)
	} else {
		merged := *p
		mergeIDs(&merged.IDs, ids, changes)
		if merged.PhotoURL == nil && credit.Thumb != "" {
			merged.PhotoURL = optString(credit.Thumb)
			changes["photo_url"] = *merged.PhotoURL
		}
		p = &merged
	}

	if !p.IDs.Complete() {
		r.enrich(ctx, run, p, kind, changes)
	}

	if len(changes) > 0 {
		err := Retry(ctx, r.retry, func(ctx context.Context) error { return r.repo.Update(ctx, p.ID, changes) })
		if err != nil {
			// the person row itself is valid, enrichment is best effort
			r.log.Warnf("failed to store enrichment for person %q: %v", name, err)
		}
	}
	return p, nil
}

func (r *PersonResolver) lookup(ctx context.Context, first, last string, ids ProviderIDs) (*Person, error) {
	if !ids.Empty() {
		p, err := r.byProviderIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to find person by provider id: %w", err)
		}
		if p != nil {
			return p, nil
		}
	}

	candidates, err := RetryValue(ctx, r.retry, func(ctx context.Context) ([]*Person, error) {
		return r.repo.FindByName(ctx, first, last)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find person by name: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	p := candidates[0]
	if len(candidates) > 1 || conflictingIDs(p.IDs, ids) {
		// same-name people are merged; the credit's conflicting ids are not copied over
		r.log.Warnf("person %q %q is ambiguous (%d stored by name), using %s", first, last, len(candidates), p.ID)
	}
	return p, nil
}

func (r *PersonResolver) byProviderIDs(ctx context.Context, ids ProviderIDs) (*Person, error) {
	return RetryValue(ctx, r.retry, func(ctx context.Context) (*Person, error) {
		return r.repo.FindByProviderIDs(ctx, ids)
	})
}

// enrich fills missing provider ids, dates and photo from the media kind's provider chain.
func (r *PersonResolver) enrich(ctx context.Context, run *RunState, p *Person, kind MediaKind, changes map[string]interface{}) {
	name := p.FullName()
	for _, provider := range r.chains.For(kind) {
		if p.IDs.Complete() {
			return
		}
		match, err := r.search(ctx, run, provider, name)
		if err != nil {
			if IsProviderCoolingDown(err) {
				r.log.Debugf("skipping %s person search for %q: %v", provider.Name(), name, err)
			} else {
				r.log.Warnf("%s person search for %q failed: %v", provider.Name(), name, err)
			}
			continue
		}
		if match == nil {
			continue
		}

		found := r.unclaimed(ctx, p.ID, match.IDs)
		mergeIDs(&p.IDs, found, changes)
		if p.BirthDate == nil && match.BirthDate != nil {
			p.BirthDate = match.BirthDate
			changes["birth_date"] = *match.BirthDate
		}
		if p.DeathDate == nil && match.DeathDate != nil {
			p.DeathDate = match.DeathDate
			changes["death_date"] = *match.DeathDate
		}
		if p.PhotoURL == nil && match.PhotoURL != nil {
			p.PhotoURL = match.PhotoURL
			changes["photo_url"] = *match.PhotoURL
		}
	}
}

func (r *PersonResolver) search(ctx context.Context, run *RunState, provider CreditProvider, name string) (*PersonMatch, error) {
	v, err := run.Cache.Do(ctx, provider.Name(), "person:"+NormalizeName(name), func(ctx context.Context) (interface{}, error) {
		var match *PersonMatch
		err := run.cooldowns.call(provider.Name(), func() error {
			var err error
			match, err = provider.SearchPerson(ctx, name)
			return err
		})
		if IsProviderNotFound(err) {
			return (*PersonMatch)(nil), nil
		}
		return match, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*PersonMatch), nil
}

// unclaimed drops ids another stored person already owns.
func (r *PersonResolver) unclaimed(ctx context.Context, personID string, ids ProviderIDs) ProviderIDs {
	check := func(single ProviderIDs, label string) bool {
		other, err := r.byProviderIDs(ctx, single)
		if err != nil {
			r.log.Warnf("failed to check %s id ownership: %v", label, err)
			return false
		}
		if other != nil && other.ID != personID {
			r.log.Warnf("%s id already belongs to person %s (%s), not merging", label, other.ID, other.FullName())
			return false
		}
		return true
	}
	var out ProviderIDs
	if ids.TMDB != nil && check(ProviderIDs{TMDB: ids.TMDB}, "tmdb") {
		out.TMDB = ids.TMDB
	}
	if ids.IMDB != nil && check(ProviderIDs{IMDB: ids.IMDB}, "imdb") {
		out.IMDB = ids.IMDB
	}
	if ids.TVDB != nil && check(ProviderIDs{TVDB: ids.TVDB}, "tvdb") {
		out.TVDB = ids.TVDB
	}
	return out
}

// mergeIDs copies ids absent from dst and records the column changes.
func mergeIDs(dst *ProviderIDs, src ProviderIDs, changes map[string]interface{}) {
	if dst.TMDB == nil && src.TMDB != nil {
		dst.TMDB = src.TMDB
		changes["tmdb_id"] = *src.TMDB
	}
	if dst.IMDB == nil && src.IMDB != nil {
		dst.IMDB = src.IMDB
		changes["imdb_id"] = *src.IMDB
	}
	if dst.TVDB == nil && src.TVDB != nil {
		dst.TVDB = src.TVDB
		changes["tvdb_id"] = *src.TVDB
	}
}

func conflictingIDs(a, b ProviderIDs) bool {
	if a.TMDB != nil && b.TMDB != nil && *a.TMDB != *b.TMDB {
		return true
	}
	if a.IMDB != nil && b.IMDB != nil && *a.IMDB != *b.IMDB {
		return true
	}
	return a.TVDB != nil && b.TVDB != nil && *a.TVDB != *b.TVDB
}

// ParseDate reads a provider "YYYY-MM-DD" date, returning nil for blanks and garbage.
func ParseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
