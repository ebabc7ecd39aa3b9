package biz

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/singleflight"
)

// TagRegistry maps free-text genre or studio names to canonical rows for one run.
type TagRegistry struct {
	kind  TagKind
	repo  TagRepo
	retry RetryPolicy

	mu    sync.RWMutex
	byKey map[string]*Tag
	group singleflight.Group
	log   *log.Helper
}

// NewTagRegistry creates an empty registry for one tag kind.
func NewTagRegistry(kind TagKind, repo TagRepo, retry RetryPolicy, logger log.Logger) *TagRegistry {
	return &TagRegistry{
		kind:  kind,
		repo:  repo,
		retry: retry,
		byKey: make(map[string]*Tag),
		log:   log.NewHelper(log.With(logger, "module", "biz/registry", "tag_kind", string(kind))),
	}
}

// Preload seeds the registry with every stored tag.
func (r *TagRegistry) Preload(ctx context.Context) (int, error) {
	tags, err := RetryValue(ctx, r.retry, func(ctx context.Context) ([]*Tag, error) {
		return r.repo.List(ctx, r.kind)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to preload %ss: %w", r.kind, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tags {
		r.byKey[t.Name] = t
	}
	return len(tags), nil
}

// GetOrCreate returns the tag named name, creating it on first use.
// Blank names yield nil without error.
func (r *TagRegistry) GetOrCreate(ctx context.Context, name string) (*Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	if t := r.lookup(name); t != nil {
		return t, nil
	}

	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		if t := r.lookup(name); t != nil {
			return t, nil
		}
		var created bool
		t, err := RetryValue(ctx, r.retry, func(ctx context.Context) (*Tag, error) {
			t, c, err := r.repo.GetOrCreate(ctx, r.kind, name)
			created = c
			return t, err
		})
		if err != nil {
			return nil, err
		}
		if created {
			r.log.Infof("created %s %q", r.kind, name)
		} else {
			r.log.Debugf("reusing %s %q", r.kind, name)
		}
		r.mu.Lock()
		r.byKey[name] = t
		r.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get or create %s %q: %w", r.kind, name, err)
	}
	return v.(*Tag), nil
}

// ResolveAll maps names to tag ids, skipping blanks and duplicates.
func (r *TagRegistry) ResolveAll(ctx context.Context, names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		t, err := r.GetOrCreate(ctx, n)
		if err != nil {
			return nil, err
		}
		if t == nil || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (r *TagRegistry) lookup(name string) *Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byKey[name]
}
