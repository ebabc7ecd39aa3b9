package biz

import (
	"fmt"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// Providers wires the external metadata providers into their fallback chains.
type Providers struct {
	// MovieChain is consulted for movies, ShowChain for shows and episodes.
	MovieChain []CreditProvider
	ShowChain  []CreditProvider
	Trailers   []TrailerProvider
	// Links may be nil.
	Links LinkProvider
}

// For returns the credit provider chain of a media kind.
func (p *Providers) For(kind MediaKind) []CreditProvider {
	if p == nil {
		return nil
	}
	if kind == KindMovie {
		return p.MovieChain
	}
	return p.ShowChain
}

// Phase is a step of the sync state machine.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhasePreloading    Phase = "preloading"
	PhaseSyncingMovies Phase = "syncing_movies"
	PhaseSyncingShows  Phase = "syncing_shows"
	PhaseFinalizing    Phase = "finalizing"
)

// RunState is everything one sync run shares between its streams. It is built at run start and
// dropped when the run ends.
type RunState struct {
	ID      string
	Cache   *LookupCache
	Genres  *TagRegistry
	Studios *TagRegistry

	cooldowns *cooldowns

	mu     sync.Mutex
	phases map[Phase]bool
	log    *log.Helper
}

// NewRunState creates the state of a new run.
func NewRunState(tags TagRepo, retry RetryPolicy, logger log.Logger) (*RunState, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}
	logger = log.With(logger, "run_id", id.String())
	h := log.NewHelper(log.With(logger, "module", "biz/run"))
	return &RunState{
		ID:        id.String(),
		Cache:     NewLookupCache(logger),
		Genres:    NewTagRegistry(TagGenre, tags, retry, logger),
		Studios:   NewTagRegistry(TagStudio, tags, retry, logger),
		cooldowns: newCooldowns(h),
		phases:    map[Phase]bool{PhaseIdle: true},
		log:       h,
	}, nil
}

// Enter marks a phase as active.
func (s *RunState) Enter(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases[p] = true
	delete(s.phases, PhaseIdle)
	s.log.Infow("msg", "sync phase entered", "phase", string(p))
}

// Leave marks a phase as done. The run is idle again once no phase is active.
func (s *RunState) Leave(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.phases, p)
	s.log.Debugw("msg", "sync phase left", "phase", string(p))
	if len(s.phases) == 0 {
		s.phases[PhaseIdle] = true
	}
}

// Active reports whether a phase is currently running.
func (s *RunState) Active(p Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phases[p]
}

// CoolingDown reports whether a provider tripped its rate-limit cool-down in this run.
func (s *RunState) CoolingDown(provider string) bool {
	return s.cooldowns.isTripped(provider)
}
