package evaluate

import (
	"context"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/strategy"
)

// DefaultPatternTTL is how long cached category patterns stay fresh.
const DefaultPatternTTL = 5 * time.Minute

// EpisodeStore is the slice of the episodic store the learner needs.
// Implemented by memory.EpisodicStore.
type EpisodeStore interface {
	Record(ctx context.Context, ep models.Episode) (string, error)
	FindSimilar(ctx context.Context, userID, category string, onlySuccessful bool, limit int) ([]models.Episode, error)
	SuccessPatterns(ctx context.Context, userID, category string) ([]string, error)
	FailurePatterns(ctx context.Context, userID, category string) ([]string, error)
}

type cachedPatterns struct {
	success []string
	failure []string
	expires time.Time
}

// Learner writes evaluations into episodes and turns accumulated episodes
// into routing recommendations. Category pattern lookups are cached with a
// TTL.
type Learner struct {
	episodes EpisodeStore
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPatterns
}

// NewLearner creates a learner. ttl <= 0 falls back to the default.
func NewLearner(episodes EpisodeStore, ttl time.Duration) *Learner {
	if ttl <= 0 {
		ttl = DefaultPatternTTL
	}
	return &Learner{
		episodes: episodes,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[string]cachedPatterns),
	}
}

// Learn merges an evaluation into the episode, records it, and invalidates
// the category's pattern cache.
func (l *Learner) Learn(ctx context.Context, ep models.Episode, eval *models.Evaluation) (string, error) {
	if eval != nil {
		ep.Lessons = append(ep.Lessons, eval.Lessons...)
		if ep.Outcome == models.OutcomeSuccess {
			ep.SuccessfulPatterns = append(ep.SuccessfulPatterns, eval.Patterns...)
		} else {
			ep.FailurePatterns = append(ep.FailurePatterns, eval.Patterns...)
		}
	}

	id, err := l.episodes.Record(ctx, ep)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	delete(l.cache, ep.UserID+"/"+ep.TaskCategory)
	l.mu.Unlock()
	return id, nil
}

// Patterns returns the user's success/failure patterns for a category,
// served from cache while fresh.
func (l *Learner) Patterns(ctx context.Context, userID, category string) (success, failure []string, err error) {
	key := userID + "/" + category

	l.mu.Lock()
	if entry, ok := l.cache[key]; ok && l.now().Before(entry.expires) {
		l.mu.Unlock()
		return entry.success, entry.failure, nil
	}
	l.mu.Unlock()

	success, err = l.episodes.SuccessPatterns(ctx, userID, category)
	if err != nil {
		return nil, nil, err
	}
	failure, err = l.episodes.FailurePatterns(ctx, userID, category)
	if err != nil {
		return nil, nil, err
	}

	l.mu.Lock()
	l.cache[key] = cachedPatterns{success: success, failure: failure, expires: l.now().Add(l.ttl)}
	l.mu.Unlock()
	return success, failure, nil
}

// Recommend derives a routing recommendation from past successful episodes
// of the same user and category. Returns nil when there is nothing to learn
// from.
func (l *Learner) Recommend(ctx context.Context, userID, category string) (*strategy.Recommendation, error) {
	episodes, err := l.episodes.FindSimilar(ctx, userID, category, true, 10)
	if err != nil {
		return nil, err
	}
	if len(episodes) == 0 {
		return nil, nil
	}

	// Majority vote over the primary (first) agent of each episode.
	votes := map[string]int{}
	for _, ep := range episodes {
		if len(ep.AgentsInvolved) > 0 {
			votes[ep.AgentsInvolved[0]]++
		}
	}
	var primary string
	var best int
	for agentName, n := range votes {
		if n > best || (n == best && agentName < primary) {
			primary, best = agentName, n
		}
	}
	if primary == "" {
		return nil, nil
	}

	success, failure, err := l.Patterns(ctx, userID, category)
	if err != nil {
		return nil, err
	}

	// Confidence grows with corpus size and saturates below 1.
	confidence := float64(len(episodes)) / float64(len(episodes)+2)
	return &strategy.Recommendation{
		PrimaryAgent:  primary,
		ApplyPatterns: success,
		AvoidPatterns: failure,
		Confidence:    confidence,
	}, nil
}
