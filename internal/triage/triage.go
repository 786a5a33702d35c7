// Package triage ranks an owner's current health scores so the entities that
// need attention first come first.
package triage

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/cache"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// DefaultTTL is how long a ranking is served from cache
const DefaultTTL = 5 * time.Minute

// ScoreLister returns the current scores of an owner
type ScoreLister interface {
	ListScores(ctx context.Context, ownerID string) ([]*types.HealthScore, error)
}

// Entry is one ranked score
type Entry struct {
	Rank  int                `json:"rank"`
	Score *types.HealthScore `json:"score"`
}

// Response is the ranking returned to callers
type Response struct {
	OwnerID     string    `json:"owner_id"`
	Entries     []Entry   `json:"entries"`
	Total       int       `json:"total"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Service builds and caches rankings per owner
type Service struct {
	scores ScoreLister
	cache  *cache.Cache[*Response]
	now    func() time.Time
}

// NewService creates a triage service. ttl <= 0 uses DefaultTTL.
func NewService(scores ScoreLister, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		scores: scores,
		cache:  cache.New[*Response](ttl),
		now:    time.Now,
	}
}

func cacheKey(ownerID string) string {
	return "triage:" + ownerID
}

// Rank returns the owner's scores worst-first. limit <= 0 returns all of them.
func (s *Service) Rank(ctx context.Context, ownerID string, limit int) (*Response, error) {
	full, ok := s.cache.Get(cacheKey(ownerID))
	if ok {
		slog.Debug("Triage cache hit", "owner_id", ownerID)
	} else {
		scores, err := s.scores.ListScores(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		full = build(ownerID, scores, s.now().UTC())
		s.cache.Set(cacheKey(ownerID), full)
		slog.Debug("Triage ranking cached", "owner_id", ownerID, "entries", full.Total)
	}
	return truncate(full, limit), nil
}

// Invalidate drops the cached ranking of an owner
func (s *Service) Invalidate(ownerID string) {
	s.cache.Delete(cacheKey(ownerID))
}

// Close stops the cache sweeper
func (s *Service) Close() {
	s.cache.Close()
}

func build(ownerID string, scores []*types.HealthScore, at time.Time) *Response {
	sorted := append([]*types.HealthScore(nil), scores...)
	sort.SliceStable(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	entries := make([]Entry, len(sorted))
	for i, sc := range sorted {
		entries[i] = Entry{Rank: i + 1, Score: sc}
	}
	return &Response{OwnerID: ownerID, Entries: entries, Total: len(entries), GeneratedAt: at}
}

// truncate copies the head of a cached response so callers never share the
// cached slice
func truncate(full *Response, limit int) *Response {
	n := len(full.Entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := *full
	out.Entries = append([]Entry(nil), full.Entries[:n]...)
	return &out
}

// Less orders a before b: ghost relationships first, then lower score, then
// higher risk, then entity id
func Less(a, b *types.HealthScore) bool {
	ga, gb := a.Status == types.StatusGhost, b.Status == types.StatusGhost
	if ga != gb {
		return ga
	}
	if a.OverallScore != b.OverallScore {
		return a.OverallScore < b.OverallScore
	}
	if ra, rb := a.RiskLevel.Rank(), b.RiskLevel.Rank(); ra != rb {
		return ra > rb
	}
	return a.EntityID < b.EntityID
}
