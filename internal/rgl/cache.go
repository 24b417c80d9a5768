package rgl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teamtf/scrim-bot/internal/domain"
	"golang.org/x/sync/singleflight"
)

// MatchFetcher is what the cache wraps; *Client satisfies it.
type MatchFetcher interface {
	FetchMatch(ctx context.Context, matchID int64) (*domain.MatchResult, error)
	ResolveSteamID(ctx context.Context, profileID string) (string, error)
}

type resultEntry struct {
	result  *domain.MatchResult
	expires time.Time
}

type steamEntry struct {
	steamID string
	expires time.Time
}

// Cache keeps recent match results and resolved steam ids in memory.
// Concurrent lookups for the same key collapse into one upstream call;
// failed lookups are not cached, so the next caller retries upstream.
type Cache struct {
	fetcher    MatchFetcher
	resultTTL  time.Duration
	profileTTL time.Duration

	group singleflight.Group
	now   func() time.Time

	mu       sync.Mutex
	results  map[int64]resultEntry
	profiles map[string]steamEntry
}

func NewCache(fetcher MatchFetcher, resultTTL, profileTTL time.Duration) *Cache {
	return &Cache{
		fetcher:    fetcher,
		resultTTL:  resultTTL,
		profileTTL: profileTTL,
		now:        time.Now,
		results:    make(map[int64]resultEntry),
		profiles:   make(map[string]steamEntry),
	}
}

// Match returns the cached result for matchID, fetching on miss.
func (c *Cache) Match(ctx context.Context, matchID int64) (*domain.MatchResult, error) {
	c.mu.Lock()
	if entry, ok := c.results[matchID]; ok && c.now().Before(entry.expires) {
		c.mu.Unlock()
		return entry.result, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(fmt.Sprintf("match:%d", matchID), func() (any, error) {
		result, err := c.fetcher.FetchMatch(ctx, matchID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.results[matchID] = resultEntry{result: result, expires: c.now().Add(c.resultTTL)}
		c.mu.Unlock()
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.MatchResult), nil
}

// SteamID resolves a league profile to a steam id, caching the answer.
func (c *Cache) SteamID(ctx context.Context, profileID string) (string, error) {
	c.mu.Lock()
	if entry, ok := c.profiles[profileID]; ok && c.now().Before(entry.expires) {
		c.mu.Unlock()
		return entry.steamID, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("profile:"+profileID, func() (any, error) {
		id, err := c.fetcher.ResolveSteamID(ctx, profileID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.profiles[profileID] = steamEntry{steamID: id, expires: c.now().Add(c.profileTTL)}
		c.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops a cached match result, forcing the next lookup to
// refetch. Used after a match is known to have been rescheduled.
func (c *Cache) Invalidate(matchID int64) {
	c.mu.Lock()
	delete(c.results, matchID)
	c.mu.Unlock()
}
