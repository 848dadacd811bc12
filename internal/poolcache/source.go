package poolcache

import (
	"context"

	"dexarb/internal/fetcher"
	"dexarb/internal/market"
)

// CachedSource serves pools from the per-token cache and only asks the
// wrapped venue for tokens it has no fresh answer for. Calls to the venue go
// through the retrier.
type CachedSource struct {
	inner   fetcher.PoolSource
	cache   *Cache
	retrier *Retrier
}

// Wrap decorates src. A nil cache disables caching.
func Wrap(src fetcher.PoolSource, cache *Cache, retrier *Retrier) *CachedSource {
	return &CachedSource{inner: src, cache: cache, retrier: retrier}
}

func (s *CachedSource) Name() string        { return s.inner.Name() }
func (s *CachedSource) Chain() market.Chain { return s.inner.Chain() }

// FetchPools returns the union of cached and freshly fetched pools, each
// pool at most once.
func (s *CachedSource) FetchPools(ctx context.Context, tokens []string) ([]market.Pool, error) {
	var hits []market.Pool
	missing := tokens
	if s.cache != nil && len(tokens) > 0 {
		missing = nil
		for _, t := range tokens {
			if pools, ok := s.cache.Get(s.Chain(), s.Name(), t); ok {
				hits = append(hits, pools...)
				continue
			}
			missing = append(missing, t)
		}
		if len(missing) == 0 {
			return dedupe(hits), nil
		}
	}

	fetch := s.inner.FetchPools
	if s.retrier != nil {
		fetch = func(ctx context.Context, tokens []string) ([]market.Pool, error) {
			return Do(ctx, s.retrier, s.Name(), func(ctx context.Context) ([]market.Pool, error) {
				return s.inner.FetchPools(ctx, tokens)
			})
		}
	}

	fresh, err := fetch(ctx, missing)
	if err != nil {
		if len(hits) > 0 {
			return dedupe(hits), err
		}
		return nil, err
	}

	if s.cache != nil {
		for _, t := range missing {
			set := poolsFor(fresh, t)
			s.cache.Put(s.Chain(), s.Name(), t, set, AverageLiquidity(set))
		}
	}

	return dedupe(append(hits, fresh...)), nil
}

func poolsFor(pools []market.Pool, token string) []market.Pool {
	var out []market.Pool
	for _, p := range pools {
		if p.TokenA == token || p.TokenB == token {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(pools []market.Pool) []market.Pool {
	seen := make(map[string]struct{}, len(pools))
	out := pools[:0:0]
	for _, p := range pools {
		if _, ok := seen[p.PoolID]; ok {
			continue
		}
		seen[p.PoolID] = struct{}{}
		out = append(out, p)
	}
	return out
}

var _ fetcher.PoolSource = (*CachedSource)(nil)
