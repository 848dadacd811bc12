package evaluator

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"dexarb/internal/market"
)

// LoadFunc returns the normalized pools of one token.
type LoadFunc func(ctx context.Context, token string) ([]market.NormalizedPool, error)

// QuoteFunc returns one aggregator quote per venue for token.
type QuoteFunc func(ctx context.Context, token string) (map[string]market.Quote, error)

// Universe is the token set of one chain and how to price it. Exactly one of
// Pools or Quotes is normally set; when both are, both paths run.
type Universe struct {
	Chain  market.Chain
	Base   string
	Tokens []string
	Pools  LoadFunc
	Quotes QuoteFunc
}

const batchConcurrency = 8

// FindBest evaluates every token and returns at most topN opportunities by
// descending net spread. topN <= 0 returns them all. Per-token failures are
// logged and skipped.
func (e *Evaluator) FindBest(ctx context.Context, tokens []string, base string, load LoadFunc, topN int) []market.Opportunity {
	return e.FindAll(ctx, []Universe{{Base: base, Tokens: tokens, Pools: load}}, topN)
}

// FindAll runs FindBest across chains and merges the results.
func (e *Evaluator) FindAll(ctx context.Context, universes []Universe, topN int) []market.Opportunity {
	var (
		mu  sync.Mutex
		out []market.Opportunity
	)
	add := func(opp *market.Opportunity) {
		if opp == nil {
			return
		}
		mu.Lock()
		out = append(out, *opp)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	for _, u := range universes {
		for _, token := range u.Tokens {
			if u.Pools != nil {
				g.Go(func() error {
					pools, err := u.Pools(gctx, token)
					if err != nil {
						e.logger.Warn().Err(err).Str("chain", u.Chain.String()).Str("token", token).Msg("load pools failed")
						return nil
					}
					opp, _ := e.EvaluateToken(pools, token, u.Base)
					add(opp)
					return nil
				})
			}
			if u.Quotes != nil {
				g.Go(func() error {
					quotes, err := u.Quotes(gctx, token)
					if err != nil {
						e.logger.Warn().Err(err).Str("chain", u.Chain.String()).Str("token", token).Msg("load quotes failed")
						return nil
					}
					add(e.EvaluateQuotes(quotes, token, u.Base))
					return nil
				})
			}
		}
	}
	_ = g.Wait()

	SortBySpread(out)
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// SortBySpread orders opportunities by descending net spread, then token.
func SortBySpread(opps []market.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		if opps[i].SpreadNet != opps[j].SpreadNet {
			return opps[i].SpreadNet > opps[j].SpreadNet
		}
		return opps[i].Token < opps[j].Token
	})
}
