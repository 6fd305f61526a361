package worker

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"cot-backend/internal/chain"
)

type chainRunner interface {
	Run(ctx context.Context, problem string) (*chain.Result, error)
}

// BatchResult is the outcome of one problem in a batch.
type BatchResult struct {
	Index    int           `json:"index"`
	Prompt   string        `json:"prompt"`
	Result   *chain.Result `json:"result,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Pool runs independent chains with bounded parallelism. Each chain is still
// strictly sequential internally.
type Pool struct {
	runner      chainRunner
	workerCount int
	logger      zerolog.Logger
}

func NewPool(runner chainRunner, workerCount int, logger zerolog.Logger) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{
		runner:      runner,
		workerCount: workerCount,
		logger:      logger.With().Str("component", "worker").Logger(),
	}
}

// Run executes every prompt and returns results in input order. A failed
// chain does not stop the others.
func (p *Pool) Run(ctx context.Context, prompts []string) []BatchResult {
	wp := pool.NewWithResults[BatchResult]().WithMaxGoroutines(p.workerCount)

	for i, prompt := range prompts {
		i, prompt := i, prompt
		wp.Go(func() BatchResult {
			start := time.Now()
			res := BatchResult{Index: i, Prompt: prompt}
			if err := ctx.Err(); err != nil {
				res.Err = err
				return res
			}

			res.Result, res.Err = p.runner.Run(ctx, prompt)
			res.Duration = time.Since(start)

			if res.Err != nil {
				p.logger.Error().Err(res.Err).Int("index", i).Msg("chain failed")
			} else {
				p.logger.Info().Int("index", i).Str("run_id", res.Result.RunID).Dur("duration", res.Duration).Msg("chain completed")
			}
			return res
		})
	}

	results := wp.Wait()
	sort.Slice(results, func(a, b int) bool { return results[a].Index < results[b].Index })
	return results
}
