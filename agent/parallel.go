package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// ParallelOptions configures RunParallel.
type ParallelOptions struct {
	// MaxConcurrency bounds the jobs running at once (0 = all).
	MaxConcurrency int
}

// RunParallel runs independent jobs concurrently. Results are positional:
// results[i] belongs to jobs[i] and is nil when that job failed. Successful
// jobs complete even if siblings fail; all failures are joined.
func RunParallel(ctx context.Context, jobs []Job, optFns ...func(o *ParallelOptions)) ([]*core.Result, error) {
	opts := ParallelOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	limit := opts.MaxConcurrency
	if limit <= 0 || limit > len(jobs) {
		limit = len(jobs)
	}

	var (
		wg      sync.WaitGroup
		sem     = make(chan struct{}, max(limit, 1))
		results = make([]*core.Result, len(jobs))
		errs    = make([]error, len(jobs))
	)

	for i, job := range jobs {
		wg.Add(1)

		go func(i int, job Job) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = fmt.Errorf("parallel execution failed for agent %s: %w", job.Agent.Name(), ctx.Err())
				return
			}
			defer func() { <-sem }()

			res, err := job.Agent.Run(ctx, job.Task)
			if err != nil {
				errs[i] = fmt.Errorf("parallel execution failed for agent %s: %w", job.Agent.Name(), err)
				return
			}

			results[i] = res
		}(i, job)
	}

	wg.Wait()

	return results, errors.Join(errs...)
}
