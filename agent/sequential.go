package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/taskmesh/core"
)

// Job pairs a task with the agent that should run it.
type Job struct {
	Agent Runner
	Task  core.Task
}

// RunSequential runs jobs one after another and stops at the first failure.
// The returned slice holds the results of the jobs completed so far.
func RunSequential(ctx context.Context, jobs ...Job) ([]*core.Result, error) {
	results := make([]*core.Result, 0, len(jobs))

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := job.Agent.Run(ctx, job.Task)
		if err != nil {
			return results, fmt.Errorf("sequential execution failed at agent %s: %w", job.Agent.Name(), err)
		}

		results = append(results, res)
	}

	return results, nil
}
