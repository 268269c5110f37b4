package backend

import (
	"context"
	"time"

	"schedgw/internal/pkg/model"
)

// WaitResult is the outcome of WaitForTerminal.
type WaitResult struct {
	JobID    string `json:"job_id"`
	State    string `json:"state"`
	ExitCode *int   `json:"exit_code"`
	Runtime  string `json:"runtime"`
	TimedOut bool   `json:"timed_out"`
}

// WaitForTerminal polls a job on a fixed interval until it reaches a
// terminal state or the timeout elapses. The deadline is computed once at
// entry and checked every iteration; between polls the goroutine sleeps
// cooperatively. Cancellation is deadline/context based only. A transient
// GetJob failure ends the wait and surfaces the error; this layer never
// retries on its own.
func WaitForTerminal(ctx context.Context, a Adapter, jobID string, pollInterval, timeout time.Duration) (WaitResult, error) {
	res := WaitResult{JobID: jobID, Runtime: "unknown"}
	deadline := time.Now().Add(timeout)

	for {
		job, err := a.GetJob(ctx, jobID)
		if err != nil {
			return res, err
		}
		res.State = job.State
		res.ExitCode = job.ExitCode
		res.Runtime = job.Runtime
		if model.TerminalStates[job.State] {
			return res, nil
		}

		if time.Now().After(deadline) {
			res.State = model.StateTimeout
			res.TimedOut = true
			return res, nil
		}

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
