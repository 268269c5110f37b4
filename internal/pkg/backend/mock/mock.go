package mock

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"schedgw/internal/pkg/backend"
	"schedgw/internal/pkg/model"
)

// Adapter is an in-memory stand-in for a real scheduler. It implements
// every operation so integration tests and demos can run without a
// cluster. backendType records which real adapter it replaces so job ids
// look right (flux ids carry the ƒ prefix).
type Adapter struct {
	cluster     string
	backendType string
	logger      *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*model.JobDetails
	counter int64
}

func New(cluster, backendType string, logger *slog.Logger) *Adapter {
	return &Adapter{
		cluster:     cluster,
		backendType: backendType,
		logger:      logger,
		jobs:        make(map[string]*model.JobDetails),
		counter:     1000,
	}
}

// nextJobID must be called with mu held.
func (a *Adapter) nextJobID() string {
	a.counter++
	id := strconv.FormatInt(a.counter, 10)
	if a.backendType == "flux" {
		return "ƒ" + id
	}
	return id
}

// seedJobs materializes a handful of sample jobs the first time any listing
// operation runs against an empty store. Must be called with mu held.
func (a *Adapter) seedJobs() {
	if len(a.jobs) > 0 {
		return
	}
	states := []string{model.StatePending, model.StateRunning, model.StateCompleted, model.StateFailed, model.StateRunning}
	for i, state := range states {
		id := a.nextJobID()
		a.jobs[id] = a.newJob(id, fmt.Sprintf("sample_job_%d", i+1), state)
	}
}

func (a *Adapter) newJob(id, name, state string) *model.JobDetails {
	now := time.Now().UTC()
	job := &model.JobDetails{
		JobID:     id,
		Name:      name,
		State:     state,
		Submitted: now.Add(-10 * time.Minute).Format(time.RFC3339),
		Runtime:   "00:00:00",

		User:      "mockuser",
		Partition: "debug",
		TimeLimit: "01:00:00",
		Resources: &model.ResourceAlloc{
			Nodes:       1,
			Tasks:       1,
			CPUsPerTask: 1,
			Memory:      "1G",
		},
		AllocatedNodes:   []string{},
		WorkingDirectory: "/tmp",
	}
	if state != model.StatePending {
		started := now.Add(-5 * time.Minute).Format(time.RFC3339)
		job.Started = &started
		job.Runtime = "00:05:00"
		job.AllocatedNodes = []string{"mock-node-01"}
	}
	if model.TerminalStates[state] {
		ended := now.Format(time.RFC3339)
		job.Ended = &ended
		code := 0
		if state == model.StateFailed {
			code = 1
		}
		if state != model.StateCancelled {
			job.ExitCode = &code
		}
	}
	return job
}

func (a *Adapter) SubmitJob(ctx context.Context, params model.JobSubmitParams) (model.JobSubmitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextJobID()
	name := params.JobName
	if name == "" {
		name = "unnamed"
	}
	job := a.newJob(id, name, model.StatePending)
	job.Submitted = time.Now().UTC().Format(time.RFC3339)
	if params.Partition != "" {
		job.Partition = params.Partition
	}
	if params.Nodes > 0 {
		job.Resources.Nodes = params.Nodes
	}
	if params.TasksPerNode > 0 {
		job.Resources.Tasks = params.TasksPerNode
	}
	if params.CPUsPerTask > 0 {
		job.Resources.CPUsPerTask = params.CPUsPerTask
	}
	if params.Memory != "" {
		job.Resources.Memory = params.Memory
	}
	if params.TimeLimit != "" {
		job.TimeLimit = params.TimeLimit
	}
	if params.WorkingDir != "" {
		job.WorkingDirectory = params.WorkingDir
	}
	a.jobs[id] = job

	return model.JobSubmitResult{Success: true, JobID: id, State: model.StatePending}, nil
}

// GetJob fabricates a running job for ids it has never seen, so wait and
// output flows can be exercised against arbitrary ids.
func (a *Adapter) GetJob(ctx context.Context, jobID string) (*model.JobDetails, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	job, ok := a.jobs[jobID]
	if !ok {
		job = a.newJob(jobID, "mock_job", model.StateRunning)
		a.jobs[jobID] = job
	}
	copied := *job
	return &copied, nil
}

func (a *Adapter) ListJobs(ctx context.Context, opts model.ListJobsOptions) ([]model.JobDetails, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seedJobs()

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	result := make([]model.JobDetails, 0, len(a.jobs))
	for _, job := range a.jobs {
		if opts.User != "" && job.User != opts.User {
			continue
		}
		if opts.State != "" && job.State != opts.State {
			continue
		}
		result = append(result, *job)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// CancelJob is idempotent: cancelling an unknown or already finished job
// still succeeds.
func (a *Adapter) CancelJob(ctx context.Context, jobID, signal string) (model.CancelResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if job, ok := a.jobs[jobID]; ok && !model.TerminalStates[job.State] {
		job.State = model.StateCancelled
		ended := time.Now().UTC().Format(time.RFC3339)
		job.Ended = &ended
	}
	return model.CancelResult{
		Success: true,
		JobID:   jobID,
		State:   model.StateCancelled,
		Message: fmt.Sprintf("Job %s cancelled (mock)", jobID),
	}, nil
}

func (a *Adapter) GetJobOutput(ctx context.Context, jobID string, opts model.OutputOptions) (model.JobOutput, error) {
	out := model.JobOutput{Success: true, JobID: jobID}

	if opts.Type == "stdout" || opts.Type == "both" || opts.Type == "" {
		lines := make([]string, 0, 10)
		for i := 1; i <= 10; i++ {
			lines = append(lines, fmt.Sprintf("mock stdout line %d for job %s", i, jobID))
		}
		out.Stdout = strings.Join(lines, "\n")
	}
	if opts.Type == "stderr" || opts.Type == "both" {
		out.Stderr = fmt.Sprintf("mock stderr for job %s", jobID)
	}

	if opts.TailLines > 0 && out.Stdout != "" {
		lines := strings.Split(out.Stdout, "\n")
		if len(lines) > opts.TailLines {
			out.Stdout = strings.Join(lines[len(lines)-opts.TailLines:], "\n")
			out.Truncated = true
		}
	}
	return out, nil
}

func (a *Adapter) GetQueueStatus(ctx context.Context, detailed bool) (*model.QueueStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seedJobs()

	status := &model.QueueStatus{Success: true, Cluster: a.cluster, TotalJobs: len(a.jobs)}
	failed, cancelled := 0, 0
	recent := make([]model.RecentJob, 0, len(a.jobs))
	for _, job := range a.jobs {
		switch job.State {
		case model.StateRunning:
			status.Running++
		case model.StatePending:
			status.Pending++
		case model.StateCompleted:
			status.Completed++
		case model.StateFailed:
			failed++
		case model.StateCancelled:
			cancelled++
		}
		recent = append(recent, model.RecentJob{JobID: job.JobID, Name: job.Name, State: job.State, Runtime: job.Runtime})
	}
	if detailed {
		status.Failed = &failed
		status.Cancelled = &cancelled
		status.Util = &model.Utilization{
			NodesAllocated: status.Running,
			NodesTotal:     4,
			CoresAllocated: status.Running * 16,
			CoresTotal:     256,
		}
		if len(recent) > 20 {
			recent = recent[:20]
		}
		status.Recent = recent
	}
	return status, nil
}

func (a *Adapter) GetResources(ctx context.Context, detailed bool) (*model.Resources, error) {
	res := &model.Resources{
		Success: true,
		Nodes:   model.NodeCounts{Total: 4, Idle: 2, Allocated: 1, Down: 1},
		Cores:   model.CoreCounts{Total: 256, Available: 128},
	}
	if detailed {
		res.Partitions = []model.PartitionInfo{
			{Name: "debug", State: "UP", Nodes: 2, MaxTimeLimit: "01:00:00", DefaultMemPerCPU: "2048M"},
			{Name: "batch", State: "UP", Nodes: 2, MaxTimeLimit: "24:00:00", DefaultMemPerCPU: "4096M"},
		}
		for i := 1; i <= 4; i++ {
			state := "IDLE"
			switch i {
			case 3:
				state = "ALLOCATED"
			case 4:
				state = "DOWN"
			}
			res.NodeDetails = append(res.NodeDetails, model.NodeDetail{
				Name:       fmt.Sprintf("mock-node-%02d", i),
				State:      state,
				CPUs:       64,
				Memory:     "256G",
				Partitions: []string{"debug", "batch"},
			})
		}
	}
	return res, nil
}

func (a *Adapter) GetAccounting(ctx context.Context, q model.AccountingQuery) (*model.AccountingResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seedJobs()

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	total := 0
	records := make([]model.AccountingRecord, 0, len(a.jobs))
	for _, job := range a.jobs {
		if q.JobID != "" && job.JobID != q.JobID {
			continue
		}
		if q.User != "" && job.User != q.User {
			continue
		}
		total++
		if len(records) >= limit {
			continue
		}
		code := 0
		if job.ExitCode != nil {
			code = *job.ExitCode
		}
		rec := model.AccountingRecord{
			JobID:    job.JobID,
			Name:     job.Name,
			User:     job.User,
			State:    job.State,
			ExitCode: code,
			Runtime:  job.Runtime,
			CPUTime:  job.Runtime,
		}
		if q.Detailed {
			rec.MemoryRequested = job.Resources.Memory
			rec.WaitTime = "00:00:30"
			rec.NodesUsed = job.AllocatedNodes
			rec.SubmitTime = job.Submitted
			if job.Started != nil {
				rec.StartTime = *job.Started
			}
			if job.Ended != nil {
				rec.EndTime = *job.Ended
			}
		}
		records = append(records, rec)
	}
	return &model.AccountingResult{Success: true, Jobs: records, Total: total}, nil
}

func (a *Adapter) SubmitBatch(ctx context.Context, params model.BatchParams) (model.BatchResult, error) {
	if params.ArraySpec != "" {
		return a.submitArray(params)
	}
	return a.submitBulk(params)
}

func (a *Adapter) submitArray(params model.BatchParams) (model.BatchResult, error) {
	count, err := parseArraySpec(params.ArraySpec)
	if err != nil {
		return model.BatchResult{
			Success:   false,
			BatchType: "array",
			JobIDs:    []string{},
			Failed:    1,
			Errors:    []model.BatchError{{Index: 0, Command: params.ArraySpec, Error: err.Error()}},
			Error:     err.Error(),
		}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	prefix := params.JobNamePrefix
	if prefix == "" {
		prefix = "array_job"
	}
	baseID := a.nextJobID()
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if params.MaxConcurrent > 0 && i >= params.MaxConcurrent {
			break
		}
		id := fmt.Sprintf("%s_%d", baseID, i)
		a.jobs[id] = a.newJob(id, fmt.Sprintf("%s_%d", prefix, i), model.StatePending)
		ids = append(ids, id)
	}
	return model.BatchResult{
		Success:   true,
		JobIDs:    ids,
		BatchType: "array",
		Submitted: len(ids),
		Failed:    0,
		Errors:    []model.BatchError{},
	}, nil
}

func (a *Adapter) submitBulk(params model.BatchParams) (model.BatchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	prefix := params.JobNamePrefix
	if prefix == "" {
		prefix = "bulk_job"
	}

	result := model.BatchResult{BatchType: "bulk", JobIDs: []string{}, Errors: []model.BatchError{}}
	for i, cmd := range params.Commands {
		if strings.TrimSpace(cmd) == "" {
			result.Failed++
			result.Errors = append(result.Errors, model.BatchError{Index: i, Command: cmd, Error: "empty command"})
			continue
		}
		id := a.nextJobID()
		a.jobs[id] = a.newJob(id, fmt.Sprintf("%s_%d", prefix, i), model.StatePending)
		result.JobIDs = append(result.JobIDs, id)
		result.Submitted++
	}
	result.Success = result.Submitted > 0
	return result, nil
}

// parseArraySpec counts the tasks in a sbatch-style array spec such as
// "1-10" or "1-100:2".
func parseArraySpec(spec string) (int, error) {
	body, step := spec, 1
	if idx := strings.Index(spec, ":"); idx >= 0 {
		body = spec[:idx]
		s, err := strconv.Atoi(spec[idx+1:])
		if err != nil || s <= 0 {
			return 0, fmt.Errorf("invalid array step in %q", spec)
		}
		step = s
	}
	parts := strings.SplitN(body, "-", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid array spec %q, expected START-END[:STEP]", spec)
	}
	start, err1 := strconv.Atoi(parts[0])
	end, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || end < start {
		return 0, fmt.Errorf("invalid array spec %q, expected START-END[:STEP]", spec)
	}
	return (end-start)/step + 1, nil
}

// SetJobState overrides one job's state. Only tests use this to drive
// state transitions deterministically.
func (a *Adapter) SetJobState(jobID, state string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	job, ok := a.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", backend.ErrNotFound, jobID)
	}
	job.State = state
	if model.TerminalStates[state] && job.Ended == nil {
		ended := time.Now().UTC().Format(time.RFC3339)
		job.Ended = &ended
	}
	return nil
}

func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = make(map[string]*model.JobDetails)
	return nil
}
