package slurm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"schedgw/config"
	"schedgw/internal/pkg/backend"
	"schedgw/internal/pkg/client/kube"
	"schedgw/internal/pkg/client/slurmdb"
	"schedgw/internal/pkg/model"
)

const (
	apiBase          = "/slurm/v0.0.40"
	requestTimeout   = 30 * time.Second
	controllerCtr    = "slurmctld"
	tokenLifespanSec = 86400
)

// stateMap relabels Slurm job states into the unified vocabulary. Unmapped
// states pass through unchanged.
var stateMap = map[string]string{
	"PENDING":     model.StatePending,
	"RUNNING":     model.StateRunning,
	"COMPLETED":   model.StateCompleted,
	"FAILED":      model.StateFailed,
	"CANCELLED":   model.StateCancelled,
	"TIMEOUT":     model.StateTimeout,
	"NODE_FAIL":   model.StateFailed,
	"PREEMPTED":   model.StateCancelled,
	"COMPLETING":  model.StateRunning,
	"CONFIGURING": model.StatePending,
}

// Adapter talks to a Slurm cluster through slurmrestd. Accounting comes
// from the slurmdbd database when one is configured; the JWT auth token is
// minted on demand by running scontrol inside the controller pod.
type Adapter struct {
	cluster       string
	endpoint      string
	user          string
	namespace     string
	controllerPod string

	client *http.Client
	acct   *slurmdb.Client   // nil without accounting config
	exec   kube.PodExecutor  // nil without token-minting config
	logger *slog.Logger

	tokenMu sync.Mutex
	token   string
}

// New builds an Adapter for one configured cluster. acct and exec may be
// nil; the corresponding capabilities degrade (accounting unavailable,
// no token minting).
func New(cfg config.Cluster, acct *slurmdb.Client, exec kube.PodExecutor, logger *slog.Logger) *Adapter {
	return &Adapter{
		cluster:       cfg.Name,
		endpoint:      strings.TrimRight(cfg.Endpoint, "/"),
		user:          cfg.Auth.User,
		namespace:     cfg.Namespace,
		controllerPod: cfg.ControllerPod,
		client:        &http.Client{Timeout: requestTimeout},
		acct:          acct,
		exec:          exec,
		token:         cfg.Auth.Token,
		logger:        logger,
	}
}

// getToken returns the configured or previously minted token, minting one
// through the controller pod when absent. Minting failure is an expected
// condition: some deployments accept the user header alone, so the adapter
// logs and proceeds without a token.
func (a *Adapter) getToken(ctx context.Context) string {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()
	if a.token != "" {
		return a.token
	}
	if a.exec == nil || a.controllerPod == "" {
		return ""
	}

	cmd := []string{"scontrol", "token", fmt.Sprintf("lifespan=%d", tokenLifespanSec)}
	stdout, stderr, err := a.exec.Exec(ctx, a.namespace, a.controllerPod, controllerCtr, cmd, "")
	if err != nil {
		a.logger.Warn("failed to mint slurm token, continuing without one",
			"cluster", a.cluster, "pod", a.controllerPod, "stderr", stderr, "err", err)
		return ""
	}
	for _, line := range strings.Split(stdout, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "SLURM_JWT="); ok {
			a.token = v
			return a.token
		}
	}
	a.logger.Warn("no SLURM_JWT in scontrol token output", "cluster", a.cluster, "output", stdout)
	return ""
}

// doRequest performs one authenticated REST call and decodes the JSON body
// into out. 404 maps to ErrNotFound, connect/auth failures to
// ErrUnavailable.
func (a *Adapter) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cluster %s: failed to encode request: %w", a.cluster, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.endpoint+apiBase+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-SLURM-USER-NAME", a.user)
	if token := a.getToken(ctx); token != "" {
		req.Header.Set("X-SLURM-USER-TOKEN", token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: cluster %s: cannot reach %s: %v", backend.ErrUnavailable, a.cluster, a.endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: cluster %s: %s %s", backend.ErrNotFound, a.cluster, method, path)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: cluster %s: authentication rejected (%d)", backend.ErrUnavailable, a.cluster, resp.StatusCode)
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("cluster %s: %s %s returned %d: %s", a.cluster, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cluster %s: failed to decode %s %s response: %w", a.cluster, method, path, err)
	}
	return nil
}

func normalizeState(s string) string {
	if mapped, ok := stateMap[s]; ok {
		return mapped
	}
	return s
}

// formatTimestamp converts an epoch wrapper to ISO8601 UTC. Unset or zero
// values map to "", never to 1970-01-01.
func formatTimestamp(ts noVal) string {
	if !ts.Set || ts.Number == 0 {
		return ""
	}
	return time.Unix(ts.Number, 0).UTC().Format(time.RFC3339)
}

func timestampPtr(ts noVal) *string {
	s := formatTimestamp(ts)
	if s == "" {
		return nil
	}
	return &s
}

func secondsToClock(total int64) string {
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// calculateRuntime renders elapsed time as HH:MM:SS; a still-running job is
// measured against now.
func calculateRuntime(start, end int64) string {
	if start == 0 {
		return "00:00:00"
	}
	if end == 0 {
		end = time.Now().Unix()
	}
	return secondsToClock(end - start)
}

func minutesToClock(min noVal) string {
	if !min.Set || min.Infinite {
		return "00:00:00"
	}
	return secondsToClock(min.Number * 60)
}

// inferExitCode derives the exit code from the terminal status tag plus the
// return-code wrapper, preserving a completed-but-nonzero result. A job
// that has not finished has no exit code.
func inferExitCode(state string, ec exitCodeInfo) *int {
	if !model.TerminalStates[state] {
		return nil
	}
	if ec.ReturnCode.Set {
		code := int(ec.ReturnCode.Number)
		return &code
	}
	if ec.Status.Contains("SUCCESS") {
		code := 0
		return &code
	}
	return nil
}

func (a *Adapter) jobDetails(j jobInfo) model.JobDetails {
	state := normalizeState(j.JobState.First("UNKNOWN"))

	var allocated []string
	if j.Nodes != "" {
		allocated = strings.Split(j.Nodes, ",")
	}

	memory := ""
	if j.MemoryPerNode.Set {
		memory = strconv.FormatInt(j.MemoryPerNode.Number, 10) + "M"
	}

	return model.JobDetails{
		JobID:     strconv.FormatInt(j.JobID, 10),
		Name:      j.Name,
		State:     state,
		Submitted: formatTimestamp(j.SubmitTime),
		Runtime:   calculateRuntime(startNum(j.StartTime), startNum(j.EndTime)),
		ExitCode:  inferExitCode(state, j.ExitCode),

		User:      j.UserName,
		Partition: j.Partition,
		Started:   timestampPtr(j.StartTime),
		Ended:     timestampPtr(j.EndTime),
		TimeLimit: minutesToClock(j.TimeLimit),
		Resources: &model.ResourceAlloc{
			Nodes:       int(j.NodeCount.Number),
			Tasks:       int(j.Tasks.Number),
			CPUsPerTask: int(j.CPUsPerTask.Number),
			Memory:      memory,
		},
		AllocatedNodes:   allocated,
		WorkingDirectory: j.CurrentWorkingDirectory,
		StdoutPath:       j.StandardOutput,
		StderrPath:       j.StandardError,
	}
}

func startNum(ts noVal) int64 {
	if !ts.Set {
		return 0
	}
	return ts.Number
}

func (a *Adapter) buildJobProperties(params model.JobSubmitParams) jobProperties {
	cwd := params.WorkingDir
	if cwd == "" {
		cwd = "/tmp"
	}
	return jobProperties{
		Script:                  params.Script,
		CurrentWorkingDirectory: cwd,
		Name:                    params.JobName,
		Nodes:                   params.Nodes,
		TasksPerNode:            params.TasksPerNode,
		CPUsPerTask:             params.CPUsPerTask,
		MemoryPerNode:           params.Memory,
		TimeLimit:               params.TimeLimit,
		Partition:               params.Partition,
		StandardOutput:          params.OutputPath,
		StandardError:           params.ErrorPath,
	}
}

func (a *Adapter) SubmitJob(ctx context.Context, params model.JobSubmitParams) (model.JobSubmitResult, error) {
	payload := submitRequest{Job: a.buildJobProperties(params)}

	var resp submitResponse
	if err := a.doRequest(ctx, http.MethodPost, "/job/submit", payload, &resp); err != nil {
		a.logger.Error("job submission failed", "cluster", a.cluster, "err", err)
		return model.JobSubmitResult{Success: false, Error: err.Error()}, nil
	}
	if len(resp.Errors) > 0 {
		return model.JobSubmitResult{Success: false, Error: joinErrors(resp.Errors)}, nil
	}
	if resp.JobID == 0 {
		return model.JobSubmitResult{Success: false, Error: "no job_id in response"}, nil
	}
	return model.JobSubmitResult{
		Success: true,
		JobID:   strconv.FormatInt(resp.JobID, 10),
		State:   model.StatePending,
	}, nil
}

func (a *Adapter) GetJob(ctx context.Context, jobID string) (*model.JobDetails, error) {
	var resp jobsResponse
	if err := a.doRequest(ctx, http.MethodGet, "/job/"+jobID, nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Jobs) == 0 {
		return nil, fmt.Errorf("%w: job %s on cluster %s", backend.ErrNotFound, jobID, a.cluster)
	}
	details := a.jobDetails(resp.Jobs[0])
	return &details, nil
}

func (a *Adapter) ListJobs(ctx context.Context, opts model.ListJobsOptions) ([]model.JobDetails, error) {
	var resp jobsResponse
	if err := a.doRequest(ctx, http.MethodGet, "/jobs", nil, &resp); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	// slurmrestd offers no server-side filtering here, so filter locally.
	result := make([]model.JobDetails, 0, limit)
	for _, j := range resp.Jobs {
		if j.JobID == 0 {
			continue
		}
		if opts.User != "" && j.UserName != opts.User {
			continue
		}
		state := normalizeState(j.JobState.First("UNKNOWN"))
		if opts.State != "" && state != opts.State {
			continue
		}
		result = append(result, model.JobDetails{
			JobID:     strconv.FormatInt(j.JobID, 10),
			Name:      j.Name,
			State:     state,
			Submitted: formatTimestamp(j.SubmitTime),
			Runtime:   calculateRuntime(startNum(j.StartTime), startNum(j.EndTime)),
		})
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (a *Adapter) CancelJob(ctx context.Context, jobID, signal string) (model.CancelResult, error) {
	path := "/job/" + jobID
	if signal != "" {
		path += "?signal=" + signal
	}
	var resp cancelResponse
	if err := a.doRequest(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		// A real backend's not-found propagates, unlike the mock's
		// idempotent cancel.
		return model.CancelResult{Success: false, JobID: jobID, Error: err.Error()}, nil
	}
	if len(resp.Errors) > 0 {
		return model.CancelResult{Success: false, JobID: jobID, Error: joinErrors(resp.Errors)}, nil
	}
	return model.CancelResult{
		Success: true,
		JobID:   jobID,
		State:   model.StateCancelled,
		Message: fmt.Sprintf("Job %s cancelled", jobID),
	}, nil
}

// GetJobOutput reports the stdout/stderr paths only: the gateway has no
// view of the cluster filesystem, so the content itself cannot be read.
func (a *Adapter) GetJobOutput(ctx context.Context, jobID string, opts model.OutputOptions) (model.JobOutput, error) {
	job, err := a.GetJob(ctx, jobID)
	if err != nil {
		return model.JobOutput{}, err
	}

	out := model.JobOutput{
		Success: false,
		JobID:   jobID,
		Error:   "output retrieval requires filesystem access; read the reported paths on the cluster",
	}
	if opts.Type == "stdout" || opts.Type == "both" || opts.Type == "" {
		out.StdoutPath = job.StdoutPath
	}
	if opts.Type == "stderr" || opts.Type == "both" {
		out.StderrPath = job.StderrPath
	}
	return out, nil
}

func (a *Adapter) GetQueueStatus(ctx context.Context, detailed bool) (*model.QueueStatus, error) {
	var resp jobsResponse
	if err := a.doRequest(ctx, http.MethodGet, "/jobs", nil, &resp); err != nil {
		return nil, err
	}

	counts := map[string]int{}
	jobs := make([]model.JobDetails, 0, len(resp.Jobs))
	for _, j := range resp.Jobs {
		state := normalizeState(j.JobState.First("UNKNOWN"))
		counts[state]++
		jobs = append(jobs, model.JobDetails{
			JobID:   strconv.FormatInt(j.JobID, 10),
			Name:    j.Name,
			State:   state,
			Runtime: calculateRuntime(startNum(j.StartTime), startNum(j.EndTime)),
		})
	}

	status := &model.QueueStatus{
		Success:   true,
		Cluster:   a.cluster,
		TotalJobs: len(resp.Jobs),
		Running:   counts[model.StateRunning],
		Pending:   counts[model.StatePending],
		Completed: counts[model.StateCompleted],
	}
	if !detailed {
		return status, nil
	}

	failed := counts[model.StateFailed]
	cancelled := counts[model.StateCancelled]
	status.Failed = &failed
	status.Cancelled = &cancelled

	var nodes nodesResponse
	if err := a.doRequest(ctx, http.MethodGet, "/nodes", nil, &nodes); err != nil {
		return nil, err
	}
	util := &model.Utilization{}
	for _, n := range nodes.Nodes {
		util.NodesTotal++
		util.CoresTotal += n.CPUs
		util.CoresAllocated += n.AllocCPUs
		if n.State.Contains("ALLOC") || n.State.Contains("MIXED") {
			util.NodesAllocated++
		}
	}
	status.Util = util

	sort.Slice(jobs, func(i, k int) bool {
		a, _ := strconv.ParseInt(jobs[i].JobID, 10, 64)
		b, _ := strconv.ParseInt(jobs[k].JobID, 10, 64)
		return a > b
	})
	if len(jobs) > 20 {
		jobs = jobs[:20]
	}
	recent := make([]model.RecentJob, 0, len(jobs))
	for _, j := range jobs {
		recent = append(recent, model.RecentJob{JobID: j.JobID, Name: j.Name, State: j.State, Runtime: j.Runtime})
	}
	status.Recent = recent
	return status, nil
}

func (a *Adapter) GetResources(ctx context.Context, detailed bool) (*model.Resources, error) {
	var nodes nodesResponse
	if err := a.doRequest(ctx, http.MethodGet, "/nodes", nil, &nodes); err != nil {
		return nil, err
	}

	res := &model.Resources{Success: true}
	for _, n := range nodes.Nodes {
		res.Nodes.Total++
		res.Cores.Total += n.CPUs
		switch {
		case n.State.Contains("DOWN") || n.State.Contains("DRAIN"):
			res.Nodes.Down++
		case n.State.Contains("ALLOC") || n.State.Contains("MIXED"):
			res.Nodes.Allocated++
			res.Cores.Available += n.CPUs - n.AllocCPUs
		default:
			res.Nodes.Idle++
			res.Cores.Available += n.CPUs - n.AllocCPUs
		}
	}

	if !detailed {
		return res, nil
	}

	var parts partitionsResponse
	if err := a.doRequest(ctx, http.MethodGet, "/partitions", nil, &parts); err != nil {
		return nil, err
	}
	for _, p := range parts.Partitions {
		res.Partitions = append(res.Partitions, model.PartitionInfo{
			Name:             p.Name,
			State:            p.State.First("UNKNOWN"),
			Nodes:            p.TotalNodes,
			MaxTimeLimit:     minutesToClock(p.MaxTime),
			DefaultMemPerCPU: strconv.FormatInt(p.DefMemPerCPU.Number, 10) + "M",
		})
	}
	for _, n := range nodes.Nodes {
		state := "IDLE"
		switch {
		case n.State.Contains("DOWN") || n.State.Contains("DRAIN"):
			state = "DOWN"
		case n.State.Contains("ALLOC") || n.State.Contains("MIXED"):
			state = "ALLOCATED"
		}
		res.NodeDetails = append(res.NodeDetails, model.NodeDetail{
			Name:       n.Name,
			State:      state,
			CPUs:       n.CPUs,
			Memory:     strconv.FormatInt(n.RealMemory, 10) + "M",
			Partitions: n.Partitions,
		})
	}
	return res, nil
}

func (a *Adapter) SubmitBatch(ctx context.Context, params model.BatchParams) (model.BatchResult, error) {
	switch {
	case params.ArraySpec != "":
		return a.submitArray(ctx, params)
	case len(params.Commands) > 0:
		return a.submitBulk(ctx, params)
	default:
		return model.BatchResult{Success: false, Error: "either array_spec or commands must be provided", JobIDs: []string{}, Errors: []model.BatchError{}}, nil
	}
}

// submitArray issues one array submission; the scheduler fans out the
// tasks, so the gateway counts a single attempted item.
func (a *Adapter) submitArray(ctx context.Context, params model.BatchParams) (model.BatchResult, error) {
	spec := params.ArraySpec
	if params.MaxConcurrent > 0 {
		spec = fmt.Sprintf("%s%%%d", spec, params.MaxConcurrent)
	}
	job := a.buildJobProperties(model.JobSubmitParams{
		Script:       params.Script,
		JobName:      params.JobNamePrefix,
		Nodes:        params.Nodes,
		TasksPerNode: params.TasksPerNode,
		TimeLimit:    params.TimeLimit,
	})
	job.Array = spec

	result := model.BatchResult{BatchType: "array", JobIDs: []string{}, Errors: []model.BatchError{}}
	var resp submitResponse
	err := a.doRequest(ctx, http.MethodPost, "/job/submit", submitRequest{Job: job}, &resp)
	switch {
	case err != nil:
		result.Failed = 1
		result.Errors = append(result.Errors, model.BatchError{Index: 0, Command: params.ArraySpec, Error: err.Error()})
	case len(resp.Errors) > 0:
		result.Failed = 1
		result.Errors = append(result.Errors, model.BatchError{Index: 0, Command: params.ArraySpec, Error: joinErrors(resp.Errors)})
	default:
		result.Submitted = 1
		result.JobIDs = append(result.JobIDs, strconv.FormatInt(resp.JobID, 10))
	}
	result.Success = result.Submitted > 0
	return result, nil
}

// submitBulk submits one job per command, collecting per-item failures so
// a partial batch never collapses into a single boolean.
func (a *Adapter) submitBulk(ctx context.Context, params model.BatchParams) (model.BatchResult, error) {
	result := model.BatchResult{BatchType: "bulk", JobIDs: []string{}, Errors: []model.BatchError{}}
	for idx, cmd := range params.Commands {
		if strings.TrimSpace(cmd) == "" {
			result.Failed++
			result.Errors = append(result.Errors, model.BatchError{Index: idx, Command: cmd, Error: "empty command"})
			continue
		}
		name := ""
		if params.JobNamePrefix != "" {
			name = fmt.Sprintf("%s-%d", params.JobNamePrefix, idx)
		}
		sub, err := a.SubmitJob(ctx, model.JobSubmitParams{
			Script:       "#!/bin/bash\n" + cmd + "\n",
			JobName:      name,
			Nodes:        params.Nodes,
			TasksPerNode: params.TasksPerNode,
			TimeLimit:    params.TimeLimit,
		})
		if err != nil || !sub.Success {
			msg := sub.Error
			if err != nil {
				msg = err.Error()
			}
			result.Failed++
			result.Errors = append(result.Errors, model.BatchError{Index: idx, Command: cmd, Error: msg})
			continue
		}
		result.Submitted++
		result.JobIDs = append(result.JobIDs, sub.JobID)
	}
	result.Success = result.Submitted > 0
	return result, nil
}

func (a *Adapter) Close(ctx context.Context) error {
	a.client.CloseIdleConnections()
	if a.acct != nil {
		return a.acct.Close()
	}
	return nil
}
