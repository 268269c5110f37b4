package flux

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"schedgw/config"
	"schedgw/internal/pkg/backend"
	"schedgw/internal/pkg/client/kube"
	"schedgw/internal/pkg/model"
)

const (
	defaultFluxURI   = "local:///mnt/flux/view/run/flux/local"
	defaultContainer = "flux-sample"

	// Field order of the flux jobs -o format string used by GetJob.
	jobFieldCount = 11
)

// stateMap relabels Flux job states into the unified vocabulary. INACTIVE
// covers every finished job; the result tag disambiguates the outcome.
// Unmapped states pass through unchanged.
var stateMap = map[string]string{
	"DEPEND":   model.StatePending,
	"SCHED":    model.StatePending,
	"RUN":      model.StateRunning,
	"INACTIVE": model.StateCompleted,
	"CANCELED": model.StateCancelled,
	"TIMEOUT":  model.StateTimeout,
}

// listFilterMap maps a unified state filter onto flux jobs --filter values.
var listFilterMap = map[string]string{
	model.StatePending:   "DEPEND,SCHED",
	model.StateRunning:   "RUN",
	model.StateCompleted: "INACTIVE",
	model.StateFailed:    "INACTIVE",
	model.StateCancelled: "CANCELED",
}

// Adapter drives a Flux MiniCluster by running the flux CLI inside its
// leader pod. Pods are discovered by the job-name label the operator puts
// on MiniCluster pods.
type Adapter struct {
	cluster     string
	namespace   string
	minicluster string
	fluxURI     string
	container   string
	exec        kube.PodExecutor
	logger      *slog.Logger
}

func New(cfg config.Cluster, exec kube.PodExecutor, logger *slog.Logger) *Adapter {
	uri := cfg.FluxURI
	if uri == "" {
		uri = defaultFluxURI
	}
	container := cfg.Container
	if container == "" {
		container = defaultContainer
	}
	return &Adapter{
		cluster:     cfg.Name,
		namespace:   cfg.Namespace,
		minicluster: cfg.Minicluster,
		fluxURI:     uri,
		container:   container,
		exec:        exec,
		logger:      logger,
	}
}

// execFlux runs one command in the MiniCluster leader pod with FLUX_URI
// exported. The argv is passed through "$@" so no argument ever goes
// through shell interpolation.
func (a *Adapter) execFlux(ctx context.Context, command []string, stdin string) (string, error) {
	pod, err := a.exec.FindPod(ctx, a.namespace, "job-name="+a.minicluster)
	if err != nil {
		return "", fmt.Errorf("%w: cluster %s: %v", backend.ErrUnavailable, a.cluster, err)
	}

	full := append([]string{"sh", "-c", fmt.Sprintf("export FLUX_URI=%q; exec \"$@\"", a.fluxURI), "--"}, command...)
	stdout, stderr, err := a.exec.Exec(ctx, a.namespace, pod, a.container, full, stdin)
	if err != nil {
		return stdout, fmt.Errorf("%w: cluster %s: exec in pod %s failed: %v", backend.ErrUnavailable, a.cluster, pod, err)
	}
	if strings.TrimSpace(stderr) != "" {
		return stdout, fmt.Errorf("cluster %s: command %s failed: %s", a.cluster, strings.Join(command, " "), strings.TrimSpace(stderr))
	}
	return stdout, nil
}

// SubmitJob writes the script to a unique temp path inside the pod
// (base64 over stdin sidesteps shell quoting) and points flux submit at
// it; the CLI's stdin-script mode proved unreliable against the runtime.
// The temp file is removed in a cleanup step that always runs.
func (a *Adapter) SubmitJob(ctx context.Context, params model.JobSubmitParams) (model.JobSubmitResult, error) {
	tempScript := fmt.Sprintf("/tmp/flux_script_%s.sh", randomID())

	encoded := base64.StdEncoding.EncodeToString([]byte(params.Script))
	writeCmd := []string{"sh", "-c", fmt.Sprintf("base64 -d > %s && chmod +x %s", tempScript, tempScript)}
	if _, err := a.execFlux(ctx, writeCmd, encoded); err != nil {
		return model.JobSubmitResult{Success: false, Error: err.Error()}, nil
	}
	defer func() {
		// Cleanup failure must never mask the submission outcome.
		if _, err := a.execFlux(ctx, []string{"rm", "-f", tempScript}, ""); err != nil {
			a.logger.Warn("failed to remove temp script", "cluster", a.cluster, "path", tempScript, "err", err)
		}
	}()

	cmd := []string{"flux", "submit"}
	if params.JobName != "" {
		cmd = append(cmd, "--setattr", "user.name="+params.JobName)
	}
	if params.Nodes > 0 {
		cmd = append(cmd, "-N", strconv.Itoa(params.Nodes))
	}
	if params.TasksPerNode > 0 {
		cmd = append(cmd, "-n", strconv.Itoa(params.TasksPerNode))
	}
	if params.CPUsPerTask > 0 {
		cmd = append(cmd, "-c", strconv.Itoa(params.CPUsPerTask))
	}
	if params.TimeLimit != "" {
		cmd = append(cmd, "-t", params.TimeLimit)
	}
	if params.OutputPath != "" {
		cmd = append(cmd, "-o", params.OutputPath)
	}
	if params.ErrorPath != "" {
		cmd = append(cmd, "-e", params.ErrorPath)
	}
	cwd := params.WorkingDir
	if cwd == "" {
		cwd = "/tmp"
	}
	cmd = append(cmd, "--cwd", cwd, tempScript)

	output, err := a.execFlux(ctx, cmd, "")
	if err != nil {
		return model.JobSubmitResult{Success: false, Error: err.Error()}, nil
	}

	// flux submit prints the job id (ƒxxxxx) on success.
	jobID := strings.TrimSpace(output)
	if jobID == "" {
		return model.JobSubmitResult{Success: false, Error: "no job id returned by flux submit"}, nil
	}
	return model.JobSubmitResult{Success: true, JobID: jobID, State: model.StatePending}, nil
}

func (a *Adapter) GetJob(ctx context.Context, jobID string) (*model.JobDetails, error) {
	// -a includes inactive jobs but excludes --filter, so fetch all and
	// pick the line locally.
	output, err := a.execFlux(ctx, []string{
		"flux", "jobs", "-a", "--no-header",
		"-o", "{id},{name},{state},{t_submit},{t_run},{t_inactive},{result},{nnodes},{ntasks},{duration},{runtime}",
	}, "")
	if err != nil {
		return nil, err
	}

	var line string
	for _, l := range strings.Split(strings.TrimSpace(output), "\n") {
		if strings.HasPrefix(l, jobID+",") {
			line = l
			break
		}
	}
	if line == "" {
		return nil, fmt.Errorf("%w: job %s on cluster %s", backend.ErrNotFound, jobID, a.cluster)
	}

	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < jobFieldCount {
		return nil, fmt.Errorf("cluster %s: invalid job line for %s: got %d fields, expected %d", a.cluster, jobID, len(fields), jobFieldCount)
	}

	name := fields[1]
	if name == "" {
		name = "unnamed"
	}
	state := normalizeState(fields[2])

	details := &model.JobDetails{
		JobID:     fields[0],
		Name:      name,
		State:     state,
		Submitted: fluxTimestamp(fields[3]),
		Runtime:   parseFluxDuration(fields[10]),
		ExitCode:  exitCodeFromResult(fields[6]),

		User:      "flux",
		Partition: "default",
		Started:   fluxTimestampPtr(fields[4]),
		Ended:     fluxTimestampPtr(fields[5]),
		TimeLimit: parseFluxDuration(fields[9]),
		Resources: &model.ResourceAlloc{
			Nodes:       atoiOrZero(fields[7]),
			Tasks:       atoiOrZero(fields[8]),
			CPUsPerTask: 1,
			Memory:      "N/A",
		},
		AllocatedNodes:   []string{},
		WorkingDirectory: "/tmp",
	}
	return details, nil
}

func (a *Adapter) ListJobs(ctx context.Context, opts model.ListJobsOptions) ([]model.JobDetails, error) {
	cmd := []string{"flux", "jobs", "-a", "--no-header", "-o", "{id},{name},{state},{t_submit},{runtime}"}
	if opts.State != "" {
		fluxStates, ok := listFilterMap[opts.State]
		if !ok {
			fluxStates = opts.State
		}
		cmd = append(cmd, "--filter", "state="+fluxStates)
	}

	output, err := a.execFlux(ctx, cmd, "")
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	result := make([]model.JobDetails, 0, limit)
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			a.logger.Warn("invalid flux jobs line, skip", "cluster", a.cluster, "line", line)
			continue
		}
		name := fields[1]
		if name == "" {
			name = "unnamed"
		}
		result = append(result, model.JobDetails{
			JobID:     fields[0],
			Name:      name,
			State:     normalizeState(fields[2]),
			Submitted: fluxTimestamp(fields[3]),
			Runtime:   parseFluxDuration(fields[4]),
		})
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (a *Adapter) CancelJob(ctx context.Context, jobID, signal string) (model.CancelResult, error) {
	signalMap := map[string]string{"TERM": "SIGTERM", "KILL": "SIGKILL", "INT": "SIGINT"}
	fluxSignal, ok := signalMap[signal]
	if !ok {
		fluxSignal = "SIGTERM"
	}

	if _, err := a.execFlux(ctx, []string{"flux", "cancel", "--signal", fluxSignal, jobID}, ""); err != nil {
		return model.CancelResult{Success: false, JobID: jobID, Error: err.Error()}, nil
	}
	return model.CancelResult{
		Success: true,
		JobID:   jobID,
		State:   model.StateCancelled,
		Message: fmt.Sprintf("Job %s cancelled with %s", jobID, fluxSignal),
	}, nil
}

func (a *Adapter) GetJobOutput(ctx context.Context, jobID string, opts model.OutputOptions) (model.JobOutput, error) {
	out := model.JobOutput{Success: true, JobID: jobID}

	if opts.Type == "stdout" || opts.Type == "both" || opts.Type == "" {
		stdout, err := a.execFlux(ctx, []string{"flux", "job", "attach", jobID}, "")
		if err != nil {
			return model.JobOutput{Success: false, JobID: jobID, Error: err.Error()}, nil
		}
		out.Stdout = stdout
	}
	if opts.Type == "stderr" || opts.Type == "both" {
		// flux job attach interleaves stderr into the same stream; a
		// separate channel would need eventlog parsing.
		out.Stderr = ""
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
	return nil, backend.NotImplementedf("get_queue_status", "flux")
}

func (a *Adapter) GetResources(ctx context.Context, detailed bool) (*model.Resources, error) {
	return nil, backend.NotImplementedf("get_resources", "flux")
}

func (a *Adapter) GetAccounting(ctx context.Context, q model.AccountingQuery) (*model.AccountingResult, error) {
	return nil, backend.NotImplementedf("get_accounting", "flux")
}

func (a *Adapter) SubmitBatch(ctx context.Context, params model.BatchParams) (model.BatchResult, error) {
	return model.BatchResult{}, backend.NotImplementedf("submit_batch", "flux")
}

// Close has nothing to tear down: every exec opens and closes its own
// stream.
func (a *Adapter) Close(ctx context.Context) error { return nil }

func normalizeState(s string) string {
	if mapped, ok := stateMap[s]; ok {
		return mapped
	}
	return s
}

// exitCodeFromResult derives the exit code from the terminal result tag.
// Flux reports outcome and process return code separately and not always
// consistently, so the tag wins.
func exitCodeFromResult(result string) *int {
	switch result {
	case "COMPLETED":
		code := 0
		return &code
	case "FAILED":
		code := 1
		return &code
	default:
		return nil
	}
}

func fluxTimestamp(raw string) string {
	if raw == "" || raw == "-" {
		return ""
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs == 0 {
		return ""
	}
	return time.Unix(int64(secs), 0).UTC().Format(time.RFC3339)
}

func fluxTimestampPtr(raw string) *string {
	s := fluxTimestamp(raw)
	if s == "" {
		return nil
	}
	return &s
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func randomID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return hex.EncodeToString([]byte(strconv.FormatInt(time.Now().UnixNano(), 16)))[:8]
	}
	return hex.EncodeToString(b[:])
}
