package slurm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"schedgw/config"
	"schedgw/internal/pkg/backend"
	"schedgw/internal/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAdapter(t *testing.T, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.Cluster{
		Name:     "hpc",
		Type:     "slurm",
		Endpoint: srv.URL,
		Auth:     config.Auth{User: "alice", Token: "secret"},
	}
	return New(cfg, nil, nil, testLogger())
}

func TestSubmitJobSuccess(t *testing.T) {
	var gotPath, gotUser, gotToken string
	var gotBody submitRequest
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser = r.Header.Get("X-SLURM-USER-NAME")
		gotToken = r.Header.Get("X-SLURM-USER-TOKEN")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"job_id": 42, "errors": []}`)
	})

	result, err := a.SubmitJob(context.Background(), model.JobSubmitParams{
		Script:  "#!/bin/bash\necho hi\n",
		JobName: "hello",
		Nodes:   2,
	})
	if err != nil {
		t.Fatalf("SubmitJob returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.JobID != "42" {
		t.Errorf("job id expected 42, got %q", result.JobID)
	}
	if result.State != model.StatePending {
		t.Errorf("state expected PENDING, got %q", result.State)
	}
	if gotPath != "/slurm/v0.0.40/job/submit" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotUser != "alice" || gotToken != "secret" {
		t.Errorf("auth headers expected alice/secret, got %q/%q", gotUser, gotToken)
	}
	if gotBody.Job.Script != "#!/bin/bash\necho hi\n" {
		t.Errorf("script not forwarded, got %q", gotBody.Job.Script)
	}
	if gotBody.Job.Nodes != 2 {
		t.Errorf("nodes expected 2, got %d", gotBody.Job.Nodes)
	}
}

func TestSubmitJobAPIError(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"job_id": 0, "errors": [{"error": "invalid partition"}]}`)
	})

	result, err := a.SubmitJob(context.Background(), model.JobSubmitParams{Script: "#!/bin/sh\n"})
	if err != nil {
		t.Fatalf("submission failure must surface in the result, not as an error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, "invalid partition") {
		t.Errorf("error expected to mention invalid partition, got %q", result.Error)
	}
}

func TestSubmitJobUnreachable(t *testing.T) {
	cfg := config.Cluster{Name: "hpc", Endpoint: "http://127.0.0.1:1", Auth: config.Auth{User: "alice"}}
	a := New(cfg, nil, nil, testLogger())

	result, err := a.SubmitJob(context.Background(), model.JobSubmitParams{Script: "#!/bin/sh\n"})
	if err != nil {
		t.Fatalf("connection failure must surface in the result: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure against unreachable endpoint")
	}
}

func TestGetJobRunning(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/slurm/v0.0.40/job/42" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"jobs": [{
			"job_id": 42,
			"name": "hello",
			"user_name": "alice",
			"partition": "debug",
			"job_state": ["RUNNING"],
			"submit_time": {"set": true, "infinite": false, "number": 1700000000},
			"start_time": {"set": true, "infinite": false, "number": 1700000100},
			"end_time": {"set": false, "infinite": false, "number": 0},
			"time_limit": {"set": true, "infinite": false, "number": 60},
			"node_count": {"set": true, "infinite": false, "number": 2},
			"nodes": "node[1-2]",
			"exit_code": {"status": ["PENDING"], "return_code": {"set": false, "infinite": false, "number": 0}}
		}], "errors": []}`)
	})

	job, err := a.GetJob(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.State != model.StateRunning {
		t.Errorf("state expected RUNNING, got %q", job.State)
	}
	wantSubmitted := time.Unix(1700000000, 0).UTC().Format(time.RFC3339)
	if job.Submitted != wantSubmitted {
		t.Errorf("submitted expected %q, got %q", wantSubmitted, job.Submitted)
	}
	if job.Started == nil {
		t.Error("started expected for a running job")
	}
	if job.Ended != nil {
		t.Errorf("ended expected nil, got %q", *job.Ended)
	}
	if job.ExitCode != nil {
		t.Errorf("running job must have no exit code, got %d", *job.ExitCode)
	}
	if job.TimeLimit != "01:00:00" {
		t.Errorf("time limit expected 01:00:00, got %q", job.TimeLimit)
	}
}

func TestGetJobCompletedExitCode(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jobs": [{
			"job_id": 43,
			"name": "done",
			"job_state": "COMPLETED",
			"submit_time": {"set": true, "number": 1700000000},
			"start_time": {"set": true, "number": 1700000000},
			"end_time": {"set": true, "number": 1700003600},
			"exit_code": {"status": ["SUCCESS"], "return_code": {"set": true, "number": 0}}
		}], "errors": []}`)
	})

	job, err := a.GetJob(context.Background(), "43")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.State != model.StateCompleted {
		t.Errorf("scalar job_state must parse too, got %q", job.State)
	}
	if job.ExitCode == nil || *job.ExitCode != 0 {
		t.Errorf("exit code expected 0, got %v", job.ExitCode)
	}
	if job.Runtime != "01:00:00" {
		t.Errorf("runtime expected 01:00:00, got %q", job.Runtime)
	}
}

func TestGetJobNotFound(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if _, err := a.GetJob(context.Background(), "99"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	a = testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jobs": [], "errors": []}`)
	})
	if _, err := a.GetJob(context.Background(), "99"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("empty jobs list expected ErrNotFound, got %v", err)
	}
}

const listJobsBody = `{"jobs": [
	{"job_id": 1, "name": "a1", "user_name": "alice", "job_state": ["RUNNING"], "submit_time": {"set": true, "number": 1700000000}},
	{"job_id": 2, "name": "b1", "user_name": "bob", "job_state": ["PENDING"], "submit_time": {"set": true, "number": 1700000001}},
	{"job_id": 3, "name": "a2", "user_name": "alice", "job_state": ["COMPLETED"], "submit_time": {"set": true, "number": 1700000002}}
], "errors": []}`

func TestListJobsFilters(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listJobsBody)
	})

	jobs, err := a.ListJobs(context.Background(), model.ListJobsOptions{User: "alice"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("user filter expected 2 jobs, got %d", len(jobs))
	}

	jobs, err = a.ListJobs(context.Background(), model.ListJobsOptions{State: model.StateRunning})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].JobID != "1" {
		t.Fatalf("state filter expected job 1 only, got %+v", jobs)
	}

	jobs, err = a.ListJobs(context.Background(), model.ListJobsOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("limit expected 2 jobs, got %d", len(jobs))
	}
}

func TestCancelJob(t *testing.T) {
	var gotMethod, gotSignal string
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotSignal = r.URL.Query().Get("signal")
		fmt.Fprint(w, `{"errors": []}`)
	})

	result, err := a.CancelJob(context.Background(), "42", "KILL")
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if !result.Success || result.State != model.StateCancelled {
		t.Fatalf("expected cancelled, got %+v", result)
	}
	if gotMethod != http.MethodDelete || gotSignal != "KILL" {
		t.Errorf("expected DELETE with signal=KILL, got %s signal=%q", gotMethod, gotSignal)
	}
}

func TestCancelJobNotFoundPropagates(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	result, err := a.CancelJob(context.Background(), "99", "TERM")
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if result.Success {
		t.Fatal("cancelling an unknown job on a real backend must fail")
	}
	if !strings.Contains(result.Error, "not found") {
		t.Errorf("error expected to mention not found, got %q", result.Error)
	}
}

func TestGetJobOutputPathsOnly(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jobs": [{
			"job_id": 42,
			"name": "hello",
			"job_state": ["RUNNING"],
			"standard_output": "/home/alice/job.out",
			"standard_error": "/home/alice/job.err"
		}], "errors": []}`)
	})

	out, err := a.GetJobOutput(context.Background(), "42", model.OutputOptions{Type: "both"})
	if err != nil {
		t.Fatalf("GetJobOutput: %v", err)
	}
	if out.Success {
		t.Error("content retrieval must report unsupported")
	}
	if out.StdoutPath != "/home/alice/job.out" || out.StderrPath != "/home/alice/job.err" {
		t.Errorf("paths not reported: %+v", out)
	}
	if out.Stdout != "" {
		t.Errorf("no content expected, got %q", out.Stdout)
	}
}

func TestGetQueueStatus(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/slurm/v0.0.40/jobs":
			fmt.Fprint(w, listJobsBody)
		case "/slurm/v0.0.40/nodes":
			fmt.Fprint(w, `{"nodes": [
				{"name": "n1", "state": ["ALLOCATED"], "cpus": 64, "alloc_cpus": 64},
				{"name": "n2", "state": ["IDLE"], "cpus": 64, "alloc_cpus": 0}
			], "errors": []}`)
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	})

	status, err := a.GetQueueStatus(context.Background(), false)
	if err != nil {
		t.Fatalf("GetQueueStatus: %v", err)
	}
	if status.TotalJobs != 3 || status.Running != 1 || status.Pending != 1 || status.Completed != 1 {
		t.Fatalf("unexpected counts: %+v", status)
	}
	if status.Util != nil || status.Recent != nil || status.Failed != nil {
		t.Fatal("concise status must omit detailed fields")
	}

	status, err = a.GetQueueStatus(context.Background(), true)
	if err != nil {
		t.Fatalf("GetQueueStatus detailed: %v", err)
	}
	if status.Failed == nil || *status.Failed != 0 {
		t.Errorf("failed count expected 0, got %v", status.Failed)
	}
	if status.Util == nil || status.Util.NodesTotal != 2 || status.Util.NodesAllocated != 1 {
		t.Errorf("unexpected utilization: %+v", status.Util)
	}
	if status.Util.CoresTotal != 128 || status.Util.CoresAllocated != 64 {
		t.Errorf("unexpected core counts: %+v", status.Util)
	}
	if len(status.Recent) != 3 || status.Recent[0].JobID != "3" {
		t.Errorf("recent jobs expected newest first, got %+v", status.Recent)
	}
}

func TestGetQueueStatusRecentOrdersNumerically(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/slurm/v0.0.40/jobs":
			fmt.Fprint(w, `{"jobs": [
				{"job_id": 9, "name": "a", "job_state": ["RUNNING"]},
				{"job_id": 10, "name": "b", "job_state": ["RUNNING"]},
				{"job_id": 100, "name": "c", "job_state": ["PENDING"]}
			], "errors": []}`)
		case "/slurm/v0.0.40/nodes":
			fmt.Fprint(w, `{"nodes": [], "errors": []}`)
		default:
			http.NotFound(w, r)
		}
	})

	status, err := a.GetQueueStatus(context.Background(), true)
	if err != nil {
		t.Fatalf("GetQueueStatus: %v", err)
	}
	got := make([]string, 0, len(status.Recent))
	for _, j := range status.Recent {
		got = append(got, j.JobID)
	}
	want := []string{"100", "10", "9"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("ids must order numerically across digit widths, got %v", got)
		}
	}
}

func TestGetResources(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/slurm/v0.0.40/nodes":
			fmt.Fprint(w, `{"nodes": [
				{"name": "n1", "state": ["IDLE"], "cpus": 64, "alloc_cpus": 0, "real_memory": 262144, "partitions": ["debug"]},
				{"name": "n2", "state": ["MIXED"], "cpus": 64, "alloc_cpus": 32, "real_memory": 262144, "partitions": ["batch"]},
				{"name": "n3", "state": ["IDLE+DRAIN"], "cpus": 64, "alloc_cpus": 0, "real_memory": 262144, "partitions": ["batch"]}
			], "errors": []}`)
		case "/slurm/v0.0.40/partitions":
			fmt.Fprint(w, `{"partitions": [
				{"name": "debug", "state": ["UP"], "total_nodes": 1, "max_time": {"set": true, "number": 60}, "def_mem_per_cpu": {"set": true, "number": 2048}}
			], "errors": []}`)
		}
	})

	res, err := a.GetResources(context.Background(), false)
	if err != nil {
		t.Fatalf("GetResources: %v", err)
	}
	if res.Nodes.Total != 3 || res.Nodes.Idle != 1 || res.Nodes.Allocated != 1 || res.Nodes.Down != 1 {
		t.Fatalf("unexpected node counts: %+v", res.Nodes)
	}
	// Drained node contributes no available cores.
	if res.Cores.Total != 192 || res.Cores.Available != 96 {
		t.Fatalf("unexpected core counts: %+v", res.Cores)
	}
	if res.Partitions != nil {
		t.Fatal("concise resources must omit partitions")
	}

	res, err = a.GetResources(context.Background(), true)
	if err != nil {
		t.Fatalf("GetResources detailed: %v", err)
	}
	if len(res.Partitions) != 1 || res.Partitions[0].MaxTimeLimit != "01:00:00" {
		t.Errorf("unexpected partitions: %+v", res.Partitions)
	}
	if len(res.NodeDetails) != 3 || res.NodeDetails[2].State != "DOWN" {
		t.Errorf("drained node expected DOWN, got %+v", res.NodeDetails)
	}
}

func TestSubmitBatchBulkPartialFailure(t *testing.T) {
	next := int64(100)
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		next++
		fmt.Fprintf(w, `{"job_id": %d, "errors": []}`, next)
	})

	result, err := a.SubmitBatch(context.Background(), model.BatchParams{
		Script:        "#!/bin/bash\n",
		Commands:      []string{"echo one", "   ", "echo three"},
		JobNamePrefix: "batch",
	})
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if result.BatchType != "bulk" {
		t.Errorf("batch type expected bulk, got %q", result.BatchType)
	}
	if result.Submitted != 2 || result.Failed != 1 {
		t.Fatalf("expected 2 submitted / 1 failed, got %d/%d", result.Submitted, result.Failed)
	}
	if result.Submitted+result.Failed != 3 {
		t.Error("submitted+failed must equal attempted items")
	}
	if len(result.Errors) != result.Failed {
		t.Fatalf("len(errors) must equal failed, got %d vs %d", len(result.Errors), result.Failed)
	}
	if result.Errors[0].Index != 1 {
		t.Errorf("failure index expected 1, got %d", result.Errors[0].Index)
	}
	if !result.Success {
		t.Error("partial success still counts as success")
	}
}

func TestSubmitBatchArray(t *testing.T) {
	var gotBody submitRequest
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"job_id": 50, "errors": []}`)
	})

	result, err := a.SubmitBatch(context.Background(), model.BatchParams{
		Script:        "#!/bin/bash\n",
		ArraySpec:     "1-10",
		MaxConcurrent: 2,
	})
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if gotBody.Job.Array != "1-10%2" {
		t.Errorf("array spec expected 1-10%%2, got %q", gotBody.Job.Array)
	}
	// The scheduler fans the array out itself; the gateway attempted one item.
	if result.Submitted != 1 || len(result.JobIDs) != 1 || result.JobIDs[0] != "50" {
		t.Errorf("unexpected result: %+v", result)
	}
}

type fakeExecutor struct {
	stdout string
	stderr string
	err    error
	calls  [][]string
}

func (f *fakeExecutor) FindPod(ctx context.Context, namespace, labelSelector string) (string, error) {
	return "pod-0", nil
}

func (f *fakeExecutor) Exec(ctx context.Context, namespace, pod, container string, command []string, stdin string) (string, string, error) {
	f.calls = append(f.calls, command)
	return f.stdout, f.stderr, f.err
}

func TestTokenMinting(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-SLURM-USER-TOKEN")
		fmt.Fprint(w, `{"jobs": [], "errors": []}`)
	}))
	t.Cleanup(srv.Close)

	exec := &fakeExecutor{stdout: "SLURM_JWT=minted-token\n"}
	cfg := config.Cluster{
		Name:          "hpc",
		Endpoint:      srv.URL,
		Namespace:     "slurm",
		ControllerPod: "slurm-controller-0",
		Auth:          config.Auth{User: "alice"},
	}
	a := New(cfg, nil, exec, testLogger())

	if _, err := a.ListJobs(context.Background(), model.ListJobsOptions{}); err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if gotToken != "minted-token" {
		t.Fatalf("minted token expected on the request, got %q", gotToken)
	}
	if len(exec.calls) != 1 || exec.calls[0][0] != "scontrol" {
		t.Fatalf("expected one scontrol invocation, got %+v", exec.calls)
	}

	// Second request reuses the cached token.
	if _, err := a.ListJobs(context.Background(), model.ListJobsOptions{}); err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("token must be minted once, got %d calls", len(exec.calls))
	}
}

func TestTokenMintingFailureProceeds(t *testing.T) {
	var sawToken bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawToken = r.Header.Get("X-SLURM-USER-TOKEN") != ""
		fmt.Fprint(w, `{"jobs": [], "errors": []}`)
	}))
	t.Cleanup(srv.Close)

	exec := &fakeExecutor{err: errors.New("pod unreachable")}
	cfg := config.Cluster{
		Name:          "hpc",
		Endpoint:      srv.URL,
		ControllerPod: "slurm-controller-0",
		Auth:          config.Auth{User: "alice"},
	}
	a := New(cfg, nil, exec, testLogger())

	if _, err := a.ListJobs(context.Background(), model.ListJobsOptions{}); err != nil {
		t.Fatalf("minting failure must not block the request: %v", err)
	}
	if sawToken {
		t.Fatal("no token header expected after minting failure")
	}
}

func TestGetAccountingWithoutDatabase(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := a.GetAccounting(context.Background(), model.AccountingQuery{})
	if !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable without accounting config, got %v", err)
	}
}

func TestStateNormalization(t *testing.T) {
	cases := []struct{ in, want string }{
		{"PENDING", model.StatePending},
		{"NODE_FAIL", model.StateFailed},
		{"PREEMPTED", model.StateCancelled},
		{"COMPLETING", model.StateRunning},
		{"SPECIAL_EXIT", "SPECIAL_EXIT"},
	}
	for _, c := range cases {
		if got := normalizeState(c.in); got != c.want {
			t.Errorf("normalizeState(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFormatTimestampNeverEpochZero(t *testing.T) {
	if got := formatTimestamp(noVal{Set: false, Number: 1700000000}); got != "" {
		t.Errorf("unset timestamp expected empty, got %q", got)
	}
	if got := formatTimestamp(noVal{Set: true, Number: 0}); got != "" {
		t.Errorf("zero timestamp expected empty, got %q", got)
	}
}
