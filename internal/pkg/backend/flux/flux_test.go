package flux

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"schedgw/config"
	"schedgw/internal/pkg/backend"
	"schedgw/internal/pkg/model"
)

type execCall struct {
	command []string
	stdin   string
}

type execResponse struct {
	stdout string
	stderr string
	err    error
}

type fakeExecutor struct {
	findErr   error
	responses []execResponse
	calls     []execCall
}

func (f *fakeExecutor) FindPod(ctx context.Context, namespace, labelSelector string) (string, error) {
	if f.findErr != nil {
		return "", f.findErr
	}
	return "minicluster-0", nil
}

func (f *fakeExecutor) Exec(ctx context.Context, namespace, pod, container string, command []string, stdin string) (string, string, error) {
	f.calls = append(f.calls, execCall{command: command, stdin: stdin})
	if len(f.responses) == 0 {
		return "", "", nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r.stdout, r.stderr, r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAdapter(exec *fakeExecutor) *Adapter {
	return New(config.Cluster{
		Name:        "flux-demo",
		Type:        "flux",
		Namespace:   "flux",
		Minicluster: "demo",
	}, exec, testLogger())
}

func TestParseFluxDuration(t *testing.T) {
	cases := []struct{ in, want string }{
		{"60", "00:01:00"},
		{"90.5", "00:01:30"},
		{"1h", "01:00:00"},
		{"90m", "01:30:00"},
		{"30m", "00:30:00"},
		{"1d", "24:00:00"},
		{"", "00:00:00"},
		{"-", "00:00:00"},
		{"bogus", "00:00:00"},
	}
	for _, c := range cases {
		if got := parseFluxDuration(c.in); got != c.want {
			t.Errorf("parseFluxDuration(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSubmitJobTempScript(t *testing.T) {
	// Responses in call order: script write, flux submit, cleanup.
	exec := &fakeExecutor{responses: []execResponse{
		{},
		{stdout: "ƒAbCd12\n"},
		{},
	}}
	a := testAdapter(exec)

	script := "#!/bin/bash\necho hi\n"
	result, err := a.SubmitJob(context.Background(), model.JobSubmitParams{
		Script:    script,
		JobName:   "hello",
		Nodes:     2,
		TimeLimit: "30m",
	})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if !result.Success || result.JobID != "ƒAbCd12" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(exec.calls) != 3 {
		t.Fatalf("expected write/submit/cleanup calls, got %d", len(exec.calls))
	}

	// The script travels base64-encoded over stdin, never through argv.
	write := exec.calls[0]
	if write.stdin != base64.StdEncoding.EncodeToString([]byte(script)) {
		t.Errorf("stdin expected base64 script, got %q", write.stdin)
	}
	if !strings.Contains(strings.Join(write.command, " "), "base64 -d >") {
		t.Errorf("write command expected base64 decode, got %v", write.command)
	}

	submit := strings.Join(exec.calls[1].command, " ")
	for _, frag := range []string{"flux submit", "user.name=hello", "-N 2", "-t 30m", "--cwd /tmp"} {
		if !strings.Contains(submit, frag) {
			t.Errorf("submit command missing %q: %s", frag, submit)
		}
	}
	if !strings.Contains(strings.Join(exec.calls[2].command, " "), "rm -f /tmp/flux_script_") {
		t.Errorf("cleanup expected, got %v", exec.calls[2].command)
	}
}

func TestSubmitJobCleanupRunsOnFailure(t *testing.T) {
	// The submit call fails; the write before and the cleanup after succeed.
	exec := &fakeExecutor{responses: []execResponse{
		{},
		{stderr: "flux-submit: bad option"},
		{},
	}}
	a := testAdapter(exec)

	result, err := a.SubmitJob(context.Background(), model.JobSubmitParams{Script: "#!/bin/sh\n"})
	if err != nil {
		t.Fatalf("submit failure must surface in the result: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, "bad option") {
		t.Errorf("stderr expected in error, got %q", result.Error)
	}
	if len(exec.calls) != 3 {
		t.Fatalf("cleanup must run after a failed submit, got %d calls", len(exec.calls))
	}
}

func TestSubmitJobPodUnavailable(t *testing.T) {
	exec := &fakeExecutor{findErr: errors.New("no pods found")}
	a := testAdapter(exec)

	result, err := a.SubmitJob(context.Background(), model.JobSubmitParams{Script: "#!/bin/sh\n"})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure without a reachable pod")
	}
}

func TestGetJob(t *testing.T) {
	exec := &fakeExecutor{responses: []execResponse{{stdout: strings.Join([]string{
		"ƒAbCd12,hello,INACTIVE,1700000000.0,1700000100.0,1700003700.0,COMPLETED,2,4,1h,3600.0",
		"ƒZz9988,other,RUN,1700000000.0,1700000100.0,-,-,1,1,30m,120.0",
	}, "\n")}}}
	a := testAdapter(exec)

	job, err := a.GetJob(context.Background(), "ƒAbCd12")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.JobID != "ƒAbCd12" || job.Name != "hello" {
		t.Errorf("unexpected identity: %+v", job)
	}
	if job.State != model.StateCompleted {
		t.Errorf("INACTIVE expected COMPLETED, got %q", job.State)
	}
	if job.ExitCode == nil || *job.ExitCode != 0 {
		t.Errorf("COMPLETED result expected exit 0, got %v", job.ExitCode)
	}
	if job.Runtime != "01:00:00" {
		t.Errorf("runtime expected 01:00:00, got %q", job.Runtime)
	}
	if job.Started == nil || job.Ended == nil {
		t.Error("finished job expected started and ended timestamps")
	}
	if job.Resources == nil || job.Resources.Nodes != 2 || job.Resources.Tasks != 4 {
		t.Errorf("unexpected resources: %+v", job.Resources)
	}

	cmd := strings.Join(exec.calls[0].command, " ")
	if !strings.Contains(cmd, "export FLUX_URI=") {
		t.Errorf("FLUX_URI export expected, got %s", cmd)
	}
	if !strings.Contains(cmd, defaultFluxURI) {
		t.Errorf("default FLUX_URI expected, got %s", cmd)
	}
}

func TestGetJobNotFound(t *testing.T) {
	exec := &fakeExecutor{responses: []execResponse{{stdout: "ƒZz9988,other,RUN,1700000000.0,1700000100.0,-,-,1,1,30m,120.0\n"}}}
	a := testAdapter(exec)

	_, err := a.GetJob(context.Background(), "ƒMissing")
	if !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetJobMalformedLine(t *testing.T) {
	exec := &fakeExecutor{responses: []execResponse{{stdout: "ƒAbCd12,hello,RUN\n"}}}
	a := testAdapter(exec)

	if _, err := a.GetJob(context.Background(), "ƒAbCd12"); err == nil {
		t.Fatal("expected error for truncated job line")
	}
}

func TestListJobsStateFilter(t *testing.T) {
	exec := &fakeExecutor{responses: []execResponse{{stdout: strings.Join([]string{
		"ƒ111111,one,DEPEND,1700000000.0,0.0",
		"ƒ222222,two,SCHED,1700000001.0,0.0",
	}, "\n")}}}
	a := testAdapter(exec)

	jobs, err := a.ListJobs(context.Background(), model.ListJobsOptions{State: model.StatePending})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.State != model.StatePending {
			t.Errorf("DEPEND/SCHED expected PENDING, got %q", j.State)
		}
	}

	cmd := strings.Join(exec.calls[0].command, " ")
	if !strings.Contains(cmd, "--filter state=DEPEND,SCHED") {
		t.Errorf("PENDING must map onto both flux pending states, got %s", cmd)
	}
}

func TestCancelJobSignalMapping(t *testing.T) {
	exec := &fakeExecutor{}
	a := testAdapter(exec)

	result, err := a.CancelJob(context.Background(), "ƒAbCd12", "KILL")
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if !result.Success || result.State != model.StateCancelled {
		t.Fatalf("unexpected result: %+v", result)
	}
	cmd := strings.Join(exec.calls[0].command, " ")
	if !strings.Contains(cmd, "flux cancel --signal SIGKILL ƒAbCd12") {
		t.Errorf("KILL expected to map to SIGKILL, got %s", cmd)
	}
}

func TestGetJobOutputTail(t *testing.T) {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = strings.Repeat("x", i+1)
	}
	exec := &fakeExecutor{responses: []execResponse{{stdout: strings.Join(lines, "\n")}}}
	a := testAdapter(exec)

	out, err := a.GetJobOutput(context.Background(), "ƒAbCd12", model.OutputOptions{Type: "stdout", TailLines: 3})
	if err != nil {
		t.Fatalf("GetJobOutput: %v", err)
	}
	if !out.Success || !out.Truncated {
		t.Fatalf("unexpected result: %+v", out)
	}
	got := strings.Split(out.Stdout, "\n")
	if len(got) != 3 || got[0] != strings.Repeat("x", 8) {
		t.Errorf("expected last 3 lines, got %q", out.Stdout)
	}
}

func TestUnsupportedOperations(t *testing.T) {
	a := testAdapter(&fakeExecutor{})
	ctx := context.Background()

	if _, err := a.GetQueueStatus(ctx, false); !errors.Is(err, backend.ErrNotImplemented) {
		t.Errorf("GetQueueStatus expected ErrNotImplemented, got %v", err)
	}
	if _, err := a.GetResources(ctx, false); !errors.Is(err, backend.ErrNotImplemented) {
		t.Errorf("GetResources expected ErrNotImplemented, got %v", err)
	}
	if _, err := a.GetAccounting(ctx, model.AccountingQuery{}); !errors.Is(err, backend.ErrNotImplemented) {
		t.Errorf("GetAccounting expected ErrNotImplemented, got %v", err)
	}
	_, err := a.SubmitBatch(ctx, model.BatchParams{})
	if !errors.Is(err, backend.ErrNotImplemented) {
		t.Fatalf("SubmitBatch expected ErrNotImplemented, got %v", err)
	}
	if !strings.Contains(err.Error(), "mock") {
		t.Errorf("message must point at the mock backend, got %q", err.Error())
	}
}
