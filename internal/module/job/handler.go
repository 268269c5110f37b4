package job

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"schedgw/internal/pkg/backend"
	"schedgw/internal/pkg/backend/registry"
	"schedgw/internal/pkg/common/response"
	"schedgw/internal/pkg/model"
)

var (
	memoryPattern = regexp.MustCompile(`(?i)^\d+\s*(MB|GB|TB|M|G|T)$`)
	// 30m / 2h / 90s, MM:SS or HH:MM:SS
	timeLimitPattern = regexp.MustCompile(`^(\d+[smh]|\d+:\d+|\d+:\d+:\d+)$`)
)

func init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("shebang", func(fl validator.FieldLevel) bool {
		return strings.HasPrefix(fl.Field().String(), "#!")
	})
	_ = v.RegisterValidation("memspec", func(fl validator.FieldLevel) bool {
		return memoryPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("timelimit", func(fl validator.FieldLevel) bool {
		return timeLimitPattern.MatchString(fl.Field().String())
	})
}

// getAdapter resolves the cluster query/body value into an adapter, writing
// the error response itself on failure.
func getAdapter(c *gin.Context, name string) (backend.Adapter, bool) {
	reg := registry.Default()
	if reg == nil {
		c.JSON(http.StatusInternalServerError, response.Response{Detail: "cluster registry not initialized"})
		return nil, false
	}
	a, err := reg.GetAdapter(name)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return a, true
}

// SubmitRequest is the submit payload. Script must start with a shebang so
// the scheduler has an interpreter line to honor.
type SubmitRequest struct {
	Cluster      string `json:"cluster" binding:"required"`
	Script       string `json:"script" binding:"required,shebang"`
	JobName      string `json:"job_name" binding:"omitempty,max=128"`
	Nodes        int    `json:"nodes" binding:"omitempty,min=1"`
	TasksPerNode int    `json:"tasks_per_node" binding:"omitempty,min=1"`
	CPUsPerTask  int    `json:"cpus_per_task" binding:"omitempty,min=1"`
	Memory       string `json:"memory" binding:"omitempty,memspec"`
	TimeLimit    string `json:"time_limit" binding:"omitempty,timelimit"`
	Partition    string `json:"partition"`
	OutputPath   string `json:"output_path"`
	ErrorPath    string `json:"error_path"`
	WorkingDir   string `json:"working_dir"`
}

func (r SubmitRequest) params() model.JobSubmitParams {
	return model.JobSubmitParams{
		Script:       r.Script,
		JobName:      r.JobName,
		Nodes:        r.Nodes,
		TasksPerNode: r.TasksPerNode,
		CPUsPerTask:  r.CPUsPerTask,
		Memory:       r.Memory,
		TimeLimit:    r.TimeLimit,
		Partition:    r.Partition,
		OutputPath:   r.OutputPath,
		ErrorPath:    r.ErrorPath,
		WorkingDir:   r.WorkingDir,
	}
}

// HandlerSubmitJob 提交作业
// @Summary 提交作业脚本到指定集群
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body SubmitRequest true "作业提交参数"
// @Success 200 {object} model.JobSubmitResult
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/job/submit [post]
func HandlerSubmitJob(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: err.Error()})
		return
	}
	a, ok := getAdapter(c, req.Cluster)
	if !ok {
		return
	}

	result, err := a.SubmitJob(c.Request.Context(), req.params())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type getJobQuery struct {
	Cluster  string `form:"cluster" binding:"required"`
	JobID    string `form:"job_id" binding:"required"`
	Detailed bool   `form:"detailed"`
}

// HandlerGetJob 查询单个作业
// @Summary 查询作业状态
// @Tags jobs
// @Produce json
// @Param cluster query string true "集群名称"
// @Param job_id query string true "作业 ID"
// @Param detailed query bool false "返回详细字段"
// @Success 200 {object} model.JobDetails
// @Failure 404 {object} response.Response
// @Router /api/v1/job [get]
func HandlerGetJob(c *gin.Context) {
	var q getJobQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: err.Error()})
		return
	}
	a, ok := getAdapter(c, q.Cluster)
	if !ok {
		return
	}

	job, err := a.GetJob(c.Request.Context(), q.JobID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if q.Detailed {
		c.JSON(http.StatusOK, job)
		return
	}
	c.JSON(http.StatusOK, job.Concise())
}

type listJobsQuery struct {
	Cluster  string `form:"cluster" binding:"required"`
	User     string `form:"user"`
	State    string `form:"state" binding:"omitempty,oneof=PENDING RUNNING COMPLETED FAILED CANCELLED TIMEOUT"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=1000"`
	Detailed bool   `form:"detailed"`
}

// HandlerListJobs 列出作业
// @Summary 列出集群作业, 支持按用户和状态过滤
// @Tags jobs
// @Produce json
// @Param cluster query string true "集群名称"
// @Param user query string false "按用户过滤"
// @Param state query string false "按统一状态过滤"
// @Param limit query int false "返回条数上限, 1-1000"
// @Param detailed query bool false "返回详细字段"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Router /api/v1/job/all [get]
func HandlerListJobs(c *gin.Context) {
	var q listJobsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: err.Error()})
		return
	}
	a, ok := getAdapter(c, q.Cluster)
	if !ok {
		return
	}

	jobs, err := a.ListJobs(c.Request.Context(), model.ListJobsOptions{User: q.User, State: q.State, Limit: q.Limit})
	if err != nil {
		response.Error(c, err)
		return
	}

	count := len(jobs)
	if q.Detailed {
		c.JSON(http.StatusOK, response.Response{Count: &count, Results: jobs})
		return
	}
	concise := make([]model.ConciseJob, 0, len(jobs))
	for _, j := range jobs {
		concise = append(concise, j.Concise())
	}
	c.JSON(http.StatusOK, response.Response{Count: &count, Results: concise})
}

type cancelJobQuery struct {
	Cluster string `form:"cluster" binding:"required"`
	JobID   string `form:"job_id" binding:"required"`
	Signal  string `form:"signal" binding:"omitempty,oneof=TERM KILL INT"`
}

// HandlerCancelJob 取消作业
// @Summary 取消作业, 可指定信号
// @Tags jobs
// @Produce json
// @Param cluster query string true "集群名称"
// @Param job_id query string true "作业 ID"
// @Param signal query string false "TERM | KILL | INT, 默认 TERM"
// @Success 200 {object} model.CancelResult
// @Failure 404 {object} response.Response
// @Router /api/v1/job [delete]
func HandlerCancelJob(c *gin.Context) {
	var q cancelJobQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: err.Error()})
		return
	}
	if q.Signal == "" {
		q.Signal = "TERM"
	}
	a, ok := getAdapter(c, q.Cluster)
	if !ok {
		return
	}

	result, err := a.CancelJob(c.Request.Context(), q.JobID, q.Signal)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type outputQuery struct {
	Cluster   string `form:"cluster" binding:"required"`
	JobID     string `form:"job_id" binding:"required"`
	Type      string `form:"type" binding:"omitempty,oneof=stdout stderr both"`
	TailLines int    `form:"tail_lines" binding:"omitempty,min=1,max=10000"`
}

// HandlerJobOutput 获取作业输出
// @Summary 获取作业的 stdout/stderr
// @Tags jobs
// @Produce json
// @Param cluster query string true "集群名称"
// @Param job_id query string true "作业 ID"
// @Param type query string false "stdout | stderr | both, 默认 stdout"
// @Param tail_lines query int false "仅返回末尾 N 行"
// @Success 200 {object} model.JobOutput
// @Failure 404 {object} response.Response
// @Router /api/v1/job/output [get]
func HandlerJobOutput(c *gin.Context) {
	var q outputQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: err.Error()})
		return
	}
	if q.Type == "" {
		q.Type = "stdout"
	}
	a, ok := getAdapter(c, q.Cluster)
	if !ok {
		return
	}

	out, err := a.GetJobOutput(c.Request.Context(), q.JobID, model.OutputOptions{Type: q.Type, TailLines: q.TailLines})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// RunRequest submits a job and blocks until it finishes or the timeout
// elapses.
type RunRequest struct {
	SubmitRequest
	TimeoutMinutes int `json:"timeout_minutes" binding:"omitempty,min=1,max=1440"`
	PollSeconds    int `json:"poll_seconds" binding:"omitempty,min=1,max=300"`
}

// RunResult bundles the phases of a run-and-wait call. Output is only
// fetched when the job reached a terminal state before the timeout.
type RunResult struct {
	Submit model.JobSubmitResult `json:"submit"`
	Wait   *backend.WaitResult   `json:"wait,omitempty"`
	Output *model.JobOutput      `json:"output,omitempty"`
}

// HandlerRunJob 提交并等待作业完成
// @Summary 提交作业, 轮询到终态后返回输出
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body RunRequest true "作业提交与等待参数"
// @Success 200 {object} RunResult
// @Failure 400 {object} response.Response
// @Router /api/v1/job/wait [post]
func HandlerRunJob(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: err.Error()})
		return
	}
	if req.TimeoutMinutes == 0 {
		req.TimeoutMinutes = 60
	}
	if req.PollSeconds == 0 {
		req.PollSeconds = 10
	}
	a, ok := getAdapter(c, req.Cluster)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	submit, err := a.SubmitJob(ctx, req.params())
	if err != nil {
		response.Error(c, err)
		return
	}
	if !submit.Success {
		c.JSON(http.StatusOK, RunResult{Submit: submit})
		return
	}

	wait, err := backend.WaitForTerminal(ctx, a, submit.JobID,
		time.Duration(req.PollSeconds)*time.Second, time.Duration(req.TimeoutMinutes)*time.Minute)
	if err != nil {
		response.Error(c, err)
		return
	}
	result := RunResult{Submit: submit, Wait: &wait}
	if !wait.TimedOut {
		if out, err := a.GetJobOutput(ctx, submit.JobID, model.OutputOptions{Type: "both", TailLines: 100}); err == nil {
			result.Output = &out
		}
	}
	c.JSON(http.StatusOK, result)
}

// BatchRequest describes an array or bulk submission. Exactly one of
// ArraySpec/Commands must be set.
type BatchRequest struct {
	Cluster       string   `json:"cluster" binding:"required"`
	Script        string   `json:"script" binding:"required,shebang"`
	ArraySpec     string   `json:"array_spec"`
	Commands      []string `json:"commands"`
	JobNamePrefix string   `json:"job_name_prefix" binding:"omitempty,max=100"`
	Nodes         int      `json:"nodes" binding:"omitempty,min=1"`
	TasksPerNode  int      `json:"tasks_per_node" binding:"omitempty,min=1"`
	TimeLimit     string   `json:"time_limit" binding:"omitempty,timelimit"`
	MaxConcurrent int      `json:"max_concurrent" binding:"omitempty,min=1"`
}

// HandlerSubmitBatch 批量提交作业
// @Summary 提交数组作业或批量命令
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body BatchRequest true "批量提交参数"
// @Success 200 {object} model.BatchResult
// @Failure 400 {object} response.Response
// @Failure 501 {object} response.Response
// @Router /api/v1/job/batch [post]
func HandlerSubmitBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Response{Detail: err.Error()})
		return
	}
	if (req.ArraySpec == "") == (len(req.Commands) == 0) {
		c.JSON(http.StatusBadRequest, response.Response{Detail: "exactly one of array_spec and commands must be set"})
		return
	}
	a, ok := getAdapter(c, req.Cluster)
	if !ok {
		return
	}

	result, err := a.SubmitBatch(c.Request.Context(), model.BatchParams{
		Script:        req.Script,
		ArraySpec:     req.ArraySpec,
		Commands:      req.Commands,
		JobNamePrefix: req.JobNamePrefix,
		Nodes:         req.Nodes,
		TasksPerNode:  req.TasksPerNode,
		TimeLimit:     req.TimeLimit,
		MaxConcurrent: req.MaxConcurrent,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
