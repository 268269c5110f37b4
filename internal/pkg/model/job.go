package model

// Unified job states shared by every backend. Backend-native states that do
// not map onto this vocabulary pass through unchanged.
const (
	StatePending   = "PENDING"
	StateRunning   = "RUNNING"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
	StateCancelled = "CANCELLED"
	StateTimeout   = "TIMEOUT"
)

// TerminalStates lists the states after which a job will never change again.
var TerminalStates = map[string]bool{
	StateCompleted: true,
	StateFailed:    true,
	StateCancelled: true,
	StateTimeout:   true,
}

// JobSubmitParams describes one job submission. Script is the only required
// field; zero-valued optional fields are never forwarded to a backend.
type JobSubmitParams struct {
	Script       string `json:"script"`
	JobName      string `json:"job_name,omitempty"`
	Nodes        int    `json:"nodes,omitempty"`
	TasksPerNode int    `json:"tasks_per_node,omitempty"`
	CPUsPerTask  int    `json:"cpus_per_task,omitempty"`
	Memory       string `json:"memory,omitempty"`
	TimeLimit    string `json:"time_limit,omitempty"`
	Partition    string `json:"partition,omitempty"`
	OutputPath   string `json:"output_path,omitempty"`
	ErrorPath    string `json:"error_path,omitempty"`
	WorkingDir   string `json:"working_dir,omitempty"`
}

// JobSubmitResult reports the outcome of a submission. Exactly one of
// JobID/Error is populated depending on Success.
type JobSubmitResult struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id,omitempty"`
	State   string `json:"state,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ResourceAlloc 作业的资源分配情况.
type ResourceAlloc struct {
	Nodes       int    `json:"nodes"`
	Tasks       int    `json:"tasks"`
	CPUsPerTask int    `json:"cpus_per_task"`
	Memory      string `json:"memory"`
}

// JobDetails carries the detailed projection of one job. The concise core
// (job_id .. exit_code) is reconstructed fresh from backend state on every
// query; the remaining fields are only meaningful in detailed responses.
type JobDetails struct {
	JobID     string `json:"job_id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Submitted string `json:"submitted"` // ISO8601 UTC, "" when unknown
	Runtime   string `json:"runtime"`   // HH:MM:SS
	ExitCode  *int   `json:"exit_code"`

	User             string         `json:"user,omitempty"`
	Partition        string         `json:"partition,omitempty"`
	Started          *string        `json:"started,omitempty"` // nil until the job ran
	Ended            *string        `json:"ended,omitempty"`
	TimeLimit        string         `json:"time_limit,omitempty"` // HH:MM:SS
	Resources        *ResourceAlloc `json:"resources,omitempty"`
	AllocatedNodes   []string       `json:"allocated_nodes,omitempty"`
	WorkingDirectory string         `json:"working_directory,omitempty"`
	StdoutPath       string         `json:"stdout_path,omitempty"`
	StderrPath       string         `json:"stderr_path,omitempty"`
}

// ConciseJob 作业的简要视图, 字段必须与 JobDetails 的核心字段保持一致.
type ConciseJob struct {
	JobID     string `json:"job_id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Submitted string `json:"submitted"`
	Runtime   string `json:"runtime"`
	ExitCode  *int   `json:"exit_code"`
}

// Concise returns the concise projection. Every concise field is copied
// verbatim from the detailed struct so the two views can never disagree.
func (d JobDetails) Concise() ConciseJob {
	return ConciseJob{
		JobID:     d.JobID,
		Name:      d.Name,
		State:     d.State,
		Submitted: d.Submitted,
		Runtime:   d.Runtime,
		ExitCode:  d.ExitCode,
	}
}

// ListJobsOptions filters a job listing.
type ListJobsOptions struct {
	User  string
	State string
	Limit int
}

// CancelResult reports the outcome of a cancellation.
type CancelResult struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OutputOptions selects which stream(s) of a job to fetch.
type OutputOptions struct {
	Type      string // "stdout", "stderr" or "both"
	TailLines int    // 0 means everything
}

// JobOutput carries captured or referenced job output.
type JobOutput struct {
	Success    bool   `json:"success"`
	JobID      string `json:"job_id"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	StdoutPath string `json:"stdout_path,omitempty"`
	StderrPath string `json:"stderr_path,omitempty"`
	Truncated  bool   `json:"truncated"`
	Error      string `json:"error,omitempty"`
}

// Utilization 集群资源占用情况.
type Utilization struct {
	NodesAllocated int `json:"nodes_allocated"`
	NodesTotal     int `json:"nodes_total"`
	CoresAllocated int `json:"cores_allocated"`
	CoresTotal     int `json:"cores_total"`
}

// RecentJob is the per-job line of a detailed queue status.
type RecentJob struct {
	JobID   string `json:"job_id"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Runtime string `json:"runtime"`
}

// QueueStatus summarizes the scheduling queue. The pointer fields are only
// populated for the detailed format.
type QueueStatus struct {
	Success   bool         `json:"success"`
	Cluster   string       `json:"cluster,omitempty"`
	TotalJobs int          `json:"total_jobs"`
	Running   int          `json:"running"`
	Pending   int          `json:"pending"`
	Completed int          `json:"completed"`
	Failed    *int         `json:"failed,omitempty"`
	Cancelled *int         `json:"cancelled,omitempty"`
	Util      *Utilization `json:"utilization,omitempty"`
	Recent    []RecentJob  `json:"recent_jobs,omitempty"`
}

// NodeCounts breaks cluster nodes down by state.
type NodeCounts struct {
	Total     int `json:"total"`
	Idle      int `json:"idle"`
	Allocated int `json:"allocated"`
	Down      int `json:"down"`
}

// CoreCounts breaks cluster cores down by availability.
type CoreCounts struct {
	Total     int `json:"total"`
	Available int `json:"available"`
}

// PartitionInfo is the per-partition line of a detailed resources response.
type PartitionInfo struct {
	Name             string `json:"name"`
	State            string `json:"state"`
	Nodes            int    `json:"nodes"`
	MaxTimeLimit     string `json:"max_time_limit"`
	DefaultMemPerCPU string `json:"default_memory_per_cpu"`
}

// NodeDetail is the per-node line of a detailed resources response.
type NodeDetail struct {
	Name       string   `json:"name"`
	State      string   `json:"state"`
	CPUs       int      `json:"cpus"`
	Memory     string   `json:"memory"`
	Partitions []string `json:"partitions"`
}

// Resources describes cluster resource availability.
type Resources struct {
	Success     bool            `json:"success"`
	Nodes       NodeCounts      `json:"nodes"`
	Cores       CoreCounts      `json:"cores"`
	Partitions  []PartitionInfo `json:"partitions,omitempty"`
	NodeDetails []NodeDetail    `json:"node_details,omitempty"`
}

// AccountingQuery filters historical accounting records.
type AccountingQuery struct {
	JobID     string
	User      string
	StartTime string // ISO8601
	EndTime   string // ISO8601
	Limit     int
	Detailed  bool
}

// AccountingRecord is one historical job record. The detailed fields are
// only populated when AccountingQuery.Detailed is set.
type AccountingRecord struct {
	JobID    string `json:"job_id"`
	Name     string `json:"name"`
	User     string `json:"user"`
	State    string `json:"state"`
	ExitCode int    `json:"exit_code"`
	Runtime  string `json:"runtime"`
	CPUTime  string `json:"cpu_time"`

	MemoryUsedMax   string   `json:"memory_used_max,omitempty"`
	MemoryRequested string   `json:"memory_requested,omitempty"`
	CPUEfficiency   float64  `json:"cpu_efficiency,omitempty"`
	WaitTime        string   `json:"wait_time,omitempty"`
	NodesUsed       []string `json:"nodes_used,omitempty"`
	SubmitTime      string   `json:"submit_time,omitempty"`
	StartTime       string   `json:"start_time,omitempty"`
	EndTime         string   `json:"end_time,omitempty"`
}

// AccountingResult is the envelope of an accounting query. Total counts all
// matching records before the limit is applied.
type AccountingResult struct {
	Success bool               `json:"success"`
	Jobs    []AccountingRecord `json:"jobs"`
	Total   int                `json:"total"`
}

// BatchParams describes an array or bulk batch submission. Exactly one of
// ArraySpec/Commands must be set.
type BatchParams struct {
	Script        string   `json:"script"`
	ArraySpec     string   `json:"array_spec,omitempty"` // e.g. "1-10", "1-100:2"
	Commands      []string `json:"commands,omitempty"`
	JobNamePrefix string   `json:"job_name_prefix,omitempty"`
	Nodes         int      `json:"nodes,omitempty"`
	TasksPerNode  int      `json:"tasks_per_node,omitempty"`
	TimeLimit     string   `json:"time_limit,omitempty"`
	MaxConcurrent int      `json:"max_concurrent,omitempty"`
}

// BatchError is the per-item failure record of a batch submission.
type BatchError struct {
	Index   int    `json:"index"`
	Command string `json:"command"`
	Error   string `json:"error"`
}

// BatchResult reports a batch submission. Submitted+Failed always equals the
// number of attempted items and len(Errors) always equals Failed; partial
// failure is never collapsed into a single boolean.
type BatchResult struct {
	Success   bool         `json:"success"`
	JobIDs    []string     `json:"job_ids"`
	BatchType string       `json:"batch_type,omitempty"` // "array" or "bulk"
	Submitted int          `json:"submitted"`
	Failed    int          `json:"failed"`
	Errors    []BatchError `json:"errors"`
	Error     string       `json:"error,omitempty"`
}
