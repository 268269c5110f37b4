package slurm

import (
	"encoding/json"
	"strings"
)

// noVal is the slurmrestd tri-state number wrapper {set, infinite, number}.
type noVal struct {
	Set      bool  `json:"set"`
	Infinite bool  `json:"infinite"`
	Number   int64 `json:"number"`
}

// stateList accepts the API's list-or-scalar state fields. Older API
// revisions emit "RUNNING", newer ones ["RUNNING"].
type stateList []string

func (s *stateList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = stateList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = stateList(many)
	return nil
}

// First returns the leading state or fallback when empty.
func (s stateList) First(fallback string) string {
	if len(s) == 0 {
		return fallback
	}
	return s[0]
}

// Contains reports whether any entry carries the given token, matching
// state flags like "DRAIN" inside "IDLE+DRAIN".
func (s stateList) Contains(token string) bool {
	for _, st := range s {
		if strings.Contains(strings.ToUpper(st), token) {
			return true
		}
	}
	return false
}

type apiError struct {
	Error       string `json:"error"`
	ErrorNumber int    `json:"error_number"`
	Source      string `json:"source"`
	Description string `json:"description"`
}

func joinErrors(errs []apiError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msg := e.Error
		if msg == "" {
			msg = e.Description
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}

// jobProperties is the submit payload. Optional fields use omitempty so
// absent caller fields are omitted, not forwarded as nulls.
type jobProperties struct {
	Script                  string `json:"script"`
	CurrentWorkingDirectory string `json:"current_working_directory,omitempty"`
	Name                    string `json:"name,omitempty"`
	Nodes                   int    `json:"nodes,omitempty"`
	TasksPerNode            int    `json:"tasks_per_node,omitempty"`
	CPUsPerTask             int    `json:"cpus_per_task,omitempty"`
	MemoryPerNode           string `json:"memory_per_node,omitempty"`
	TimeLimit               string `json:"time_limit,omitempty"`
	Partition               string `json:"partition,omitempty"`
	StandardOutput          string `json:"standard_output,omitempty"`
	StandardError           string `json:"standard_error,omitempty"`
	Array                   string `json:"array,omitempty"`
}

type submitRequest struct {
	Job jobProperties `json:"job"`
}

type submitResponse struct {
	JobID  int64      `json:"job_id"`
	Errors []apiError `json:"errors"`
}

type exitCodeInfo struct {
	Status     stateList `json:"status"`
	ReturnCode noVal     `json:"return_code"`
}

type jobInfo struct {
	JobID                   int64        `json:"job_id"`
	Name                    string       `json:"name"`
	UserName                string       `json:"user_name"`
	Partition               string       `json:"partition"`
	JobState                stateList    `json:"job_state"`
	SubmitTime              noVal        `json:"submit_time"`
	StartTime               noVal        `json:"start_time"`
	EndTime                 noVal        `json:"end_time"`
	TimeLimit               noVal        `json:"time_limit"` // minutes
	NodeCount               noVal        `json:"node_count"`
	Tasks                   noVal        `json:"tasks"`
	CPUsPerTask             noVal        `json:"cpus_per_task"`
	MemoryPerNode           noVal        `json:"memory_per_node"` // MiB
	Nodes                   string       `json:"nodes"`
	CurrentWorkingDirectory string       `json:"current_working_directory"`
	StandardOutput          string       `json:"standard_output"`
	StandardError           string       `json:"standard_error"`
	ExitCode                exitCodeInfo `json:"exit_code"`
}

type jobsResponse struct {
	Jobs   []jobInfo  `json:"jobs"`
	Errors []apiError `json:"errors"`
}

type cancelResponse struct {
	Errors []apiError `json:"errors"`
}

type nodeInfo struct {
	Name       string    `json:"name"`
	State      stateList `json:"state"`
	CPUs       int       `json:"cpus"`
	AllocCPUs  int       `json:"alloc_cpus"`
	RealMemory int64     `json:"real_memory"` // MiB
	Partitions []string  `json:"partitions"`
}

type nodesResponse struct {
	Nodes  []nodeInfo `json:"nodes"`
	Errors []apiError `json:"errors"`
}

type partitionInfo struct {
	Name         string    `json:"name"`
	State        stateList `json:"state"`
	TotalNodes   int       `json:"total_nodes"`
	MaxTime      noVal     `json:"max_time"`        // minutes
	DefMemPerCPU noVal     `json:"def_mem_per_cpu"` // MiB
}

type partitionsResponse struct {
	Partitions []partitionInfo `json:"partitions"`
	Errors     []apiError      `json:"errors"`
}
