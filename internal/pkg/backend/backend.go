package backend

import (
	"context"

	"schedgw/internal/pkg/model"
)

// Adapter is the capability contract every backend implementation satisfies.
// Implementations translate between their backend-native representation and
// the unified job model; they never schedule or execute anything themselves.
//
// Expected failures of SubmitJob/CancelJob are reported through the result's
// Success flag; query operations report them as errors wrapping ErrNotFound,
// ErrUnavailable or ErrNotImplemented so callers can translate them into
// user-facing responses.
type Adapter interface {
	SubmitJob(ctx context.Context, params model.JobSubmitParams) (model.JobSubmitResult, error)
	GetJob(ctx context.Context, jobID string) (*model.JobDetails, error)
	ListJobs(ctx context.Context, opts model.ListJobsOptions) ([]model.JobDetails, error)
	CancelJob(ctx context.Context, jobID, signal string) (model.CancelResult, error)
	GetJobOutput(ctx context.Context, jobID string, opts model.OutputOptions) (model.JobOutput, error)
	GetQueueStatus(ctx context.Context, detailed bool) (*model.QueueStatus, error)
	GetResources(ctx context.Context, detailed bool) (*model.Resources, error)
	GetAccounting(ctx context.Context, q model.AccountingQuery) (*model.AccountingResult, error)
	SubmitBatch(ctx context.Context, params model.BatchParams) (model.BatchResult, error)
	Close(ctx context.Context) error
}
