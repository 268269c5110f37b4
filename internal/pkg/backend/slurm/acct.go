package slurm

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedgw/internal/pkg/backend"
	"schedgw/internal/pkg/client/slurmdb"
	"schedgw/internal/pkg/model"
)

// slurmdbd job_state codes, see slurm/slurm.h.
var dbStateMap = map[int]string{
	0: model.StatePending,
	1: model.StateRunning,
	2: "SUSPENDED",
	3: model.StateCompleted,
	4: model.StateCancelled,
	5: model.StateFailed,
	6: model.StateTimeout,
	7: model.StateFailed,    // NODE_FAIL
	8: model.StateCancelled, // PREEMPTED
}

// GetAccounting serves historical records from the slurmdbd database.
// Clusters without a configured accounting database fail with
// ErrUnavailable rather than guessing from the volatile REST view.
func (a *Adapter) GetAccounting(ctx context.Context, q model.AccountingQuery) (*model.AccountingResult, error) {
	if a.acct == nil {
		return nil, fmt.Errorf("%w: cluster %s has no accounting database configured", backend.ErrUnavailable, a.cluster)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, total, err := a.acct.GetJobs(ctx, q.JobID, q.User, parseISOTime(q.StartTime), parseISOTime(q.EndTime), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: cluster %s: accounting query failed: %v", backend.ErrUnavailable, a.cluster, err)
	}

	records := make([]model.AccountingRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, a.accountingRecord(row, q.Detailed))
	}
	return &model.AccountingResult{Success: true, Jobs: records, Total: int(total)}, nil
}

func (a *Adapter) accountingRecord(row slurmdb.JobRow, detailed bool) model.AccountingRecord {
	state, ok := dbStateMap[row.State&0xff]
	if !ok {
		state = strconv.Itoa(row.State)
	}

	elapsed := int64(0)
	if row.TimeStart > 0 {
		end := row.TimeEnd
		if end == 0 {
			end = time.Now().Unix()
		}
		elapsed = end - row.TimeStart
	}

	rec := model.AccountingRecord{
		JobID:    strconv.FormatInt(row.IDJob, 10),
		Name:     row.JobName,
		User:     row.User,
		State:    state,
		ExitCode: row.ExitCode >> 8, // slurmdbd packs exit<<8|signal
		Runtime:  secondsToClock(elapsed),
		CPUTime:  secondsToClock(elapsed * int64(row.CPUsReq)),
	}
	if !detailed {
		return rec
	}

	rec.MemoryRequested = strconv.FormatInt(row.MemReq, 10) + "M"
	rec.WaitTime = secondsToClock(maxInt64(row.TimeStart-row.TimeSubmit, 0))
	if row.NodeList != "" && row.NodeList != "None assigned" {
		rec.NodesUsed = strings.Split(row.NodeList, ",")
	}
	rec.SubmitTime = epochToISO(row.TimeSubmit)
	rec.StartTime = epochToISO(row.TimeStart)
	rec.EndTime = epochToISO(row.TimeEnd)
	return rec
}

func epochToISO(ts int64) string {
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

// parseISOTime returns 0 for empty or unparseable inputs; time filters are
// advisory, not load-bearing.
func parseISOTime(s string) int64 {
	if s == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
