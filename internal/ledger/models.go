package ledger

import "time"

// RunStatus is the lifecycle state of a training run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	// RunAbandoned marks a run whose process died without finishing.
	RunAbandoned RunStatus = "abandoned"
)

// BatchStatus is the lifecycle state of a claimed batch.
type BatchStatus string

const (
	BatchClaimed   BatchStatus = "claimed"
	BatchCommitted BatchStatus = "committed"
	BatchReleased  BatchStatus = "released"
)

// Run is one `voxguard train` invocation.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	Override      bool
	Status        RunStatus
	Batches       int
	Records       int
	FinalLoss     *float64
	FinalAccuracy *float64
	FailureKind   string
	ErrorMessage  string
}

// Duration returns the wall time of a finished run, or zero while running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Batch is one claimed slice of the dataset within a run.
type Batch struct {
	ID        int64
	RunID     string
	Status    BatchStatus
	RealCount int
	FakeCount int
	Loss      *float64
	Accuracy  *float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RunResult is the outcome recorded by FinishRun.
type RunResult struct {
	Status        RunStatus
	Batches       int
	Records       int
	FinalLoss     *float64
	FinalAccuracy *float64
	FailureKind   string
	ErrorMessage  string
}
