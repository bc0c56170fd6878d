package runs

import (
	"errors"
	"time"
)

// Kind names the node that produced a run.
type Kind string

const (
	KindClaudeCode       Kind = "claude-code"
	KindCloudRunDispatch Kind = "cloud-run-dispatch"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusTimedOut
}

// FormatDuration renders a run duration the same way in every view: Go
// duration syntax, to the millisecond under a minute and whole seconds above.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

type Run struct {
	ID          string        `json:"id"`
	BatchID     string        `json:"batch_id"`
	ItemIndex   int           `json:"item_index"`
	Kind        Kind          `json:"kind"`
	Model       string        `json:"model"`
	Prompt      string        `json:"prompt"`
	Status      Status        `json:"status"`
	JobName     string        `json:"job_name,omitempty"`
	Output      string        `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration_ns,omitempty"`
}

type StartRequest struct {
	BatchID   string
	ItemIndex int
	Kind      Kind
	Model     string
	Prompt    string
}

type Completion struct {
	Status  Status
	JobName string
	Output  string
	Error   string
}

// ListFilter narrows List. Zero values mean no filter; Limit defaults to 50.
type ListFilter struct {
	Kind   Kind
	Status Status
	Limit  int
}

var ErrRunNotFound = errors.New("run not found")

// Took is the formatted duration of a finished run, "-" before it finishes.
func (r Run) Took() string {
	if !r.Status.Terminal() {
		return "-"
	}
	return FormatDuration(r.Duration)
}
