package events

// Event types published by the node layer.
const (
	TypeRunStarted   = "run.started"
	TypeRunCompleted = "run.completed"
	TypeJobStage     = "job.stage"
)

type RunStarted struct {
	RunID     string `json:"run_id"`
	BatchID   string `json:"batch_id"`
	ItemIndex int    `json:"item_index"`
	Kind      string `json:"kind"`
	Model     string `json:"model"`
}

type RunCompleted struct {
	RunID      string `json:"run_id"`
	BatchID    string `json:"batch_id"`
	ItemIndex  int    `json:"item_index"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// JobStage reports Cloud Run job lifecycle transitions.
type JobStage struct {
	RunID string `json:"run_id"`
	Job   string `json:"job"`
	Stage string `json:"stage"`
	Error string `json:"error,omitempty"`
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(string, any) {}
