package workflow

import "time"

// StepStatus is the terminal state of one executed step.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// StepRecord is the append-only record of one executed step, kept
// regardless of outcome — the engine never rewrites a prior record once
// written, only appends the next one.
type StepRecord struct {
	ID        string        `json:"id"`
	Skill     string        `json:"skill"`
	Status    StepStatus    `json:"status"`
	Output    any           `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ExecutionRecord is the full account of one workflow run: every step's
// record in execution order, plus the final step's output as the
// workflow's primary result.
type ExecutionRecord struct {
	RunID        string        `json:"run_id"`
	TemplateName string        `json:"template_name"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Steps        []StepRecord  `json:"steps"`
	Output       any           `json:"output,omitempty"`
	Failed       bool          `json:"failed"`
}
