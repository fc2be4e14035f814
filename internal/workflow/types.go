// Package workflow implements the sequential workflow engine from spec
// §4.9: a YAML template of parameterized steps, each invoking a skill
// from internal/skill's registry, run strictly in order with
// {{ ... }} interpolation against declared parameters and prior steps'
// outputs.
package workflow

// Template is a workflow definition: a parameter schema plus an ordered
// list of steps, loaded from YAML the same way internal/config loads
// its own YAML documents.
type Template struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description" json:"description"`
	Parameters  []ParameterSpec `yaml:"parameters" json:"parameters"`
	Steps       []StepSpec      `yaml:"steps" json:"steps"`
}

// ParameterSpec declares one template parameter. A parameter with no
// Default and Required true must be supplied by the caller; resolution
// fails before any step runs if it is missing.
type ParameterSpec struct {
	Name     string `yaml:"name" json:"name"`
	Required bool   `yaml:"required" json:"required"`
	Default  any    `yaml:"default,omitempty" json:"default,omitempty"`
}

// OnError selects what happens when a step fails.
type OnError string

const (
	// OnErrorStop aborts the workflow at the failing step (the default
	// when a step's on_error is left empty).
	OnErrorStop OnError = "stop"
	// OnErrorContinue records the step's failure and a sentinel absent
	// output, then proceeds to the next step. Any later step that
	// references the failed step's output fails too, unless it is also
	// on_error: continue.
	OnErrorContinue OnError = "continue"
)

// StepSpec is one workflow step: which skill to invoke, its input
// (with {{ }} references to parameters or earlier steps), and its
// failure policy.
type StepSpec struct {
	ID      string         `yaml:"id" json:"id"`
	Skill   string         `yaml:"skill" json:"skill"`
	Input   map[string]any `yaml:"input" json:"input"`
	OnError OnError        `yaml:"on_error,omitempty" json:"on_error,omitempty"`
}

func (s StepSpec) onErrorOrDefault() OnError {
	if s.OnError == "" {
		return OnErrorStop
	}
	return s.OnError
}
