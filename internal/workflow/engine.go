package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-search/meridian/internal/skill"
)

// Engine runs Templates against a skill.Registry, strictly sequentially
// per spec §4.9 — there is no parallel step execution.
type Engine struct {
	registry *skill.Registry
}

// NewEngine constructs an Engine over registry.
func NewEngine(registry *skill.Registry) *Engine {
	return &Engine{registry: registry}
}

// Validate checks that every step in tmpl references a registered skill
// and that every {{ }} reference resolves to an earlier step or a
// declared parameter, without running anything.
func (e *Engine) Validate(tmpl *Template) error {
	params := make([]string, len(tmpl.Parameters))
	for i, p := range tmpl.Parameters {
		params[i] = p.Name
	}
	steps := make([]skill.StepDescriptor, len(tmpl.Steps))
	for i, s := range tmpl.Steps {
		steps[i] = skill.StepDescriptor{ID: s.ID, SkillName: s.Skill, Input: s.Input}
	}
	return e.registry.CheckComposition(steps, params)
}

// Run resolves tmpl's parameters against params, validates the step
// composition, then executes each step in order, returning the full
// execution record. Run returns a non-nil error only when parameter
// resolution or composition validation fails before any step runs; a
// step failing during execution is recorded in the ExecutionRecord, not
// returned as a Go error (unless it aborts the run, in which case
// ExecutionRecord.Failed is true and the error is also returned so
// callers that only check the error still see the failure).
func (e *Engine) Run(ctx context.Context, tmpl *Template, params map[string]any) (ExecutionRecord, error) {
	resolved, err := resolveParameters(tmpl, params)
	if err != nil {
		return ExecutionRecord{}, err
	}

	if err := e.Validate(tmpl); err != nil {
		return ExecutionRecord{}, err
	}

	record := ExecutionRecord{
		RunID:        uuid.NewString(),
		TemplateName: tmpl.Name,
		StartedAt:    time.Now(),
	}

	stepCtx := make(map[string]any, len(resolved)+len(tmpl.Steps))
	for k, v := range resolved {
		stepCtx[k] = v
	}

	var runErr error
	for _, step := range tmpl.Steps {
		stepRecord, output, stepErr := e.runStep(ctx, step, stepCtx)
		record.Steps = append(record.Steps, stepRecord)

		if stepErr == nil {
			stepCtx[step.ID] = output
			record.Output = output
			continue
		}

		if step.onErrorOrDefault() == OnErrorStop {
			record.Failed = true
			runErr = fmt.Errorf("workflow %q: step %q: %w", tmpl.Name, step.ID, stepErr)
			break
		}
		// on_error: continue — step output stays absent from stepCtx, so
		// any downstream reference to it fails in resolveReference.
	}

	record.Duration = time.Since(record.StartedAt)
	return record, runErr
}

func (e *Engine) runStep(ctx context.Context, step StepSpec, stepCtx map[string]any) (StepRecord, any, error) {
	started := time.Now()
	rec := StepRecord{ID: step.ID, Skill: step.Skill, StartedAt: started}

	rendered, err := renderInput(step.Input, stepCtx)
	if err != nil {
		rec.Status = StepFailed
		rec.Error = err.Error()
		rec.Duration = time.Since(started)
		return rec, nil, err
	}

	sk, ok := e.registry.Lookup(step.Skill)
	if !ok {
		err := fmt.Errorf("unknown skill %q", step.Skill)
		rec.Status = StepFailed
		rec.Error = err.Error()
		rec.Duration = time.Since(started)
		return rec, nil, err
	}

	output, err := sk.Execute(ctx, rendered)
	rec.Duration = time.Since(started)
	if err != nil {
		rec.Status = StepFailed
		rec.Error = err.Error()
		return rec, nil, err
	}

	normalized, err := normalizeOutput(output)
	if err != nil {
		rec.Status = StepFailed
		rec.Error = fmt.Sprintf("normalizing output: %v", err)
		return rec, nil, err
	}

	rec.Status = StepSucceeded
	rec.Output = normalized
	return rec, normalized, nil
}

// resolveParameters validates required parameters are present (or have
// a default) and returns the merged parameter set every step's {{ }}
// interpolation resolves against.
func resolveParameters(tmpl *Template, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(tmpl.Parameters))
	for _, p := range tmpl.Parameters {
		if v, ok := params[p.Name]; ok {
			out[p.Name] = v
			continue
		}
		if p.Default != nil {
			out[p.Name] = p.Default
			continue
		}
		if p.Required {
			return nil, fmt.Errorf("workflow %q: missing required parameter %q", tmpl.Name, p.Name)
		}
	}
	return out, nil
}

// normalizeOutput round-trips a skill's typed output through JSON so
// later steps can interpolate {{ step_id.field }} and {{ step_id.list[0] }}
// uniformly over map[string]any/[]any, regardless of which concrete
// struct type the skill returned.
func normalizeOutput(output any) (any, error) {
	if output == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}
