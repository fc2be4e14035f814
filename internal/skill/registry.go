package skill

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// Metadata is the read-only view of a registered skill exposed by List.
type Metadata struct {
	Name                 string
	Description          string
	RequiredCapabilities []string
}

// Registry holds the set of skills a workflow engine may invoke by name.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

// Register adds s under s.Name(). It is an error to register a name twice.
func (r *Registry) Register(s Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.Name()
	if name == "" {
		return fmt.Errorf("skill: cannot register a skill with an empty name")
	}
	if _, exists := r.skills[name]; exists {
		return fmt.Errorf("skill: %q is already registered", name)
	}
	r.skills[name] = s
	return nil
}

// Lookup returns the skill registered under name, if any.
func (r *Registry) Lookup(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// List returns metadata for every registered skill, sorted by name.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, Metadata{
			Name:                 s.Name(),
			Description:          s.Description(),
			RequiredCapabilities: s.RequiredCapabilities(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StepDescriptor is the minimal view of a workflow step CheckComposition
// needs. It is declared here, rather than imported from a workflow
// package, to keep skill free of a dependency on workflow (workflow
// depends on skill, not the reverse).
type StepDescriptor struct {
	ID        string
	SkillName string
	Input     map[string]any
}

// referencePattern matches a template reference like {{ step_one.path.to.value }}
// or {{ results[0] }}; group 1 is the leading identifier (the step ID, or a
// template parameter name the workflow engine resolves separately).
var referencePattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)((?:\.[A-Za-z0-9_]+|\[[0-9]+\])*)\s*\}\}`)

// CheckComposition validates a candidate step sequence before it is ever
// run: every step's skill must exist in the registry, and every
// "{{ identifier... }}" reference in a step's input must resolve either
// to the ID of a step appearing earlier in the sequence, or to a name in
// paramNames (the workflow template's declared parameters). References to
// a step's own ID or to a later step are composition errors: the
// workflow engine runs steps strictly in order and a step's output does
// not exist until it has completed.
func (r *Registry) CheckComposition(steps []StepDescriptor, paramNames []string) error {
	params := make(map[string]struct{}, len(paramNames))
	for _, p := range paramNames {
		params[p] = struct{}{}
	}

	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		if step.ID == "" {
			return fmt.Errorf("skill: step %d has no ID", i)
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("skill: duplicate step ID %q", step.ID)
		}

		if step.SkillName == "" {
			return fmt.Errorf("skill: step %q has no skill name", step.ID)
		}
		if _, ok := r.Lookup(step.SkillName); !ok {
			return fmt.Errorf("skill: step %q references unknown skill %q", step.ID, step.SkillName)
		}

		for _, ref := range extractReferences(step.Input) {
			if ref == step.ID {
				return fmt.Errorf("skill: step %q references its own output", step.ID)
			}
			if _, ok := seen[ref]; ok {
				continue
			}
			if _, ok := params[ref]; ok {
				continue
			}
			return fmt.Errorf("skill: step %q references %q, which is neither an earlier step nor a declared parameter", step.ID, ref)
		}

		seen[step.ID] = struct{}{}
	}
	return nil
}

// extractReferences walks input recursively (map and slice values; other
// types are inspected as leaves) and returns the leading identifier of
// every "{{ ... }}" reference found in a string value.
func extractReferences(input map[string]any) []string {
	var refs []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			for _, m := range referencePattern.FindAllStringSubmatch(t, -1) {
				refs = append(refs, m[1])
			}
		case map[string]any:
			for _, vv := range t {
				walk(vv)
			}
		case []any:
			for _, vv := range t {
				walk(vv)
			}
		}
	}
	for _, v := range input {
		walk(v)
	}
	return refs
}
