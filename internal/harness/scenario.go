package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/recipesync/internal/concept"
)

// Scenario drives the engine with a compiled rules package, stubbed
// concepts and a list of external calls, then asserts on the responses
// and the trace.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rules is the rules directory. Relative paths are resolved against
	// the scenario file's directory by LoadScenario.
	Rules string `yaml:"rules"`

	// FlowPrefix and RequestPrefix seed the deterministic flow tokens
	// (flow-1, flow-2, ...) and request ids (r1, r2, ...).
	FlowPrefix    string `yaml:"flow_prefix,omitempty"`
	RequestPrefix string `yaml:"request_prefix,omitempty"`

	// MaxSteps overrides the per-flow action quota.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Passthrough lists request paths served by a direct concept call
	// instead of Requesting.request.
	Passthrough *PassthroughSpec `yaml:"passthrough,omitempty"`

	// Stubs gives canned results per concept and operation. Every declared
	// operation of every non-Requesting concept is stubbed; one without
	// entries fails when called.
	Stubs map[string]map[string][]Stub `yaml:"stubs"`

	// Flow is the list of external calls, executed in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the trace once every step has run.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// PassthroughSpec is the YAML form of concept.Passthrough.
type PassthroughSpec struct {
	Include map[string]string `yaml:"include"`
	Exclude []string          `yaml:"exclude,omitempty"`
	Base    string            `yaml:"base,omitempty"`
}

func (p *PassthroughSpec) policy() concept.Passthrough {
	if p == nil {
		return concept.Passthrough{}
	}
	return concept.Passthrough{Include: p.Include, Exclude: p.Exclude, Base: p.Base}
}

// Stub is one canned result. The first stub whose When is a subset of
// the call's input answers it; a stub without When matches everything.
// Actions answer with Output, queries with Rows.
type Stub struct {
	When   map[string]any   `yaml:"when,omitempty"`
	Output map[string]any   `yaml:"output,omitempty"`
	Rows   []map[string]any `yaml:"rows,omitempty"`
}

// FlowStep is one external call: either an HTTP-style request routed by
// path, or a direct operation invocation.
type FlowStep struct {
	// Request holds the request fields, including "path".
	Request map[string]any `yaml:"request,omitempty"`

	// Invoke is an operation ("Concept.operation") called directly.
	Invoke string         `yaml:"invoke,omitempty"`
	Input  map[string]any `yaml:"input,omitempty"`

	// Flow names a flow shared with other steps using the same name.
	// Steps without one each run in a fresh flow.
	Flow string `yaml:"flow,omitempty"`

	// Expect is a subset of the response body (requests) or the action
	// output (invocations).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Unanswered declares that the request gets no response, e.g. because
	// a where clause dropped every frame.
	Unanswered bool `yaml:"unanswered,omitempty"`
}

// Assertion validates the trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is an operation (trace_contains, trace_count, trace_absent).
	Action string `yaml:"action,omitempty"`

	// Args and Output are subsets of the record's input and output
	// (trace_contains, trace_count, trace_absent).
	Args   map[string]any `yaml:"args,omitempty"`
	Output map[string]any `yaml:"output,omitempty"`

	// Rule names a rule (rule_fired).
	Rule string `yaml:"rule,omitempty"`

	// Count is the exact number of matches (trace_count) or firings
	// (rule_fired, where zero means at least one).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected relative order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertTraceAbsent   = "trace_absent"
	AssertRuleFired     = "rule_fired"
)

// Default id prefixes.
const (
	DefaultFlowPrefix    = "flow-"
	DefaultRequestPrefix = "r"
)

// LoadScenario reads and parses a scenario YAML file and resolves its
// rules directory against the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Rules != "" && !filepath.IsAbs(scenario.Rules) {
		scenario.Rules = filepath.Join(filepath.Dir(path), scenario.Rules)
	}
	if _, err := os.Stat(scenario.Rules); err != nil {
		return nil, fmt.Errorf("invalid scenario: rules directory: %w", err)
	}
	return scenario, nil
}

// ParseScenario decodes scenario YAML without touching the filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Rules == "" {
		return fmt.Errorf("rules directory is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}

	for name, ops := range s.Stubs {
		for op, stubs := range ops {
			for i, stub := range stubs {
				if stub.Output != nil && stub.Rows != nil {
					return fmt.Errorf("stubs.%s.%s[%d]: output and rows are exclusive", name, op, i)
				}
				isQuery := strings.HasPrefix(op, "_")
				if isQuery && stub.Output != nil {
					return fmt.Errorf("stubs.%s.%s[%d]: queries answer with rows", name, op, i)
				}
				if !isQuery && stub.Rows != nil {
					return fmt.Errorf("stubs.%s.%s[%d]: actions answer with output", name, op, i)
				}
			}
		}
	}

	for i, step := range s.Flow {
		switch {
		case step.Request != nil && step.Invoke != "":
			return fmt.Errorf("flow[%d]: request and invoke are exclusive", i)
		case step.Request != nil:
			if _, ok := step.Request["path"].(string); !ok {
				return fmt.Errorf("flow[%d]: request needs a string path", i)
			}
		case step.Invoke != "":
			if step.Unanswered {
				return fmt.Errorf("flow[%d]: unanswered applies to requests only", i)
			}
		default:
			return fmt.Errorf("flow[%d]: request or invoke is required", i)
		}
		if step.Unanswered && step.Expect != nil {
			return fmt.Errorf("flow[%d]: an unanswered request has nothing to expect", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains, AssertTraceAbsent:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for %s", index, a.Type)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertRuleFired:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for rule_fired", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for rule_fired", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
