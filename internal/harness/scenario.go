package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/wallet/internal/resource"
)

// Scenario is one executable wallet story.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Owner is the account every step acts as.
	Owner string `yaml:"owner"`

	// Seed records are written directly to the store before the steps run.
	Seed []SeedRecord `yaml:"seed,omitempty"`

	// Steps run in order. A concurrent step runs its children in parallel.
	Steps []Step `yaml:"steps"`

	// Assertions are checked against the final partitions.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedRecord is a fixture written without going through the enforcer.
type SeedRecord struct {
	Ref     string         `yaml:"ref"`
	Kind    string         `yaml:"kind"`
	Default bool           `yaml:"default,omitempty"`
	Fields  map[string]any `yaml:"fields"`
}

// Step is one lifecycle call.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// As binds the id of a created record to a ref.
	As string `yaml:"as,omitempty"`

	// Ref names the target record. Unbound refs are used verbatim as ids.
	Ref string `yaml:"ref,omitempty"`

	// Kind is required by create and repair.
	Kind string `yaml:"kind,omitempty"`

	// Fields is the create payload or update patch.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Default requests promotion on create and update.
	Default bool `yaml:"default,omitempty"`

	// ExpectError is the expected error code; empty means success.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Steps are the children of a concurrent step.
	Steps []Step `yaml:"steps,omitempty"`
}

// Assertion checks one partition after all steps ran.
type Assertion struct {
	Type  string   `yaml:"type"`
	Kind  string   `yaml:"kind"`
	Ref   string   `yaml:"ref,omitempty"`
	Refs  []string `yaml:"refs,omitempty"`
	Count int      `yaml:"count,omitempty"`
}

// Step ops.
const (
	OpCreate     = "create"
	OpUpdate     = "update"
	OpSetDefault = "set_default"
	OpDelete     = "delete"
	OpRepair     = "repair"
	OpConcurrent = "concurrent"
)

// Assertion types.
const (
	AssertListOrder    = "list_order"
	AssertDefault      = "default"
	AssertDefaultOneOf = "default_one_of"
	AssertDefaultCount = "default_count"
	AssertRecordCount  = "record_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown keys are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
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

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Owner == "" {
		return fmt.Errorf("owner is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, seed := range s.Seed {
		if seed.Ref == "" {
			return fmt.Errorf("seed[%d]: ref is required", i)
		}
		if _, err := resource.ParseKind(seed.Kind); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(fmt.Sprintf("steps[%d]", i), step, true); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(where string, step Step, allowConcurrent bool) error {
	switch step.Op {
	case OpCreate, OpRepair:
		if _, err := resource.ParseKind(step.Kind); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
	case OpUpdate, OpSetDefault, OpDelete:
		if step.Ref == "" {
			return fmt.Errorf("%s: ref is required for %s", where, step.Op)
		}
	case OpConcurrent:
		if !allowConcurrent {
			return fmt.Errorf("%s: concurrent steps cannot nest", where)
		}
		if len(step.Steps) < 2 {
			return fmt.Errorf("%s: concurrent needs at least two steps", where)
		}
		for j, child := range step.Steps {
			if err := validateStep(fmt.Sprintf("%s.steps[%d]", where, j), child, false); err != nil {
				return err
			}
		}
	case "":
		return fmt.Errorf("%s: op is required", where)
	default:
		return fmt.Errorf("%s: unknown op %q", where, step.Op)
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	if _, err := resource.ParseKind(a.Kind); err != nil {
		return fmt.Errorf("assertions[%d]: %w", index, err)
	}
	switch a.Type {
	case AssertListOrder:
	case AssertDefault:
		if a.Ref == "" {
			return fmt.Errorf("assertions[%d]: ref is required for default", index)
		}
	case AssertDefaultOneOf:
		if len(a.Refs) == 0 {
			return fmt.Errorf("assertions[%d]: refs is required for default_one_of", index)
		}
	case AssertDefaultCount, AssertRecordCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// Deterministic reports whether the final state depends only on the steps.
// Scenarios with concurrent steps have a race winner and are not snapshotted.
func (s *Scenario) Deterministic() bool {
	for _, step := range s.Steps {
		if step.Op == OpConcurrent {
			return false
		}
	}
	return true
}
