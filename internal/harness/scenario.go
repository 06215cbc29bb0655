package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backends a scenario can run against.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Flow actions.
const (
	ActionSelect  = "select"
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionRetire  = "retire"
	ActionPut     = "put"
	ActionFail    = "fail"
	ActionRecover = "recover"
	ActionAdvance = "advance"
	ActionSweep   = "sweep"
)

// Assertion types.
const (
	AssertViewContains  = "view_contains"
	AssertViewExcludes  = "view_excludes"
	AssertViewCount     = "view_count"
	AssertStoreContains = "store_contains"
	AssertStoreExcludes = "store_excludes"
	AssertSubscriptions = "subscriptions"
)

// Scenario is one conformance scenario for the live view engine.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Backend selects the document store. Defaults to sqlite.
	Backend string `yaml:"backend,omitempty"`

	// IDPrefix prefixes generated document ids. Defaults to "task".
	IDPrefix string `yaml:"id_prefix,omitempty"`

	// MinInterval is the minimum time between sweeps. Defaults to 24h.
	MinInterval string `yaml:"min_interval,omitempty"`

	// Setup documents are written to the store before the view exists.
	Setup []Document `yaml:"setup,omitempty"`

	// Flow is executed in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions are checked against the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Document is a stored document. Exactly one of Fields and Raw is set;
// Raw is written verbatim and may be corrupt.
type Document struct {
	ID     string         `yaml:"id"`
	Fields map[string]any `yaml:"fields,omitempty"`
	Raw    string         `yaml:"raw,omitempty"`
}

// FlowStep is one action.
type FlowStep struct {
	// Invoke is the action name.
	Invoke string `yaml:"invoke"`

	// Args are the action arguments.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect is checked right after the step.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the outcome of one step.
type ExpectClause struct {
	// Error is the expected error kind; empty expects success.
	Error string `yaml:"error,omitempty"`

	// View lists the visible ids after the step, in order. Nil skips the
	// check; an empty list expects an empty view.
	View []string `yaml:"view,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	Type   string         `yaml:"type"`
	ID     string         `yaml:"id,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Count  int            `yaml:"count,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
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

	switch s.Backend {
	case "":
		s.Backend = BackendSQLite
	case BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if s.IDPrefix == "" {
		s.IDPrefix = "task"
	}
	if s.MinInterval == "" {
		s.MinInterval = "24h"
	}
	if _, err := time.ParseDuration(s.MinInterval); err != nil {
		return fmt.Errorf("min_interval: %w", err)
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, doc := range s.Setup {
		if doc.ID == "" {
			return fmt.Errorf("setup[%d]: id is required", i)
		}
		if (doc.Fields == nil) == (doc.Raw == "") {
			return fmt.Errorf("setup[%d]: exactly one of fields and raw is required", i)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(i, s.Backend, step); err != nil {
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

func validateStep(i int, backend string, step FlowStep) error {
	need := func(keys ...string) error {
		for _, k := range keys {
			if _, ok := step.Args[k]; !ok {
				return fmt.Errorf("flow[%d]: %s requires args.%s", i, step.Invoke, k)
			}
		}
		return nil
	}

	switch step.Invoke {
	case ActionSelect, ActionCreate, ActionSweep:
		return nil
	case ActionUpdate:
		return need("id", "patch")
	case ActionRetire:
		return need("id")
	case ActionPut:
		if err := need("id"); err != nil {
			return err
		}
		_, hasFields := step.Args["fields"]
		_, hasRaw := step.Args["raw"]
		if hasFields == hasRaw {
			return fmt.Errorf("flow[%d]: put requires exactly one of args.fields and args.raw", i)
		}
		return nil
	case ActionFail, ActionRecover:
		if backend != BackendMemory {
			return fmt.Errorf("flow[%d]: %s requires the memory backend", i, step.Invoke)
		}
		return need("op")
	case ActionAdvance:
		if err := need("by"); err != nil {
			return err
		}
		by, _ := step.Args["by"].(string)
		if _, err := time.ParseDuration(by); err != nil {
			return fmt.Errorf("flow[%d]: advance: %w", i, err)
		}
		return nil
	case "":
		return fmt.Errorf("flow[%d]: invoke is required", i)
	default:
		return fmt.Errorf("flow[%d]: unknown action %q", i, step.Invoke)
	}
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertViewContains, AssertViewExcludes, AssertStoreContains, AssertStoreExcludes:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
	case AssertViewCount, AssertSubscriptions:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
