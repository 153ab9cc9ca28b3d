package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/catsync/internal/catalog"
	"github.com/roach88/catsync/internal/ir"
)

// Scenario defines a reconciliation test scenario: a catalog, an engine
// configuration, seeded records, a sequence of steps and assertions on
// the resulting trace and final records.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is inline CUE engine configuration. When both Config and
	// ConfigFile are empty, a single "default" API key serves every store
	// of the catalog.
	Config string `yaml:"config,omitempty"`

	// ConfigFile is a path to a CUE config file, relative to the scenario.
	ConfigFile string `yaml:"config_file,omitempty"`

	// Catalog is the initial catalog snapshot.
	Catalog catalog.Snapshot `yaml:"catalog"`

	// Records are seeded into the record store before the first step.
	Records []RecordSpec `yaml:"records,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final records.
	Assertions []Assertion `yaml:"assertions"`
}

// KeySpec addresses a record. APIKey defaults to "default".
type KeySpec struct {
	APIKey string `yaml:"api_key,omitempty"`
	Target int64  `yaml:"target"`
	Parent int64  `yaml:"parent,omitempty"`
}

// DefaultAPIKey is the API key used when a scenario names none.
const DefaultAPIKey = "default"

// Key returns the record key under entityType.
func (k KeySpec) Key(entityType string) ir.RecordKey {
	apiKey := k.APIKey
	if apiKey == "" {
		apiKey = DefaultAPIKey
	}
	return ir.RecordKey{EntityType: entityType, APIKey: apiKey, TargetID: k.Target, TargetParentID: k.Parent}
}

// RecordSpec is a seeded record.
type RecordSpec struct {
	KeySpec `yaml:",inline"`

	Subtype   string    `yaml:"subtype"`
	Indexable bool      `yaml:"indexable"`
	Next      ir.Action `yaml:"next,omitempty"`
	Last      ir.Action `yaml:"last,omitempty"`
	Locked    bool      `yaml:"locked,omitempty"`
}

// Record builds the seeded record. Synced records get at as their last
// action time; locked records get it as their lock time.
func (r RecordSpec) Record(entityType string, at time.Time) ir.IndexingRecord {
	rec := ir.IndexingRecord{
		Key:         r.Key(entityType),
		Subtype:     r.Subtype,
		IsIndexable: r.Indexable,
		NextAction:  r.Next,
		LastAction:  r.Last,
	}
	if rec.NextAction == "" {
		rec.NextAction = ir.ActionNone
	}
	if rec.LastAction == "" {
		rec.LastAction = ir.ActionNone
	}
	if rec.LastAction != ir.ActionNone {
		rec.LastActionAt = &at
	}
	if r.Locked {
		rec.LockedAt = &at
	}
	return rec
}

// Step is one scenario step. Exactly one action field must be set.
type Step struct {
	// Event applies a change event through the engine.
	Event *ir.ChangeEvent `yaml:"event,omitempty"`

	// Put adds or replaces a catalog entity.
	Put *ir.Entity `yaml:"put,omitempty"`

	// Remove deletes a catalog entity (no event is emitted).
	Remove int64 `yaml:"remove,omitempty"`

	// Stock sets a stock registry row.
	Stock *catalog.StockEntry `yaml:"stock,omitempty"`

	// Link adds a catalog relation.
	Link *catalog.Relation `yaml:"link,omitempty"`

	// Lock, Unlock and Dispatch act as the downstream dispatcher.
	Lock     *KeySpec `yaml:"lock,omitempty"`
	Unlock   *KeySpec `yaml:"unlock,omitempty"`
	Dispatch *KeySpec `yaml:"dispatch,omitempty"`

	// Reevaluate re-checks every record of the named API key.
	Reevaluate string `yaml:"reevaluate,omitempty"`

	// Expect names the error the step must produce. Steps without it
	// must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected step outcome.
type ExpectClause struct {
	// Error is "conflict" or "invalid_argument".
	Error string `yaml:"error"`
}

// Expected step errors.
const (
	ExpectConflict        = "conflict"
	ExpectInvalidArgument = "invalid_argument"
)

// Step types, as recorded in the trace.
const (
	StepEvent      = "event"
	StepPut        = "put"
	StepRemove     = "remove"
	StepStock      = "stock"
	StepLink       = "link"
	StepLock       = "lock"
	StepUnlock     = "unlock"
	StepDispatch   = "dispatch"
	StepReevaluate = "reevaluate"
)

// Type returns the step type, or "" when zero or several actions are set.
func (s Step) Type() string {
	var types []string
	if s.Event != nil {
		types = append(types, StepEvent)
	}
	if s.Put != nil {
		types = append(types, StepPut)
	}
	if s.Remove != 0 {
		types = append(types, StepRemove)
	}
	if s.Stock != nil {
		types = append(types, StepStock)
	}
	if s.Link != nil {
		types = append(types, StepLink)
	}
	if s.Lock != nil {
		types = append(types, StepLock)
	}
	if s.Unlock != nil {
		types = append(types, StepUnlock)
	}
	if s.Dispatch != nil {
		types = append(types, StepDispatch)
	}
	if s.Reevaluate != "" {
		types = append(types, StepReevaluate)
	}
	if len(types) != 1 {
		return ""
	}
	return types[0]
}

// Assertion validates the trace or the final records.
type Assertion struct {
	// Type specifies the assertion type:
	// - "record": the record at Key exists and matches Expect
	// - "no_record": no record exists at Key
	// - "record_count": exactly Count records exist
	// - "update": some step moved Key's next action to Action
	// - "update_count": the trace holds exactly Count updates
	// - "conflict": some step reported a stock conflict for Key
	// - "deferred": some step deferred a change to Key
	Type string `yaml:"type"`

	Key    *KeySpec       `yaml:"key,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Action ir.Action      `yaml:"action,omitempty"`
	Count  int            `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRecord      = "record"
	AssertNoRecord    = "no_record"
	AssertRecordCount = "record_count"
	AssertUpdate      = "update"
	AssertUpdateCount = "update_count"
	AssertConflict    = "conflict"
	AssertDeferred    = "deferred"
)

// Fields a record assertion may check.
var recordFields = map[string]bool{
	"next_action":  true,
	"last_action":  true,
	"is_indexable": true,
	"subtype":      true,
	"locked":       true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving config_file relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.ConfigFile != "" && !filepath.IsAbs(scenario.ConfigFile) && basePath != "" {
		scenario.ConfigFile = filepath.Join(basePath, scenario.ConfigFile)
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
	if s.Config != "" && s.ConfigFile != "" {
		return fmt.Errorf("config and config_file are mutually exclusive")
	}
	if s.ConfigFile != "" {
		if _, err := os.Stat(s.ConfigFile); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", s.ConfigFile)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, r := range s.Records {
		if r.Target <= 0 {
			return fmt.Errorf("records[%d]: target must be positive", i)
		}
		if r.Subtype == "" {
			return fmt.Errorf("records[%d]: subtype is required", i)
		}
		for _, a := range []ir.Action{r.Next, r.Last} {
			if a != "" && !a.Valid() {
				return fmt.Errorf("records[%d]: invalid action %q", i, a)
			}
		}
	}

	for i, step := range s.Steps {
		typ := step.Type()
		if typ == "" {
			return fmt.Errorf("steps[%d]: exactly one action is required", i)
		}
		if step.Expect != nil {
			if typ != StepEvent && typ != StepReevaluate {
				return fmt.Errorf("steps[%d].expect: only event and reevaluate steps can expect an error", i)
			}
			switch step.Expect.Error {
			case ExpectConflict, ExpectInvalidArgument:
			default:
				return fmt.Errorf("steps[%d].expect: unknown error %q", i, step.Expect.Error)
			}
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
	case AssertRecord:
		if a.Key == nil {
			return fmt.Errorf("assertions[%d]: key is required for record", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for record", index)
		}
		for field := range a.Expect {
			if !recordFields[field] {
				return fmt.Errorf("assertions[%d]: unknown record field %q", index, field)
			}
		}
	case AssertNoRecord, AssertConflict, AssertDeferred:
		if a.Key == nil {
			return fmt.Errorf("assertions[%d]: key is required for %s", index, a.Type)
		}
	case AssertUpdate:
		if a.Key == nil {
			return fmt.Errorf("assertions[%d]: key is required for update", index)
		}
		if !a.Action.Valid() {
			return fmt.Errorf("assertions[%d]: valid action is required for update", index)
		}
	case AssertRecordCount, AssertUpdateCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
