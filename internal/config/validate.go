package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/parents"
)

// Configuration error codes (E200-E299)
const (
	ErrCUE            = "E200" // CUE syntax, type or schema error
	ErrNoAPIKeys      = "E201" // at least one api key required
	ErrUnknownStore   = "E202" // api key references a store the catalog lacks
	ErrDuplicateStore = "E203" // store listed twice under one api key
	ErrInvalidAspect  = "E204" // unknown aspect in watched_aspects or aspects
	ErrInvalidKind    = "E205" // unknown parent relation kind
	ErrEmptyField     = "E206" // required string field is blank
)

// Error is a configuration error with an optional CUE position.
type Error struct {
	Field   string
	Message string
	Code    string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: [%s] %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationError is one cross-field configuration problem.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks rules the schema does not. Returns all errors found
// (does not fail-fast). An unknown stock strategy is not an error: the
// stock resolver falls back to the default and logs a warning.
func Validate(c Config) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(c.EntityType) == "" {
		errs = append(errs, ValidationError{Field: "entity_type", Message: "entity type is required", Code: ErrEmptyField})
	}

	if len(c.APIKeys) == 0 {
		errs = append(errs, ValidationError{Field: "api_keys", Message: "at least one api key is required", Code: ErrNoAPIKeys})
	}
	for _, name := range c.APIKeyNames() {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, ValidationError{Field: "api_keys", Message: "api key name is required", Code: ErrEmptyField})
		}
		seen := make(map[int64]bool)
		for _, id := range c.APIKeys[name].Stores {
			if seen[id] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("api_keys.%s.stores", name),
					Message: fmt.Sprintf("duplicate store %d", id),
					Code:    ErrDuplicateStore,
				})
			}
			seen[id] = true
		}
	}

	for i, s := range c.WatchedAspects {
		if a, err := ir.ParseAspect(s); err != nil || a == ir.AspectNone {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("watched_aspects[%d]", i),
				Message: fmt.Sprintf("unknown aspect %q", s),
				Code:    ErrInvalidAspect,
			})
		}
	}
	for _, m := range c.Overrides() {
		if strings.TrimSpace(m.Code) == "" {
			errs = append(errs, ValidationError{Field: "aspects", Message: "attribute code is required", Code: ErrEmptyField})
		}
		if _, err := ir.ParseAspect(string(m.Aspect)); err != nil {
			errs = append(errs, ValidationError{
				Field:   "aspects." + m.Code,
				Message: fmt.Sprintf("unknown aspect %q", m.Aspect),
				Code:    ErrInvalidAspect,
			})
		}
	}

	for i, s := range c.ParentKinds {
		if _, err := parents.ParseKind(s); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("parent_kinds[%d]", i),
				Message: err.Error(),
				Code:    ErrInvalidKind,
			})
		}
	}
	for i, t := range c.ChildTypes {
		if strings.TrimSpace(t) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("child_types[%d]", i),
				Message: "child type is required",
				Code:    ErrEmptyField,
			})
		}
	}
	return errs
}
