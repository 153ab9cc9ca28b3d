package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/catsync/internal/catalog"
	"github.com/roach88/catsync/internal/config"
)

// ValidationIssue is one problem found in the catalog or configuration.
type ValidationIssue struct {
	Source  string `json:"source"` // "catalog" | "config"
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                   `json:"valid"`
	Errors   []ValidationIssue      `json:"errors,omitempty"`
	Warnings []catalog.CycleWarning `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	env := &EnvOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a catalog snapshot and engine configuration",
		Long: `Validate a catalog snapshot and, optionally, an engine configuration.

Reports every problem found rather than stopping at the first one:
malformed entities and relations, config schema errors, and API keys that
reference stores missing from the catalog. Relation cycles are reported
as warnings.

Exit codes:
  0 - Valid (warnings allowed)
  1 - Validation errors
  2 - Command error (file not found, unreadable YAML)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, env, cmd)
		},
	}
	env.addFlags(cmd)

	return cmd
}

func runValidate(opts *RootOptions, env *EnvOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if _, err := os.Stat(env.Catalog); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("catalog file not found: %s", env.Catalog), nil)
	}
	snap, err := catalog.ReadSnapshot(env.Catalog)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeCatalog, err.Error(), nil)
	}
	formatter.VerboseLog("Read %d store(s), %d entit(ies), %d relation(s) from %s",
		len(snap.Stores), len(snap.Entities), len(snap.Relations), env.Catalog)

	result := ValidationResult{Warnings: catalog.AnalyzeCycles(snap)}
	for _, e := range snap.Validate() {
		result.Errors = append(result.Errors, ValidationIssue{
			Source:  "catalog",
			Field:   e.Field,
			Message: e.Message,
			Code:    ErrCodeCatalog,
		})
	}

	if env.Config != "" {
		if _, err := os.Stat(env.Config); os.IsNotExist(err) {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("config file not found: %s", env.Config), nil)
		}
		formatter.VerboseLog("Validating config: %s", env.Config)
		result.Errors = append(result.Errors, validateConfig(env.Config, snap)...)
	}

	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}
	result.Valid = true
	return outputValidateSuccess(formatter, result)
}

// validateConfig loads the configuration and checks its stores against
// the snapshot. Every unknown store is reported.
func validateConfig(path string, snap catalog.Snapshot) []ValidationIssue {
	cfg, err := config.Load(path)
	if err != nil {
		issue := ValidationIssue{Source: "config", Field: "file", Message: err.Error(), Code: ErrCodeConfig}
		var ce *config.Error
		if errors.As(err, &ce) {
			issue.Field = ce.Field
			issue.Message = ce.Message
			issue.Code = ce.Code
			if ce.Pos.IsValid() {
				issue.Line = ce.Pos.Line()
			}
		}
		return []ValidationIssue{issue}
	}

	known := make(map[int64]bool, len(snap.Stores))
	for _, s := range snap.Stores {
		known[s.ID] = true
	}
	var issues []ValidationIssue
	for _, name := range cfg.APIKeyNames() {
		for _, id := range cfg.APIKeys[name].Stores {
			if known[id] {
				continue
			}
			issues = append(issues, ValidationIssue{
				Source:  "config",
				Field:   fmt.Sprintf("api_keys.%s.stores", name),
				Message: fmt.Sprintf("unknown store %d", id),
				Code:    config.ErrUnknownStore,
			})
		}
	}
	return issues
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintln(formatter.Writer, "✓ Catalog and config valid")
	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", w.Level, w.Message)
	}
	return nil
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    result.Errors[0].Code,
				Message: result.Errors[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, e := range result.Errors {
		if e.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s line %d\n", e.Source, e.Line)
		} else {
			fmt.Fprintln(formatter.Writer, e.Source)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", e.Code, e.Field, e.Message)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", w.Level, w.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}
