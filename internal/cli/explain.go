package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/catsync/internal/aspect"
	"github.com/roach88/catsync/internal/engine"
	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/stock"
)

// ExplainResult is the effective configuration, plus the classification
// of any attribute codes given on the command line.
type ExplainResult struct {
	EntityType        string               `json:"entity_type"`
	StockStrategy     string               `json:"stock_strategy"`
	ExcludeOutOfStock bool                 `json:"exclude_out_of_stock"`
	Concurrency       int                  `json:"concurrency"`
	WatchedAspects    []ir.Aspect          `json:"watched_aspects"`
	ParentKinds       []string             `json:"parent_kinds"`
	ChildTypes        []string             `json:"child_types"`
	APIKeys           []ExplainAPIKey      `json:"api_keys"`
	Aspects           []aspect.Mapping     `json:"aspects,omitempty"`
	Codes             []CodeClassification `json:"codes,omitempty"`
}

// ExplainAPIKey lists the stores an API key resolved to.
type ExplainAPIKey struct {
	Key    string     `json:"key"`
	Stores []ir.Store `json:"stores"`
}

// CodeClassification explains how one attribute code is handled.
type CodeClassification struct {
	Code     string    `json:"code"`
	Aspect   ir.Aspect `json:"aspect,omitempty"` // empty when the code is unmapped
	Relevant bool      `json:"relevant"`
}

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	Env     EnvOptions
	Aspects bool // print the full aspect table
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain [attribute-code...]",
		Short: "Show the effective engine configuration",
		Long: `Show the configuration the engine would run with: API keys resolved to
catalog stores, watched aspects, stock strategy and parent resolution.

Attribute codes given as arguments are classified against the merged
aspect table and checked against the watched aspects.

Examples:
  catsync explain --catalog catalog.yaml --config engine.cue
  catsync explain --catalog catalog.yaml price updated_at color
  catsync explain --catalog catalog.yaml --aspects --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args, cmd)
		},
	}
	opts.Env.addFlags(cmd)
	cmd.Flags().BoolVar(&opts.Aspects, "aspects", false, "include the merged attribute code -> aspect table")

	return cmd
}

func runExplain(opts *ExplainOptions, codes []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	env, err := LoadEnv(opts.Env)
	if err != nil {
		return loadFailure(formatter, err)
	}
	classifier, err := aspect.New(env.Config.Overrides())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}

	result := ExplainResult{
		EntityType:        env.Engine.EntityType,
		StockStrategy:     string(effectiveStrategy(env.Config.StockStrategy)),
		ExcludeOutOfStock: env.Engine.ExcludeOutOfStock,
		Concurrency:       env.Config.Concurrency,
		WatchedAspects:    env.Engine.WatchedAspects.Slice(),
		ParentKinds:       env.Config.ParentKinds,
		ChildTypes:        env.Config.ChildTypes,
		APIKeys:           explainAPIKeys(env.Engine.APIKeys),
	}
	if opts.Aspects {
		result.Aspects = classifier.Mappings()
	}
	for _, code := range codes {
		c := CodeClassification{Code: code}
		if a, ok := classifier.Lookup(code); ok {
			c.Aspect = a
			c.Relevant = engine.AspectsMatch(ir.NewAspectSet(a), env.Engine.WatchedAspects)
		}
		result.Codes = append(result.Codes, c)
	}

	return formatter.Render(result, func(w io.Writer) {
		printExplain(w, result)
	})
}

// effectiveStrategy mirrors the stock resolver: an unknown strategy falls
// back to the default.
func effectiveStrategy(s string) stock.Strategy {
	st, err := stock.ParseStrategy(s)
	if err != nil {
		return stock.DefaultStrategy
	}
	return st
}

func explainAPIKeys(keys []engine.APIKey) []ExplainAPIKey {
	out := make([]ExplainAPIKey, 0, len(keys))
	for _, k := range keys {
		stores := k.Stores
		if stores == nil {
			stores = []ir.Store{}
		}
		out = append(out, ExplainAPIKey{Key: k.Key, Stores: stores})
	}
	return out
}

func printExplain(w io.Writer, r ExplainResult) {
	fmt.Fprintf(w, "Entity type:    %s\n", r.EntityType)
	fmt.Fprintf(w, "Stock strategy: %s\n", r.StockStrategy)
	if r.ExcludeOutOfStock {
		fmt.Fprintln(w, "Out of stock:   excluded")
	} else {
		fmt.Fprintln(w, "Out of stock:   indexed")
	}
	fmt.Fprintf(w, "Concurrency:    %d\n", r.Concurrency)
	fmt.Fprintf(w, "Watching:       %s\n", joinAspects(r.WatchedAspects))
	fmt.Fprintf(w, "Parent kinds:   %s\n", strings.Join(r.ParentKinds, ", "))
	fmt.Fprintf(w, "Child types:    %s\n", strings.Join(r.ChildTypes, ", "))

	fmt.Fprintln(w, "\nAPI keys:")
	for _, k := range r.APIKeys {
		parts := make([]string, 0, len(k.Stores))
		for _, s := range k.Stores {
			parts = append(parts, fmt.Sprintf("%d (%s, website %d)", s.ID, s.Code, s.WebsiteID))
		}
		fmt.Fprintf(w, "  %s: %s\n", k.Key, strings.Join(parts, ", "))
	}

	if len(r.Aspects) > 0 {
		fmt.Fprintln(w, "\nAspects:")
		for _, m := range r.Aspects {
			fmt.Fprintf(w, "  %-20s %s\n", m.Code, m.Aspect)
		}
	}

	if len(r.Codes) > 0 {
		fmt.Fprintln(w, "\nCodes:")
		for _, c := range r.Codes {
			switch {
			case c.Aspect == "":
				fmt.Fprintf(w, "  %-20s unmapped, ignored\n", c.Code)
			case c.Relevant:
				fmt.Fprintf(w, "  %-20s %s, relevant\n", c.Code, c.Aspect)
			default:
				fmt.Fprintf(w, "  %-20s %s, ignored\n", c.Code, c.Aspect)
			}
		}
	}
}

func joinAspects(aspects []ir.Aspect) string {
	parts := make([]string, len(aspects))
	for i, a := range aspects {
		parts[i] = string(a)
	}
	return strings.Join(parts, ", ")
}
