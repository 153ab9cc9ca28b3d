package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/catsync/internal/catalog"
	"github.com/roach88/catsync/internal/config"
	"github.com/roach88/catsync/internal/engine"
	"github.com/roach88/catsync/internal/store"
)

// LoadError is a failure to load the catalog or the engine configuration.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// EnvOptions locate the catalog snapshot and the engine configuration.
type EnvOptions struct {
	Catalog string
	Config  string
}

func (o *EnvOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Catalog, "catalog", "", "path to YAML catalog snapshot (required)")
	cmd.Flags().StringVar(&o.Config, "config", "", "path to CUE engine configuration (default: one api key over every store)")
	_ = cmd.MarkFlagRequired("catalog")
}

// Env is what a command runs against: the catalog and the resolved
// configuration.
type Env struct {
	Snapshot catalog.Snapshot
	Catalog  *catalog.Catalog
	Config   config.Config
	Engine   engine.Config
}

// LoadEnv reads the catalog and configuration and resolves API key stores.
// Errors are *LoadError.
func LoadEnv(opts EnvOptions) (*Env, error) {
	if _, err := os.Stat(opts.Catalog); err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("catalog file not found: %s", opts.Catalog)}
	}
	snap, err := catalog.ReadSnapshot(opts.Catalog)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeCatalog, Message: err.Error()}
	}
	cat, err := catalog.New(snap)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeCatalog, Message: err.Error()}
	}

	cfg, err := loadConfig(opts.Config, cat)
	if err != nil {
		return nil, err
	}
	engCfg, err := cfg.Build(cat)
	if err != nil {
		return nil, configError(err)
	}
	return &Env{Snapshot: snap, Catalog: cat, Config: cfg, Engine: engCfg}, nil
}

// loadConfig reads the CUE configuration, or defaults to a single
// "default" API key serving every catalog store.
func loadConfig(path string, cat *catalog.Catalog) (config.Config, error) {
	if path == "" {
		stores := cat.Stores()
		ids := make([]int64, 0, len(stores))
		for _, s := range stores {
			ids = append(ids, s.ID)
		}
		return config.Default(ids...), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Config{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config file not found: %s", path)}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, configError(err)
	}
	return cfg, nil
}

// configError keeps the E2xx code and CUE position of a config error.
func configError(err error) *LoadError {
	var ce *config.Error
	if errors.As(err, &ce) {
		return &LoadError{Code: ce.Code, Message: fmt.Sprintf("%s: %s", ce.Field, ce.Message), Pos: ce.Pos}
	}
	return &LoadError{Code: ErrCodeConfig, Message: err.Error()}
}

// loadFailure reports an environment error as a command error.
func loadFailure(f *OutputFormatter, err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		return f.Fail(ExitCommandError, le.Code, le.Error(), nil)
	}
	return f.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
}

// newEngine wires an engine over the record store st.
func (env *Env) newEngine(st *store.Store, logger *slog.Logger, opts ...engine.Option) (*engine.Engine, error) {
	collab, err := env.Config.Collaborators(env.Catalog, st, logger)
	if err != nil {
		return nil, err
	}
	return engine.New(env.Engine, collab, append([]engine.Option{engine.WithLogger(logger)}, opts...)...)
}

// openStore opens the record store at path, creating it if needed.
// An empty path opens a throwaway in-memory store.
func openStore(f *OutputFormatter, path string) (*store.Store, error) {
	if path == "" {
		path = ":memory:"
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeDatabase, fmt.Sprintf("failed to open database: %v", err), nil)
	}
	return st, nil
}

// openExistingStore opens a record store that must already exist.
func openExistingStore(f *OutputFormatter, path string) (*store.Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, f.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("database not found: %s", path), nil)
	}
	return openStore(f, path)
}

// newLogger returns a text logger on w. Debug records are kept when
// verbose is set.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// commandContext returns the command's context, or a background context
// when the command was not executed through cobra.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
