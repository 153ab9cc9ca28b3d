package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// Load reads a CUE config file and decodes it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &Error{Field: "file", Message: err.Error(), Code: ErrCUE}
	}
	return Parse(path, data)
}

// Parse unifies src with the #Config schema and decodes the result.
// filename is used in error positions. Empty input yields the defaults,
// which still fail validation for lack of an api key.
func Parse(filename string, src []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile schema: %w", err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Config{}, formatCUEError(err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, formatCUEError(err)
	}

	if errs := Validate(cfg); len(errs) > 0 {
		return Config{}, &Error{Field: errs[0].Field, Message: errs[0].Message, Code: errs[0].Code}
	}
	return cfg, nil
}

// formatCUEError extracts the first error and its position from a CUE error.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &Error{Field: "cue", Message: err.Error(), Code: ErrCUE}
	}

	first := errs[0]
	e := &Error{Field: "cue", Message: first.Error(), Code: ErrCUE}
	if path := first.Path(); len(path) > 0 {
		e.Field = joinPath(path)
	}
	if positions := errors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}

func joinPath(path []string) string {
	out := path[0]
	for _, p := range path[1:] {
		out += "." + p
	}
	return out
}
