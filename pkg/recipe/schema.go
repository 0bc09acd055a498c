package recipe

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// RecipeSchema is the CUE definition every recipe document must satisfy.
// Definitions are closed, so unknown keys are rejected.
const RecipeSchema = `
#Name: string & !=""

#Install: {
	kind:      "install" | "copy"
	template?: bool
	src:       #Name
	dest:      #Name
	mode?:     string
}

#Shell: {
	kind:      "shell"
	template?: bool
	cmd:       #Name
}

#Run: {
	kind:      "run"
	template?: bool
	script:    #Name
}

#Step: #Install | #Shell | #Run

#Recipe: {
	packages?:      [...#Name]
	systemd?:       [...#Name]
	template_vars?: [...{[string]: string | number | bool}]
	steps:          [...#Step]
}
`

// Schema validates decoded recipe documents against RecipeSchema.
type Schema struct {
	ctx    *cue.Context
	recipe cue.Value
	mu     sync.Mutex
}

// NewSchema compiles RecipeSchema.
func NewSchema() (*Schema, error) {
	ctx := cuecontext.New()
	val := ctx.CompileString(RecipeSchema, cue.Filename("recipe.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile recipe schema: %w", err)
	}

	recipe := val.LookupPath(cue.ParsePath("#Recipe"))
	if err := recipe.Err(); err != nil {
		return nil, fmt.Errorf("recipe schema has no #Recipe: %w", err)
	}

	return &Schema{ctx: ctx, recipe: recipe}, nil
}

// Validate checks data against #Recipe. Go values are encoded using their
// json field names.
func (s *Schema) Validate(data interface{}) []ValidationError {
	// cue.Context is not safe for concurrent use
	s.mu.Lock()
	defer s.mu.Unlock()

	val := s.ctx.Encode(data)
	if err := val.Err(); err != nil {
		return []ValidationError{{Message: fmt.Sprintf("failed to encode document: %v", err)}}
	}

	unified := s.recipe.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:    pathString(e.Path()),
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.Line = pos[0].Line()
		}
		out = append(out, ve)
	}
	return out
}

func pathString(parts []string) string {
	var s string
	for i, p := range parts {
		if i > 0 {
			s += "."
		}
		s += p
	}
	return s
}
