package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/hashicorp/go-multierror"

	"github.com/sif-factory/sif/pkg/engine"
)

// catalogSchema constrains a CUE catalog before it is exported and decoded
// like a YAML one. Definitions are closed, so unknown fields are errors.
const catalogSchema = `
#ID: string & =~"^[a-zA-Z0-9][a-zA-Z0-9_.-]*$"

#Duration: string | int & >=0

#Component: {
	id:            #ID
	type:          "command" | "file" | "installer" | "noop" | "wasm"
	description?:  string
	dependencies?: [...#ID]
	config?: {...}
	enabled?:     bool
	skip?:        bool
	library?:     #ID
	composition?: #ID
}

#Library: {
	id:       #ID
	name?:    string
	root:     string & !=""
	version?: string
	include?: [...string]
}

#Segment: {
	id:           #ID
	name?:        string
	description?: string
	content:      string
	variant?:     string
	section?:     string
	category?:    string
	version?:     string
	tags?: [...string]
	required?:  bool
	condition?: string
}

#Item: {
	segment:   #ID
	position:  int & >=0
	enabled:   *true | bool
	override?: string
}

#Composition: {
	id:           #ID
	name?:        string
	description?: string
	variant?:     string
	target_file?: string
	items: [...#Item]
}

#Entry: {
	path:      string & !=""
	required?: bool
	dependencies?: [...string]
	checksum?: =~"^[a-f0-9]{64}$"
}

#Catalog: {
	version: "v1"
	executor?: {
		max_parallel?: int & >=0
		max_retries?:  int & >=0
		step_timeout?: #Duration
		base_backoff?: #Duration
		max_backoff?:  #Duration
		policy?:       "abort" | "degrade"
	}
	components?: [...#Component]
	libraries?: [...#Library]
	segments?: [...#Segment]
	compositions?: [...#Composition]
	catalog?: [...#Entry]
	content_root?: string
	variables?:    string
	policies?: [...string]
}
`

// ParseCUE evaluates a CUE catalog, checks it against the catalog schema and
// hands the exported document to Parse. The version field may be omitted.
func ParseCUE(data []byte, path string) (*Catalog, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(catalogSchema, cue.Filename("catalog-schema.cue")).
		LookupPath(cue.ParsePath("#Catalog"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling catalog schema: %w", err)
	}

	val := ctx.CompileBytes(data, cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, invalidCUE(path, err)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, invalidCUE(path, err)
	}

	exported, err := unified.MarshalJSON()
	if err != nil {
		return nil, invalidCUE(path, err)
	}

	// JSON is a YAML subset, so the regular decoder and validation apply.
	return Parse(exported, path)
}

func invalidCUE(path string, err error) error {
	return engine.NewStructuralError("invalid catalog", cueErrors(path, err)).
		WithCode(engine.ErrCodeValidation).WithResource(path)
}

// cueErrors converts CUE evaluation errors into ValidationErrors.
func cueErrors(path string, err error) error {
	var result *multierror.Error
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		ve := ValidationError{
			File:    path,
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.Line = pos[0].Line()
		}
		result = multierror.Append(result, ve)
	}
	if result == nil {
		return ValidationError{File: path, Message: err.Error()}
	}
	return result.ErrorOrNil()
}
