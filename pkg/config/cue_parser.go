package config

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
)

// CUEParser parses CUE configuration files against the site schema.
type CUEParser struct {
	registry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser(registry *SchemaRegistry) *CUEParser {
	if registry == nil {
		registry = NewSchemaRegistry()
	}
	return &CUEParser{registry: registry}
}

// ParseFile parses a CUE configuration file and returns its fields.
func (cp *CUEParser) ParseFile(path string) (map[string]interface{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return cp.parse(string(content), path)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(content string) (map[string]interface{}, error) {
	return cp.parse(content, "inline")
}

func (cp *CUEParser) parse(content, filename string) (map[string]interface{}, error) {
	val := cp.registry.Context().CompileString(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, &LoadError{Path: filename, Errors: convertCUEErrors(err)}
	}

	unified, err := cp.registry.Unify(SiteSchema, val)
	if err != nil {
		return nil, &LoadError{Path: filename, Errors: convertCUEErrors(err)}
	}

	fields := make(map[string]interface{})
	if err := unified.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	return fields, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int

		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		path := ""
		for i, sel := range e.Path() {
			if i > 0 {
				path += "."
			}
			path += sel
		}

		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    path,
			Message: errors.Details(e, nil),
		})
	}

	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{Message: err.Error()})
	}

	return validationErrors
}
