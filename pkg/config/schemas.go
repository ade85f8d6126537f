package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SiteSchema is the name of the schema every configuration file must satisfy.
const SiteSchema = "site"

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(SiteSchema, "#Site", builtinSiteSchema); err != nil {
		panic(err)
	}

	return sr
}

// Context returns the CUE context schemas are compiled in. Values unified
// with a schema must come from this context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles source and registers the definition named def
// under name.
func (sr *SchemaRegistry) RegisterSchema(name, def, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	schema := val.LookupPath(cue.ParsePath(def))
	if !schema.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, def)
	}

	sr.schemas[name] = schema
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies val with the named schema and validates the result.
func (sr *SchemaRegistry) Unify(name string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", name)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(name string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	if _, err := sr.Unify(name, dataVal); err != nil {
		return err
	}
	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinSiteSchema = `
#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#Site: {
	// Project root seen by scripts.
	source_dir?: string & !=""

	// Where declared outputs are written.
	output_dir?: string & !=""

	// SQLite database of traces and objects.
	cache_path?: string & !=""

	// Root build script.
	entry?: string & =~"\\.star$"

	// Arguments of the root task.
	entry_args?: [...]

	workers?:      int & >=0 & <=1024
	task_timeout?: #Duration
	max_steps?:    int & >=0
	prune_stale?:  bool

	remote?: {
		enabled?:        bool
		timeout?:        #Duration
		user_agent?:     string
		default_ttl?:    #Duration
		max_body_bytes?: int & >=0
	}

	logging?: {
		level?:         "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		format?:        "console" | "json"
		output?:        string
		enable_caller?: bool
		time_format?:   string
	}

	tracing?: {
		enabled?:       bool
		exporter?:      "otlp" | "stdout" | "none"
		endpoint?:      string
		sampling_rate?: number & >=0 & <=1
		insecure?:      bool
		headers?: [string]: string
	}

	metrics?: {
		enabled?:        bool
		listen_address?: string
		path?:           string
		namespace?:      string
	}
}
`
