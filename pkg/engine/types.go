package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/openfroyo/stardrive/pkg/hashing"
)

// TaskIdentity names one task: a script path relative to the project root
// and an ordered list of JSON-compatible arguments. Two identities are equal
// when their keys are equal.
type TaskIdentity struct {
	// Script is the slash-separated script path relative to the project root.
	Script string `json:"script"`

	// Args are the bound arguments in call order.
	Args []any `json:"args"`
}

// NewTaskIdentity builds an identity with a cleaned script path and
// arguments normalised to their JSON form.
func NewTaskIdentity(script string, args []any) (TaskIdentity, error) {
	cleaned, err := ResolvePath(".", "/"+strings.TrimLeft(script, "/"))
	if err != nil {
		return TaskIdentity{}, err
	}
	if cleaned == "." {
		return TaskIdentity{}, NewInvalidArgumentError("script path is empty")
	}
	if !utf8.ValidString(cleaned) {
		return TaskIdentity{}, NewInvalidArgumentError(
			fmt.Sprintf("script path %q is not valid UTF-8", cleaned))
	}

	normalized, err := normalizeArgs(args)
	if err != nil {
		return TaskIdentity{}, NewInvalidArgumentError(
			fmt.Sprintf("arguments for %s are not JSON-compatible: %v", cleaned, err))
	}

	return TaskIdentity{Script: cleaned, Args: normalized}, nil
}

// MustTaskIdentity is like NewTaskIdentity but panics on error.
func MustTaskIdentity(script string, args ...any) TaskIdentity {
	id, err := NewTaskIdentity(script, args)
	if err != nil {
		panic(err)
	}
	return id
}

// Key returns the canonical string form of the identity.
func (id TaskIdentity) Key() string {
	return id.Script + "\x00" + id.argsJSON()
}

// String returns a display form such as "pages/post.star(["a.md"])".
func (id TaskIdentity) String() string {
	return id.Script + "(" + id.argsJSON() + ")"
}

// ArgsHash returns the digest of the argument list.
func (id TaskIdentity) ArgsHash() string {
	h, err := hashing.Args(id.Args)
	if err != nil {
		// Normalised arguments always encode.
		panic(err)
	}
	return h
}

func (id TaskIdentity) argsJSON() string {
	data, err := hashing.Canonical(id.Args)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// UnmarshalJSON decodes an identity, keeping integer arguments as int64.
func (id *TaskIdentity) UnmarshalJSON(data []byte) error {
	var raw struct {
		Script string          `json:"script"`
		Args   json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	args := []any{}
	if len(raw.Args) > 0 && string(raw.Args) != "null" {
		v, err := decodeJSON(raw.Args)
		if err != nil {
			return err
		}
		list, ok := v.([]any)
		if !ok {
			return fmt.Errorf("task args must be a list")
		}
		args = list
	}
	id.Script = raw.Script
	id.Args = args
	return nil
}

// DependencyRecord is one tracked observation made while a task ran.
type DependencyRecord struct {
	// Kind is the variant of the record.
	Kind RecordKind `json:"kind"`

	// Path is the file or directory path, or the URL for remote fetches.
	Path string `json:"path,omitempty"`

	// Task is the child identity for subtask_output records.
	Task *TaskIdentity `json:"task,omitempty"`

	// Hash is the digest of the observed value.
	Hash string `json:"hash"`
}

// FileReadRecord records the content hash of a file that was read.
func FileReadRecord(path, hash string) DependencyRecord {
	return DependencyRecord{Kind: RecordFileRead, Path: path, Hash: hash}
}

// ListingRecord records the hash of a directory listing.
func ListingRecord(path, hash string) DependencyRecord {
	return DependencyRecord{Kind: RecordDirectoryListing, Path: path, Hash: hash}
}

// FileTypeRecord records the hash of a file_type probe.
func FileTypeRecord(path, hash string) DependencyRecord {
	return DependencyRecord{Kind: RecordFileType, Path: path, Hash: hash}
}

// RemoteRecord records the content hash of a fetched remote input.
func RemoteRecord(url, hash string) DependencyRecord {
	return DependencyRecord{Kind: RecordRemoteFetch, Path: url, Hash: hash}
}

// SubtaskRecord records the output hash of a child task.
func SubtaskRecord(child TaskIdentity, outputHash string) DependencyRecord {
	return DependencyRecord{Kind: RecordSubtaskOutput, Task: &child, Hash: outputHash}
}

// String returns a one-line description of the record.
func (r DependencyRecord) String() string {
	short := r.Hash
	if len(short) > 12 {
		short = short[:12]
	}
	if r.Kind == RecordSubtaskOutput && r.Task != nil {
		return fmt.Sprintf("%s %s %s", r.Kind, r.Task, short)
	}
	return fmt.Sprintf("%s %s %s", r.Kind, r.Path, short)
}

// Trace is everything one execution of a task observed.
type Trace struct {
	// ScriptHash is the digest of the script source that ran.
	ScriptHash string `json:"script_hash"`

	// ArgsHash is the digest of the bound arguments.
	ArgsHash string `json:"args_hash"`

	// Records are the tracked observations in discovery order.
	Records []DependencyRecord `json:"records"`
}

// Output is the artifact a task declared. Name, ContentHash and Size come from
// write_output; Value is the script's result global.
type Output struct {
	Name        string `json:"name,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Value       any    `json:"value,omitempty"`
}

// nothingHash is the output hash of a task that declared nothing.
var nothingHash = hashing.Output([]byte("null"))

// Hash returns the digest that parent traces record for this output.
// A nil output hashes to a fixed digest.
func (o *Output) Hash() string {
	if o == nil {
		return nothingHash
	}
	data, err := hashing.Canonical(o)
	if err != nil {
		// Values are normalised before they reach an Output.
		panic(err)
	}
	return hashing.Output(data)
}

// UnmarshalJSON decodes an output, keeping integer values as int64.
func (o *Output) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name        string          `json:"name"`
		ContentHash string          `json:"content_hash"`
		Size        int64           `json:"size"`
		Value       json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var value any
	if len(raw.Value) > 0 {
		v, err := decodeJSON(raw.Value)
		if err != nil {
			return err
		}
		value = v
	}
	*o = Output{Name: raw.Name, ContentHash: raw.ContentHash, Size: raw.Size, Value: value}
	return nil
}

// CacheEntry is the persisted result of the last successful execution of one
// task identity.
type CacheEntry struct {
	Key        string       `json:"key"`
	Identity   TaskIdentity `json:"identity"`
	ScriptHash string       `json:"script_hash"`
	ArgsHash   string       `json:"args_hash"`
	Trace      Trace        `json:"trace"`
	Output     *Output      `json:"output,omitempty"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// SubtaskResult is what run and run_task hand back to a calling script.
type SubtaskResult struct {
	Identity TaskIdentity
	Output   *Output

	// Content is the declared artifact's bytes, nil when none was written.
	Content []byte
}

// TaskReport is the final state of one task in a run.
type TaskReport struct {
	Identity    TaskIdentity  `json:"identity"`
	State       TaskState     `json:"state"`
	Cached      bool          `json:"cached"`
	Output      *Output       `json:"output,omitempty"`
	Err         error         `json:"-"`
	Duration    time.Duration `json:"duration"`
	Diagnostics []string      `json:"diagnostics,omitempty"`
}

// RunReport summarises a build run.
type RunReport struct {
	RunID       string        `json:"run_id"`
	Status      RunStatus     `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Tasks       []*TaskReport `json:"tasks"`
	Executed    int           `json:"executed"`
	Cached      int           `json:"cached"`
	Failed      int           `json:"failed"`

	// Written lists the output names materialised into the output directory.
	Written []string `json:"written,omitempty"`

	// OutputError describes why materialising outputs failed, if it did.
	OutputError string `json:"output_error,omitempty"`
}

// Task returns the report for id, or nil if the task was not part of the run.
func (r *RunReport) Task(id TaskIdentity) *TaskReport {
	key := id.Key()
	for _, t := range r.Tasks {
		if t.Identity.Key() == key {
			return t
		}
	}
	return nil
}

// Failures returns the reports of failed tasks.
func (r *RunReport) Failures() []*TaskReport {
	var failed []*TaskReport
	for _, t := range r.Tasks {
		if t.State == TaskFailed {
			failed = append(failed, t)
		}
	}
	return failed
}

// BuildError is returned by Build when any task failed or the outputs could
// not be written.
type BuildError struct {
	RunID    string
	Failures []*TaskReport

	// Err is the materialisation error, nil when only tasks failed.
	Err error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "build failed: %d task(s) failed", len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&sb, "\n  %s: %v", f.Identity, f.Err)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, "\n  outputs: %v", e.Err)
	}
	return sb.String()
}

// Unwrap returns the materialisation error.
func (e *BuildError) Unwrap() error {
	return e.Err
}

// normalizeArgs converts args to the form they take after a JSON round trip.
func normalizeArgs(args []any) ([]any, error) {
	if len(args) == 0 {
		return []any{}, nil
	}
	v, err := normalizeValue(args)
	if err != nil {
		return nil, err
	}
	return v.([]any), nil
}

// normalizeValue converts v to the form it takes after a JSON round trip,
// with integral numbers as int64 and other numbers as float64. Strings must
// be valid UTF-8 so that distinct values never share an encoding.
func normalizeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if err := checkUTF8(v); err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeJSON(data)
}

// checkUTF8 reports the first string in v, or map key, that is not valid UTF-8.
func checkUTF8(v any) error {
	switch t := v.(type) {
	case string:
		if !utf8.ValidString(t) {
			return fmt.Errorf("string %q is not valid UTF-8", t)
		}
	case []string:
		for _, e := range t {
			if err := checkUTF8(e); err != nil {
				return err
			}
		}
	case []any:
		for _, e := range t {
			if err := checkUTF8(e); err != nil {
				return err
			}
		}
	case map[string]any:
		for k, e := range t {
			if err := checkUTF8(k); err != nil {
				return err
			}
			if err := checkUTF8(e); err != nil {
				return err
			}
		}
	case map[string]string:
		for k, e := range t {
			if err := checkUTF8(k); err != nil {
				return err
			}
			if err := checkUTF8(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return fromJSONNumbers(v), nil
}

func fromJSONNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = fromJSONNumbers(t[i])
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = fromJSONNumbers(e)
		}
		return t
	default:
		return v
	}
}
