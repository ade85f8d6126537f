package engine

import (
	"context"

	"github.com/openfroyo/stardrive/pkg/hashing"
)

// FileSystem is the source tree that tracked host functions observe.
// Paths are slash-separated and relative to the project root.
type FileSystem interface {
	// ReadFile returns the content of a file. Missing files yield a
	// NOT_FOUND error.
	ReadFile(path string) ([]byte, error)

	// ReadDir returns the visible entries of a directory sorted by name.
	// It fails with NOT_FOUND or NOT_A_DIRECTORY.
	ReadDir(path string) ([]hashing.Entry, error)

	// Stat probes a path. A missing path is FileKindMissing, not an error.
	Stat(path string) (FileKind, error)
}

// CacheStore persists one CacheEntry per task identity.
type CacheStore interface {
	// GetEntry returns the entry stored under key, or nil if there is none.
	// Entries that cannot be decoded yield a CACHE_CORRUPT error.
	GetEntry(ctx context.Context, key string) (*CacheEntry, error)

	// PutEntry atomically replaces the entry stored under entry.Key.
	PutEntry(ctx context.Context, entry *CacheEntry) error
}

// ObjectStore holds content-addressed blobs such as declared outputs.
type ObjectStore interface {
	PutObject(ctx context.Context, hash string, data []byte) error
	GetObject(ctx context.Context, hash string) ([]byte, error)
	HasObject(ctx context.Context, hash string) (bool, error)
}

// RunHistory records finished runs.
type RunHistory interface {
	RecordRun(ctx context.Context, report *RunReport) error
}

// Pruner evicts cache entries that a run did not visit.
type Pruner interface {
	// PruneEntries deletes every entry whose key is not in keep and returns
	// the number of entries removed.
	PruneEntries(ctx context.Context, keep []string) (int, error)
}

// Transformer provides the pure content transforms exposed to scripts.
type Transformer interface {
	MarkdownToHTML(src string) (string, error)
	MinifyHTML(src string) (string, error)
}

// RemoteContent is a fetched remote input.
type RemoteContent struct {
	URL  string
	Data []byte

	// ETag is the change token reported by the remote source, if any.
	ETag string
}

// RemoteFetcher supplies remote inputs for the fetch host function.
type RemoteFetcher interface {
	Fetch(ctx context.Context, url string) (*RemoteContent, error)
}

// ExecRequest is one script execution.
type ExecRequest struct {
	Identity TaskIdentity
	Source   []byte
	Host     Host
}

// ExecResult is what a successful script execution produced besides the
// output it declared through the host.
type ExecResult struct {
	// Value is the script's result global, normalised to JSON-compatible form.
	Value    any
	HasValue bool
}

// Executor runs a single task script in a fresh sandbox.
type Executor interface {
	Execute(ctx context.Context, req *ExecRequest) (*ExecResult, error)
}

// Host is the function surface a sandboxed script can reach. Paths passed to
// it are relative to the calling script's directory; a leading slash anchors
// them at the project root.
type Host interface {
	// Tracked.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	ListDirectory(ctx context.Context, path string) ([]string, error)
	FileType(ctx context.Context, path string) (FileKind, error)
	Fetch(ctx context.Context, url string) ([]byte, error)

	// Untracked.
	MarkdownToHTML(text string) (string, error)
	MinifyHTML(text string) (string, error)
	WriteOutput(ctx context.Context, name string, content []byte) error
	Print(msg string)

	// Spawning.
	Run(ctx context.Context, script string, args []any) (*SubtaskResult, error)
	RunTask(ctx context.Context, script string, args []any) (*SubtaskResult, error)
	QueueTask(ctx context.Context, script string, args []any) error
}
