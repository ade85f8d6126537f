package engine

import "fmt"

// TaskState is the lifecycle state of a task within one run.
type TaskState string

const (
	// TaskPending indicates the task is known but has not started.
	TaskPending TaskState = "pending"

	// TaskRunning indicates the task is being validated or executed.
	TaskRunning TaskState = "running"

	// TaskSucceeded indicates the task produced its output.
	TaskSucceeded TaskState = "succeeded"

	// TaskFailed indicates the task ended with an error.
	TaskFailed TaskState = "failed"
)

// IsTerminal returns true if the state is final for the run.
func (s TaskState) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// RunStatus is the final status of a build run.
type RunStatus string

const (
	// RunStatusRunning indicates the run has not finished.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every task succeeded.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates at least one task failed.
	RunStatusFailed RunStatus = "failed"
)

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// RecordKind identifies the variant of a DependencyRecord.
type RecordKind string

const (
	// RecordFileRead is a read_file observation.
	RecordFileRead RecordKind = "file_read"

	// RecordDirectoryListing is a list_directory observation.
	RecordDirectoryListing RecordKind = "directory_listing"

	// RecordFileType is a file_type probe.
	RecordFileType RecordKind = "file_type"

	// RecordSubtaskOutput is the output of a spawned child task.
	RecordSubtaskOutput RecordKind = "subtask_output"

	// RecordRemoteFetch is a fetched remote input.
	RecordRemoteFetch RecordKind = "remote_fetch"
)

// Validate checks if the record kind is known.
func (k RecordKind) Validate() error {
	switch k {
	case RecordFileRead, RecordDirectoryListing, RecordFileType,
		RecordSubtaskOutput, RecordRemoteFetch:
		return nil
	default:
		return fmt.Errorf("invalid record kind: %s", k)
	}
}

// FileKind is the result of a file_type probe.
type FileKind string

const (
	FileKindFile      FileKind = "file"
	FileKindDirectory FileKind = "directory"
	FileKindMissing   FileKind = "missing"
)
