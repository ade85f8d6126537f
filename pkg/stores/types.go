package stores

import "time"

// RemoteObject is the cached metadata of one fetched remote input. The body
// lives in the objects table under ContentHash.
type RemoteObject struct {
	URL         string    `json:"url"`
	ETag        string    `json:"etag,omitempty"`
	ContentHash string    `json:"content_hash"`
	FetchedAt   time.Time `json:"fetched_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Fresh reports whether the object can be used without revalidation.
func (r *RemoteObject) Fresh(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// RunRecord is one row of run history.
type RunRecord struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Executed    int       `json:"executed"`
	Cached      int       `json:"cached"`
	Failed      int       `json:"failed"`
	Written     int       `json:"written"`
}

// Duration returns how long the run took.
func (r *RunRecord) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunFailure is one failed task of a run.
type RunFailure struct {
	RunID   string `json:"run_id"`
	Task    string `json:"task"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Stats summarises the store contents.
type Stats struct {
	Entries       int   `json:"entries"`
	Objects       int   `json:"objects"`
	ObjectBytes   int64 `json:"object_bytes"`
	RemoteObjects int   `json:"remote_objects"`
	Runs          int   `json:"runs"`
}
