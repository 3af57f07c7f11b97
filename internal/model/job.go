package model

import "time"

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
	JobStatusFailed:     {JobStatusPending},
}

// CanTransition reports whether a job may move from s to next. The only
// backwards edge is failed -> pending, used by an explicit retry.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is completed or failed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// JobSource describes where a job's targets come from.
type JobSource string

const (
	SourceURLs       JobSource = "urls"
	SourceWebSearch  JobSource = "web_search"
	SourceFileUpload JobSource = "file_upload"
	SourceAPI        JobSource = "api"
)

// Valid reports whether s is a known source.
func (s JobSource) Valid() bool {
	switch s {
	case SourceURLs, SourceWebSearch, SourceFileUpload, SourceAPI:
		return true
	}
	return false
}

// Job is a unit of work owning 0..N source targets.
type Job struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id,omitempty"`
	Source           JobSource  `json:"source"`
	Keyword          string     `json:"keyword,omitempty"`
	Location         string     `json:"location,omitempty"`
	SourceURLs       []string   `json:"source_urls,omitempty"`
	FileURI          string     `json:"file_uri,omitempty"`
	Status           JobStatus  `json:"status"`
	Progress         int        `json:"progress"`
	TotalRecords     int        `json:"total_records"`
	ProcessedRecords int        `json:"processed_records"`
	FailedRecords    int        `json:"failed_records"`
	CancelRequested  bool       `json:"cancel_requested"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	EnqueuedAt       *time.Time `json:"enqueued_at,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// JobCounters is the mutable progress snapshot written after each target.
type JobCounters struct {
	Progress         int `json:"progress"`
	TotalRecords     int `json:"total_records"`
	ProcessedRecords int `json:"processed_records"`
	FailedRecords    int `json:"failed_records"`
}

// Counters returns the job's current counters.
func (j *Job) Counters() JobCounters {
	return JobCounters{
		Progress:         j.Progress,
		TotalRecords:     j.TotalRecords,
		ProcessedRecords: j.ProcessedRecords,
		FailedRecords:    j.FailedRecords,
	}
}

// JobFilter narrows ListJobs results.
type JobFilter struct {
	Status       JobStatus
	UserID       string
	CreatedAfter time.Time
	Limit        int
	Offset       int
}

// JobStats aggregates job and record counts.
type JobStats struct {
	Pending          int `json:"pending"`
	Processing       int `json:"processing"`
	Completed        int `json:"completed"`
	Failed           int `json:"failed"`
	TotalRecords     int `json:"total_records"`
	ProcessedRecords int `json:"processed_records"`
	FailedTargets    int `json:"failed_targets"`
}

// Target is one unit of fetchable source content within a job.
type Target struct {
	URL  string `json:"url"`
	Hint string `json:"hint,omitempty"`
}
