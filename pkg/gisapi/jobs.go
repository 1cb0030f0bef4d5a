package gisapi

import (
	"context"
	"encoding/json"
	"net/url"
	"time"
)

// JobStatus is the local taxonomy for remote job states. The platform
// reports raw "esriJob*" strings; ParseJobStatus collapses them into this
// closed set for event dispatch.
type JobStatus string

const (
	JobStatusNew        JobStatus = "new"
	JobStatusWaiting    JobStatus = "waiting"
	JobStatusSubmitted  JobStatus = "submitted"
	JobStatusExecuting  JobStatus = "executing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
	JobStatusTimedOut   JobStatus = "timed-out"
	JobStatusCancelling JobStatus = "cancelling"
	JobStatusCancelled  JobStatus = "cancelled"

	// JobStatusUnknown is reported for raw statuses outside the known set.
	// Polling continues through unknown statuses; they are never fatal.
	JobStatusUnknown JobStatus = "unknown"
)

// rawJobStatuses maps the platform's wire statuses onto the local taxonomy.
var rawJobStatuses = map[string]JobStatus{
	"esriJobNew":        JobStatusNew,
	"esriJobWaiting":    JobStatusWaiting,
	"esriJobSubmitted":  JobStatusSubmitted,
	"esriJobExecuting":  JobStatusExecuting,
	"esriJobSucceeded":  JobStatusSucceeded,
	"esriJobFailed":     JobStatusFailed,
	"esriJobTimedOut":   JobStatusTimedOut,
	"esriJobCancelling": JobStatusCancelling,
	"esriJobCancelled":  JobStatusCancelled,
}

// ParseJobStatus maps a raw remote status string to the local taxonomy.
// Unrecognized strings map to JobStatusUnknown rather than failing.
func ParseJobStatus(raw string) JobStatus {
	if status, ok := rawJobStatuses[raw]; ok {
		return status
	}

	return JobStatusUnknown
}

// Terminal reports whether no further transition can occur from this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusTimedOut, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobEventKind identifies the kind of a job event.
type JobEventKind string

const (
	// JobEventStatus fires on every poll tick with the full status payload,
	// in addition to exactly one of the named kinds below.
	JobEventStatus JobEventKind = "status"

	JobEventNew        JobEventKind = "new"
	JobEventWaiting    JobEventKind = "waiting"
	JobEventSubmitted  JobEventKind = "submitted"
	JobEventExecuting  JobEventKind = "executing"
	JobEventSucceeded  JobEventKind = "succeeded"
	JobEventFailed     JobEventKind = "failed"
	JobEventTimedOut   JobEventKind = "timed-out"
	JobEventCancelling JobEventKind = "cancelling"
	JobEventCancelled  JobEventKind = "cancelled"

	// JobEventUnknownStatus fires when the remote system reports a status
	// outside the known taxonomy, so consumers listening only to named
	// events can still observe a stuck job.
	JobEventUnknownStatus JobEventKind = "unknown-status"

	// JobEventError fires when a poll tick fails at the transport level.
	// Polling continues; a single failed poll does not stop monitoring.
	JobEventError JobEventKind = "error"
)

// eventKindForStatus maps a taxonomy status to its named event kind.
func eventKindForStatus(status JobStatus) JobEventKind {
	if status == JobStatusUnknown {
		return JobEventUnknownStatus
	}

	return JobEventKind(status)
}

// EventKindForStatus returns the named event kind dispatched for a status.
func EventKindForStatus(status JobStatus) JobEventKind {
	return eventKindForStatus(status)
}

// JobEvent is the tagged union delivered to job subscribers. Info is set for
// status-bearing events; Err is set only for JobEventError.
type JobEvent struct {
	Kind JobEventKind
	Info *JobInfo
	Err  error
}

// JobHandler consumes job events. Handlers run synchronously on the polling
// goroutine and must not block.
type JobHandler func(JobEvent)

// Subscription identifies a registered handler so it can be detached again.
// Cancelling is idempotent and also removes once-handlers that have not yet
// fired.
type Subscription interface {
	Cancel()
}

// JobInfo represents a job's status payload (jobs/{jobId}).
type JobInfo struct {
	JobID     string                     `json:"jobId"              yaml:"jobId"`
	JobStatus string                     `json:"jobStatus"          yaml:"jobStatus"`
	Results   map[string]JobResultRef    `json:"results,omitempty"  yaml:"results,omitempty"`
	Inputs    map[string]json.RawMessage `json:"inputs,omitempty"   yaml:"inputs,omitempty"`
	Messages  []JobMessage               `json:"messages,omitempty" yaml:"messages,omitempty"`
	Progress  *JobProgress               `json:"progress,omitempty" yaml:"progress,omitempty"`
}

// Status returns the job's status in the local taxonomy.
func (i *JobInfo) Status() JobStatus {
	return ParseJobStatus(i.JobStatus)
}

// JobResultRef points at an output parameter of a succeeded job, relative to
// the job URL.
type JobResultRef struct {
	ParamURL string `json:"paramUrl" yaml:"paramUrl"`
}

// JobMessage is a server-side processing message.
type JobMessage struct {
	Type        string `json:"type"        yaml:"type"`
	Description string `json:"description" yaml:"description"`
}

// JobProgress reports server-side progress when the operation supports it.
type JobProgress struct {
	Type    string `json:"type"              yaml:"type"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	Percent int    `json:"percent,omitempty" yaml:"percent,omitempty"`
}

// JobResult is a fetched output parameter value.
type JobResult struct {
	ParamName string          `json:"paramName" yaml:"paramName"`
	DataType  string          `json:"dataType"  yaml:"dataType"`
	Value     json.RawMessage `json:"value"     yaml:"value"`
}

// SubmitJobRequest describes a job submission.
type SubmitJobRequest struct {
	// URL is the operation endpoint; submission POSTs to {URL}/submitJob and
	// status polls derive {URL}/jobs/{jobId} from it.
	URL string
	// Params are the operation's domain parameters, passed through untouched.
	Params url.Values
	// StartMonitoring starts the polling loop as soon as the job is created.
	StartMonitoring bool
	// PollingRate overrides the interval between polls when > 0.
	PollingRate time.Duration
}

// Job drives a submitted server-side operation from submission to terminal
// result without a hand-written polling loop.
type Job interface {
	// ID returns the server-issued job identifier.
	ID() string
	// Status returns the last observed status in the local taxonomy.
	Status() JobStatus

	// On registers a handler for an event kind.
	On(kind JobEventKind, handler JobHandler) Subscription
	// Once registers a handler that fires at most one time and is then
	// detached automatically.
	Once(kind JobEventKind, handler JobHandler) Subscription

	// StartEventMonitoring idempotently starts the polling loop.
	StartEventMonitoring()
	// StopEventMonitoring idempotently stops the polling loop. Events from
	// polls already in flight are discarded.
	StopEventMonitoring()
	// IsMonitoring reports whether the polling loop is active.
	IsMonitoring() bool

	// GetJobInfo performs a one-shot status fetch.
	GetJobInfo(ctx context.Context) (*JobInfo, error)
	// GetResults waits for a terminal status and fetches the named output
	// parameter. Monitoring it started internally is stopped before
	// settling; monitoring started by the caller is left running.
	GetResults(ctx context.Context, outputName string) (*JobResult, error)
	// CancelJob requests cancellation server-side. Local polling continues
	// until a poll observes the confirmed cancelled state.
	CancelJob(ctx context.Context) (*JobInfo, error)
}

// JobsClient submits and tracks asynchronous jobs.
type JobsClient interface {
	// Submit starts a remote operation and returns a Job tracking it.
	Submit(ctx context.Context, req *SubmitJobRequest) (Job, error)
	// Get fetches a job's status once, without constructing a Job.
	Get(ctx context.Context, jobURL, jobID string) (*JobInfo, error)
	// Attach wraps an already submitted job so it can be monitored, waited
	// on, or cancelled.
	Attach(jobURL, jobID string) Job
	// PollUntilComplete polls until the job reaches a terminal state.
	PollUntilComplete(ctx context.Context, jobURL, jobID string) (*JobInfo, error)
}
