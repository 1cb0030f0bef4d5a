package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/geoworks-io/gisapi/internal/constants"
	gishttp "github.com/geoworks-io/gisapi/internal/http"
	"github.com/geoworks-io/gisapi/pkg/gisapi"
)

// JobsClient implements gisapi.JobsClient on the shared transport.
type JobsClient struct {
	httpClient  *gishttp.Client
	logger      gisapi.Logger
	pollingRate time.Duration
}

// NewJobsClient creates a jobs client. pollingRate is the default interval
// between status polls; submissions may override it per job.
func NewJobsClient(httpClient *gishttp.Client, logger gisapi.Logger, pollingRate time.Duration) *JobsClient {
	if pollingRate <= 0 {
		pollingRate = constants.DefaultPollingRate
	}

	return &JobsClient{
		httpClient:  httpClient,
		logger:      logger,
		pollingRate: pollingRate,
	}
}

// Submit starts a remote operation via {URL}/submitJob and returns a Job
// tracking it.
func (c *JobsClient) Submit(ctx context.Context, req *gisapi.SubmitJobRequest) (gisapi.Job, error) {
	if req == nil || req.URL == "" {
		return nil, gisapi.ErrJobURLRequired
	}

	submitURL := strings.TrimSuffix(req.URL, "/") + "/submitJob"

	resp, err := c.httpClient.Post(ctx, submitURL, req.Params)
	if err != nil {
		return nil, fmt.Errorf("submitting job: %w", err)
	}

	var info gisapi.JobInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return nil, fmt.Errorf("parsing submit response: %w", err)
	}

	if info.JobID == "" {
		return nil, gisapi.ErrJobIDMissing
	}

	job := c.newJob(jobStatusURL(req.URL, info.JobID), info.JobID, req.PollingRate)
	job.recordInfo(&info)

	if c.logger != nil {
		c.logger.Debug("Job submitted", map[string]interface{}{
			"jobId":  info.JobID,
			"status": info.JobStatus,
		})
	}

	if req.StartMonitoring {
		job.StartEventMonitoring()
	}

	return job, nil
}

// Get fetches a job's status once.
func (c *JobsClient) Get(ctx context.Context, jobURL, jobID string) (*gisapi.JobInfo, error) {
	resp, err := c.httpClient.Get(ctx, jobStatusURL(jobURL, jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching job status: %w", err)
	}

	var info gisapi.JobInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return nil, fmt.Errorf("parsing job status: %w", err)
	}

	return &info, nil
}

// Attach constructs a Job for an already-submitted job so it can be
// monitored from a fresh process.
func (c *JobsClient) Attach(jobURL, jobID string) gisapi.Job {
	return c.newJob(jobStatusURL(jobURL, jobID), jobID, 0)
}

// PollUntilComplete polls the job until it reaches a terminal status. When
// ctx carries no deadline a default timeout applies.
func (c *JobsClient) PollUntilComplete(ctx context.Context, jobURL, jobID string) (*gisapi.JobInfo, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, constants.DefaultJobPollTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.pollingRate)
	defer ticker.Stop()

	for {
		info, err := c.Get(ctx, jobURL, jobID)
		if err == nil && info.Status().Terminal() {
			return info, nil
		}

		if err != nil && c.logger != nil {
			c.logger.Warn("Job poll failed", map[string]interface{}{
				"jobId": jobID,
				"error": err.Error(),
			})
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// jobStatusURL derives the job resource URL from an operation URL. URLs that
// already address a job resource pass through.
func jobStatusURL(base, jobID string) string {
	base = strings.TrimSuffix(base, "/")
	if strings.HasSuffix(base, "/jobs/"+jobID) {
		return base
	}

	return base + "/jobs/" + jobID
}

// handlerEntry is a registered event handler. once entries are detached
// before their single invocation.
type handlerEntry struct {
	handler gisapi.JobHandler
	once    bool
}

// Job is the concrete gisapi.Job. One status poll loop runs at a time; each
// start bumps a generation counter and results from polls of an older
// generation are discarded, so a stop followed by a start can never deliver
// stale events.
//
// Monitoring ownership is shared: StartEventMonitoring sets an external
// hold, and result waiters count themselves in. The loop stops when neither
// remains, or when a terminal status settles the job.
type Job struct {
	client      *JobsClient
	jobURL      string
	jobID       string
	pollingRate time.Duration

	mu              sync.Mutex
	status          gisapi.JobStatus
	lastInfo        *gisapi.JobInfo
	handlers        map[gisapi.JobEventKind]map[int]*handlerEntry
	nextHandlerID   int
	generation      int
	monitoring      bool
	externalHold    bool
	internalWaiters int
	stopCh          chan struct{}

	settled     bool
	settledInfo *gisapi.JobInfo
	terminalCh  chan struct{}
}

func (c *JobsClient) newJob(jobURL, jobID string, pollingRate time.Duration) *Job {
	if pollingRate <= 0 {
		pollingRate = c.pollingRate
	}

	return &Job{
		client:      c,
		jobURL:      jobURL,
		jobID:       jobID,
		pollingRate: pollingRate,
		status:      gisapi.JobStatusNew,
		handlers:    make(map[gisapi.JobEventKind]map[int]*handlerEntry),
		terminalCh:  make(chan struct{}),
	}
}

// ID returns the server-issued job identifier.
func (j *Job) ID() string {
	return j.jobID
}

// Status returns the last observed status.
func (j *Job) Status() gisapi.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.status
}

// subscription detaches a handler on Cancel. Cancelling twice is harmless.
type subscription struct {
	job  *Job
	kind gisapi.JobEventKind
	id   int
}

func (s *subscription) Cancel() {
	s.job.mu.Lock()
	defer s.job.mu.Unlock()

	if entries, ok := s.job.handlers[s.kind]; ok {
		delete(entries, s.id)
	}
}

// On registers a handler for an event kind.
func (j *Job) On(kind gisapi.JobEventKind, handler gisapi.JobHandler) gisapi.Subscription {
	return j.subscribe(kind, handler, false)
}

// Once registers a handler that fires at most one time.
func (j *Job) Once(kind gisapi.JobEventKind, handler gisapi.JobHandler) gisapi.Subscription {
	return j.subscribe(kind, handler, true)
}

func (j *Job) subscribe(kind gisapi.JobEventKind, handler gisapi.JobHandler, once bool) gisapi.Subscription {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.handlers[kind] == nil {
		j.handlers[kind] = make(map[int]*handlerEntry)
	}

	j.nextHandlerID++
	id := j.nextHandlerID
	j.handlers[kind][id] = &handlerEntry{handler: handler, once: once}

	return &subscription{job: j, kind: kind, id: id}
}

// StartEventMonitoring idempotently starts the polling loop. Starting a job
// that has already reached a terminal status does nothing.
func (j *Job) StartEventMonitoring() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.externalHold = true
	j.startLocked()
}

// StopEventMonitoring idempotently releases the external hold on the
// polling loop. The loop keeps running while result waiters remain.
func (j *Job) StopEventMonitoring() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.externalHold = false
	j.maybeStopLocked()
}

// IsMonitoring reports whether the polling loop is active.
func (j *Job) IsMonitoring() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.monitoring
}

func (j *Job) startLocked() {
	if j.monitoring || j.settled {
		return
	}

	j.monitoring = true
	j.generation++
	j.stopCh = make(chan struct{})

	go j.pollLoop(j.generation, j.stopCh)
}

func (j *Job) maybeStopLocked() {
	if !j.monitoring || j.externalHold || j.internalWaiters > 0 {
		return
	}

	j.stopLocked()
}

func (j *Job) stopLocked() {
	if !j.monitoring {
		return
	}

	j.monitoring = false
	j.generation++
	close(j.stopCh)
}

// pollLoop polls the job until its generation is invalidated or the job
// settles. A poll in flight when the generation changes has its result
// thrown away.
func (j *Job) pollLoop(gen int, stopCh chan struct{}) {
	ticker := time.NewTicker(j.pollingRate)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		info, err := j.client.Get(context.Background(), j.jobURL, j.jobID)

		j.mu.Lock()

		if j.generation != gen {
			j.mu.Unlock()
			return
		}

		if err != nil {
			dispatch := j.snapshotHandlersLocked(gisapi.JobEventError)
			j.mu.Unlock()

			deliver(dispatch, gisapi.JobEvent{Kind: gisapi.JobEventError, Err: err})

			continue
		}

		j.lastInfo = info
		j.status = info.Status()

		kind := gisapi.EventKindForStatus(j.status)
		statusHandlers := j.snapshotHandlersLocked(gisapi.JobEventStatus)
		kindHandlers := j.snapshotHandlersLocked(kind)

		terminal := j.status.Terminal()
		if terminal {
			j.settleLocked(info)
		}

		j.mu.Unlock()

		event := gisapi.JobEvent{Kind: gisapi.JobEventStatus, Info: info}
		deliver(statusHandlers, event)

		event.Kind = kind
		deliver(kindHandlers, event)

		if terminal {
			return
		}
	}
}

// snapshotHandlersLocked copies the handlers for a kind and detaches the
// once entries so they cannot fire again.
func (j *Job) snapshotHandlersLocked(kind gisapi.JobEventKind) []gisapi.JobHandler {
	entries := j.handlers[kind]
	if len(entries) == 0 {
		return nil
	}

	snapshot := make([]gisapi.JobHandler, 0, len(entries))

	for id, entry := range entries {
		snapshot = append(snapshot, entry.handler)

		if entry.once {
			delete(entries, id)
		}
	}

	return snapshot
}

func deliver(handlers []gisapi.JobHandler, event gisapi.JobEvent) {
	for _, handler := range handlers {
		handler(event)
	}
}

// settleLocked records the terminal status and releases result waiters. The
// first terminal observation wins; the loop exits right after.
func (j *Job) settleLocked(info *gisapi.JobInfo) {
	if j.settled {
		return
	}

	j.settled = true
	j.settledInfo = info
	j.monitoring = false
	j.generation++
	close(j.terminalCh)
}

// recordInfo stores the submit-time status without dispatching events.
func (j *Job) recordInfo(info *gisapi.JobInfo) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.lastInfo = info
	j.status = info.Status()
}

// GetJobInfo performs a one-shot status fetch.
func (j *Job) GetJobInfo(ctx context.Context) (*gisapi.JobInfo, error) {
	return j.client.Get(ctx, j.jobURL, j.jobID)
}

// GetResults waits for the job to settle and fetches the named output
// parameter. The waiter counts itself into the monitoring ownership so a
// caller-held loop keeps running afterwards while an internally started one
// is torn down.
func (j *Job) GetResults(ctx context.Context, outputName string) (*gisapi.JobResult, error) {
	j.mu.Lock()

	waiting := !j.settled
	if waiting {
		j.internalWaiters++
		j.startLocked()
	}

	terminalCh := j.terminalCh
	j.mu.Unlock()

	select {
	case <-ctx.Done():
		j.mu.Lock()
		if waiting {
			j.internalWaiters--
		}
		j.maybeStopLocked()
		j.mu.Unlock()

		return nil, fmt.Errorf("waiting for job %s: %w", j.jobID, ctx.Err())
	case <-terminalCh:
	}

	j.mu.Lock()

	if waiting {
		j.internalWaiters--
	}

	j.maybeStopLocked()
	info := j.settledInfo
	j.mu.Unlock()

	if info.Status() != gisapi.JobStatusSucceeded {
		return nil, fmt.Errorf("%w: job %s ended %s%s",
			gisapi.ErrJobNotSucceeded, j.jobID, info.Status(), formatJobMessages(info.Messages))
	}

	return j.fetchResult(ctx, info, outputName)
}

// fetchResult resolves the output parameter reference and fetches its value
// relative to the job URL.
func (j *Job) fetchResult(ctx context.Context, info *gisapi.JobInfo, outputName string) (*gisapi.JobResult, error) {
	ref, ok := info.Results[outputName]
	if !ok || ref.ParamURL == "" {
		return nil, fmt.Errorf("%w: %q", gisapi.ErrJobResultNotFound, outputName)
	}

	resultURL := j.jobURL + "/" + strings.TrimPrefix(ref.ParamURL, "/")

	resp, err := j.client.httpClient.Get(ctx, resultURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching job result %q: %w", outputName, err)
	}

	var result gisapi.JobResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("parsing job result %q: %w", outputName, err)
	}

	if result.ParamName == "" {
		result.ParamName = outputName
	}

	return &result, nil
}

// CancelJob requests cancellation server-side. The status in the cancel
// response is dispatched to subscribers, so a cancelling event fires even
// without an active polling loop. The loop, when running, keeps going until
// it observes the confirmed cancelled status.
func (j *Job) CancelJob(ctx context.Context) (*gisapi.JobInfo, error) {
	resp, err := j.client.httpClient.Post(ctx, j.jobURL+"/cancel", nil)
	if err != nil {
		return nil, fmt.Errorf("cancelling job %s: %w", j.jobID, err)
	}

	var info gisapi.JobInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return nil, fmt.Errorf("parsing cancel response: %w", err)
	}

	j.dispatchStatus(&info)

	return &info, nil
}

// dispatchStatus records a directly observed status payload and emits the
// status and named events for it, settling the job when it is terminal.
func (j *Job) dispatchStatus(info *gisapi.JobInfo) {
	j.mu.Lock()

	j.lastInfo = info
	j.status = info.Status()

	kind := gisapi.EventKindForStatus(j.status)
	statusHandlers := j.snapshotHandlersLocked(gisapi.JobEventStatus)
	kindHandlers := j.snapshotHandlersLocked(kind)

	if j.status.Terminal() && !j.settled {
		j.settleLocked(info)
	}

	j.mu.Unlock()

	event := gisapi.JobEvent{Kind: gisapi.JobEventStatus, Info: info}
	deliver(statusHandlers, event)

	event.Kind = kind
	deliver(kindHandlers, event)
}

// formatJobMessages renders server messages for error text, errors first.
func formatJobMessages(messages []gisapi.JobMessage) string {
	if len(messages) == 0 {
		return ""
	}

	parts := make([]string, 0, len(messages))
	for _, message := range messages {
		if strings.Contains(message.Type, "Error") {
			parts = append(parts, message.Description)
		}
	}

	if len(parts) == 0 {
		for _, message := range messages {
			parts = append(parts, message.Description)
		}
	}

	return ": " + strings.Join(parts, "; ")
}
