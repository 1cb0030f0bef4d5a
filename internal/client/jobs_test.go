package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gishttp "github.com/geoworks-io/gisapi/internal/http"
	"github.com/geoworks-io/gisapi/pkg/gisapi"
)

const testPollingRate = 10 * time.Millisecond

// fakeJobServer serves a geoprocessing operation with a scriptable status
// sequence.
type fakeJobServer struct {
	mu       sync.Mutex
	status   string
	messages []gisapi.JobMessage

	submitHits atomic.Int64
	statusHits atomic.Int64
	resultHits atomic.Int64
	cancelHits atomic.Int64
	failPolls  atomic.Int64

	server *httptest.Server
}

func newFakeJobServer(t *testing.T) *fakeJobServer {
	t.Helper()

	f := &fakeJobServer{status: "esriJobSubmitted"}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/Buffer/submitJob":
			f.submitHits.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jobId":     "j-1",
				"jobStatus": "esriJobSubmitted",
			})

		case "/Buffer/jobs/j-1":
			if f.failPolls.Load() > 0 {
				f.failPolls.Add(-1)
				w.WriteHeader(http.StatusInternalServerError)

				return
			}

			f.statusHits.Add(1)
			f.mu.Lock()
			status := f.status
			messages := f.messages
			f.mu.Unlock()

			payload := map[string]any{
				"jobId":     "j-1",
				"jobStatus": status,
				"messages":  messages,
			}
			if status == "esriJobSucceeded" {
				payload["results"] = map[string]any{
					"Output": map[string]string{"paramUrl": "results/Output"},
				}
			}

			_ = json.NewEncoder(w).Encode(payload)

		case "/Buffer/jobs/j-1/results/Output":
			f.resultHits.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"paramName": "Output",
				"dataType":  "GPFeatureRecordSetLayer",
				"value":     map[string]any{"features": []any{}},
			})

		case "/Buffer/jobs/j-1/cancel":
			f.cancelHits.Add(1)
			f.mu.Lock()
			f.status = "esriJobCancelling"
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jobId":     "j-1",
				"jobStatus": "esriJobCancelling",
			})

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeJobServer) setStatus(status string, messages ...gisapi.JobMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.status = status
	f.messages = messages
}

func (f *fakeJobServer) operationURL() string {
	return f.server.URL + "/Buffer"
}

func newTestJobsClient(t *testing.T, f *fakeJobServer) *JobsClient {
	t.Helper()

	httpClient := gishttp.NewClient(f.server.URL, nil,
		gishttp.WithRetryConfig(0, time.Millisecond, time.Millisecond))

	return NewJobsClient(httpClient, nil, testPollingRate)
}

func submitTestJob(t *testing.T, client *JobsClient, f *fakeJobServer) gisapi.Job {
	t.Helper()

	job, err := client.Submit(context.Background(), &gisapi.SubmitJobRequest{
		URL:    f.operationURL(),
		Params: map[string][]string{"distance": {"10"}},
	})
	require.NoError(t, err)

	return job
}

func TestSubmitJob(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)

	job := submitTestJob(t, client, fake)

	assert.Equal(t, "j-1", job.ID())
	assert.Equal(t, gisapi.JobStatusSubmitted, job.Status())
	assert.False(t, job.IsMonitoring())
	assert.Equal(t, int64(1), fake.submitHits.Load())
	assert.Equal(t, int64(0), fake.statusHits.Load())
}

func TestSubmitJobWithMonitoring(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)

	job, err := client.Submit(context.Background(), &gisapi.SubmitJobRequest{
		URL:             fake.operationURL(),
		StartMonitoring: true,
		PollingRate:     testPollingRate,
	})
	require.NoError(t, err)
	assert.True(t, job.IsMonitoring())

	job.StopEventMonitoring()
	assert.False(t, job.IsMonitoring())
}

func TestJobEventDispatch(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)
	job := submitTestJob(t, client, fake)

	var (
		mu         sync.Mutex
		statusSeen []gisapi.JobStatus
		succeeded  int
	)

	job.On(gisapi.JobEventStatus, func(event gisapi.JobEvent) {
		mu.Lock()
		statusSeen = append(statusSeen, event.Info.Status())
		mu.Unlock()
	})
	job.On(gisapi.JobEventSucceeded, func(event gisapi.JobEvent) {
		mu.Lock()
		succeeded++
		mu.Unlock()

		assert.Equal(t, gisapi.JobEventSucceeded, event.Kind)
		assert.NotNil(t, event.Info)
	})

	job.StartEventMonitoring()

	require.Eventually(t, func() bool {
		return fake.statusHits.Load() >= 2
	}, time.Second, time.Millisecond)

	fake.setStatus("esriJobExecuting")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		for _, s := range statusSeen {
			if s == gisapi.JobStatusExecuting {
				return true
			}
		}

		return false
	}, time.Second, time.Millisecond)

	fake.setStatus("esriJobSucceeded")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return succeeded == 1
	}, time.Second, time.Millisecond)

	// The loop stops on its own once a terminal status is observed.
	require.Eventually(t, func() bool {
		return !job.IsMonitoring()
	}, time.Second, time.Millisecond)

	assert.Equal(t, gisapi.JobStatusSucceeded, job.Status())
}

func TestStartEventMonitoringIsIdempotent(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)
	job := submitTestJob(t, client, fake)

	job.StartEventMonitoring()
	job.StartEventMonitoring()
	job.StartEventMonitoring()

	time.Sleep(10 * testPollingRate)
	job.StopEventMonitoring()

	// A duplicated loop would roughly double the poll count.
	hits := fake.statusHits.Load()
	assert.LessOrEqual(t, hits, int64(12))
	assert.GreaterOrEqual(t, hits, int64(1))
}

func TestStopDiscardsInFlightPollResults(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)
	job := submitTestJob(t, client, fake)

	var events atomic.Int64

	job.On(gisapi.JobEventStatus, func(gisapi.JobEvent) {
		events.Add(1)
	})

	job.StartEventMonitoring()

	require.Eventually(t, func() bool {
		return events.Load() >= 1
	}, time.Second, time.Millisecond)

	job.StopEventMonitoring()
	seen := events.Load()

	// Polls resolving after the stop deliver nothing.
	time.Sleep(5 * testPollingRate)
	assert.Equal(t, seen, events.Load())
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)
	job := submitTestJob(t, client, fake)

	var once, every atomic.Int64

	job.Once(gisapi.JobEventStatus, func(gisapi.JobEvent) {
		once.Add(1)
	})
	job.On(gisapi.JobEventStatus, func(gisapi.JobEvent) {
		every.Add(1)
	})

	job.StartEventMonitoring()

	require.Eventually(t, func() bool {
		return every.Load() >= 3
	}, time.Second, time.Millisecond)

	job.StopEventMonitoring()

	assert.Equal(t, int64(1), once.Load())
}

func TestSubscriptionCancelDetachesHandler(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)
	job := submitTestJob(t, client, fake)

	var fired, kept atomic.Int64

	sub := job.On(gisapi.JobEventStatus, func(gisapi.JobEvent) {
		fired.Add(1)
	})
	job.On(gisapi.JobEventStatus, func(gisapi.JobEvent) {
		kept.Add(1)
	})

	sub.Cancel()
	sub.Cancel() // idempotent

	job.StartEventMonitoring()

	require.Eventually(t, func() bool {
		return kept.Load() >= 2
	}, time.Second, time.Millisecond)

	job.StopEventMonitoring()

	assert.Equal(t, int64(0), fired.Load())
}

func TestPendingOnceCancel(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)
	job := submitTestJob(t, client, fake)

	var fired atomic.Int64

	sub := job.Once(gisapi.JobEventSucceeded, func(gisapi.JobEvent) {
		fired.Add(1)
	})
	sub.Cancel()

	fake.setStatus("esriJobSucceeded")
	job.StartEventMonitoring()

	require.Eventually(t, func() bool {
		return !job.IsMonitoring() && fake.statusHits.Load() >= 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, int64(0), fired.Load())
}

func TestPollErrorEmitsErrorEventAndContinues(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	fake.failPolls.Store(2)

	client := newTestJobsClient(t, fake)
	job := submitTestJob(t, client, fake)

	var errorEvents, statusEvents atomic.Int64

	job.On(gisapi.JobEventError, func(event gisapi.JobEvent) {
		assert.Error(t, event.Err)
		errorEvents.Add(1)
	})
	job.On(gisapi.JobEventStatus, func(gisapi.JobEvent) {
		statusEvents.Add(1)
	})

	job.StartEventMonitoring()

	require.Eventually(t, func() bool {
		return errorEvents.Load() >= 1 && statusEvents.Load() >= 1
	}, time.Second, time.Millisecond)

	job.StopEventMonitoring()
}

func TestUnknownStatusEmitsTypedEvent(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	fake.setStatus("esriJobFrobnicating")

	client := newTestJobsClient(t, fake)
	job := submitTestJob(t, client, fake)

	var unknown atomic.Int64

	job.On(gisapi.JobEventUnknownStatus, func(event gisapi.JobEvent) {
		assert.Equal(t, gisapi.JobStatusUnknown, event.Info.Status())
		assert.Equal(t, "esriJobFrobnicating", event.Info.JobStatus)
		unknown.Add(1)
	})

	job.StartEventMonitoring()

	// Unknown statuses are not terminal; polling keeps going.
	require.Eventually(t, func() bool {
		return unknown.Load() >= 2
	}, time.Second, time.Millisecond)

	assert.True(t, job.IsMonitoring())
	job.StopEventMonitoring()
}

func TestGetResults(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)
	job := submitTestJob(t, client, fake)

	go func() {
		time.Sleep(3 * testPollingRate)
		fake.setStatus("esriJobSucceeded")
	}()

	result, err := job.GetResults(context.Background(), "Output")
	require.NoError(t, err)

	assert.Equal(t, "Output", result.ParamName)
	assert.Equal(t, "GPFeatureRecordSetLayer", result.DataType)
	assert.NotEmpty(t, result.Value)
	assert.Equal(t, int64(1), fake.resultHits.Load())

	// The internally started loop is torn down after settling.
	assert.False(t, job.IsMonitoring())
}

func TestGetResultsKeepsPollingWhileWaiterHolds(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)
	job := submitTestJob(t, client, fake)

	job.StartEventMonitoring()

	resultCh := make(chan error, 1)

	go func() {
		_, err := job.GetResults(context.Background(), "Output")
		resultCh <- err
	}()

	require.Eventually(t, func() bool {
		return fake.statusHits.Load() >= 2
	}, time.Second, time.Millisecond)

	// Releasing the external hold does not stop the loop while a result
	// waiter remains.
	job.StopEventMonitoring()
	assert.True(t, job.IsMonitoring())

	fake.setStatus("esriJobSucceeded")
	require.NoError(t, <-resultCh)
	assert.False(t, job.IsMonitoring())
}

func TestGetResultsFailedJob(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	fake.setStatus("esriJobFailed", gisapi.JobMessage{
		Type:        "esriJobMessageTypeError",
		Description: "Invalid distance value",
	})

	client := newTestJobsClient(t, fake)
	job := submitTestJob(t, client, fake)

	_, err := job.GetResults(context.Background(), "Output")
	require.Error(t, err)
	assert.ErrorIs(t, err, gisapi.ErrJobNotSucceeded)
	assert.Contains(t, err.Error(), "Invalid distance value")
}

func TestGetResultsUnknownParameter(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	fake.setStatus("esriJobSucceeded")

	client := newTestJobsClient(t, fake)
	job := submitTestJob(t, client, fake)

	_, err := job.GetResults(context.Background(), "DoesNotExist")
	require.Error(t, err)
	assert.ErrorIs(t, err, gisapi.ErrJobResultNotFound)
}

func TestGetResultsContextCancelled(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)
	job := submitTestJob(t, client, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 5*testPollingRate)
	defer cancel()

	_, err := job.GetResults(ctx, "Output")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		return !job.IsMonitoring()
	}, time.Second, time.Millisecond)
}

func TestCancelJob(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)
	job := submitTestJob(t, client, fake)

	var cancelled atomic.Int64

	job.On(gisapi.JobEventCancelled, func(gisapi.JobEvent) {
		cancelled.Add(1)
	})
	job.StartEventMonitoring()

	info, err := job.CancelJob(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gisapi.JobStatusCancelling, info.Status())
	assert.Equal(t, int64(1), fake.cancelHits.Load())

	// Monitoring continues until the confirmed cancelled state arrives.
	assert.True(t, job.IsMonitoring())

	fake.setStatus("esriJobCancelled")

	require.Eventually(t, func() bool {
		return cancelled.Load() == 1 && !job.IsMonitoring()
	}, time.Second, time.Millisecond)

	assert.Equal(t, gisapi.JobStatusCancelled, job.Status())
}

func TestCancelJobEmitsEventWithoutMonitoring(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)
	job := client.Attach(fake.operationURL(), "j-1")

	var (
		cancelling atomic.Int64
		statuses   atomic.Int64
	)

	job.On(gisapi.JobEventCancelling, func(event gisapi.JobEvent) {
		cancelling.Add(1)
		assert.Equal(t, gisapi.JobStatusCancelling, event.Info.Status())
	})
	job.On(gisapi.JobEventStatus, func(gisapi.JobEvent) {
		statuses.Add(1)
	})

	require.False(t, job.IsMonitoring())

	info, err := job.CancelJob(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gisapi.JobStatusCancelling, info.Status())

	// The cancel response status is dispatched directly, so subscribers
	// hear it even though no polling loop is running.
	assert.Equal(t, int64(1), cancelling.Load())
	assert.Equal(t, int64(1), statuses.Load())
	assert.Equal(t, gisapi.JobStatusCancelling, job.Status())
	assert.False(t, job.IsMonitoring())
	assert.Equal(t, int64(1), fake.cancelHits.Load())
	assert.Equal(t, int64(0), fake.statusHits.Load())
}

func TestJobsClientGet(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)

	info, err := client.Get(context.Background(), fake.operationURL(), "j-1")
	require.NoError(t, err)
	assert.Equal(t, "j-1", info.JobID)
	assert.Equal(t, gisapi.JobStatusSubmitted, info.Status())
}

func TestPollUntilComplete(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)

	go func() {
		time.Sleep(3 * testPollingRate)
		fake.setStatus("esriJobSucceeded")
	}()

	info, err := client.PollUntilComplete(context.Background(), fake.operationURL(), "j-1")
	require.NoError(t, err)
	assert.Equal(t, gisapi.JobStatusSucceeded, info.Status())
}

func TestPollUntilCompleteTimeout(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	client := newTestJobsClient(t, fake)

	ctx, cancel := context.WithTimeout(context.Background(), 5*testPollingRate)
	defer cancel()

	_, err := client.PollUntilComplete(ctx, fake.operationURL(), "j-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAttach(t *testing.T) {
	t.Parallel()

	fake := newFakeJobServer(t)
	fake.setStatus("esriJobExecuting")

	client := newTestJobsClient(t, fake)
	job := client.Attach(fake.operationURL(), "j-1")

	info, err := job.GetJobInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gisapi.JobStatusExecuting, info.Status())
}

func TestJobStatusURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://x/Buffer/jobs/j-1", jobStatusURL("https://x/Buffer", "j-1"))
	assert.Equal(t, "https://x/Buffer/jobs/j-1", jobStatusURL("https://x/Buffer/", "j-1"))
	assert.Equal(t, "https://x/Buffer/jobs/j-1", jobStatusURL("https://x/Buffer/jobs/j-1", "j-1"))
}
