package middleware

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	SubmissionsTotal   uint64
	SubmissionsRunning uint64
	SubmissionsFailed  uint64
	SubmissionsBusy    uint64
	OrphansDeleted     uint64
	StartTime          time.Time
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
}

func IncrementRequests() { atomic.AddUint64(&globalMetrics.RequestsTotal, 1) }
func IncrementInProgress() { atomic.AddUint64(&globalMetrics.RequestsInProgress, 1) }
func DecrementInProgress() { atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0)) }
func IncrementSuccess() { atomic.AddUint64(&globalMetrics.RequestsSuccess, 1) }
func IncrementFailed() { atomic.AddUint64(&globalMetrics.RequestsFailed, 1) }

// SubmissionStarted marks a pipeline run as in flight; call the returned func when it settles.
func SubmissionStarted() (done func(failed bool)) {
	atomic.AddUint64(&globalMetrics.SubmissionsTotal, 1)
	atomic.AddUint64(&globalMetrics.SubmissionsRunning, 1)
	return func(failed bool) {
		atomic.AddUint64(&globalMetrics.SubmissionsRunning, ^uint64(0))
		if failed {
			atomic.AddUint64(&globalMetrics.SubmissionsFailed, 1)
		}
	}
}

// IncrementBusyRejections counts submissions refused because one was in flight.
func IncrementBusyRejections() { atomic.AddUint64(&globalMetrics.SubmissionsBusy, 1) }

func AddOrphansDeleted(n int) {
	if n > 0 {
		atomic.AddUint64(&globalMetrics.OrphansDeleted, uint64(n))
	}
}

// GetMetrics returns current metrics
func GetMetrics() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]any{
		"requests_total":        atomic.LoadUint64(&globalMetrics.RequestsTotal),
		"requests_in_progress":  atomic.LoadUint64(&globalMetrics.RequestsInProgress),
		"requests_success":      atomic.LoadUint64(&globalMetrics.RequestsSuccess),
		"requests_failed":       atomic.LoadUint64(&globalMetrics.RequestsFailed),
		"submissions_total":     atomic.LoadUint64(&globalMetrics.SubmissionsTotal),
		"submissions_running":   atomic.LoadUint64(&globalMetrics.SubmissionsRunning),
		"submissions_failed":    atomic.LoadUint64(&globalMetrics.SubmissionsFailed),
		"submissions_busy":      atomic.LoadUint64(&globalMetrics.SubmissionsBusy),
		"orphan_images_deleted": atomic.LoadUint64(&globalMetrics.OrphansDeleted),
		"uptime_seconds":        time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]any{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		IncrementRequests()
		IncrementInProgress()
		defer DecrementInProgress()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			IncrementSuccess()
		} else {
			IncrementFailed()
		}
	})
}

// MetricsHandler returns metrics as JSON
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, GetMetrics())
}
