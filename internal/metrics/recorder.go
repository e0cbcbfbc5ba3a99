package metrics

import (
	"sync"
	"time"
)

// Result labels the outcome of one pipeline job.
type Result string

const (
	ResultApplied Result = "applied"
	ResultNoop    Result = "noop"
	ResultFailed  Result = "failed"
)

// Sources of pipeline jobs.
const (
	SourceUpdate    = "update"
	SourceInternal  = "internal"
	SourceReconcile = "reconcile"
)

// Hydration outcomes.
const (
	HydrationLoaded    = "loaded"
	HydrationCorrected = "corrected"
	HydrationDefaults  = "defaults"
)

// Reconciliation outcomes for a single changed key.
const (
	ReconcileQueued  = "queued"
	ReconcileEcho    = "echo"
	ReconcileIgnored = "ignored"
)

// Recorder defines the observability hooks of the engine, router and timers.
type Recorder interface {
	ObserveUpdate(source string, result Result, d time.Duration)
	SetQueueDepth(n int)
	ObserveHydration(outcome string, d time.Duration)
	IncReconcile(outcome string)
	IncBroadcast(success bool)
	IncRequest(action, trust string, success bool)
	IncTimerFire(job string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveUpdate(string, Result, time.Duration) {}
func (NoopRecorder) SetQueueDepth(int)                           {}
func (NoopRecorder) ObserveHydration(string, time.Duration)      {}
func (NoopRecorder) IncReconcile(string)                         {}
func (NoopRecorder) IncBroadcast(bool)                           {}
func (NoopRecorder) IncRequest(string, string, bool)             {}
func (NoopRecorder) IncTimerFire(string)                         {}

// Capture is an in-memory Recorder for tests. Counters are keyed by their labels
// joined with "/".
type Capture struct {
	mu         sync.Mutex
	Updates    map[string]int
	QueueDepth int
	Hydrations map[string]int
	Reconciles map[string]int
	Broadcasts map[bool]int
	Requests   map[string]int
	TimerFires map[string]int
}

// NewCapture returns an empty Capture.
func NewCapture() *Capture {
	return &Capture{
		Updates:    map[string]int{},
		Hydrations: map[string]int{},
		Reconciles: map[string]int{},
		Broadcasts: map[bool]int{},
		Requests:   map[string]int{},
		TimerFires: map[string]int{},
	}
}

func (c *Capture) ObserveUpdate(source string, result Result, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Updates[source+"/"+string(result)]++
}

func (c *Capture) SetQueueDepth(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.QueueDepth = n
}

func (c *Capture) ObserveHydration(outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Hydrations[outcome]++
}

func (c *Capture) IncReconcile(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Reconciles[outcome]++
}

func (c *Capture) IncBroadcast(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Broadcasts[success]++
}

func (c *Capture) IncRequest(action, trust string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outcome := "failed"
	if success {
		outcome = "success"
	}
	c.Requests[action+"/"+trust+"/"+outcome]++
}

func (c *Capture) IncTimerFire(job string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TimerFires[job]++
}

// Count reads a counter under the lock.
func (c *Capture) Count(m map[string]int, key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return m[key]
}
