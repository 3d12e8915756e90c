package queue

import (
	"sync"
)

// Event states published for each job
const (
	StateQueued    = "queued"
	StateStarted   = "started"
	StateCompleted = "completed"
	StateRequeued  = "requeued"
	StateDropped   = "dropped"
)

// Event describes a job lifecycle change
type Event struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	State   string `json:"state"`
	Attempt int    `json:"attempt"`
	Error   string `json:"error,omitempty"`
}

// Publisher receives job events. Implementations must not block for long.
type Publisher interface {
	JobEvent(Event)
}

// Queue is an unbounded FIFO safe for any number of producers and one
// consumer. Ready is signalled whenever a job is added.
type Queue struct {
	mu     sync.Mutex
	jobs   []Job
	closed bool
	ready  chan struct{}
	pub    Publisher
}

// New creates an empty queue; pub may be nil
func New(pub Publisher) *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
		pub:   pub,
	}
}

// Push appends a job
func (q *Queue) Push(j Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()

	q.signal()
	q.publish(j, StateQueued, nil)
	return nil
}

// requeue puts a failed job at the back, even after Close, so it is never lost
func (q *Queue) requeue(j Job, err error) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()

	q.signal()
	q.publish(j, StateRequeued, err)
}

// TryPop removes the oldest job without blocking
func (q *Queue) TryPop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return Job{}, false
	}
	j := q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	return j, true
}

// Len returns the number of waiting jobs
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Snapshot returns the waiting jobs in order
func (q *Queue) Snapshot() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Job(nil), q.jobs...)
}

// Ready fires after a push
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Close stops accepting new jobs. Waiting jobs stay queued.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *Queue) publish(j Job, state string, err error) {
	if q.pub == nil {
		return
	}
	ev := Event{ID: j.ID.String(), Kind: j.Kind.String(), State: state, Attempt: j.Attempts}
	if err != nil {
		ev.Error = err.Error()
	}
	q.pub.JobEvent(ev)
}
