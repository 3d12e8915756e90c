package queue

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluecat/internal/printer"
	"bluecat/internal/protocol"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) JobEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) states(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.ID == id {
			out = append(out, e.State)
		}
	}
	return out
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.State == state {
			n++
		}
	}
	return n
}

func TestQueueFIFO(t *testing.T) {
	q := New(nil)
	a, b, c := NewFeed(), NewPrint("/tmp/x.png"), NewText("hi")
	require.NoError(t, q.Push(a))
	require.NoError(t, q.Push(b))
	require.NoError(t, q.Push(c))
	assert.Equal(t, 3, q.Len())

	for _, want := range []Job{a, b, c} {
		got, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, want.ID, got.ID)
	}

	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestQueueRequeueGoesToBack(t *testing.T) {
	q := New(nil)
	a, b := NewFeed(), NewFeed()
	require.NoError(t, q.Push(a))
	require.NoError(t, q.Push(b))

	first, _ := q.TryPop()
	q.requeue(first, errors.New("flaky"))

	ids := []string{}
	for _, j := range q.Snapshot() {
		ids = append(ids, j.ID.String())
	}
	assert.Equal(t, []string{b.ID.String(), a.ID.String()}, ids)
}

func TestQueueClose(t *testing.T) {
	q := New(nil)
	require.NoError(t, q.Push(NewFeed()))
	q.Close()

	assert.ErrorIs(t, q.Push(NewFeed()), ErrQueueClosed)
	assert.Equal(t, 1, q.Len())

	j, _ := q.TryPop()
	q.requeue(j, nil)
	assert.Equal(t, 1, q.Len())
}

func TestQueueConcurrentProducers(t *testing.T) {
	rec := &recorder{}
	q := New(rec)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, q.Push(NewFeed()))
			}
		}()
	}

	popped := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		if _, ok := q.TryPop(); ok {
			popped++
			continue
		}
		select {
		case <-done:
			for {
				if _, ok := q.TryPop(); !ok {
					break
				}
				popped++
			}
			assert.Equal(t, 400, popped)
			assert.Equal(t, 400, rec.count(StateQueued))
			return
		case <-q.Ready():
		}
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{fmt.Errorf("open: %w", printer.ErrDeviceNotFound), true},
		{fmt.Errorf("open: %w", printer.ErrConnectFailed), true},
		{fmt.Errorf("send: %w", printer.ErrTransmissionFailed), true},
		{fmt.Errorf("encode: %w", protocol.ErrMalformedInput), false},
		{fmt.Errorf("%w: 7", ErrUnknownJob), false},
		{&fs.PathError{Op: "open", Path: "/gone", Err: fs.ErrNotExist}, false},
		{errors.New("something odd"), true},
		{fmt.Errorf("%w: /dev/rfcomm0 after 5 attempts: %w", printer.ErrConnectFailed, syscall.ENOENT), true},
		{fmt.Errorf("%w: write: %w", printer.ErrTransmissionFailed, fs.ErrNotExist), true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Retryable(tt.err), "%v", tt.err)
	}
}
