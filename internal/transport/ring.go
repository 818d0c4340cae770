// Package transport carries fixed-size plan event records from probe context
// to the single consumer. One bounded ring serves all traced processes; the
// consumer demultiplexes by the process id embedded in each record.
package transport

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/atomic"

	"github.com/pgpathwatch/pgpathwatch/internal/probe"
)

// ErrClosed is returned by Read once the ring is closed and drained.
var ErrClosed = errors.New("transport: ring closed")

// Ring is a bounded many-writer/one-reader queue with drop-oldest overflow
// semantics: writers never block, and when the consumer falls behind the
// oldest unread record is discarded and counted. A dropped record is gone;
// it is never retried.
type Ring struct {
	mu     sync.Mutex
	nonEmp *sync.Cond
	buf    [][]byte
	head   int // next slot to read
	n      int // live records
	closed bool

	drops atomic.Uint64
}

// NewRing returns a ring holding at most capacity records.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Ring{buf: make([][]byte, capacity)}
	r.nonEmp = sync.NewCond(&r.mu)
	return r
}

// Write copies rec into the ring. When full, the oldest unread record is
// evicted and the drop counter incremented.
func (r *Ring) Write(rec []byte) {
	cp := make([]byte, len(rec))
	copy(cp, rec)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.n == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
		r.n--
		r.drops.Inc()
	}
	r.buf[(r.head+r.n)%len(r.buf)] = cp
	r.n++
	r.nonEmp.Signal()
}

// Emit implements probe.Emitter.
func (r *Ring) Emit(ev *probe.RawEvent) {
	r.Write(ev.Encode(nil))
}

// Read blocks until a record is available, the ring is closed and empty, or
// ctx is done. Cancellation happens between records only; a record handed
// out is never torn.
func (r *Ring) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.nonEmp.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.n == 0 {
		if r.closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.nonEmp.Wait()
	}
	rec := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return rec, nil
}

// Drops reports the number of records discarded under backpressure. The
// counter is monotonic for the life of the ring.
func (r *Ring) Drops() uint64 { return r.drops.Load() }

// Len reports the number of buffered records.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Close stops accepting writes. Buffered records remain readable; Read
// returns ErrClosed once they are drained.
func (r *Ring) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.nonEmp.Broadcast()
	return nil
}
