package transport

import (
	"context"
	"io"
	"sync"
)

// inbox is a growable byte queue with a wake channel that is closed and
// replaced on every change.
type inbox struct {
	mu     sync.Mutex
	buf    []byte
	err    error
	wakeCh chan struct{}
}

func newInbox() *inbox {
	return &inbox{wakeCh: make(chan struct{})}
}

func (q *inbox) push(p []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.buf = append(q.buf, p...)
	q.wakeLocked()
	return nil
}

// fail stops the queue. Already buffered bytes stay readable.
func (q *inbox) fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return
	}
	if err == nil {
		err = io.EOF
	}
	q.err = err
	q.wakeLocked()
}

func (q *inbox) wakeLocked() {
	close(q.wakeCh)
	q.wakeCh = make(chan struct{})
}

func (q *inbox) available() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 && q.err != nil {
		return 0, q.err
	}
	return len(q.buf), nil
}

func (q *inbox) takeLocked(p []byte) int {
	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	if len(q.buf) == 0 {
		q.buf = nil
	}
	return n
}

func (q *inbox) read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			n := q.takeLocked(p)
			q.mu.Unlock()
			return n, nil
		}
		if q.err != nil {
			err := q.err
			q.mu.Unlock()
			return 0, err
		}
		wake := q.wakeCh
		q.mu.Unlock()
		<-wake
	}
}

func (q *inbox) readFull(ctx context.Context, p []byte) (int, error) {
	got := 0
	for got < len(p) {
		q.mu.Lock()
		got += q.takeLocked(p[got:])
		if got == len(p) {
			q.mu.Unlock()
			break
		}
		if q.err != nil {
			err := q.err
			q.mu.Unlock()
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return got, err
		}
		wake := q.wakeCh
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return got, ctx.Err()
		case <-wake:
		}
	}
	return got, nil
}
