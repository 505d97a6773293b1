// Package linksim provides an in-memory full-duplex link with configurable
// faults. Each side is a transport.Handle, so trials and searches can run
// against it exactly as they would against a real serial bridge.
package linksim

import (
	stderrors "errors"
	"sync"
	"time"
)

// ErrClosed is returned by operations on a closed endpoint.
var ErrClosed = stderrors.New("linksim: endpoint closed")

// DefaultReadTimeout bounds a single ReadAvailable call.
const DefaultReadTimeout = 5 * time.Millisecond

// Direction describes the faults applied to bytes travelling one way.
// Offsets count bytes offered since the receiving side last reset its input
// buffer, starting at 0.
type Direction struct {
	// Capacity is the number of bytes the link carries between resets;
	// anything beyond it is dropped. Zero means unlimited.
	Capacity int
	// DropEvery drops every Nth byte. Zero disables.
	DropEvery int
	// CorruptEvery flips the low bit of every Nth byte. Zero disables.
	CorruptEvery int
	// Latency delays delivery of every write.
	Latency time.Duration
	// Blackhole accepts writes and delivers nothing.
	Blackhole bool
}

// Options configures a Link.
type Options struct {
	AtoB        Direction
	BtoA        Direction
	ReadTimeout time.Duration
}

// Link is a pair of connected endpoints.
type Link struct {
	A *Endpoint
	B *Endpoint
}

// New creates a link. Bytes written to A arrive at B and vice versa.
func New(nameA, nameB string, opts Options) *Link {
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	a := newEndpoint(nameA, opts.AtoB, readTimeout)
	b := newEndpoint(nameB, opts.BtoA, readTimeout)
	a.peer, b.peer = b, a

	return &Link{A: a, B: b}
}

// Perfect returns a lossless link with no latency.
func Perfect() *Link {
	return New("sim-a", "sim-b", Options{})
}

type segment struct {
	data []byte
	at   time.Time
}

// Endpoint is one side of a Link.
type Endpoint struct {
	name        string
	outbound    Direction
	readTimeout time.Duration
	peer        *Endpoint

	mu       sync.Mutex
	inbound  []segment
	offered  int // bytes offered to this side since its last reset
	closed   bool
	writeErr error
	readErr  error
	resetErr error
	wake     chan struct{}
}

func newEndpoint(name string, outbound Direction, readTimeout time.Duration) *Endpoint {
	return &Endpoint{
		name:        name,
		outbound:    outbound,
		readTimeout: readTimeout,
		wake:        make(chan struct{}, 1),
	}
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string {
	return e.name
}

// Write hands p to the peer after applying this direction's faults.
func (e *Endpoint) Write(p []byte) (int, error) {
	e.mu.Lock()
	closed, werr := e.closed, e.writeErr
	e.mu.Unlock()

	if closed {
		return 0, ErrClosed
	}
	if werr != nil {
		return 0, werr
	}

	e.peer.deliver(p, e.outbound)
	return len(p), nil
}

func (e *Endpoint) deliver(p []byte, dir Direction) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	data := make([]byte, 0, len(p))
	for _, b := range p {
		idx := e.offered
		e.offered++

		if dir.Blackhole {
			continue
		}
		if dir.Capacity > 0 && idx >= dir.Capacity {
			continue
		}
		if dir.DropEvery > 0 && (idx+1)%dir.DropEvery == 0 {
			continue
		}
		if dir.CorruptEvery > 0 && (idx+1)%dir.CorruptEvery == 0 {
			b ^= 0x01
		}
		data = append(data, b)
	}

	if len(data) == 0 {
		return
	}

	e.inbound = append(e.inbound, segment{data: data, at: time.Now().Add(dir.Latency)})

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// ReadAvailable copies delivered bytes into p, waiting at most the read
// timeout for something to arrive.
func (e *Endpoint) ReadAvailable(p []byte) (int, error) {
	deadline := time.Now().Add(e.readTimeout)

	for {
		n, next, err := e.take(p)
		if err != nil || n > 0 {
			return n, err
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, nil
		}
		if !next.IsZero() {
			if untilNext := time.Until(next); untilNext < wait {
				wait = max(untilNext, 0)
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-e.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// take moves ready bytes into p. next is the arrival time of the earliest
// segment that is not ready yet.
func (e *Endpoint) take(p []byte) (n int, next time.Time, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, time.Time{}, ErrClosed
	}
	if e.readErr != nil {
		return 0, time.Time{}, e.readErr
	}

	now := time.Now()
	for len(e.inbound) > 0 && n < len(p) {
		seg := &e.inbound[0]
		if seg.at.After(now) {
			next = seg.at
			break
		}

		copied := copy(p[n:], seg.data)
		n += copied
		if copied == len(seg.data) {
			e.inbound = e.inbound[1:]
		} else {
			seg.data = seg.data[copied:]
		}
	}
	return n, next, nil
}

// ResetInputBuffer discards undelivered bytes and restarts fault offsets.
func (e *Endpoint) ResetInputBuffer() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if e.resetErr != nil {
		return e.resetErr
	}

	e.inbound = nil
	e.offered = 0
	return nil
}

// Close closes this side. Writes from the peer are discarded afterwards.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	e.closed = true
	e.inbound = nil

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// Buffered returns the number of bytes waiting to be read, delivered or not.
func (e *Endpoint) Buffered() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := 0
	for _, seg := range e.inbound {
		total += len(seg.data)
	}
	return total
}

// FailWrites makes every following Write return err. nil clears it.
func (e *Endpoint) FailWrites(err error) {
	e.mu.Lock()
	e.writeErr = err
	e.mu.Unlock()
}

// FailReads makes every following ReadAvailable return err. nil clears it.
func (e *Endpoint) FailReads(err error) {
	e.mu.Lock()
	e.readErr = err
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// FailResets makes every following ResetInputBuffer return err.
func (e *Endpoint) FailResets(err error) {
	e.mu.Lock()
	e.resetErr = err
	e.mu.Unlock()
}
