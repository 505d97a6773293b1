// Package trial runs one bidirectional transfer over a pair of transport
// handles and judges each direction by exact byte equality.
package trial

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"linkprobe/internal/errors"
	"linkprobe/internal/logging"
	"linkprobe/internal/payload"
	"linkprobe/internal/progress"
	"linkprobe/internal/transport"
)

// Defaults applied to zero-valued Config fields
const (
	DefaultGrace        = 500 * time.Millisecond
	DefaultPollInterval = 100 * time.Millisecond
	DefaultWriteChunk   = 1024

	readChunk = 4096
)

// Config describes a single trial. Rate is informational: it was applied
// when the handles were opened.
type Config struct {
	A, B         transport.Handle
	Rate         int
	Size         int
	Timeout      time.Duration
	Grace        time.Duration
	PollInterval time.Duration
	WriteChunk   int
	Progress     *progress.Stats
}

func (c Config) withDefaults() Config {
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.WriteChunk <= 0 {
		c.WriteChunk = DefaultWriteChunk
	}
	return c
}

func (c Config) validate() error {
	if c.A == nil || c.B == nil {
		return errors.NewValidationError("endpoint", nil, "both handles are required")
	}
	if c.Size < 0 {
		return errors.NewValidationError("payload_size", c.Size, "cannot be negative")
	}
	if c.Timeout <= 0 {
		return errors.NewValidationError("timeout", c.Timeout, "must be positive")
	}
	return nil
}

// Result is the evidence produced by one trial. Its buffers are never
// modified after Run returns.
type Result struct {
	Size          int           `json:"size" yaml:"size"`
	Rate          int           `json:"rate" yaml:"rate"`
	SucceededAtoB bool          `json:"a_to_b" yaml:"a_to_b"`
	SucceededBtoA bool          `json:"b_to_a" yaml:"b_to_a"`
	SentAtoB      []byte        `json:"-" yaml:"-"`
	SentBtoA      []byte        `json:"-" yaml:"-"`
	ReceivedAtoB  []byte        `json:"-" yaml:"-"` // accumulated by endpoint B
	ReceivedBtoA  []byte        `json:"-" yaml:"-"` // accumulated by endpoint A
	Elapsed       time.Duration `json:"elapsed" yaml:"elapsed"`
	TimedOut      bool          `json:"timed_out" yaml:"timed_out"`
	Err           error         `json:"-" yaml:"-"`
}

// Success reports whether both directions arrived byte-exact without a
// transport fault.
func (r Result) Success() bool {
	return r.SucceededAtoB && r.SucceededBtoA && r.Err == nil
}

// receiver accumulates everything one handle reads until stopped. The buffer
// is owned by the receiving goroutine and handed over on exit.
type receiver struct {
	handle transport.Handle
	count  atomic.Int64
	onRead func(int)
	result chan []byte
}

func newReceiver(h transport.Handle, onRead func(int)) *receiver {
	return &receiver{handle: h, onRead: onRead, result: make(chan []byte, 1)}
}

func (r *receiver) run(ctx context.Context) error {
	var buf bytes.Buffer
	defer func() { r.result <- buf.Bytes() }()

	chunk := make([]byte, readChunk)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := r.handle.ReadAvailable(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			r.count.Add(int64(n))
			if r.onRead != nil {
				r.onRead(n)
			}
		}
		if err != nil {
			return asTransport("read", r.handle, err)
		}
	}
}

// collect returns the handed-over buffer, or false if the receiver has not
// finished yet.
func (r *receiver) collect() ([]byte, bool) {
	select {
	case buf := <-r.result:
		return buf, true
	default:
		return nil, false
	}
}

// writeAll sends data in chunks once start is closed, checking for stop
// between chunks.
func writeAll(ctx context.Context, h transport.Handle, data []byte, chunk int, start <-chan struct{}) error {
	select {
	case <-start:
	case <-ctx.Done():
		return nil
	}

	for off := 0; off < len(data); {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		end := min(off+chunk, len(data))
		n, err := h.Write(data[off:end])
		if err != nil {
			return asTransport("write", h, err)
		}
		if n == 0 {
			return asTransport("write", h, io.ErrShortWrite)
		}
		off += n
	}
	return nil
}

// Run executes one full-duplex exchange. Transport faults end up in
// Result.Err; Run itself never fails.
func Run(ctx context.Context, cfg Config, gen *payload.Generator) (res Result) {
	cfg = cfg.withDefaults()
	res = Result{Size: cfg.Size, Rate: cfg.Rate}

	start := time.Now()
	defer func() {
		res.Elapsed = time.Since(start)
		logging.LogTrialResult(res.Size, res.SucceededAtoB, res.SucceededBtoA,
			len(res.ReceivedAtoB), len(res.ReceivedBtoA), res.Elapsed, res.Err)
	}()

	if err := cfg.validate(); err != nil {
		res.Err = err
		return res
	}

	logging.LogTrialStart(cfg.Size, cfg.Rate)

	// Discard anything left over from a previous trial
	if err := cfg.A.ResetInputBuffer(); err != nil {
		res.Err = asTransport("reset_input", cfg.A, err)
		return res
	}
	if err := cfg.B.ResetInputBuffer(); err != nil {
		res.Err = asTransport("reset_input", cfg.B, err)
		return res
	}

	res.SentAtoB = gen.Generate(cfg.Size)
	res.SentBtoA = gen.Generate(cfg.Size)

	var onReadA, onReadB func(int)
	if cfg.Progress != nil {
		onReadA = cfg.Progress.AddBtoA
		onReadB = cfg.Progress.AddAtoB
	}
	recvA := newReceiver(cfg.A, onReadA)
	recvB := newReceiver(cfg.B, onReadB)

	stopCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(stopCtx)

	g.Go(func() error { return recvA.run(gctx) })
	g.Go(func() error { return recvB.run(gctx) })

	// Both writers are released together so neither direction waits on the other
	release := make(chan struct{})
	g.Go(func() error { return writeAll(gctx, cfg.A, res.SentAtoB, cfg.WriteChunk, release) })
	g.Go(func() error { return writeAll(gctx, cfg.B, res.SentBtoA, cfg.WriteChunk, release) })
	close(release)

	res.TimedOut = waitForCompletion(gctx, cfg, recvA, recvB, len(res.SentBtoA), len(res.SentAtoB))

	stop()
	joined, groupErr := join(g, cfg.Grace)

	bufA, okA := recvA.collect()
	bufB, okB := recvB.collect()
	res.ReceivedBtoA = bufA
	res.ReceivedAtoB = bufB

	switch {
	case groupErr != nil:
		res.Err = groupErr
	case ctx.Err() != nil:
		res.Err = fmt.Errorf("%w: %v", errors.ErrCancelled, ctx.Err())
	case !okA || !okB:
		res.Err = fmt.Errorf("%w: receive loop still running after %s grace period", errors.ErrTimeout, cfg.Grace)
	case !joined:
		slog.Warn("Writer still blocked after grace period", "payload_size", cfg.Size, "grace", cfg.Grace)
	}

	res.SucceededAtoB = bytes.Equal(res.ReceivedAtoB, res.SentAtoB)
	res.SucceededBtoA = bytes.Equal(res.ReceivedBtoA, res.SentBtoA)

	return res
}

// waitForCompletion polls until A has wantA bytes and B has wantB bytes, the
// timeout elapses or a task fails. It reports whether the timeout fired.
func waitForCompletion(ctx context.Context, cfg Config, recvA, recvB *receiver, wantA, wantB int) bool {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(cfg.Timeout)
	defer deadline.Stop()

	for {
		if recvA.count.Load() >= int64(wantA) && recvB.count.Load() >= int64(wantB) {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return true
		case <-ticker.C:
		}
	}
}

// join waits at most grace for every task to return. joined is false when
// the grace period ran out first.
func join(g *errgroup.Group, grace time.Duration) (joined bool, err error) {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-done:
		return true, err
	case <-timer.C:
		return false, nil
	}
}

// asTransport makes sure err carries the transport fault kind.
func asTransport(op string, h transport.Handle, err error) error {
	var te *errors.TransportError
	if stderrors.As(err, &te) {
		return err
	}
	return errors.NewTransportError(op, h.Name(), err)
}
