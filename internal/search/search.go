// Package search finds the largest payload a link carries reliably by
// growing the trial size geometrically until a trial fails or the ceiling
// is reached.
//
// The search stops at the first failure. It assumes capacity is monotonic:
// if a size fails, every larger size is assumed to fail too. That holds for
// fixed-rate, buffer-bounded links, but a link that fails at one size and
// succeeds at a larger one is under-reported.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"linkprobe/internal/errors"
	"linkprobe/internal/logging"
	"linkprobe/internal/trial"
)

// Phase is a state of the search state machine
type Phase int

const (
	Probing Phase = iota
	Success
	Failed
	Done
)

func (p Phase) String() string {
	switch p {
	case Probing:
		return "probing"
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Params bounds the search
type Params struct {
	StartSize int
	MaxSize   int
	Factor    float64
}

// Validate rejects parameters that could not make forward progress
func (p Params) Validate() error {
	if p.StartSize <= 0 {
		return errors.NewValidationError("start_size", p.StartSize, "must be positive")
	}
	if p.MaxSize < p.StartSize {
		return errors.NewValidationError("max_size", p.MaxSize, "must not be smaller than the start size")
	}
	if math.IsNaN(p.Factor) || math.IsInf(p.Factor, 0) || p.Factor <= 1 {
		return errors.NewValidationError("factor", p.Factor, "must be greater than 1")
	}
	return nil
}

// Runner executes one trial at the given size
type Runner func(ctx context.Context, size int) trial.Result

// Event is emitted on every state transition. Result is set for Success and
// Failed.
type Event struct {
	Phase  Phase
	Size   int
	Result *trial.Result
}

// State is the controller's mutable search state. MaxReliableSize never
// decreases and only changes after a fully successful trial.
type State struct {
	Phase           Phase
	CurrentSize     int
	MaxReliableSize int
	History         []trial.Result
}

// Outcome is the terminal state of a search
type Outcome struct {
	MaxReliableSize int
	History         []trial.Result
	Duration        time.Duration
	// Err is set when the search was cut short by cancellation. A trial
	// interrupted that way is not part of History.
	Err error
}

// Option configures a Controller
type Option func(*Controller)

// WithObserver registers fn to receive every state transition
func WithObserver(fn func(Event)) Option {
	return func(c *Controller) {
		c.observe = fn
	}
}

// Controller drives trials one at a time
type Controller struct {
	params  Params
	run     Runner
	observe func(Event)
	state   State
}

// New validates params and returns a controller ready to run
func New(params Params, run Runner, opts ...Option) (*Controller, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if run == nil {
		return nil, errors.NewValidationError("runner", nil, "a trial runner is required")
	}

	c := &Controller{
		params: params,
		run:    run,
		state:  State{Phase: Probing, CurrentSize: params.StartSize},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State returns a snapshot of the current search state
func (c *Controller) State() State {
	s := c.state
	s.History = append([]trial.Result(nil), c.state.History...)
	return s
}

// NextSize grows size by factor, truncating to an integer. A factor small
// enough that truncation would not grow the size advances by one byte.
func NextSize(size int, factor float64) int {
	next := int(float64(size) * factor)
	if next <= size {
		next = size + 1
	}
	return next
}

// Run probes until the first failure, the ceiling, or cancellation. Trials
// never overlap: the link is shared and trials are not independent.
func (c *Controller) Run(ctx context.Context) Outcome {
	start := time.Now()
	logging.LogSearchStart(c.params.StartSize, c.params.MaxSize, c.params.Factor)

	var cancelErr error
	for c.state.Phase != Done {
		if err := ctx.Err(); err != nil {
			cancelErr = fmt.Errorf("%w: %v", errors.ErrCancelled, err)
			c.transition(Done, nil)
			break
		}

		size := c.state.CurrentSize
		c.emit(Event{Phase: Probing, Size: size})

		res := c.run(ctx, size)

		// A trial cut short by cancellation says nothing about the link
		if ctx.Err() != nil && !res.Success() {
			cancelErr = fmt.Errorf("%w: %v", errors.ErrCancelled, ctx.Err())
			slog.Debug("Interrupted trial discarded", "size", size)
			c.transition(Done, nil)
			break
		}

		c.state.History = append(c.state.History, res)

		if !res.Success() {
			c.transition(Failed, &res)
			c.transition(Done, nil)
			break
		}

		c.state.MaxReliableSize = size
		c.transition(Success, &res)

		next := NextSize(size, c.params.Factor)
		if float64(size)*c.params.Factor > float64(c.params.MaxSize) || next > c.params.MaxSize {
			slog.Debug("Search ceiling reached", "size", size, "max_size", c.params.MaxSize)
			c.transition(Done, nil)
			break
		}

		c.state.CurrentSize = next
		c.state.Phase = Probing
	}

	outcome := Outcome{
		MaxReliableSize: c.state.MaxReliableSize,
		History:         append([]trial.Result(nil), c.state.History...),
		Duration:        time.Since(start),
		Err:             cancelErr,
	}

	logging.LogSearchEnd(outcome.MaxReliableSize, len(outcome.History), outcome.Successes(), outcome.Duration)
	return outcome
}

func (c *Controller) transition(phase Phase, res *trial.Result) {
	c.state.Phase = phase
	c.emit(Event{Phase: phase, Size: c.state.CurrentSize, Result: res})
}

func (c *Controller) emit(ev Event) {
	if c.observe != nil {
		c.observe(ev)
	}
}

// Sizes returns the sizes tried, in order
func (o Outcome) Sizes() []int {
	sizes := make([]int, len(o.History))
	for i, r := range o.History {
		sizes[i] = r.Size
	}
	return sizes
}

// Successes counts fully successful trials
func (o Outcome) Successes() int {
	n := 0
	for _, r := range o.History {
		if r.Success() {
			n++
		}
	}
	return n
}

// SuccessRate returns the share of trials that succeeded, in percent
func (o Outcome) SuccessRate() float64 {
	if len(o.History) == 0 {
		return 0
	}
	return float64(o.Successes()) / float64(len(o.History)) * 100
}

// LastSuccess returns the most recent fully successful trial
func (o Outcome) LastSuccess() (trial.Result, bool) {
	for i := len(o.History) - 1; i >= 0; i-- {
		if o.History[i].Success() {
			return o.History[i], true
		}
	}
	return trial.Result{}, false
}

// Last returns the final trial of the search
func (o Outcome) Last() (trial.Result, bool) {
	if len(o.History) == 0 {
		return trial.Result{}, false
	}
	return o.History[len(o.History)-1], true
}
