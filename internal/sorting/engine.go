package sorting

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// OpKind names one category of atomic operation.
type OpKind string

const (
	OpCompare OpKind = "compare"
	OpSwap    OpKind = "swap"
	OpAccess  OpKind = "access"
	OpWrite   OpKind = "write"
	OpCopy    OpKind = "copy"
	OpShuffle OpKind = "shuffle"
	OpRemove  OpKind = "remove"
)

// Operation is the descriptor of the most recent atomic operation.
type Operation struct {
	Kind    OpKind `json:"type"`
	Indices []int  `json:"indices,omitempty"`
}

// Counters tallies atomic operations per category. Steps counts all of them.
type Counters struct {
	Comparisons int64 `json:"comparisons"`
	Swaps       int64 `json:"swaps"`
	Accesses    int64 `json:"accesses"`
	Writes      int64 `json:"writes"`
	Copies      int64 `json:"copies"`
	Shuffles    int64 `json:"shuffles"`
	Removals    int64 `json:"removals"`
	Steps       int64 `json:"steps"`
}

func (c *Counters) add(kind OpKind) {
	switch kind {
	case OpCompare:
		c.Comparisons++
	case OpSwap:
		c.Swaps++
	case OpAccess:
		c.Accesses++
	case OpWrite:
		c.Writes++
	case OpCopy:
		c.Copies++
	case OpShuffle:
		c.Shuffles++
	case OpRemove:
		c.Removals++
	}
	c.Steps++
}

// State is an immutable snapshot of an engine.
type State struct {
	Algorithm Algorithm `json:"algorithm"`
	Dataset   []int     `json:"dataset"`
	Counters
	Finished      bool       `json:"finished"`
	IsRunning     bool       `json:"isRunning"`
	Stopped       bool       `json:"stopped"`
	LastOperation *Operation `json:"lastOperation,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Pacer suspends an engine between atomic operations.
type Pacer interface {
	Wait(ctx context.Context, d time.Duration) error
	Done()
}

type sleepPacer struct{}

func (sleepPacer) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (sleepPacer) Done() {}

// cell carries the original index next to the value so stability can be observed.
type cell struct {
	value  int
	origin int
}

// Engine runs one algorithm over a private copy of a dataset as a sequence
// of counted, paced operations.
type Engine struct {
	algo  Algorithm
	sort  sortFunc
	pacer Pacer
	rng   *rand.Rand
	ctx   context.Context

	mu       sync.RWMutex
	cells    []cell
	counters Counters
	lastOp   *Operation
	finished bool
	running  bool
	stopped  bool
	started  bool
	err      error

	delay atomic.Int64
	stop  atomic.Bool
}

type Option func(*Engine)

// WithPacer replaces the default sleep-based pacing.
func WithPacer(p Pacer) Option {
	return func(e *Engine) {
		if p != nil {
			e.pacer = p
		}
	}
}

// WithSeed fixes the random source used by shuffling variants.
func WithSeed(seed uint64) Option {
	return func(e *Engine) {
		e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// NewEngine clones dataset; the caller's slice is never touched.
func NewEngine(algo Algorithm, dataset []int, delay time.Duration, opts ...Option) (*Engine, error) {
	def, ok := registry[algo]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}

	cells := make([]cell, len(dataset))
	for i, v := range dataset {
		cells[i] = cell{value: v, origin: i}
	}

	e := &Engine{
		algo:  algo,
		sort:  def.sort,
		pacer: sleepPacer{},
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		cells: cells,
	}
	e.delay.Store(int64(delay))
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Algorithm() Algorithm { return e.algo }

// SetDelay applies to waits that start after the call.
func (e *Engine) SetDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	e.delay.Store(int64(d))
}

func (e *Engine) Delay() time.Duration {
	return time.Duration(e.delay.Load())
}

// Pause requests a cooperative stop. The flag is checked before the next
// operation, so the current operation and its delay always complete.
func (e *Engine) Pause() {
	e.stop.Store(true)
}

// Run executes the algorithm to completion. It returns ErrStopped after
// Pause, the context error on cancellation, or a *SortError when the
// algorithm panics.
func (e *Engine) Run(ctx context.Context) (err error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.running = true
	e.mu.Unlock()

	e.ctx = ctx
	if err := e.pacer.Wait(ctx, 0); err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return err
	}

	defer func() {
		r := recover()
		e.mu.Lock()
		defer e.mu.Unlock()
		e.running = false
		switch v := r.(type) {
		case nil:
			e.finished = true
		case halt:
			err = v.err
			e.stopped = errors.Is(err, ErrStopped)
		default:
			serr := &SortError{Algorithm: e.algo, Cause: fmt.Sprint(v)}
			log.Printf("[ENGINE] %s aborted: %s", e.algo, serr.Cause)
			e.finished = true
			e.err = serr
			err = serr
		}
	}()

	e.sort(e)
	return nil
}

// State returns a snapshot safe to serialize and share.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	data := make([]int, len(e.cells))
	for i, c := range e.cells {
		data[i] = c.value
	}
	st := State{
		Algorithm: e.algo,
		Dataset:   data,
		Counters:  e.counters,
		Finished:  e.finished,
		IsRunning: e.running,
		Stopped:   e.stopped,
	}
	if e.lastOp != nil {
		op := *e.lastOp
		st.LastOperation = &op
	}
	if e.err != nil {
		st.Error = e.err.Error()
	}
	return st
}

// origins exposes where each current element started; used to check stability.
func (e *Engine) origins() []int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]int, len(e.cells))
	for i, c := range e.cells {
		out[i] = c.origin
	}
	return out
}
