// Package loadstate tracks the idle → loading → success | error lifecycle of
// a fetch whose result feeds a view.
//
// Every Load starts a new generation, cancels the fetch it supersedes and
// replaces the previous result wholesale. A fetch that settles after a newer
// Load has started is discarded, so the last issued request wins.
package loadstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jogardn/customer-directory/internal/metrics"
	"github.com/sirupsen/logrus"
)

type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is an immutable snapshot. Data is set only for StatusSuccess and Err
// only for StatusError.
type State[T any] struct {
	Status     Status
	Data       T
	Err        error
	Generation uint64
	UpdatedAt  time.Time
}

type Fetcher[T any] func(ctx context.Context) (T, error)

// Listener observes every transition in order. It runs synchronously and
// must not call back into the controller that invoked it.
type Listener[T any] func(State[T])

type Config struct {
	Name string
	// Timeout bounds each fetch. Zero leaves fetches unbounded.
	Timeout time.Duration
	Metrics *metrics.Metrics
}

type Controller[T any] struct {
	name    string
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *logrus.Logger

	mu        sync.Mutex
	state     State[T]
	fetch     Fetcher[T]
	cancel    context.CancelFunc
	settled   chan struct{} // open iff state.Status == StatusLoading
	listeners []Listener[T]

	emitMu sync.Mutex
}

func New[T any](config Config, logger *logrus.Logger) *Controller[T] {
	if config.Name == "" {
		config.Name = "unnamed"
	}

	return &Controller[T]{
		name:    config.Name,
		timeout: config.Timeout,
		metrics: config.Metrics,
		logger:  logger,
		state:   State[T]{Status: StatusIdle},
	}
}

func (c *Controller[T]) OnChange(l Listener[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Controller[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Load moves to loading and runs fetch in the background. It returns the
// generation of the new request.
func (c *Controller[T]) Load(ctx context.Context, fetch Fetcher[T]) uint64 {
	c.mu.Lock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.state.Status == StatusLoading {
		close(c.settled)
	}

	var fetchCtx context.Context
	var cancel context.CancelFunc
	if c.timeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		fetchCtx, cancel = context.WithCancel(ctx)
	}

	gen := c.state.Generation + 1
	c.fetch = fetch
	c.cancel = cancel
	c.settled = make(chan struct{})
	c.state = State[T]{Status: StatusLoading, Generation: gen, UpdatedAt: time.Now()}

	c.logger.WithFields(logrus.Fields{
		"controller": c.name,
		"generation": gen,
	}).Debug("Load started")

	c.emit(c.state)

	go c.run(fetchCtx, cancel, gen, fetch)
	return gen
}

// Refresh re-runs the most recent fetcher. It reports false when nothing has
// been loaded yet.
func (c *Controller[T]) Refresh(ctx context.Context) (uint64, bool) {
	c.mu.Lock()
	fetch := c.fetch
	c.mu.Unlock()

	if fetch == nil {
		return 0, false
	}
	return c.Load(ctx, fetch), true
}

// Wait blocks until the current load settles or ctx ends, and returns the
// state at that point. A Load issued while waiting extends the wait.
func (c *Controller[T]) Wait(ctx context.Context) (State[T], error) {
	for {
		c.mu.Lock()
		state, settled := c.state, c.settled
		c.mu.Unlock()

		if state.Status != StatusLoading {
			return state, nil
		}

		select {
		case <-settled:
		case <-ctx.Done():
			return c.State(), ctx.Err()
		}
	}
}

// Close cancels the in-flight fetch, if any.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Controller[T]) run(ctx context.Context, cancel context.CancelFunc, gen uint64, fetch Fetcher[T]) {
	defer cancel()

	var (
		data T
		err  error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("fetch panicked: %v", r)
			}
		}()
		data, err = fetch(ctx)
	}()

	c.settle(gen, data, err)
}

func (c *Controller[T]) settle(gen uint64, data T, err error) {
	c.mu.Lock()

	if gen != c.state.Generation {
		current := c.state.Generation
		c.mu.Unlock()

		c.metrics.ObserveStale(c.name)
		c.logger.WithFields(logrus.Fields{
			"controller": c.name,
			"generation": gen,
			"current":    current,
		}).Debug("Discarding superseded result")
		return
	}

	next := State[T]{Generation: gen, UpdatedAt: time.Now()}
	if err != nil {
		next.Status = StatusError
		next.Err = err
	} else {
		next.Status = StatusSuccess
		next.Data = data
	}

	c.state = next
	c.cancel = nil
	close(c.settled)

	entry := c.logger.WithFields(logrus.Fields{
		"controller": c.name,
		"generation": gen,
		"status":     next.Status.String(),
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Debug("Load settled")

	c.emit(next)
}

// emit must be called with c.mu held; it releases c.mu. Taking emitMu before
// releasing mu keeps listener calls in transition order.
func (c *Controller[T]) emit(state State[T]) {
	listeners := make([]Listener[T], len(c.listeners))
	copy(listeners, c.listeners)

	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()

	c.metrics.ObserveTransition(c.name, state.Status.String())
	for _, l := range listeners {
		l(state)
	}
}
