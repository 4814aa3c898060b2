package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strandlabs/strand/checkpoint"
	"github.com/strandlabs/strand/model"
	"github.com/strandlabs/strand/telemetry"
)

// pollInterval is how long the run loop waits for a step before looping back
// to drain sideband messages. The oscillation is what lets hook and tool
// messages interleave with step output while the graph is busy.
const pollInterval = 10 * time.Millisecond

type (
	// GraphFunc is an author-written agent graph. It runs as a background
	// task; the context carries the runtime for Step, ExecuteTool, and hook
	// calls. Returning a HookPendingError (stateless mode) counts as normal
	// completion with pending hooks recorded.
	GraphFunc func(ctx context.Context) error

	// RunOption configures a Run.
	RunOption func(*runConfig)

	runConfig struct {
		cp            *checkpoint.Checkpoint
		cancelOnHooks bool
		log           telemetry.Logger
		tracer        telemetry.Tracer
	}

	// RunResult is the handle for a run in progress. Recv streams message
	// snapshots until io.EOF (or the run's error); after exhaustion,
	// Checkpoint and PendingHooks expose the run's durable outcome.
	RunResult struct {
		out    chan *model.Message
		done   chan struct{}
		cancel context.CancelFunc

		err     error
		pending map[string]PendingHook
		cp      *checkpoint.Checkpoint
	}
)

// WithCheckpoint restores a prior run's checkpoint. Completed steps, tool
// executions, and resolved hooks replay from it instead of re-executing.
func WithCheckpoint(cp *checkpoint.Checkpoint) RunOption {
	return func(c *runConfig) { c.cp = cp }
}

// WithCancelOnHooks selects stateless mode: reaching an unresolved hook
// cancels the awaiter and surfaces the hook in RunResult.PendingHooks instead
// of blocking for a live resolution.
func WithCancelOnHooks() RunOption {
	return func(c *runConfig) { c.cancelOnHooks = true }
}

// WithLogger sets the structured logger for runtime lifecycle events.
func WithLogger(log telemetry.Logger) RunOption {
	return func(c *runConfig) { c.log = log }
}

// WithTracer sets the tracer for step and tool spans.
func WithTracer(tracer telemetry.Tracer) RunOption {
	return func(c *runConfig) { c.tracer = tracer }
}

// Run executes an agent graph. It establishes the runtime in the ambient
// context, spawns the graph as a background task, and drives the scheduler
// loop until the graph completes. The returned RunResult must be drained via
// Recv.
//
// The graph and the scheduler form a structured group: a failure in either
// cancels the other, and all child tool/hook awaiters observe the
// cancellation through the context.
func Run(ctx context.Context, graph GraphFunc, opts ...RunOption) *RunResult {
	cfg := runConfig{log: telemetry.NoopLogger{}, tracer: telemetry.NoopTracer{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(ctx)
	rr := &RunResult{
		out:    make(chan *model.Message),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	rt, err := newRuntime(cfg.cp, cfg.cancelOnHooks, cfg.log, cfg.tracer)
	if err != nil {
		cancel()
		rr.err = fmt.Errorf("runtime: restore checkpoint: %w", err)
		rr.cp = checkpoint.New()
		rr.pending = map[string]PendingHook{}
		close(rr.out)
		close(rr.done)
		return rr
	}

	prev := setActive(rt)
	gctx := ContextWithRuntime(ctx, rt)

	g, groupCtx := errgroup.WithContext(gctx)

	g.Go(func() error {
		defer rt.signalDone()
		err := graph(groupCtx)
		var pending *HookPendingError
		if err != nil && errors.As(err, &pending) {
			// Stateless mode: the suspension is the expected exit. The hook
			// is already registered, so the loop drains and the run reports
			// it via PendingHooks.
			return nil
		}
		return err
	})

	g.Go(func() error {
		return rt.loop(groupCtx, rr.out)
	})

	go func() {
		err := g.Wait()
		rt.closeResources(context.WithoutCancel(ctx))
		setActive(prev)
		cancel()

		rr.err = err
		rr.pending = rt.PendingHooks()
		rr.cp = rt.Checkpoint()
		close(rr.out)
		close(rr.done)
	}()

	return rr
}

// Recv returns the next message snapshot. It returns io.EOF when the run
// completed cleanly, or the run's error.
func (r *RunResult) Recv() (*model.Message, error) {
	msg, ok := <-r.out
	if ok {
		return msg, nil
	}
	<-r.done
	if r.err != nil {
		return nil, r.err
	}
	return nil, io.EOF
}

// Close cancels the run. Safe to call at any time; pending Recv calls unblock
// with the cancellation error.
func (r *RunResult) Close() error {
	r.cancel()
	return nil
}

// Checkpoint returns the run's checkpoint: the restored events plus every
// event appended during this run. Blocks until the run has finished.
func (r *RunResult) Checkpoint() *checkpoint.Checkpoint {
	<-r.done
	return r.cp
}

// PendingHooks returns the hooks left unresolved when the run exited, keyed
// by label. Empty when the graph finished. Blocks until the run has finished.
func (r *RunResult) PendingHooks() map[string]PendingHook {
	<-r.done
	return r.pending
}

// loop is the consumer side of the scheduler. It drains sideband messages,
// polls the step queue with a short timeout, runs each step to completion
// (yielding deep copies of every snapshot), records the StepEvent, and
// resolves the step's future so the graph can continue.
func (rt *Runtime) loop(ctx context.Context, out chan<- *model.Message) error {
	emit := func(msg *model.Message) error {
		select {
		case out <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	drain := func() error {
		for _, msg := range rt.messages.drain() {
			if err := emit(msg); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		if err := drain(); err != nil {
			return err
		}

		item, ok := rt.steps.tryPop()
		if !ok {
			select {
			case <-rt.steps.signal():
			case <-rt.messages.signal():
			case <-time.After(pollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if item.fn == nil {
			// Completion sentinel: the graph returned. Drain what is left and
			// stop.
			return drain()
		}

		if err := drain(); err != nil {
			return err
		}

		sctx, span := rt.tracer.StartSpan(ctx, "strand.step")
		var buffered []*model.Message
		yield := func(msg *model.Message) error {
			buffered = append(buffered, msg)
			// The consumer gets a deep copy so later in-place mutation of
			// tool and hook parts cannot reach past snapshots.
			if err := emit(msg.Clone()); err != nil {
				return err
			}
			return drain()
		}
		err := item.fn(sctx, yield)
		if err != nil {
			span.RecordError(err)
			span.End()
			item.future <- stepOutcome{err: err}
			return fmt.Errorf("runtime: step failed: %w", err)
		}
		span.End()

		result := &StreamResult{Messages: buffered}
		rt.recordStep(result)
		item.future <- stepOutcome{result: result}
	}
}
