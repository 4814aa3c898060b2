package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/strandlabs/strand/model"
)

type (
	// StepFunc is the unit of scheduling: a producer that yields message
	// snapshots to the run loop. Yield blocks until the consumer has received
	// the snapshot, which is the cooperative hand-off that keeps one step in
	// flight at a time.
	StepFunc func(ctx context.Context, yield func(*model.Message) error) error

	// StreamResult aggregates the messages a completed step produced.
	StreamResult struct {
		// Messages are the step's yielded messages, in order. These are the
		// originals, not the consumer's copies, so subsequent in-place tool
		// mutation is visible to the graph.
		Messages []*model.Message
	}

	// StepOption configures the StreamStep and StreamLoop helpers.
	StepOption func(*stepConfig)

	stepConfig struct {
		label  string
		output *model.OutputSpec
	}
)

// WithLabel tags every message the step yields, letting consumers demultiplex
// several producers sharing one stream.
func WithLabel(label string) StepOption {
	return func(c *stepConfig) { c.label = label }
}

// WithOutput requests structured output for the step's model call.
func WithOutput(spec *model.OutputSpec) StepOption {
	return func(c *stepConfig) { c.output = spec }
}

// LastMessage returns the final message, or nil for an empty result.
func (r *StreamResult) LastMessage() *model.Message {
	if len(r.Messages) == 0 {
		return nil
	}
	return r.Messages[len(r.Messages)-1]
}

// Text returns the last message's text, or "".
func (r *StreamResult) Text() string {
	if m := r.LastMessage(); m != nil {
		return m.Text()
	}
	return ""
}

// ToolCalls returns the last message's tool parts.
func (r *StreamResult) ToolCalls() []*model.ToolPart {
	if m := r.LastMessage(); m != nil {
		return m.ToolCalls()
	}
	return nil
}

// StructuredOutput returns the last message's structured output part, or nil.
func (r *StreamResult) StructuredOutput() *model.StructuredOutputPart {
	if m := r.LastMessage(); m != nil {
		return m.StructuredOutput()
	}
	return nil
}

// Step submits a producer to the run loop and blocks until it completes,
// returning the aggregated result. Called from graph code.
//
// When the runtime holds a cached result at the current step counter
// (replay), the cached result returns immediately and the producer never
// runs.
func Step(ctx context.Context, fn StepFunc) (*StreamResult, error) {
	rt := FromContext(ctx)
	if rt == nil {
		return nil, ErrNoRuntime
	}

	if cached, ok := rt.tryReplayStep(); ok {
		rt.log.Debug(ctx, "step replayed from checkpoint")
		return cached, nil
	}

	item := stepItem{fn: fn, future: make(chan stepOutcome, 1)}
	rt.steps.put(item)

	select {
	case out := <-item.future:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StreamStep runs a single streaming model call as a step: every snapshot the
// adapter produces is yielded to the consumer, and the aggregated result
// returns to the graph.
func StreamStep(ctx context.Context, lm model.LanguageModel, msgs []*model.Message, defs []model.ToolDef, opts ...StepOption) (*StreamResult, error) {
	var cfg stepConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return Step(ctx, func(ctx context.Context, yield func(*model.Message) error) error {
		stream, err := model.Stream(ctx, lm, &model.Request{Messages: msgs, Tools: defs, Output: cfg.output})
		if err != nil {
			return err
		}
		defer stream.Close() //nolint:errcheck
		for {
			msg, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			msg.Label = cfg.label
			if err := yield(msg); err != nil {
				return err
			}
		}
	})
}

// StreamLoop is the reference agent loop: stream the model, execute any
// requested tools in parallel, feed results back, and repeat until a turn
// produces no tool calls.
//
// After each batch of tool executions the assistant message is re-emitted (as
// a copy) so consumers observe the pending-to-result transition.
func StreamLoop(ctx context.Context, lm model.LanguageModel, msgs []*model.Message, defs []model.ToolDef, opts ...StepOption) (*StreamResult, error) {
	rt := FromContext(ctx)
	if rt == nil {
		return nil, ErrNoRuntime
	}

	local := slices.Clone(msgs)
	for {
		result, err := StreamStep(ctx, lm, local, defs, opts...)
		if err != nil {
			return nil, err
		}

		// All tool parts go through ExecuteTool, including replayed ones that
		// already carry results: the checkpoint short-circuits those, which
		// keeps the step count of a replayed run aligned with the original.
		calls := result.ToolCalls()
		if len(calls) == 0 {
			return result, nil
		}

		last := result.LastMessage()
		local = append(local, last)

		g, gctx := errgroup.WithContext(ctx)
		for _, tc := range calls {
			g.Go(func() error {
				_, err := ExecuteTool(gctx, tc, last)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("runtime: tool batch: %w", err)
		}

		rt.PutMessage(last.Clone())
	}
}
