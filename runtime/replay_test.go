package runtime_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlabs/strand/runtime"
	"github.com/strandlabs/strand/tools"
)

func TestStepReplaySkipsModel(t *testing.T) {
	graph := func(llm *mockLLM) runtime.GraphFunc {
		return func(ctx context.Context) error {
			result, err := runtime.StreamStep(ctx, llm, userMessages("hello"), nil)
			if err != nil {
				return err
			}
			assert.Equal(t, "Hi there!", result.Text())
			return nil
		}
	}

	llm1 := newMockLLM(textEvents("Hi there!"))
	rr1 := runtime.Run(context.Background(), graph(llm1))
	msgs1, err := drainRun(rr1)
	require.NoError(t, err)
	require.Equal(t, 1, llm1.calls())
	require.NotEmpty(t, msgs1)

	llm2 := newMockLLM()
	rr2 := runtime.Run(context.Background(), graph(llm2), runtime.WithCheckpoint(rr1.Checkpoint()))
	msgs2, err := drainRun(rr2)
	require.NoError(t, err)
	assert.Zero(t, llm2.calls())

	// Replayed steps are silent.
	assert.Empty(t, msgs2)
}

func TestToolReplaySkipsExecution(t *testing.T) {
	var executions atomic.Int64
	tools.MustNew("counting_tool", "Counts calls.",
		func(_ context.Context, args doubleArgs) (int, error) {
			executions.Add(1)
			return args.X + 1, nil
		})
	t.Cleanup(func() { tools.Unregister("counting_tool") })

	graph := func(llm *mockLLM) runtime.GraphFunc {
		return func(ctx context.Context) error {
			result, err := runtime.StreamStep(ctx, llm, userMessages("count"), nil)
			if err != nil {
				return err
			}
			for _, tc := range result.ToolCalls() {
				if _, err := runtime.ExecuteTool(ctx, tc, result.LastMessage()); err != nil {
					return err
				}
			}
			return nil
		}
	}

	llm1 := newMockLLM(toolEvents("tc-1", "counting_tool", `{"x": 5}`))
	rr1 := runtime.Run(context.Background(), graph(llm1))
	_, err := drainRun(rr1)
	require.NoError(t, err)
	require.EqualValues(t, 1, executions.Load())

	cp := rr1.Checkpoint()
	require.Len(t, cp.Tools, 1)
	assert.EqualValues(t, 6, cp.Tools[0].Result)

	// Second run: no fresh model responses, no re-execution.
	llm2 := newMockLLM()
	rr2 := runtime.Run(context.Background(), graph(llm2), runtime.WithCheckpoint(cp))
	_, err = drainRun(rr2)
	require.NoError(t, err)
	assert.Zero(t, llm2.calls())
	assert.EqualValues(t, 1, executions.Load())
}

func TestReplayCheckpointIsSuperset(t *testing.T) {
	llm1 := newMockLLM(toolEvents("tc-1", "double", `{"x": 4}`), textEvents("8"))

	graph := func(llm *mockLLM) runtime.GraphFunc {
		return func(ctx context.Context) error {
			_, err := runtime.StreamLoop(ctx, llm, userMessages("double 4"), tools.Definitions(doubleTool))
			return err
		}
	}

	rr1 := runtime.Run(context.Background(), graph(llm1))
	msgs1, err := drainRun(rr1)
	require.NoError(t, err)
	cp1 := rr1.Checkpoint()

	rr2 := runtime.Run(context.Background(), graph(newMockLLM()), runtime.WithCheckpoint(cp1))
	msgs2, err := drainRun(rr2)
	require.NoError(t, err)
	cp2 := rr2.Checkpoint()

	// The new checkpoint contains every restored event.
	require.GreaterOrEqual(t, len(cp2.Steps), len(cp1.Steps))
	for i, ev := range cp1.Steps {
		assert.Equal(t, ev.Index, cp2.Steps[i].Index)
	}
	require.GreaterOrEqual(t, len(cp2.Tools), len(cp1.Tools))
	for _, ev := range cp1.Tools {
		result, ok := cp2.ToolResult(ev.ToolCallID)
		require.True(t, ok)
		assert.EqualValues(t, ev.Result, result)
	}

	// The replayed run yields a subset of the original stream.
	assert.LessOrEqual(t, len(msgs2), len(msgs1))
}

func TestRestoredCheckpointIsNotMutated(t *testing.T) {
	llm1 := newMockLLM(textEvents("one"))
	rr1 := runtime.Run(context.Background(), func(ctx context.Context) error {
		_, err := runtime.StreamStep(ctx, llm1, userMessages("x"), nil)
		return err
	})
	_, err := drainRun(rr1)
	require.NoError(t, err)
	cp := rr1.Checkpoint()
	stepsBefore := len(cp.Steps)

	llm2 := newMockLLM(textEvents("two"))
	rr2 := runtime.Run(context.Background(), func(ctx context.Context) error {
		if _, err := runtime.StreamStep(ctx, llm2, userMessages("x"), nil); err != nil {
			return err
		}
		// A second, fresh step appends to the new checkpoint only.
		_, err := runtime.StreamStep(ctx, llm2, userMessages("y"), nil)
		return err
	}, runtime.WithCheckpoint(cp))
	_, err = drainRun(rr2)
	require.NoError(t, err)

	assert.Len(t, cp.Steps, stepsBefore, "caller's checkpoint must not grow")
	assert.Len(t, rr2.Checkpoint().Steps, stepsBefore+1)
}
