package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/strandlabs/strand/model"
	"github.com/strandlabs/strand/runtime"
)

// mockLLM yields pre-configured event sequences, one per StreamEvents call.
type mockLLM struct {
	mu        sync.Mutex
	responses [][]model.StreamEvent
	callCount int
}

func newMockLLM(responses ...[]model.StreamEvent) *mockLLM {
	return &mockLLM{responses: responses}
}

func (m *mockLLM) StreamEvents(_ context.Context, _ *model.Request) (model.EventStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.callCount >= len(m.responses) {
		return nil, errors.New("mockLLM: no more responses configured")
	}
	events := m.responses[m.callCount]
	m.callCount++
	return &scriptedStream{events: events}, nil
}

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

type scriptedStream struct {
	events []model.StreamEvent
	next   int
}

func (s *scriptedStream) Recv() (model.StreamEvent, error) {
	if s.next >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.next]
	s.next++
	return ev, nil
}

func (s *scriptedStream) Close() error { return nil }

// textEvents is a complete single-text-block turn.
func textEvents(text string) []model.StreamEvent {
	return []model.StreamEvent{
		model.TextStart{BlockID: "b1"},
		model.TextDelta{BlockID: "b1", Delta: text},
		model.TextEnd{BlockID: "b1"},
		model.MessageDone{},
	}
}

// toolEvents is a complete turn requesting a single tool call.
func toolEvents(tcID, name, args string) []model.StreamEvent {
	return []model.StreamEvent{
		model.ToolStart{ToolCallID: tcID, ToolName: name},
		model.ToolArgsDelta{ToolCallID: tcID, Delta: args},
		model.ToolEnd{ToolCallID: tcID},
		model.MessageDone{},
	}
}

// drainRun collects every snapshot of a run.
func drainRun(rr *runtime.RunResult) ([]*model.Message, error) {
	var msgs []*model.Message
	for {
		msg, err := rr.Recv()
		if errors.Is(err, io.EOF) {
			return msgs, nil
		}
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
}

// hookSnapshots filters snapshots carrying a hook part with the given status.
func hookSnapshots(msgs []*model.Message, status model.HookStatus) []*model.Message {
	var out []*model.Message
	for _, m := range msgs {
		if h := m.Hook(""); h != nil && h.Status == status {
			out = append(out, m)
		}
	}
	return out
}

func userMessages(text string) []*model.Message {
	return model.MakeMessages("test", text)
}

var errSentinel = fmt.Errorf("sentinel")
