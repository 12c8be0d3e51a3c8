package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/halcyonai/halcyon/pkg/epoch"
	"github.com/halcyonai/halcyon/pkg/ledger"
	"github.com/halcyonai/halcyon/pkg/memory"
	"github.com/halcyonai/halcyon/pkg/provider"
	"github.com/halcyonai/halcyon/pkg/tokens"
	"github.com/halcyonai/halcyon/pkg/tools"
)

type emptyReader struct{}

func (emptyReader) ReadFacts(_ context.Context, _ int) ([]memory.Fact, error) { return nil, nil }
func (emptyReader) ReadIdentity(_ context.Context) (memory.Identity, error) {
	return memory.Identity{DisplayName: "Halcyon"}, nil
}
func (emptyReader) ReadTraces(_ context.Context, _ int64) ([]memory.Trace, error) {
	return nil, nil
}

// scriptedChat replays canned responses and records every request.
type scriptedChat struct {
	responses []string
	errs      []error
	requests  [][]provider.Message
}

func (s *scriptedChat) Chat(_ context.Context, messages []provider.Message, _ string, _ map[string]interface{}) (*provider.Response, error) {
	call := len(s.requests)
	s.requests = append(s.requests, messages)
	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	if call >= len(s.responses) {
		return nil, fmt.Errorf("scripted chat exhausted after %d calls", call)
	}
	return &provider.Response{Content: s.responses[call], FinishReason: "stop"}, nil
}

type orchFixture struct {
	ledger *ledger.Ledger
	ctrl   *epoch.Controller
	chat   *scriptedChat
	orch   *Orchestrator
}

func newOrchFixture(t *testing.T, chat *scriptedChat) *orchFixture {
	t.Helper()

	led, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.jsonl"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	tiers, err := memory.NewTiers(memory.TiersConfig{
		Counter:          tokens.NewCounter("nonexistent-encoding-for-tests"),
		Reader:           emptyReader{},
		MaxContextTokens: 4096,
		HardCapTokens:    4096,
		PressureFraction: 0.8,
	})
	if err != nil {
		t.Fatalf("new tiers: %v", err)
	}

	ctrl, err := epoch.NewController(epoch.ControllerConfig{
		SessionID: "s1",
		Ledger:    led,
		Tiers:     tiers,
		MaxTurns:  4,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	registry := tools.NewToolRegistry([]string{"clock"})
	registry.Register(tools.NewClockTool())

	orch, err := New(OrchestratorConfig{
		Controller: ctrl,
		Chat:       chat,
		Registry:   registry,
		Model:      "test-model",
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return &orchFixture{ledger: led, ctrl: ctrl, chat: chat, orch: orch}
}

func TestRunTurnCommitsFinalResponse(t *testing.T) {
	f := newOrchFixture(t, &scriptedChat{
		responses: []string{`{"reasoning": "simple math", "tool_calls": [], "final_response": "4"}`},
	})

	reply, err := f.orch.RunTurn(context.Background(), "What's 2+2?")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if reply != "4" {
		t.Fatalf("expected reply 4, got %q", reply)
	}

	records, err := f.ledger.Replay()
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].FinalOutput != "4" || records[0].UserInput != "What's 2+2?" {
		t.Fatalf("unexpected record: %+v", records[0])
	}
	if f.ctrl.State() != epoch.StateIdle {
		t.Fatalf("expected IDLE after commit, got %s", f.ctrl.State())
	}
}

func TestMalformedOutputTwiceAborts(t *testing.T) {
	f := newOrchFixture(t, &scriptedChat{
		responses: []string{`{"oops": not json`, `{"still": broken`},
	})

	_, err := f.orch.RunTurn(context.Background(), "hello")
	var genErr *provider.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}

	records, _ := f.ledger.Replay()
	if len(records) != 0 {
		t.Fatalf("aborted epoch must not reach the ledger, got %d records", len(records))
	}
	if f.ctrl.State() != epoch.StateIdle {
		t.Fatalf("expected IDLE after abort, got %s", f.ctrl.State())
	}

	// The retry carried the corrective instruction.
	if len(f.chat.requests) != 2 {
		t.Fatalf("expected 2 collaborator calls, got %d", len(f.chat.requests))
	}
	last := f.chat.requests[1]
	if last[len(last)-1].Content != provider.CorrectiveInstruction {
		t.Fatalf("expected corrective instruction, got %q", last[len(last)-1].Content)
	}
}

func TestSchemaRetryRecovers(t *testing.T) {
	f := newOrchFixture(t, &scriptedChat{
		responses: []string{
			`{"oops": not json`,
			`{"reasoning": "fixed", "tool_calls": [], "final_response": "better"}`,
		},
	})

	reply, err := f.orch.RunTurn(context.Background(), "hello")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if reply != "better" {
		t.Fatalf("expected recovered reply, got %q", reply)
	}
	records, _ := f.ledger.Replay()
	if len(records) != 1 {
		t.Fatalf("expected 1 record after recovery, got %d", len(records))
	}
}

func TestToolChaining(t *testing.T) {
	f := newOrchFixture(t, &scriptedChat{
		responses: []string{
			`{"reasoning": "need the time", "tool_calls": [{"name": "clock", "args": {}}]}`,
			`{"reasoning": "got it", "tool_calls": [], "final_response": "It is late."}`,
		},
	})

	reply, err := f.orch.RunTurn(context.Background(), "what time is it?")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if reply != "It is late." {
		t.Fatalf("unexpected reply: %q", reply)
	}

	records, _ := f.ledger.Replay()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if len(records[0].Tools) != 1 || records[0].Tools[0].Name != "clock" || !records[0].Tools[0].OK {
		t.Fatalf("tool use not recorded: %+v", records[0].Tools)
	}
	if records[0].TurnCount != 2 {
		t.Fatalf("expected 2 turns, got %d", records[0].TurnCount)
	}

	// The tool result was surfaced to the second call.
	second := f.chat.requests[1]
	var sawResult bool
	for _, m := range second {
		if strings.Contains(m.Content, "Tool clock (ok)") {
			sawResult = true
		}
	}
	if !sawResult {
		t.Fatal("tool result missing from follow-up context")
	}
}

func TestToolFailureDoesNotAbort(t *testing.T) {
	f := newOrchFixture(t, &scriptedChat{
		responses: []string{
			`{"tool_calls": [{"name": "no_such_tool", "args": {}}]}`,
			`{"tool_calls": [], "final_response": "done without the tool"}`,
		},
	})

	reply, err := f.orch.RunTurn(context.Background(), "try something")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if reply != "done without the tool" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	records, _ := f.ledger.Replay()
	if len(records) != 1 {
		t.Fatalf("expected committed epoch despite tool failure, got %d records", len(records))
	}
	if len(records[0].Tools) != 1 || records[0].Tools[0].OK {
		t.Fatalf("failed tool use must be recorded as failed: %+v", records[0].Tools)
	}
}

func TestTransportFailureRetriesOnce(t *testing.T) {
	f := newOrchFixture(t, &scriptedChat{
		errs:      []error{fmt.Errorf("connection reset")},
		responses: []string{"", `{"tool_calls": [], "final_response": "recovered"}`},
	})

	reply, err := f.orch.RunTurn(context.Background(), "hello")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if reply != "recovered" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestTransportFailureTwiceAborts(t *testing.T) {
	f := newOrchFixture(t, &scriptedChat{
		errs: []error{fmt.Errorf("connection reset"), fmt.Errorf("connection reset")},
	})

	_, err := f.orch.RunTurn(context.Background(), "hello")
	var genErr *provider.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	records, _ := f.ledger.Replay()
	if len(records) != 0 {
		t.Fatalf("ledger must stay empty, got %d records", len(records))
	}
}

func TestProposedDeltasReachTheLedger(t *testing.T) {
	f := newOrchFixture(t, &scriptedChat{
		responses: []string{
			`{"tool_calls": [{"name": "clock", "args": {}}], "memory_deltas": [{"kind": "user_preference", "content": "plans evenings around sunset", "confidence": 0.7}]}`,
			`{"tool_calls": [], "final_response": "sunset is at 8pm", "memory_deltas": [{"content": "asked about sunset times"}]}`,
		},
	})

	reply, err := f.orch.RunTurn(context.Background(), "when is sunset?")
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if reply != "sunset is at 8pm" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	records, _ := f.ledger.Replay()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	// Deltas from every step of the epoch ride the single committed record.
	if len(records[0].Deltas) != 2 {
		t.Fatalf("expected 2 deltas on the record, got %+v", records[0].Deltas)
	}
	if records[0].Deltas[0].Content != "plans evenings around sunset" || records[0].Deltas[0].Confidence != 0.7 {
		t.Fatalf("first delta not carried: %+v", records[0].Deltas[0])
	}
	if records[0].Deltas[1].Content != "asked about sunset times" {
		t.Fatalf("second delta not carried: %+v", records[0].Deltas[1])
	}
}
