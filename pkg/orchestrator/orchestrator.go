package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/halcyonai/halcyon/pkg/epoch"
	"github.com/halcyonai/halcyon/pkg/ledger"
	"github.com/halcyonai/halcyon/pkg/logger"
	"github.com/halcyonai/halcyon/pkg/memory"
	"github.com/halcyonai/halcyon/pkg/provider"
	"github.com/halcyonai/halcyon/pkg/tools"
)

// Orchestrator drives one epoch end-to-end: open, prompt the reasoning
// collaborator with the context snapshot, satisfy tool calls, loop until
// a final response, then commit. Schema failures get one corrective
// retry; a second failure aborts the epoch.
type Orchestrator struct {
	controller *epoch.Controller
	chat       provider.ChatProvider
	registry   *tools.ToolRegistry

	model       string
	temperature float64
	maxTokens   int
}

type OrchestratorConfig struct {
	Controller  *epoch.Controller
	Chat        provider.ChatProvider
	Registry    *tools.ToolRegistry
	Model       string
	Temperature float64
	MaxTokens   int
}

func New(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Controller == nil || cfg.Chat == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("orchestrator: controller, chat provider and registry are required")
	}
	return &Orchestrator{
		controller:  cfg.Controller,
		chat:        cfg.Chat,
		registry:    cfg.Registry,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// RunTurn processes one user input as one epoch. The returned string is
// the user-facing final response of a committed epoch; on abort the error
// describes the failure and nothing durable has changed.
func (o *Orchestrator) RunTurn(ctx context.Context, userInput string) (string, error) {
	ep, err := o.controller.Open(ctx, userInput)
	if err != nil {
		return "", err
	}

	messages := buildMessages(ep.Snapshot, o.registry, userInput)
	schemaRetried := false
	transportRetried := false
	var deltas []ledger.FactDelta

	for {
		resp, err := o.chat.Chat(ctx, messages, o.model, map[string]interface{}{
			"temperature": o.temperature,
			"max_tokens":  o.maxTokens,
		})
		if err != nil {
			if !transportRetried {
				transportRetried = true
				logger.WarnCF("orchestrator", "collaborator call failed, retrying once", map[string]interface{}{
					"epoch_id": ep.ID, "error": err.Error(),
				})
				continue
			}
			o.abort(ep.ID, "collaborator transport failure")
			return "", &provider.GenerationError{EpochID: ep.ID, Stage: "chat", Err: err}
		}

		intent, err := provider.ParseIntent(resp.Content)
		if err != nil {
			var schemaErr *provider.SchemaError
			if errors.As(err, &schemaErr) && !schemaRetried {
				schemaRetried = true
				messages = append(messages,
					provider.Message{Role: "assistant", Content: resp.Content},
					provider.Message{Role: "user", Content: provider.CorrectiveInstruction},
				)
				continue
			}
			o.abort(ep.ID, "structured output invalid after retry")
			return "", &provider.GenerationError{EpochID: ep.ID, Stage: "parse", Err: err}
		}

		turn := epoch.Turn{
			RawOutput: resp.Content,
			Reasoning: intent.Reasoning,
		}
		deltas = append(deltas, proposedDeltas(intent.MemoryDeltas)...)

		if len(intent.ToolCalls) == 0 {
			if err := o.controller.AdvanceTurn(turn); err != nil {
				o.abort(ep.ID, err.Error())
				return "", err
			}
			rec, err := o.controller.Commit(ctx, intent.FinalResponse, deltas)
			if err != nil {
				o.abort(ep.ID, "commit failed")
				return "", err
			}
			logger.DebugCF("orchestrator", "turn complete", map[string]interface{}{
				"epoch_id": ep.ID, "seq": rec.Seq,
			})
			return intent.FinalResponse, nil
		}

		var toolMsgs []provider.Message
		for _, call := range intent.ToolCalls {
			result := o.registry.Execute(ctx, call.Name, call.Args)
			turn.ToolUses = append(turn.ToolUses, ledger.ToolUse{
				Name:   call.Name,
				OK:     !result.IsError,
				Result: result.ForLLM,
			})
			status := "ok"
			if result.IsError {
				status = "failed"
			}
			toolMsgs = append(toolMsgs, provider.Message{
				Role:    "user",
				Content: fmt.Sprintf("Tool %s (%s):\n%s", call.Name, status, result.ForLLM),
			})
		}

		if err := o.controller.AdvanceTurn(turn); err != nil {
			// Turn limit reached with tool calls still pending: the epoch
			// cannot terminate cleanly.
			o.abort(ep.ID, err.Error())
			return "", &provider.GenerationError{EpochID: ep.ID, Stage: "tool_loop", Err: err}
		}

		messages = append(messages, provider.Message{Role: "assistant", Content: resp.Content})
		messages = append(messages, toolMsgs...)

		if intent.FinalResponse != "" {
			// Model produced tool calls and a final answer in one step;
			// the tool results have been recorded, the answer stands.
			rec, err := o.controller.Commit(ctx, intent.FinalResponse, deltas)
			if err != nil {
				o.abort(ep.ID, "commit failed")
				return "", err
			}
			logger.DebugCF("orchestrator", "turn complete", map[string]interface{}{
				"epoch_id": ep.ID, "seq": rec.Seq,
			})
			return intent.FinalResponse, nil
		}
	}
}

// proposedDeltas converts model-proposed memory candidates into ledger
// deltas, dropping blanks.
func proposedDeltas(in []provider.IntentDelta) []ledger.FactDelta {
	var out []ledger.FactDelta
	for _, d := range in {
		content := strings.TrimSpace(d.Content)
		if content == "" {
			continue
		}
		out = append(out, ledger.FactDelta{
			Kind:       d.Kind,
			Key:        d.Key,
			Content:    content,
			Confidence: d.Confidence,
		})
	}
	return out
}

func (o *Orchestrator) abort(epochID, reason string) {
	if err := o.controller.Abort(reason); err != nil {
		logger.WarnCF("orchestrator", "abort failed", map[string]interface{}{
			"epoch_id": epochID, "error": err.Error(),
		})
	}
}

// buildMessages assembles the provider conversation from the epoch's
// context snapshot: system prompt with identity, facts and tool roster,
// then reconstructed history, then the new input.
func buildMessages(snapshot memory.Context, registry *tools.ToolRegistry, userInput string) []provider.Message {
	var sys strings.Builder
	sys.WriteString(memory.FormatIdentity(snapshot.Identity))
	sys.WriteString("\n\n")

	if len(snapshot.Facts) > 0 {
		sys.WriteString("What you know:\n")
		for _, f := range snapshot.Facts {
			fmt.Fprintf(&sys, "- %s\n", f.Content)
		}
		sys.WriteString("\n")
	}
	if len(snapshot.Traces) > 0 {
		sys.WriteString("Recent themes:\n")
		for _, tr := range snapshot.Traces {
			fmt.Fprintf(&sys, "- %s\n", tr.Content)
		}
		sys.WriteString("\n")
	}

	sys.WriteString(registry.Describe())
	sys.WriteString("\n\n")
	sys.WriteString(`Respond with a single JSON object: {"reasoning": "...", "tool_calls": [{"name": "...", "args": {...}}], "final_response": "..."}. Use an empty tool_calls array and fill final_response when you can answer directly. When the exchange contains something worth remembering long-term, add "memory_deltas": [{"kind": "semantic_fact|user_preference|task_state", "content": "...", "confidence": 0.0}].`)

	messages := []provider.Message{{Role: "system", Content: sys.String()}}
	for _, m := range snapshot.History {
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, provider.Message{Role: "user", Content: userInput})
	return messages
}
