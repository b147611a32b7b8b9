// Package agent runs model-driven assessment agents and tracks their
// lifecycle records.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/llm"
	"github.com/sloppy/orangesage/internal/phase"
	"github.com/sloppy/orangesage/internal/sandbox"
)

// Task is everything an executor needs for one run.
type Task struct {
	AgentID       string
	Target        string
	TargetType    string
	Instruction   string
	Sandbox       sandbox.Handle
	Model         string
	MaxIterations int
	// Progress, when set, is called after each completed iteration.
	Progress func(iteration int)
}

// Executor is one kind of agent.
type Executor interface {
	Type() string
	Execute(ctx context.Context, task Task) phase.Result
}

// step is one model round-trip in an executor's plan.
type step struct {
	name   string
	prompt string
}

// Detail is the per-run output recorded as an agent's final result.
type Detail struct {
	AgentType  string            `json:"agent_type"`
	Iterations int               `json:"iterations"`
	Notes      map[string]string `json:"notes"`
	Findings   int               `json:"findings"`
	Model      string            `json:"model,omitempty"`
}

// modelReply is the JSON shape agents ask the model to answer with.
type modelReply struct {
	Notes    string        `json:"notes"`
	Findings []finding.Raw `json:"findings"`
}

const replyContract = `Respond with a single JSON object: {"notes": string, "findings": [` +
	`{"title","description","severity","type","endpoint","parameter","method","payload","remediation","references"}]}. ` +
	`severity is one of critical, high, medium, low, info. Report only issues supported by evidence.`

type engine struct {
	kind   string
	system string
	gen    llm.Generator
	logger *slog.Logger
}

func (e engine) run(ctx context.Context, task Task, steps []step) phase.Result {
	detail := Detail{AgentType: e.kind, Notes: make(map[string]string, len(steps))}
	var findings []finding.Finding

	limit := len(steps)
	if task.MaxIterations > 0 && task.MaxIterations < limit {
		limit = task.MaxIterations
	}
	for i, st := range steps[:limit] {
		if err := ctx.Err(); err != nil {
			return phase.Failed(err)
		}
		resp, err := e.gen.Generate(ctx, llm.Request{
			Model: task.Model,
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: e.system + "\n" + replyContract},
				{Role: llm.RoleUser, Content: e.userPrompt(task, st, detail.Notes)},
			},
		})
		if err != nil {
			return phase.Failed(fmt.Errorf("%s step %q: %w", e.kind, st.name, err))
		}
		detail.Model = resp.Model

		reply, err := parseReply(resp.Content)
		if err != nil {
			e.logger.Warn("agent reply not structured", "agent_id", task.AgentID, "step", st.name, "error", err)
			reply = modelReply{Notes: strings.TrimSpace(resp.Content)}
		}
		detail.Notes[st.name] = reply.Notes
		for _, raw := range reply.Findings {
			findings = append(findings, raw.Normalize("Security Finding", "unknown", task.AgentID))
		}

		detail.Iterations = i + 1
		if task.Progress != nil {
			task.Progress(detail.Iterations)
		}
	}
	detail.Findings = len(findings)
	return phase.Succeeded(findings, detail)
}

func (e engine) userPrompt(task Task, st step, notes map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target (%s): %s\n", task.TargetType, task.Target)
	if task.Instruction != "" {
		fmt.Fprintf(&b, "Assignment: %s\n", task.Instruction)
	}
	if task.Sandbox.ID != "" {
		fmt.Fprintf(&b, "Execution environment: %s\n", task.Sandbox.ID)
	}
	if len(notes) > 0 {
		b.WriteString("Notes so far:\n")
		for name, note := range notes {
			if note != "" {
				fmt.Fprintf(&b, "- %s: %s\n", name, note)
			}
		}
	}
	fmt.Fprintf(&b, "Current step (%s): %s", st.name, st.prompt)
	return b.String()
}

// parseReply extracts the outermost JSON object from model output, which
// may be wrapped in prose or a fenced block.
func parseReply(content string) (modelReply, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return modelReply{}, fmt.Errorf("no JSON object in reply")
	}
	var reply modelReply
	if err := json.Unmarshal([]byte(content[start:end+1]), &reply); err != nil {
		return modelReply{}, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}
