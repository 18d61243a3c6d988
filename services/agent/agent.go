// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent runs small role-playing LLM crews: the planning crew that
// turns a user query into pipeline instructions and the research crew that
// finds and summarizes related papers.
//
// A Crew executes its Tasks in order. Each Task is answered by its Agent
// through the LLM; when the agent has Tools it may answer with a tool call
// instead of a final answer, the result is fed back, and the model is asked
// again until it answers or MaxSteps is reached.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"text/template"

	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ConstellationAI/constellation/services/llm"
)

var tracer = otel.Tracer("constellation.agent")

// DefaultMaxSteps bounds tool round trips per task.
const DefaultMaxSteps = 5

var (
	// ErrMaxSteps means the agent kept calling tools without answering.
	ErrMaxSteps = errors.New("agent exceeded max tool steps")
	// ErrUnknownTool means the model asked for a tool the agent does not have.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrEmptyOutput means the model returned nothing usable.
	ErrEmptyOutput = errors.New("empty agent output")
)

// =============================================================================
// Tools
// =============================================================================

// Tool is a capability an agent may invoke during a task.
type Tool interface {
	Name() string
	Description() string
	// Call runs the tool. input is the decoded "input" field of the tool
	// call; the result is JSON-encoded before it is shown to the model.
	Call(ctx context.Context, input json.RawMessage) (any, error)
}

// FuncTool adapts a function to Tool.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	Fn              func(ctx context.Context, input json.RawMessage) (any, error)
}

func (t *FuncTool) Name() string        { return t.ToolName }
func (t *FuncTool) Description() string { return t.ToolDescription }

func (t *FuncTool) Call(ctx context.Context, input json.RawMessage) (any, error) {
	return t.Fn(ctx, input)
}

// toolCall is the reply shape that requests a tool.
type toolCall struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
}

// =============================================================================
// Agents and tasks
// =============================================================================

// Agent is a persona with optional tools.
type Agent struct {
	Role      string
	Goal      string
	Backstory string
	Tools     []Tool
	// Params tunes generation. The zero value uses backend defaults.
	Params llm.GenerationParams
}

func (a *Agent) tool(name string) (Tool, bool) {
	for _, t := range a.Tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// systemPrompt renders the persona and, when the agent has tools, the tool
// protocol.
func (a *Agent) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s.\n%s\n\nYour personal goal is: %s\n", a.Role, strings.TrimSpace(a.Backstory), a.Goal)
	if len(a.Tools) == 0 {
		return b.String()
	}
	b.WriteString("\nYou have access to the following tools:\n")
	tools := append([]Tool(nil), a.Tools...)
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
	}
	b.WriteString("\nTo use a tool, reply with only a JSON object of the form " +
		`{"tool": "<tool name>", "input": <tool input>}` +
		". The tool result will be sent back to you. When you have the final answer, reply with the answer itself and no tool call.\n")
	return b.String()
}

// Task is one unit of work for an agent. Description is a text/template
// rendered with the crew inputs.
type Task struct {
	Name           string
	Description    string
	ExpectedOutput string
	Agent          *Agent
}

func (t *Task) render(inputs map[string]any, context string) (string, error) {
	tmpl, err := template.New(t.Name).Option("missingkey=zero").Parse(t.Description)
	if err != nil {
		return "", fmt.Errorf("parse task %q: %w", t.Name, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, inputs); err != nil {
		return "", fmt.Errorf("render task %q: %w", t.Name, err)
	}
	if t.ExpectedOutput != "" {
		fmt.Fprintf(&b, "\n\nThis is the expected output: %s", t.ExpectedOutput)
	}
	if context != "" {
		fmt.Fprintf(&b, "\n\nThis is the context you are working with:\n%s", context)
	}
	return b.String(), nil
}

// =============================================================================
// Crew
// =============================================================================

// Crew runs tasks sequentially, passing each output to the next task as
// context.
type Crew struct {
	LLM      llm.LLMClient
	Tasks    []*Task
	MaxSteps int
}

// TaskOutput is the answer to one task.
type TaskOutput struct {
	Task  string `json:"task"`
	Raw   string `json:"raw"`
	Steps int    `json:"steps"`
}

// Kickoff runs every task and returns their outputs in order. The last
// output is the crew's answer.
func (c *Crew) Kickoff(ctx context.Context, inputs map[string]any) ([]TaskOutput, error) {
	ctx, span := tracer.Start(ctx, "agent.Crew.Kickoff")
	defer span.End()
	span.SetAttributes(attribute.Int("crew.tasks", len(c.Tasks)))

	if c.LLM == nil {
		return nil, fmt.Errorf("crew has no LLM client")
	}
	outputs := make([]TaskOutput, 0, len(c.Tasks))
	prev := ""
	for _, task := range c.Tasks {
		out, err := c.runTask(ctx, task, inputs, prev)
		if err != nil {
			span.RecordError(err)
			return outputs, fmt.Errorf("task %q: %w", task.Name, err)
		}
		outputs = append(outputs, out)
		prev = out.Raw
	}
	return outputs, nil
}

func (c *Crew) runTask(ctx context.Context, task *Task, inputs map[string]any, prev string) (TaskOutput, error) {
	if task.Agent == nil {
		return TaskOutput{}, fmt.Errorf("task has no agent")
	}
	prompt, err := task.render(inputs, prev)
	if err != nil {
		return TaskOutput{}, err
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: task.Agent.systemPrompt()},
		{Role: llm.RoleUser, Content: prompt},
	}

	maxSteps := c.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	for step := 0; step <= maxSteps; step++ {
		reply, err := c.LLM.Chat(ctx, messages, task.Agent.Params)
		if err != nil {
			return TaskOutput{}, err
		}
		reply = strings.TrimSpace(reply)

		call, ok := parseToolCall(reply, task.Agent)
		if !ok {
			if reply == "" {
				return TaskOutput{}, ErrEmptyOutput
			}
			return TaskOutput{Task: task.Name, Raw: reply, Steps: step}, nil
		}
		if step == maxSteps {
			break
		}

		result := c.callTool(ctx, task.Agent, call)
		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: reply},
			llm.Message{Role: llm.RoleUser, Content: "Tool result:\n" + result},
		)
	}
	return TaskOutput{}, ErrMaxSteps
}

// callTool runs a tool and renders its result or error for the model.
func (c *Crew) callTool(ctx context.Context, a *Agent, call toolCall) string {
	ctx, span := tracer.Start(ctx, "agent.Tool.Call")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", call.Tool))

	t, ok := a.tool(call.Tool)
	if !ok {
		return fmt.Sprintf("error: %v: %s", ErrUnknownTool, call.Tool)
	}
	out, err := t.Call(ctx, call.Input)
	if err != nil {
		slog.Warn("agent tool failed", "tool", call.Tool, "error", err)
		return "error: " + err.Error()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "error: " + err.Error()
	}
	return string(data)
}

// parseToolCall recognizes a reply that is a single tool call. Replies from
// agents without tools are never tool calls.
func parseToolCall(reply string, a *Agent) (toolCall, bool) {
	if len(a.Tools) == 0 {
		return toolCall{}, false
	}
	var call toolCall
	if err := ParseJSON(reply, &call); err != nil || call.Tool == "" {
		return toolCall{}, false
	}
	return call, true
}

// =============================================================================
// JSON helpers
// =============================================================================

// ParseJSON decodes model output into out. Markdown code fences are
// stripped and malformed JSON is repaired before a second attempt.
func ParseJSON(raw string, out any) error {
	s := StripFences(raw)
	if s == "" {
		return ErrEmptyOutput
	}
	err := json.Unmarshal([]byte(s), out)
	if err == nil {
		return nil
	}
	repaired, rerr := jsonrepair.JSONRepair(s)
	if rerr != nil {
		return fmt.Errorf("invalid JSON: %w (repair failed: %v)", err, rerr)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("invalid JSON after repair: %w", err)
	}
	return nil
}

// StripFences removes a surrounding ```json ... ``` block.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
