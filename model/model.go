//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

// Package model defines the provider-neutral conversation types and the
// streaming provider contract.
//
// A Provider adapts one upstream streaming protocol into the normalized
// StreamEvent sequence consumed by the reassembler. Two implementations
// exist under model/openai: one for the chat-completions delta protocol
// and one for the response-item protocol.
package model

import (
	"context"
	"encoding/json"
)

// Roles of conversation messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a session's conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that requested tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set on tool result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// ToolCall is a fully resolved tool invocation request carried on an
// assistant message.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message carrying optional text
// and the tool calls it requested.
func NewAssistantMessage(content string, toolCalls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// NewToolMessage creates a tool result message correlated by call ID.
func NewToolMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID, ToolName: name}
}

// ToolDeclaration describes one callable tool advertised to the upstream
// service.
type ToolDeclaration struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is one upstream streaming call: the full conversation so far plus
// the tools the assistant may invoke.
type Request struct {
	Messages []Message
	Tools    []ToolDeclaration
}

// StreamEventType tags the normalized upstream stream events.
type StreamEventType int

// Normalized stream event kinds, in the vocabulary shared by both upstream
// protocols.
const (
	// StreamEventToken carries an assistant text fragment.
	StreamEventToken StreamEventType = iota
	// StreamEventSlotAdded opens an argument accumulation slot for a tool
	// call whose identity is already known.
	StreamEventSlotAdded
	// StreamEventArgumentsDelta appends an argument text fragment to an
	// open slot.
	StreamEventArgumentsDelta
	// StreamEventArgumentsDone closes a slot's argument accumulation.
	StreamEventArgumentsDone
	// StreamEventTurnDone marks the upstream turn as finished.
	StreamEventTurnDone
	// StreamEventError carries an upstream failure.
	StreamEventError
)

// StreamEvent is one normalized event of an upstream stream. Providers
// guarantee that for every slot a SlotAdded precedes any ArgumentsDelta,
// and an ArgumentsDone precedes TurnDone.
type StreamEvent struct {
	Type StreamEventType

	// Content is the text fragment for Token events.
	Content string

	// Slot is the provider-assigned ordinal of the tool call within the
	// turn. It is stable for the lifetime of the stream and never reused.
	Slot int

	// CallID and Name identify the tool call for SlotAdded events.
	CallID string
	Name   string

	// Arguments is the argument text fragment for ArgumentsDelta events.
	Arguments string

	// Err is the upstream failure for Error events.
	Err error
}

// Provider streams one upstream turn, delivering normalized events through
// the yield callback. Yield returning false stops the stream early. Stream
// returns after the final TurnDone or Error event has been delivered.
type Provider interface {
	// Name reports the upstream protocol family.
	Name() string

	// Stream runs one turn against the upstream service.
	Stream(ctx context.Context, req *Request, yield func(StreamEvent) bool) error
}
