//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

// Package event defines the application event vocabulary delivered to clients.
//
// Events are the only payloads the transport adapter forwards. They are
// independent of whichever upstream streaming protocol produced them, and
// consumers correlate a tool call's events strictly by CallID, never by
// ordinal position.
package event

import "encoding/json"

// Type tags an event variant.
type Type string

// Event type constants.
const (
	// TypeToken carries one assistant text fragment.
	TypeToken Type = "token"
	// TypeToolCallStarted announces that a resolved tool call is about to run.
	TypeToolCallStarted Type = "tool_call_started"
	// TypeToolCall carries a resolved tool call with its full arguments.
	TypeToolCall Type = "tool_call"
	// TypeToolResponse carries the normalized output of a tool call.
	TypeToolResponse Type = "tool_response"
	// TypeToolCallFinished marks the end of a tool call's event group.
	TypeToolCallFinished Type = "tool_call_finished"
	// TypeCompletion terminates a successful turn.
	TypeCompletion Type = "completion"
	// TypeError terminates a failed turn.
	TypeError Type = "error"
)

// Event is the normalized application event streamed to clients.
// Exactly the fields relevant to the variant are populated.
type Event struct {
	Type Type `json:"type"`

	// Content is the text fragment for token events.
	Content string `json:"content,omitempty"`

	// Name and CallID identify the tool call for tool_* events.
	Name   string `json:"name,omitempty"`
	CallID string `json:"call_id,omitempty"`

	// Arguments is the structured argument payload for tool_call events.
	// When the accumulated argument text is not valid JSON it is forwarded
	// verbatim as a JSON string.
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Output is the normalized tool result for tool_response events.
	Output string `json:"output,omitempty"`

	// Message is the human-readable detail for completion and error events.
	Message string `json:"message,omitempty"`
}

// NewToken creates a token event.
func NewToken(content string) Event {
	return Event{Type: TypeToken, Content: content}
}

// NewToolCallStarted creates a tool_call_started event.
func NewToolCallStarted(name, callID string) Event {
	return Event{Type: TypeToolCallStarted, Name: name, CallID: callID}
}

// NewToolCall creates a tool_call event. The arguments must already be valid
// JSON; callers quote unparsable argument text before constructing the event.
func NewToolCall(name, callID string, arguments json.RawMessage) Event {
	return Event{Type: TypeToolCall, Name: name, CallID: callID, Arguments: arguments}
}

// NewToolResponse creates a tool_response event.
func NewToolResponse(name, callID, output string) Event {
	return Event{Type: TypeToolResponse, Name: name, CallID: callID, Output: output}
}

// NewToolCallFinished creates a tool_call_finished event.
func NewToolCallFinished(name, callID string) Event {
	return Event{Type: TypeToolCallFinished, Name: name, CallID: callID}
}

// NewCompletion creates a completion event.
func NewCompletion() Event {
	return Event{Type: TypeCompletion, Message: "Response completed"}
}

// NewError creates an error event.
func NewError(message string) Event {
	return Event{Type: TypeError, Message: message}
}
