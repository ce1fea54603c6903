//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casperx6/data-agent/event"
	"github.com/casperx6/data-agent/model"
	"github.com/casperx6/data-agent/session"
	"github.com/casperx6/data-agent/tool"
)

// scriptedProvider replays a fixed event script per turn. The last script
// repeats if more turns are requested than scripted.
type scriptedProvider struct {
	turns    [][]model.StreamEvent
	turn     int
	requests []*model.Request
	err      error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, req *model.Request, yield func(model.StreamEvent) bool) error {
	p.requests = append(p.requests, req)
	idx := p.turn
	if idx >= len(p.turns) {
		idx = len(p.turns) - 1
	}
	p.turn++
	for _, ev := range p.turns[idx] {
		if !yield(ev) {
			return nil
		}
	}
	return p.err
}

type recordingToolSet struct {
	outputs map[string]string
	callErr error
	calls   []map[string]any
}

func (f *recordingToolSet) Declarations(ctx context.Context) ([]model.ToolDeclaration, error) {
	return []model.ToolDeclaration{{Name: "get_weather"}, {Name: "get_time"}}, nil
}

func (f *recordingToolSet) Call(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	f.calls = append(f.calls, args)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &tool.Result{Text: f.outputs[name]}, nil
}

func (f *recordingToolSet) Close() error { return nil }

type fixture struct {
	registry  *session.Registry
	provider  *scriptedProvider
	tools     *recordingToolSet
	sessionID string
	events    []event.Event
}

func newFixture(t *testing.T, provider *scriptedProvider, tools *recordingToolSet) *fixture {
	t.Helper()
	registry := session.New(func(ctx context.Context) (model.Provider, tool.Set, error) {
		return provider, tools, nil
	}, session.WithSweepInterval(0))
	t.Cleanup(registry.Close)

	id, err := registry.Create(context.Background())
	require.NoError(t, err)
	require.NoError(t, registry.AppendMessages(id, model.NewUserMessage("hello")))

	return &fixture{
		registry:  registry,
		provider:  provider,
		tools:     tools,
		sessionID: id,
	}
}

func (f *fixture) run(t *testing.T, opts ...Option) error {
	t.Helper()
	r := New(f.registry, opts...)
	return r.Run(context.Background(), f.sessionID, func(ev event.Event) bool {
		f.events = append(f.events, ev)
		return true
	})
}

func (f *fixture) eventTypes() []event.Type {
	types := make([]event.Type, len(f.events))
	for i, ev := range f.events {
		types[i] = ev.Type
	}
	return types
}

func TestRunPlainTextTurn(t *testing.T) {
	provider := &scriptedProvider{turns: [][]model.StreamEvent{{
		{Type: model.StreamEventToken, Content: "Hel"},
		{Type: model.StreamEventToken, Content: "lo!"},
		{Type: model.StreamEventTurnDone},
	}}}
	f := newFixture(t, provider, &recordingToolSet{})

	require.NoError(t, f.run(t))
	assert.Equal(t, []event.Type{
		event.TypeToken, event.TypeToken, event.TypeCompletion,
	}, f.eventTypes())

	history, err := f.registry.History(f.sessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hello!", history[1].Content)
}

func TestRunToolCallTurnEventOrder(t *testing.T) {
	provider := &scriptedProvider{turns: [][]model.StreamEvent{
		{
			{Type: model.StreamEventSlotAdded, Slot: 0, CallID: "call_1", Name: "get_weather"},
			{Type: model.StreamEventArgumentsDelta, Slot: 0, Arguments: `{"city":`},
			{Type: model.StreamEventArgumentsDelta, Slot: 0, Arguments: `"SF"}`},
			{Type: model.StreamEventArgumentsDone, Slot: 0},
			{Type: model.StreamEventTurnDone},
		},
		{
			{Type: model.StreamEventToken, Content: "Sunny."},
			{Type: model.StreamEventTurnDone},
		},
	}}
	tools := &recordingToolSet{outputs: map[string]string{"get_weather": "sunny, 20C"}}
	f := newFixture(t, provider, tools)

	require.NoError(t, f.run(t))
	assert.Equal(t, []event.Type{
		event.TypeToolCallStarted,
		event.TypeToolCall,
		event.TypeToolResponse,
		event.TypeToolCallFinished,
		event.TypeToken,
		event.TypeCompletion,
	}, f.eventTypes())

	call := f.events[1]
	assert.Equal(t, "get_weather", call.Name)
	assert.Equal(t, "call_1", call.CallID)
	assert.JSONEq(t, `{"city":"SF"}`, string(call.Arguments))
	assert.Equal(t, "sunny, 20C", f.events[2].Output)

	// History carries the full round trip: user, assistant with tool call,
	// tool result, final assistant text.
	history, err := f.registry.History(f.sessionID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, model.RoleAssistant, history[1].Role)
	require.Len(t, history[1].ToolCalls, 1)
	assert.Equal(t, "call_1", history[1].ToolCalls[0].ID)
	assert.Equal(t, model.RoleTool, history[2].Role)
	assert.Equal(t, "call_1", history[2].ToolCallID)
	assert.Equal(t, "sunny, 20C", history[2].Content)
	assert.Equal(t, "Sunny.", history[3].Content)

	// The continuation request replays the tool result to the provider and
	// carries no tool schema.
	require.Len(t, provider.requests, 2)
	assert.Len(t, provider.requests[0].Tools, 2)
	assert.Len(t, provider.requests[1].Messages, 3)
	assert.Empty(t, provider.requests[1].Tools)
}

func TestRunInterleavedSlotsNeverCrossAttribute(t *testing.T) {
	provider := &scriptedProvider{turns: [][]model.StreamEvent{
		{
			{Type: model.StreamEventSlotAdded, Slot: 0, CallID: "call_a", Name: "get_weather"},
			{Type: model.StreamEventSlotAdded, Slot: 1, CallID: "call_b", Name: "get_time"},
			{Type: model.StreamEventArgumentsDelta, Slot: 0, Arguments: `{"city":`},
			{Type: model.StreamEventArgumentsDelta, Slot: 1, Arguments: `{"zone":`},
			{Type: model.StreamEventArgumentsDelta, Slot: 0, Arguments: `"SF"}`},
			{Type: model.StreamEventArgumentsDelta, Slot: 1, Arguments: `"UTC"}`},
			{Type: model.StreamEventArgumentsDone, Slot: 0},
			{Type: model.StreamEventArgumentsDone, Slot: 1},
			{Type: model.StreamEventTurnDone},
		},
		{
			{Type: model.StreamEventToken, Content: "Done."},
			{Type: model.StreamEventTurnDone},
		},
	}}
	tools := &recordingToolSet{outputs: map[string]string{
		"get_weather": "sunny",
		"get_time":    "12:00",
	}}
	f := newFixture(t, provider, tools)

	require.NoError(t, f.run(t))

	var calls []event.Event
	for _, ev := range f.events {
		if ev.Type == event.TypeToolCall {
			calls = append(calls, ev)
		}
	}
	require.Len(t, calls, 2)
	assert.Equal(t, "call_a", calls[0].CallID)
	assert.JSONEq(t, `{"city":"SF"}`, string(calls[0].Arguments))
	assert.Equal(t, "call_b", calls[1].CallID)
	assert.JSONEq(t, `{"zone":"UTC"}`, string(calls[1].Arguments))

	// Each event group stays contiguous and correlated by call ID.
	for i, ev := range f.events {
		if ev.Type != event.TypeToolCallStarted {
			continue
		}
		assert.Equal(t, ev.CallID, f.events[i+1].CallID)
		assert.Equal(t, ev.CallID, f.events[i+2].CallID)
		assert.Equal(t, ev.CallID, f.events[i+3].CallID)
	}
}

func TestRunToolFailureFoldsIntoOutput(t *testing.T) {
	provider := &scriptedProvider{turns: [][]model.StreamEvent{
		{
			{Type: model.StreamEventSlotAdded, Slot: 0, CallID: "call_1", Name: "get_weather"},
			{Type: model.StreamEventArgumentsDone, Slot: 0},
			{Type: model.StreamEventTurnDone},
		},
		{
			{Type: model.StreamEventToken, Content: "Could not check."},
			{Type: model.StreamEventTurnDone},
		},
	}}
	tools := &recordingToolSet{callErr: errors.New("backend down")}
	f := newFixture(t, provider, tools)

	// A failing tool does not fail the stream.
	require.NoError(t, f.run(t))
	assert.Equal(t, event.TypeCompletion, f.events[len(f.events)-1].Type)

	var response event.Event
	for _, ev := range f.events {
		if ev.Type == event.TypeToolResponse {
			response = ev
		}
	}
	assert.Contains(t, response.Output, "Error executing tool get_weather")
}

func TestRunUpstreamErrorEmitsErrorEvent(t *testing.T) {
	provider := &scriptedProvider{
		turns: [][]model.StreamEvent{{
			{Type: model.StreamEventToken, Content: "par"},
			{Type: model.StreamEventError, Err: errors.New("upstream timeout")},
		}},
		err: errors.New("upstream timeout"),
	}
	f := newFixture(t, provider, &recordingToolSet{})

	err := f.run(t)
	require.Error(t, err)
	last := f.events[len(f.events)-1]
	assert.Equal(t, event.TypeError, last.Type)
	assert.Equal(t, "upstream timeout", last.Message)
}

func TestRunUnparsableArgumentsForwardedRaw(t *testing.T) {
	provider := &scriptedProvider{turns: [][]model.StreamEvent{
		{
			{Type: model.StreamEventSlotAdded, Slot: 0, CallID: "call_1", Name: "get_weather"},
			{Type: model.StreamEventArgumentsDelta, Slot: 0, Arguments: `{"city":"SF`},
			{Type: model.StreamEventArgumentsDone, Slot: 0},
			{Type: model.StreamEventTurnDone},
		},
		{
			{Type: model.StreamEventTurnDone},
		},
	}}
	tools := &recordingToolSet{outputs: map[string]string{"get_weather": "ok"}}
	f := newFixture(t, provider, tools)

	require.NoError(t, f.run(t))

	var call event.Event
	for _, ev := range f.events {
		if ev.Type == event.TypeToolCall {
			call = ev
		}
	}
	// Truncated JSON travels as a JSON string on the event.
	assert.Equal(t, `"{\"city\":\"SF"`, string(call.Arguments))
	// The tool still receives the text, wrapped under a raw key.
	require.Len(t, tools.calls, 1)
	assert.Equal(t, map[string]any{"raw": `{"city":"SF`}, tools.calls[0])
}

func TestRunDisconnectStopsWithoutCompletion(t *testing.T) {
	provider := &scriptedProvider{turns: [][]model.StreamEvent{{
		{Type: model.StreamEventToken, Content: "a"},
		{Type: model.StreamEventToken, Content: "b"},
		{Type: model.StreamEventTurnDone},
	}}}
	f := newFixture(t, provider, &recordingToolSet{})

	r := New(f.registry)
	err := r.Run(context.Background(), f.sessionID, func(ev event.Event) bool {
		f.events = append(f.events, ev)
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, []event.Type{event.TypeToken}, f.eventTypes())
}

func TestRunSessionRemovedMidStream(t *testing.T) {
	provider := &scriptedProvider{turns: [][]model.StreamEvent{{
		{Type: model.StreamEventToken, Content: "a"},
		{Type: model.StreamEventTurnDone},
	}}}
	f := newFixture(t, provider, &recordingToolSet{})

	r := New(f.registry)
	err := r.Run(context.Background(), f.sessionID, func(ev event.Event) bool {
		f.events = append(f.events, ev)
		// Session disappears while the stream is mid-turn.
		f.registry.Remove(f.sessionID)
		return true
	})
	require.NoError(t, err)
	// No completion: the removal was observed at the history write.
	assert.Equal(t, []event.Type{event.TypeToken}, f.eventTypes())
}

func TestRunSessionRemovedBeforeToolDispatch(t *testing.T) {
	provider := &scriptedProvider{turns: [][]model.StreamEvent{{
		{Type: model.StreamEventSlotAdded, Slot: 0, CallID: "call_1", Name: "get_weather"},
		{Type: model.StreamEventArgumentsDelta, Slot: 0, Arguments: `{"city":"SF"}`},
		{Type: model.StreamEventArgumentsDone, Slot: 0},
		{Type: model.StreamEventTurnDone},
	}}}
	tools := &recordingToolSet{outputs: map[string]string{"get_weather": "sunny"}}
	f := newFixture(t, provider, tools)

	r := New(f.registry)
	err := r.Run(context.Background(), f.sessionID, func(ev event.Event) bool {
		f.events = append(f.events, ev)
		// The session is deleted after the call's events go out but before
		// the call is dispatched; the tool must not run.
		if ev.Type == event.TypeToolCall {
			f.registry.Remove(f.sessionID)
		}
		return true
	})
	require.NoError(t, err)
	assert.Empty(t, tools.calls)
	assert.Equal(t, []event.Type{
		event.TypeToolCallStarted, event.TypeToolCall,
	}, f.eventTypes())
}

func TestRunTurnLimit(t *testing.T) {
	// Every turn requests another tool call; the chain must stop.
	provider := &scriptedProvider{turns: [][]model.StreamEvent{{
		{Type: model.StreamEventSlotAdded, Slot: 0, CallID: "call_x", Name: "get_time"},
		{Type: model.StreamEventArgumentsDone, Slot: 0},
		{Type: model.StreamEventTurnDone},
	}}}
	tools := &recordingToolSet{outputs: map[string]string{"get_time": "12:00"}}
	f := newFixture(t, provider, tools)

	require.NoError(t, f.run(t, WithMaxTurns(2)))
	last := f.events[len(f.events)-1]
	assert.Equal(t, event.TypeError, last.Type)
	assert.Equal(t, "tool call turn limit reached", last.Message)
	assert.Len(t, tools.calls, 2)
}

func TestRunUnresolvedSlotDropped(t *testing.T) {
	provider := &scriptedProvider{turns: [][]model.StreamEvent{
		{
			{Type: model.StreamEventSlotAdded, Slot: 0, CallID: "call_1", Name: "get_weather"},
			{Type: model.StreamEventArgumentsDelta, Slot: 0, Arguments: `{"city":`},
			// Stream ends without ArgumentsDone.
			{Type: model.StreamEventTurnDone},
		},
	}}
	tools := &recordingToolSet{}
	f := newFixture(t, provider, tools)

	require.NoError(t, f.run(t))
	assert.Empty(t, tools.calls)
	assert.Equal(t, []event.Type{event.TypeCompletion}, f.eventTypes())
}

func TestArgumentsJSON(t *testing.T) {
	assert.Equal(t, `{}`, string(argumentsJSON("")))
	assert.Equal(t, `{"a":1}`, string(argumentsJSON(`{"a":1}`)))
	assert.Equal(t, `"not json"`, string(argumentsJSON("not json")))
}
