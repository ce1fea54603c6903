//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

// Package stream turns upstream provider streams into the application event
// sequence delivered to clients.
//
// The reassembler owns the turn loop of one attached stream: it replays the
// session history to the provider, forwards text tokens as they arrive,
// accumulates tool call argument fragments per slot, executes resolved
// calls through the bridge, folds the results back into the session history
// and continues with the next turn until the assistant finishes without
// requesting tools.
package stream

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/casperx6/data-agent/bridge"
	"github.com/casperx6/data-agent/event"
	"github.com/casperx6/data-agent/log"
	"github.com/casperx6/data-agent/model"
	"github.com/casperx6/data-agent/session"
	"github.com/casperx6/data-agent/telemetry"
	"github.com/casperx6/data-agent/tool"
)

const defaultMaxTurns = 8

// Sink receives application events in order. Returning false stops the
// stream; the reassembler treats it as client disconnect.
type Sink func(event.Event) bool

type options struct {
	maxTurns int
}

// Option configures a Reassembler.
type Option func(*options)

// WithMaxTurns caps how many upstream turns one stream may chain through
// tool-call continuations.
func WithMaxTurns(n int) Option {
	return func(o *options) {
		o.maxTurns = n
	}
}

// Reassembler drives streaming turns for attached sessions.
type Reassembler struct {
	registry *session.Registry
	opts     options
}

// New creates a Reassembler over the given registry. Tool calls are
// dispatched through each session's own tool connection.
func New(registry *session.Registry, opts ...Option) *Reassembler {
	o := options{maxTurns: defaultMaxTurns}
	for _, opt := range opts {
		opt(&o)
	}
	return &Reassembler{
		registry: registry,
		opts:     o,
	}
}

// slot accumulates one tool call's argument fragments. A slot is keyed by
// the provider-assigned ordinal; its call ID and name are fixed at creation,
// so interleaved fragments of concurrent calls can never cross-attribute.
type slot struct {
	callID   string
	name     string
	args     strings.Builder
	resolved bool
}

// turnResult is what one upstream turn produced.
type turnResult struct {
	text  string
	calls []resolvedCall
	err   error
}

// resolvedCall is a tool call whose arguments are complete.
type resolvedCall struct {
	callID    string
	name      string
	arguments string
}

// Run streams one conversation turn chain for the session and delivers
// application events to the sink. The terminal event is always a completion
// or an error. Run returns nil on client disconnect and on session removal
// observed mid-stream.
func (r *Reassembler) Run(ctx context.Context, sessionID string, sink Sink) error {
	provider, err := r.registry.Provider(sessionID)
	if err != nil {
		sink(event.NewError("session no longer exists"))
		return err
	}
	tools, err := r.registry.Tools(sessionID)
	if err != nil {
		sink(event.NewError("session no longer exists"))
		return err
	}

	declarations, err := tools.Declarations(ctx)
	if err != nil {
		log.Errorf("failed to list tool declarations: %v", err)
		sink(event.NewError("tool service unavailable"))
		return err
	}

	for turn := 0; turn < r.opts.maxTurns; turn++ {
		// Continuation requests carry no tool schema: once a turn's calls
		// have been executed, the follow-up exists to narrate the results.
		if turn > 0 {
			declarations = nil
		}
		result, alive := r.streamTurn(ctx, sessionID, provider, declarations, sink)
		if !alive {
			return nil
		}
		if result.err != nil {
			sink(event.NewError(result.err.Error()))
			return result.err
		}

		// The assistant message goes into history before any tool results,
		// matching the order the upstream API requires on replay.
		var toolCalls []model.ToolCall
		for _, call := range result.calls {
			toolCalls = append(toolCalls, model.ToolCall{
				ID:        call.callID,
				Name:      call.name,
				Arguments: argumentsJSON(call.arguments),
			})
		}
		if result.text != "" || len(toolCalls) > 0 {
			if err := r.registry.AppendMessages(sessionID,
				model.NewAssistantMessage(result.text, toolCalls)); err != nil {
				log.Infof("session removed mid-stream: id=%s", sessionID)
				return nil
			}
		}

		if len(result.calls) == 0 {
			sink(event.NewCompletion())
			return nil
		}

		if alive := r.executeCalls(ctx, sessionID, tools, result.calls, sink); !alive {
			return nil
		}
		// Loop back: the provider sees the tool results and continues.
	}

	log.Warnf("tool call turn limit reached: session=%s", sessionID)
	sink(event.NewError("tool call turn limit reached"))
	return nil
}

// streamTurn runs one provider stream, forwarding tokens and accumulating
// tool call fragments. It reports alive=false when the sink refused an
// event or the context was canceled.
func (r *Reassembler) streamTurn(
	ctx context.Context,
	sessionID string,
	provider model.Provider,
	declarations []model.ToolDeclaration,
	sink Sink,
) (turnResult, bool) {
	history, err := r.registry.History(sessionID)
	if err != nil {
		return turnResult{}, false
	}
	req := &model.Request{
		Messages: history,
		Tools:    declarations,
	}

	ctx, span := telemetry.Tracer().Start(ctx, telemetry.NewChatSpanName(provider.Name()))
	defer span.End()

	var (
		text  strings.Builder
		slots = make(map[int]*slot)
		order []int
		res   turnResult
		alive = true
	)

	streamErr := provider.Stream(ctx, req, func(ev model.StreamEvent) bool {
		if ctx.Err() != nil {
			alive = false
			return false
		}
		switch ev.Type {
		case model.StreamEventToken:
			text.WriteString(ev.Content)
			if !sink(event.NewToken(ev.Content)) {
				alive = false
				return false
			}
		case model.StreamEventSlotAdded:
			slots[ev.Slot] = &slot{callID: ev.CallID, name: ev.Name}
			order = append(order, ev.Slot)
		case model.StreamEventArgumentsDelta:
			if s, ok := slots[ev.Slot]; ok {
				s.args.WriteString(ev.Arguments)
			}
		case model.StreamEventArgumentsDone:
			if s, ok := slots[ev.Slot]; ok {
				s.resolved = true
			}
		case model.StreamEventTurnDone:
			// Provider signals end of turn; the stream drains on its own.
		case model.StreamEventError:
			res.err = ev.Err
		}
		return true
	})

	res.text = text.String()
	for _, n := range order {
		s := slots[n]
		if !s.resolved {
			// Stream ended before the arguments completed; the call is
			// dropped rather than executed with a truncated payload.
			log.Warnf("dropping unresolved tool call: session=%s call_id=%s", sessionID, s.callID)
			continue
		}
		res.calls = append(res.calls, resolvedCall{
			callID:    s.callID,
			name:      s.name,
			arguments: s.args.String(),
		})
	}

	if res.err == nil && streamErr != nil {
		res.err = streamErr
	}
	telemetry.TraceChat(span, sessionID, provider.Name(), res.err)
	return res, alive
}

// executeCalls runs resolved tool calls in slot order, emitting the event
// group of each call and appending its result to the session history.
// Invocation and the history write run on a detached context, so a call
// already dispatched completes even if the client disconnects; the next
// call is only dispatched while the client and the session are both alive.
func (r *Reassembler) executeCalls(ctx context.Context, sessionID string, tools tool.Set, calls []resolvedCall, sink Sink) bool {
	for _, call := range calls {
		if ctx.Err() != nil {
			return false
		}

		if !sink(event.NewToolCallStarted(call.name, call.callID)) {
			return false
		}
		if !sink(event.NewToolCall(call.name, call.callID, argumentsJSON(call.arguments))) {
			return false
		}

		// Removal is observed before dispatch: a session deleted while the
		// stream is mid-group must not trigger further tool calls.
		if _, err := r.registry.Status(sessionID); err != nil {
			log.Infof("session removed before tool dispatch: id=%s", sessionID)
			return false
		}

		output := bridge.Invoke(context.WithoutCancel(ctx), tools, call.name, call.callID, call.arguments)

		if err := r.registry.AppendMessages(sessionID,
			model.NewToolMessage(call.callID, call.name, output)); err != nil {
			log.Infof("session removed during tool execution: id=%s", sessionID)
			return false
		}

		if !sink(event.NewToolResponse(call.name, call.callID, output)) {
			return false
		}
		if !sink(event.NewToolCallFinished(call.name, call.callID)) {
			return false
		}
	}
	return true
}

// argumentsJSON renders accumulated argument text as a JSON value: valid
// JSON passes through untouched, anything else is forwarded as a JSON
// string.
func argumentsJSON(arguments string) json.RawMessage {
	if arguments == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(arguments)) {
		return json.RawMessage(arguments)
	}
	quoted, _ := json.Marshal(arguments)
	return quoted
}
