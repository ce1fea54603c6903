//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

// Package bridge executes resolved tool calls against a tool set and
// normalizes every outcome into plain text. Invocation never fails from the
// caller's perspective: transport errors, unknown tools and tool-reported
// errors all come back as output text, so a failing tool call cannot
// terminate a streaming turn.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/casperx6/data-agent/log"
	"github.com/casperx6/data-agent/telemetry"
	"github.com/casperx6/data-agent/tool"
)

// Invoke executes one resolved tool call against the session's tool set and
// returns its normalized output.
//
// The argument text is decoded as a JSON object; text that is not a JSON
// object is forwarded under a "raw" key so the tool still receives it. Call
// failures are folded into the output text.
func Invoke(ctx context.Context, tools tool.Set, name, callID, arguments string) string {
	ctx, span := telemetry.Tracer().Start(ctx, telemetry.NewExecuteToolSpanName(name))
	defer span.End()

	args := decodeArguments(arguments)

	result, err := tools.Call(ctx, name, args)
	var output string
	var isError bool
	switch {
	case err != nil:
		output = fmt.Sprintf("Error executing tool %s: %v", name, err)
		isError = true
		log.Errorf("tool call failed: name=%s call_id=%s err=%v", name, callID, err)
	case result.IsError:
		output = result.Text
		isError = true
		log.Warnf("tool reported error: name=%s call_id=%s", name, callID)
	default:
		output = result.Text
	}

	telemetry.TraceToolCall(span, name, callID, arguments, output, isError)
	return output
}

// decodeArguments turns accumulated argument text into the structured form
// expected by the tool set.
func decodeArguments(arguments string) map[string]any {
	if arguments == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(arguments), &args); err != nil || args == nil {
		return map[string]any{"raw": arguments}
	}
	return args
}
