//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

// Package telemetry provides tracing for gateway operations. Spans are
// recorded through the global OpenTelemetry tracer provider, which is a
// no-op unless the embedding process installs an exporter.
package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentName identifies this library to the tracer provider.
const InstrumentName = "github.com/casperx6/data-agent"

// Span attribute keys.
const (
	KeyConversationID    = "gen_ai.conversation.id"
	KeyOperationName     = "gen_ai.operation.name"
	KeyToolName          = "gen_ai.tool.name"
	KeyToolCallID        = "gen_ai.tool.call.id"
	KeyToolCallArguments = "gen_ai.tool.call.arguments"
	KeyToolCallResult    = "gen_ai.tool.call.result"
	KeyRequestModel      = "gen_ai.request.model"
	KeyErrorMessage      = "error.message"
)

// Operation names recorded on spans.
const (
	OperationChat        = "chat"
	OperationExecuteTool = "execute_tool"
)

// Tracer returns the gateway tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentName)
}

// NewChatSpanName creates a span name for one upstream streaming turn, for
// example "chat gpt-4o".
func NewChatSpanName(requestModel string) string {
	if requestModel == "" {
		return OperationChat
	}
	return fmt.Sprintf("%s %s", OperationChat, requestModel)
}

// NewExecuteToolSpanName creates a span name for one tool invocation, for
// example "execute_tool get_weather".
func NewExecuteToolSpanName(toolName string) string {
	return fmt.Sprintf("%s %s", OperationExecuteTool, toolName)
}

// TraceChat records the attributes of one upstream streaming turn.
func TraceChat(span trace.Span, sessionID, protocol string, err error) {
	span.SetAttributes(
		attribute.String(KeyOperationName, OperationChat),
		attribute.String(KeyConversationID, sessionID),
		attribute.String(KeyRequestModel, protocol),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(KeyErrorMessage, err.Error()))
	}
}

// TraceToolCall records the attributes of one tool invocation.
func TraceToolCall(span trace.Span, name, callID, arguments, result string, isError bool) {
	span.SetAttributes(
		attribute.String(KeyOperationName, OperationExecuteTool),
		attribute.String(KeyToolName, name),
		attribute.String(KeyToolCallID, callID),
		attribute.String(KeyToolCallArguments, arguments),
		attribute.String(KeyToolCallResult, result),
	)
	if isError {
		span.SetStatus(codes.Error, result)
	}
}
