//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

package openai

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/casperx6/data-agent/log"
	"github.com/casperx6/data-agent/model"
)

// ResponsesModel streams turns over the response-item protocol. Tool calls
// arrive as discrete output items carrying their call ID up front; the item's
// output index is used as the slot, so argument fragments of concurrently
// open calls can never be attributed to the wrong call.
type ResponsesModel struct {
	name   string
	client openai.Client
}

// NewResponsesModel creates a response-item provider for the given model name.
func NewResponsesModel(name string, opts ...Option) *ResponsesModel {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return &ResponsesModel{
		name:   name,
		client: newClient(o),
	}
}

// Name implements model.Provider.
func (m *ResponsesModel) Name() string {
	return "responses"
}

// Stream implements model.Provider.
func (m *ResponsesModel) Stream(ctx context.Context, req *model.Request, yield func(model.StreamEvent) bool) error {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(m.name),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertInputItems(req.Messages),
		},
	}
	if tools := convertResponseTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	stream := m.client.Responses.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case responses.ResponseTextDeltaEvent:
			if ev.Delta == "" {
				continue
			}
			if !yield(model.StreamEvent{Type: model.StreamEventToken, Content: ev.Delta}) {
				return nil
			}
		case responses.ResponseOutputItemAddedEvent:
			if ev.Item.Type != "function_call" {
				continue
			}
			if !yield(model.StreamEvent{
				Type:   model.StreamEventSlotAdded,
				Slot:   int(ev.OutputIndex),
				CallID: ev.Item.CallID,
				Name:   ev.Item.Name,
			}) {
				return nil
			}
		case responses.ResponseFunctionCallArgumentsDeltaEvent:
			if !yield(model.StreamEvent{
				Type:      model.StreamEventArgumentsDelta,
				Slot:      int(ev.OutputIndex),
				Arguments: ev.Delta,
			}) {
				return nil
			}
		case responses.ResponseFunctionCallArgumentsDoneEvent:
			if !yield(model.StreamEvent{
				Type: model.StreamEventArgumentsDone,
				Slot: int(ev.OutputIndex),
			}) {
				return nil
			}
		case responses.ResponseCompletedEvent:
			if !yield(model.StreamEvent{Type: model.StreamEventTurnDone}) {
				return nil
			}
		}
	}
	if err := stream.Err(); err != nil {
		yield(model.StreamEvent{Type: model.StreamEventError, Err: err})
		return err
	}
	return nil
}

// convertInputItems converts conversation history to response input items.
// Resolved tool calls and their results become discrete function call and
// function call output items, correlated by call ID.
func convertInputItems(messages []model.Message) responses.ResponseInputParam {
	var items responses.ResponseInputParam
	message := func(content string, role responses.EasyInputMessageRole) responses.ResponseInputItemUnionParam {
		return responses.ResponseInputItemUnionParam{
			OfMessage: &responses.EasyInputMessageParam{
				Content: responses.EasyInputMessageContentUnionParam{
					OfString: openai.String(content),
				},
				Role: role,
			},
		}
	}
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleAssistant:
			if msg.Content != "" {
				items = append(items, message(msg.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range msg.ToolCalls {
				items = append(items, responses.ResponseInputItemUnionParam{
					OfFunctionCall: &responses.ResponseFunctionToolCallParam{
						Arguments: string(tc.Arguments),
						CallID:    tc.ID,
						Name:      tc.Name,
					},
				})
			}
		case model.RoleTool:
			items = append(items, responses.ResponseInputItemUnionParam{
				OfFunctionCallOutput: &responses.ResponseInputItemFunctionCallOutputParam{
					CallID: msg.ToolCallID,
					Output: msg.Content,
				},
			})
		case model.RoleSystem:
			items = append(items, message(msg.Content, responses.EasyInputMessageRoleSystem))
		default:
			items = append(items, message(msg.Content, responses.EasyInputMessageRoleUser))
		}
	}
	return items
}

// convertResponseTools converts tool declarations to the response-item format.
func convertResponseTools(tools []model.ToolDeclaration) []responses.ToolUnionParam {
	var result []responses.ToolUnionParam
	for _, t := range tools {
		schemaBytes, err := json.Marshal(t.InputSchema)
		if err != nil {
			log.Errorf("failed to marshal tool schema for %s: %v", t.Name, err)
			continue
		}
		var parameters map[string]any
		if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
			log.Errorf("failed to unmarshal tool schema for %s: %v", t.Name, err)
			continue
		}
		result = append(result, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}
