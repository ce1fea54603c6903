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
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/casperx6/data-agent/log"
	"github.com/casperx6/data-agent/model"
)

// ChatModel streams turns over the chat-completions delta protocol. Tool
// call fragments arrive keyed by a numeric index within the choice delta;
// the index is used directly as the slot, and the call ID and name are
// taken from whichever fragments carry them.
type ChatModel struct {
	name   string
	client openai.Client
}

// NewChatModel creates a chat-completions provider for the given model name.
func NewChatModel(name string, opts ...Option) *ChatModel {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return &ChatModel{
		name:   name,
		client: newClient(o),
	}
}

// Name implements model.Provider.
func (m *ChatModel) Name() string {
	return "chat_completions"
}

// Stream implements model.Provider.
func (m *ChatModel) Stream(ctx context.Context, req *model.Request, yield func(model.StreamEvent) bool) error {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: convertMessages(req.Messages),
	}
	if tools := convertTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	assembler := newDeltaAssembler()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !yield(model.StreamEvent{Type: model.StreamEventToken, Content: choice.Delta.Content}) {
				return nil
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			if !assembler.onFragment(tc, yield) {
				return nil
			}
		}

		if choice.FinishReason != "" {
			if !assembler.finish(yield) {
				return nil
			}
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

// chatSlot gathers one call's fragments. A slot is announced downstream
// once its name is known; argument text arriving before that is buffered.
type chatSlot struct {
	callID    string
	name      string
	pending   strings.Builder
	announced bool
}

// deltaAssembler tracks tool call slots across chat-completion chunks.
// Fragments of one call all carry the same index but may split the ID,
// name and argument text across chunks in any combination.
type deltaAssembler struct {
	slots map[int]*chatSlot
	order []int
}

func newDeltaAssembler() *deltaAssembler {
	return &deltaAssembler{slots: make(map[int]*chatSlot)}
}

func (a *deltaAssembler) onFragment(tc openai.ChatCompletionChunkChoiceDeltaToolCall, yield func(model.StreamEvent) bool) bool {
	slot := int(tc.Index)
	s, ok := a.slots[slot]
	if !ok {
		s = &chatSlot{}
		a.slots[slot] = s
		a.order = append(a.order, slot)
	}
	if s.callID == "" && tc.ID != "" {
		s.callID = tc.ID
	}
	if s.name == "" && tc.Function.Name != "" {
		s.name = tc.Function.Name
	}

	if !s.announced && s.name != "" {
		// Some providers omit the ID entirely; one is assigned so
		// correlation stays possible.
		if s.callID == "" {
			s.callID = fmt.Sprintf("call_%s", uuid.NewString())
			log.Debugf("tool call at slot %d arrived without id, assigned %s", slot, s.callID)
		}
		s.announced = true
		if !yield(model.StreamEvent{
			Type:   model.StreamEventSlotAdded,
			Slot:   slot,
			CallID: s.callID,
			Name:   s.name,
		}) {
			return false
		}
		if s.pending.Len() > 0 {
			buffered := s.pending.String()
			s.pending.Reset()
			if !yield(model.StreamEvent{
				Type:      model.StreamEventArgumentsDelta,
				Slot:      slot,
				Arguments: buffered,
			}) {
				return false
			}
		}
	}

	if tc.Function.Arguments != "" {
		if !s.announced {
			s.pending.WriteString(tc.Function.Arguments)
			return true
		}
		if !yield(model.StreamEvent{
			Type:      model.StreamEventArgumentsDelta,
			Slot:      slot,
			Arguments: tc.Function.Arguments,
		}) {
			return false
		}
	}
	return true
}

// finish closes announced slots in arrival order. The delta protocol has no
// per-call completion marker, so completion is implied by the finish reason.
// A slot whose name never arrived cannot be executed and is dropped.
func (a *deltaAssembler) finish(yield func(model.StreamEvent) bool) bool {
	for _, slot := range a.order {
		s := a.slots[slot]
		if !s.announced {
			log.Warnf("dropping tool call at slot %d: name never arrived", slot)
			continue
		}
		s.announced = false
		if !yield(model.StreamEvent{Type: model.StreamEventArgumentsDone, Slot: slot}) {
			return false
		}
	}
	return true
}

// convertMessages converts conversation history to the chat-completions
// message unions.
func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		case model.RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: convertToolCalls(msg.ToolCalls),
			}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case model.RoleTool:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
					ToolCallID: msg.ToolCallID,
				},
			})
		default:
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		}
	}
	return result
}

// convertToolCalls converts resolved tool calls for an assistant message.
func convertToolCalls(toolCalls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	var result []openai.ChatCompletionMessageToolCallParam
	for _, tc := range toolCalls {
		result = append(result, openai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: string(tc.Arguments),
			},
		})
	}
	return result
}

// convertTools converts tool declarations to the chat-completions format.
func convertTools(tools []model.ToolDeclaration) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, t := range tools {
		schemaBytes, err := json.Marshal(t.InputSchema)
		if err != nil {
			log.Errorf("failed to marshal tool schema for %s: %v", t.Name, err)
			continue
		}
		var parameters shared.FunctionParameters
		if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
			log.Errorf("failed to unmarshal tool schema for %s: %v", t.Name, err)
			continue
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}
