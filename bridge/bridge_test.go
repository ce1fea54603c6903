//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/casperx6/data-agent/model"
	"github.com/casperx6/data-agent/tool"
)

type fakeToolSet struct {
	declarations []model.ToolDeclaration
	lastName     string
	lastArgs     map[string]any
	result       *tool.Result
	err          error
}

func (f *fakeToolSet) Declarations(ctx context.Context) ([]model.ToolDeclaration, error) {
	return f.declarations, nil
}

func (f *fakeToolSet) Call(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	f.lastName = name
	f.lastArgs = args
	return f.result, f.err
}

func (f *fakeToolSet) Close() error { return nil }

func TestInvokeSuccess(t *testing.T) {
	tools := &fakeToolSet{result: &tool.Result{Text: "42 degrees"}}

	output := Invoke(context.Background(), tools, "get_weather", "call_1", `{"city":"SF"}`)
	assert.Equal(t, "42 degrees", output)
	assert.Equal(t, "get_weather", tools.lastName)
	assert.Equal(t, map[string]any{"city": "SF"}, tools.lastArgs)
}

func TestInvokeTransportErrorFoldedIntoOutput(t *testing.T) {
	tools := &fakeToolSet{err: errors.New("connection refused")}

	output := Invoke(context.Background(), tools, "get_weather", "call_1", `{}`)
	assert.Contains(t, output, "Error executing tool get_weather")
	assert.Contains(t, output, "connection refused")
}

func TestInvokeToolReportedError(t *testing.T) {
	tools := &fakeToolSet{result: &tool.Result{Text: "city not found", IsError: true}}

	output := Invoke(context.Background(), tools, "get_weather", "call_1", `{"city":"??"}`)
	assert.Equal(t, "city not found", output)
}

func TestDecodeArguments(t *testing.T) {
	tests := []struct {
		name      string
		arguments string
		want      map[string]any
	}{
		{
			name:      "valid object",
			arguments: `{"query":"go","limit":3}`,
			want:      map[string]any{"query": "go", "limit": float64(3)},
		},
		{
			name:      "empty",
			arguments: "",
			want:      map[string]any{},
		},
		{
			name:      "truncated json wrapped raw",
			arguments: `{"query":"go`,
			want:      map[string]any{"raw": `{"query":"go`},
		},
		{
			name:      "non object wrapped raw",
			arguments: `[1,2]`,
			want:      map[string]any{"raw": `[1,2]`},
		},
		{
			name:      "null wrapped raw",
			arguments: `null`,
			want:      map[string]any{"raw": `null`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeArguments(tt.arguments))
		})
	}
}
