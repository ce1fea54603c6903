//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

// Package tool defines the tool set contract: a source of callable tool
// declarations plus the call operation itself.
package tool

import (
	"context"

	"github.com/casperx6/data-agent/model"
)

// Result is the outcome of one tool call. IsError marks failures reported
// by the tool itself, as opposed to transport errors which surface as a
// returned error.
type Result struct {
	Text    string
	IsError bool
}

// Set is a collection of callable tools backed by some execution service.
type Set interface {
	// Declarations lists the tools currently offered by the set.
	Declarations(ctx context.Context) ([]model.ToolDeclaration, error)

	// Call executes the named tool with structured arguments.
	Call(ctx context.Context, name string, args map[string]any) (*Result, error)

	// Close releases the underlying connection.
	Close() error
}
