//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

// Package session provides the in-memory session registry: conversation
// state keyed by opaque session ID, with idle-based eviction.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/casperx6/data-agent/model"
	"github.com/casperx6/data-agent/tool"
)

var (
	// ErrSessionNotFound is returned when the session ID is unknown, which
	// includes sessions already removed or reaped.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStreamActive is returned when a second stream attempts to attach
	// to a session that already has one.
	ErrStreamActive = errors.New("session stream already active")
	// ErrAttachFailed is returned by Create when the provider factory could
	// not produce a working provider and tool connection for the session.
	ErrAttachFailed = errors.New("provider attachment failed")
)

// ProviderFactory creates the upstream provider and the tool connection
// bound to one session. The tool set must be connected before it is
// returned; a factory error fails session creation.
type ProviderFactory func(ctx context.Context) (model.Provider, tool.Set, error)

// Status is a point-in-time snapshot of one session's observable state.
type Status struct {
	ID            string    `json:"session_id"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	HistoryLength int       `json:"history_length"`
	StreamActive  bool      `json:"stream_active"`
}

// Session holds the state of one conversation. All fields are guarded by
// the owning registry's lock; callers only ever see copies.
type Session struct {
	id           string
	createdAt    time.Time
	updatedAt    time.Time
	messages     []model.Message
	provider     model.Provider
	tools        tool.Set
	streamActive bool
}

func (s *Session) status() Status {
	return Status{
		ID:            s.id,
		CreatedAt:     s.createdAt,
		LastActivity:  s.updatedAt,
		HistoryLength: len(s.messages),
		StreamActive:  s.streamActive,
	}
}
