//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

// Package server exposes the gateway HTTP surface: session lifecycle,
// message submission and the SSE event stream.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/casperx6/data-agent/event"
	"github.com/casperx6/data-agent/log"
	"github.com/casperx6/data-agent/model"
	"github.com/casperx6/data-agent/session"
	"github.com/casperx6/data-agent/stream"
)

type options struct {
	instructions string
}

// Option configures the server.
type Option func(*options)

// WithDefaultInstructions sets the system instructions seeded into sessions
// created without their own.
func WithDefaultInstructions(instructions string) Option {
	return func(o *options) {
		o.instructions = instructions
	}
}

// Server wires the gateway components behind the HTTP surface.
type Server struct {
	registry    *session.Registry
	reassembler *stream.Reassembler
	opts        options
}

// New creates a Server.
func New(registry *session.Registry, reassembler *stream.Reassembler, opts ...Option) *Server {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		registry:    registry,
		reassembler: reassembler,
		opts:        o,
	}
}

// Handler returns the routed HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/messages", s.handlePostMessage).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/stream", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/tools", s.handleTools).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return cors.AllowAll().Handler(r)
}

type createSessionRequest struct {
	Instructions string `json:"instructions"`
	History      []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"history"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	// An empty body is fine; only malformed JSON is rejected.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	instructions := req.Instructions
	if instructions == "" {
		instructions = s.opts.instructions
	}
	var seed []model.Message
	if instructions != "" {
		seed = append(seed, model.NewSystemMessage(instructions))
	}
	// Seed history carries prior conversation only; roles other than user
	// and assistant are ignored.
	for _, msg := range req.History {
		switch msg.Role {
		case model.RoleUser:
			seed = append(seed, model.NewUserMessage(msg.Content))
		case model.RoleAssistant:
			seed = append(seed, model.NewAssistantMessage(msg.Content, nil))
		}
	}

	id, err := s.registry.Create(r.Context(), seed...)
	if err != nil {
		log.Errorf("failed to create session: %v", err)
		writeError(w, http.StatusBadGateway, "failed to attach session provider")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": id,
		"status":     "connected",
	})
}

type postMessageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	if err := s.registry.AppendMessages(id, model.NewUserMessage(req.Message)); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"status":     "queued",
		"message":    "message received, open the SSE stream for the response",
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	switch err := s.registry.Attach(id); {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, session.ErrStreamActive):
		writeError(w, http.StatusConflict, "stream already active for session")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer s.registry.Detach(id)

	// A stream always answers the latest user message; stale history with
	// nothing pending is rejected before any SSE frame goes out.
	history, err := s.registry.History(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if len(history) == 0 || history[len(history)-1].Role != model.RoleUser {
		writeError(w, http.StatusBadRequest, "no user message to process")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	err = s.reassembler.Run(ctx, id, func(ev event.Event) bool {
		if ctx.Err() != nil {
			return false
		}
		data, err := json.Marshal(ev)
		if err != nil {
			log.Errorf("failed to marshal event: %v", err)
			return true
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	})
	if err != nil {
		log.Errorf("stream ended with error: session=%s err=%v", id, err)
	}
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.registry.Remove(id) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"status":     "removed",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := s.registry.Status(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tools, err := s.registry.Tools(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	declarations, err := tools.Declarations(r.Context())
	if err != nil {
		log.Errorf("failed to list tools: %v", err)
		writeError(w, http.StatusBadGateway, "tool service unavailable")
		return
	}

	infos := make([]toolInfo, 0, len(declarations))
	for _, d := range declarations {
		infos = append(infos, toolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  id,
		"tools_count": len(infos),
		"tools":       infos,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"active_sessions": s.registry.Len(),
		"active_streams":  s.registry.ActiveStreams(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
