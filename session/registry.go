//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/casperx6/data-agent/log"
	"github.com/casperx6/data-agent/model"
	"github.com/casperx6/data-agent/tool"
)

const (
	defaultIdleTimeout   = 30 * time.Minute
	defaultSweepInterval = 60 * time.Second
)

type options struct {
	idleTimeout       time.Duration
	sweepInterval     time.Duration
	reapActiveStreams bool
}

// Option configures the registry.
type Option func(*options)

// WithIdleTimeout sets how long a session may go untouched before the
// reaper evicts it.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = timeout
	}
}

// WithSweepInterval sets how often the reaper scans for idle sessions.
// A non-positive interval disables the reaper.
func WithSweepInterval(interval time.Duration) Option {
	return func(o *options) {
		o.sweepInterval = interval
	}
}

// WithReapActiveStreams makes the reaper evict idle sessions even while a
// stream is attached. By default such sessions are skipped and picked up
// on a later sweep once the stream detaches.
func WithReapActiveStreams(reap bool) Option {
	return func(o *options) {
		o.reapActiveStreams = reap
	}
}

// Registry is the in-memory session store. All operations are safe for
// concurrent use.
type Registry struct {
	opts    options
	factory ProviderFactory

	mu       sync.RWMutex
	sessions map[string]*Session

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a registry and starts its reaper.
func New(factory ProviderFactory, opts ...Option) *Registry {
	o := options{
		idleTimeout:   defaultIdleTimeout,
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{
		opts:     o,
		factory:  factory,
		sessions: make(map[string]*Session),
		done:     make(chan struct{}),
	}
	if o.sweepInterval > 0 {
		go r.reapLoop()
	}
	return r
}

// Create allocates a new session seeded with the given history and returns
// its ID. The session owns the provider and tool connection the factory
// produced; creation is all-or-nothing, a factory failure stores nothing.
func (r *Registry) Create(ctx context.Context, seed ...model.Message) (string, error) {
	provider, tools, err := r.factory(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAttachFailed, err)
	}

	now := time.Now()
	sess := &Session{
		id:        uuid.NewString(),
		createdAt: now,
		updatedAt: now,
		provider:  provider,
		tools:     tools,
		messages:  append([]model.Message(nil), seed...),
	}

	r.mu.Lock()
	r.sessions[sess.id] = sess
	r.mu.Unlock()

	log.Infof("session created: id=%s", sess.id)
	return sess.id, nil
}

// Status returns a snapshot of the session's observable state.
func (r *Registry) Status(id string) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return Status{}, ErrSessionNotFound
	}
	return sess.status(), nil
}

// Touch refreshes the session's idle clock.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.updatedAt = time.Now()
	return nil
}

// Remove deletes the session and releases its tool connection. Removing an
// unknown or already removed session is a no-op; it reports whether a
// session was actually removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	releaseTools(id, sess.tools)
	log.Infof("session removed: id=%s", id)
	return true
}

// releaseTools closes a removed session's tool connection. Runs outside the
// registry lock; closing may block on the transport.
func releaseTools(id string, tools tool.Set) {
	if tools == nil {
		return
	}
	if err := tools.Close(); err != nil {
		log.Errorf("failed to close tool connection: session=%s err=%v", id, err)
	}
}

// AppendMessages appends to the session's history and refreshes its idle
// clock. It is the write used by in-flight streams; a nil error tells the
// caller the session still exists.
func (r *Registry) AppendMessages(id string, messages ...model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.messages = append(sess.messages, messages...)
	sess.updatedAt = time.Now()
	return nil
}

// History returns a copy of the session's conversation history.
func (r *Registry) History(id string) ([]model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	history := make([]model.Message, len(sess.messages))
	copy(history, sess.messages)
	return history, nil
}

// Provider returns the upstream provider bound to the session.
func (r *Registry) Provider(id string) (model.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.provider, nil
}

// Tools returns the tool connection bound to the session.
func (r *Registry) Tools(id string) (tool.Set, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.tools, nil
}

// Attach marks the session's stream as active. The check and the flip are
// one atomic step, so of two concurrent attach attempts exactly one wins
// and the other gets ErrStreamActive.
func (r *Registry) Attach(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.streamActive {
		return ErrStreamActive
	}
	sess.streamActive = true
	sess.updatedAt = time.Now()
	return nil
}

// Detach clears the session's stream flag. Detaching a removed session is
// a no-op.
func (r *Registry) Detach(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[id]; ok {
		sess.streamActive = false
		sess.updatedAt = time.Now()
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ActiveStreams reports the number of sessions with an attached stream.
func (r *Registry) ActiveStreams() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int
	for _, sess := range r.sessions {
		if sess.streamActive {
			n++
		}
	}
	return n
}

// Close stops the reaper and releases every session's tool connection.
// Sessions remain readable until the registry is garbage collected.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)

		r.mu.RLock()
		tools := make(map[string]tool.Set, len(r.sessions))
		for id, sess := range r.sessions {
			tools[id] = sess.tools
		}
		r.mu.RUnlock()
		for id, set := range tools {
			releaseTools(id, set)
		}
	})
}

func (r *Registry) reapLoop() {
	ticker := time.NewTicker(r.opts.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reapIdle()
		case <-r.done:
			return
		}
	}
}

// reapIdle evicts sessions whose idle time exceeds the timeout. Candidates
// are collected from a snapshot so the lock is never held across the whole
// sweep, and each eviction re-checks idleness in case the session was
// touched in between.
func (r *Registry) reapIdle() {
	cutoff := time.Now().Add(-r.opts.idleTimeout)

	r.mu.RLock()
	var expired []string
	for id, sess := range r.sessions {
		if sess.updatedAt.After(cutoff) {
			continue
		}
		if sess.streamActive && !r.opts.reapActiveStreams {
			continue
		}
		expired = append(expired, id)
	}
	r.mu.RUnlock()

	for _, id := range expired {
		r.mu.Lock()
		sess, ok := r.sessions[id]
		reaped := ok && !sess.updatedAt.After(cutoff)
		if reaped {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
		if reaped {
			releaseTools(id, sess.tools)
			log.Infof("session reaped after idle timeout: id=%s", id)
		}
	}
}
