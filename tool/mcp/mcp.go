//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

// Package mcp provides a tool.Set backed by an MCP server, over either the
// streamable HTTP transport or a stdio subprocess.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"github.com/casperx6/data-agent/log"
	"github.com/casperx6/data-agent/model"
	"github.com/casperx6/data-agent/tool"
)

var defaultClientInfo = mcp.Implementation{
	Name:    "data-agent",
	Version: "1.0.0",
}

// options holds the tool set configuration.
type options struct {
	headers    map[string]string
	clientInfo mcp.Implementation
	timeout    time.Duration
}

// Option configures a ToolSet.
type Option func(*options)

// WithHeaders sets extra HTTP headers sent to the MCP server. Only
// meaningful for the HTTP transport.
func WithHeaders(headers map[string]string) Option {
	return func(o *options) {
		o.headers = headers
	}
}

// WithClientInfo overrides the client identity announced during the MCP
// handshake.
func WithClientInfo(info mcp.Implementation) Option {
	return func(o *options) {
		o.clientInfo = info
	}
}

// WithTimeout sets the stdio transport timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// ToolSet is a tool.Set served by one MCP session. The session is
// established lazily on first use and tool declarations are cached for the
// lifetime of the set.
type ToolSet struct {
	connect func(ctx context.Context) (mcp.Connector, error)

	mu          sync.Mutex
	client      mcp.Connector
	initialized bool
	cached      []model.ToolDeclaration
}

var _ tool.Set = (*ToolSet)(nil)

// NewToolSet creates a tool set connected to an MCP server over streamable
// HTTP.
func NewToolSet(serverURL string, opts ...Option) *ToolSet {
	o := applyOptions(opts)
	return &ToolSet{
		connect: func(ctx context.Context) (mcp.Connector, error) {
			var clientOpts []mcp.ClientOption
			if len(o.headers) > 0 {
				headers := http.Header{}
				for k, v := range o.headers {
					headers.Set(k, v)
				}
				clientOpts = append(clientOpts, mcp.WithHTTPHeaders(headers))
			}
			return mcp.NewClient(serverURL, o.clientInfo, clientOpts...)
		},
	}
}

// NewStdioToolSet creates a tool set served by an MCP server subprocess
// speaking over stdio.
func NewStdioToolSet(command string, args []string, opts ...Option) *ToolSet {
	o := applyOptions(opts)
	return &ToolSet{
		connect: func(ctx context.Context) (mcp.Connector, error) {
			config := mcp.StdioTransportConfig{
				ServerParams: mcp.StdioServerParameters{
					Command: command,
					Args:    args,
				},
				Timeout: o.timeout,
			}
			return mcp.NewStdioClient(config, o.clientInfo)
		},
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		clientInfo: defaultClientInfo,
		timeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// session returns the initialized MCP client, connecting on first use.
func (s *ToolSet) session(ctx context.Context) (mcp.Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return s.client, nil
	}

	client, err := s.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	initResp, err := client.Initialize(ctx, &mcp.InitializeRequest{})
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			log.Errorf("failed to close MCP client after init failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize MCP session: %w", err)
	}
	log.Infof("MCP session initialized: server=%s version=%s",
		initResp.ServerInfo.Name, initResp.ServerInfo.Version)

	s.client = client
	s.initialized = true
	return client, nil
}

// Declarations implements tool.Set. The MCP tool list is fetched once and
// reused; tool sets hand a stable declaration list to every turn.
func (s *ToolSet) Declarations(ctx context.Context) ([]model.ToolDeclaration, error) {
	s.mu.Lock()
	cached := s.cached
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	client, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	listResp, err := client.ListTools(ctx, &mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	declarations := make([]model.ToolDeclaration, 0, len(listResp.Tools))
	for _, t := range listResp.Tools {
		schema, err := convertSchema(t.InputSchema)
		if err != nil {
			log.Errorf("failed to convert input schema for tool %s: %v", t.Name, err)
			continue
		}
		declarations = append(declarations, model.ToolDeclaration{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	log.Debugf("listed %d tools from MCP server", len(declarations))

	s.mu.Lock()
	s.cached = declarations
	s.mu.Unlock()
	return declarations, nil
}

// Call implements tool.Set.
func (s *ToolSet) Call(ctx context.Context, name string, args map[string]any) (*tool.Result, error) {
	client, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	callReq := &mcp.CallToolRequest{}
	callReq.Params.Name = name
	callReq.Params.Arguments = args

	callResp, err := client.CallTool(ctx, callReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool %s: %w", name, err)
	}
	return &tool.Result{
		Text:    flattenContent(callResp.Content),
		IsError: callResp.IsError,
	}, nil
}

// Close implements tool.Set.
func (s *ToolSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.initialized = false
	return err
}

// convertSchema converts an MCP input schema to a plain map through a JSON
// round trip.
func convertSchema(schema any) (map[string]any, error) {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// flattenContent joins the parts of an MCP result into one text block.
// Text content passes through as-is; anything else is JSON-marshaled so
// images and embedded resources still reach the model in some form.
func flattenContent(contents []mcp.Content) string {
	var parts []string
	for _, content := range contents {
		switch c := content.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		default:
			data, err := json.Marshal(c)
			if err != nil {
				log.Errorf("failed to marshal tool content: %v", err)
				continue
			}
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}
