//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

// Command gateway runs the browser-to-LLM gateway: an HTTP surface for
// session management with SSE streaming of model output and inline MCP
// tool execution.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/casperx6/data-agent/config"
	"github.com/casperx6/data-agent/log"
	"github.com/casperx6/data-agent/model"
	openaimodel "github.com/casperx6/data-agent/model/openai"
	"github.com/casperx6/data-agent/server"
	"github.com/casperx6/data-agent/session"
	"github.com/casperx6/data-agent/stream"
	"github.com/casperx6/data-agent/tool"
	mcptool "github.com/casperx6/data-agent/tool/mcp"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.SetLevel(cfg.LogLevel)

	registry := session.New(providerFactory(cfg),
		session.WithIdleTimeout(cfg.Session.IdleTimeout),
		session.WithSweepInterval(cfg.Session.SweepInterval))
	defer registry.Close()

	reassembler := stream.New(registry,
		stream.WithMaxTurns(cfg.Session.MaxTurns))

	srv := server.New(registry, reassembler,
		server.WithDefaultInstructions(cfg.Instructions))

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infof("gateway listening on %s (model=%s protocol=%s)",
			cfg.Addr, cfg.Model.Name, cfg.Model.Protocol)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown failed: %v", err)
	}
}

// providerFactory binds one upstream provider and one MCP connection per
// session. The tool set is connected up front so a broken MCP server fails
// session creation instead of the first tool call.
func providerFactory(cfg *config.Config) session.ProviderFactory {
	return func(ctx context.Context) (model.Provider, tool.Set, error) {
		tools := newToolSet(cfg)
		if _, err := tools.Declarations(ctx); err != nil {
			if closeErr := tools.Close(); closeErr != nil {
				log.Errorf("failed to close tool set after connect failure: %v", closeErr)
			}
			return nil, nil, fmt.Errorf("connect tool provider: %w", err)
		}

		opts := []openaimodel.Option{
			openaimodel.WithAPIKey(cfg.Model.APIKey),
		}
		if cfg.Model.BaseURL != "" {
			opts = append(opts, openaimodel.WithBaseURL(cfg.Model.BaseURL))
		}
		if cfg.Model.Protocol == config.ProtocolResponses {
			return openaimodel.NewResponsesModel(cfg.Model.Name, opts...), tools, nil
		}
		return openaimodel.NewChatModel(cfg.Model.Name, opts...), tools, nil
	}
}

// newToolSet builds the MCP connection configured for the gateway.
func newToolSet(cfg *config.Config) tool.Set {
	if cfg.MCP.Command != "" {
		log.Infof("using stdio MCP server: %s", cfg.MCP.Command)
		return mcptool.NewStdioToolSet(cfg.MCP.Command, cfg.MCP.Args)
	}
	log.Infof("using MCP server: %s", cfg.MCP.ServerURL)
	return mcptool.NewToolSet(cfg.MCP.ServerURL, mcptool.WithHeaders(cfg.MCP.Headers))
}
