//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

// Package openai adapts the OpenAI-compatible streaming protocols to the
// normalized stream event vocabulary.
package openai

import (
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// options holds the configuration of a provider instance.
type options struct {
	apiKey       string
	baseURL      string
	extraOptions []option.RequestOption
}

// Option configures a provider.
type Option func(*options)

// WithAPIKey sets the upstream API key.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithBaseURL sets a non-default upstream endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) {
		o.baseURL = url
	}
}

// WithExtraOptions appends raw client request options.
func WithExtraOptions(opts ...option.RequestOption) Option {
	return func(o *options) {
		o.extraOptions = append(o.extraOptions, opts...)
	}
}

func newClient(opts *options) openai.Client {
	var requestOpts []option.RequestOption
	if opts.apiKey != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(opts.apiKey))
	}
	if opts.baseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(opts.baseURL))
	}
	requestOpts = append(requestOpts, opts.extraOptions...)
	return openai.NewClient(requestOpts...)
}
