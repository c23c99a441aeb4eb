// Package agentweave provides a high-level façade over the runner and its
// execution substrate, enabling rapid construction of durable multi-agent
// conversation systems. Most applications interact with this package by:
//  1. Defining an agent tree with agent.New (or loading one via compose)
//  2. Creating an AgentWeave via New() with a default model gateway
//  3. Starting sessions and exchanging prompts, or handing a session to
//     console.Run for interactive use
//
// The façade delegates execution to runner.Runner while keeping setup
// ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply a durable transcript
// store and a structured logger.
package agentweave

import (
	"context"

	"github.com/hupe1980/agentweave/agent"
	"github.com/hupe1980/agentweave/compose"
	"github.com/hupe1980/agentweave/logging"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/runner"
	"github.com/hupe1980/agentweave/substrate"
	"github.com/hupe1980/agentweave/transcript"
)

// Options configures the AgentWeave instance.
type Options struct {
	// Gateway serves every agent whose definition does not bind its own.
	Gateway model.Gateway

	// Engine hosts the workflow instances. Defaults to a local in-process
	// engine owned by the weave.
	Engine substrate.Engine

	// Transcripts records completed exchanges. Defaults to an in-memory
	// store; supply transcript/sqlite.NewStore for persistence.
	Transcripts transcript.Store

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// MaxConcurrentInstances limits how many agent instances can execute
	// simultaneously when the weave builds its own engine. This prevents
	// resource exhaustion and provides backpressure. Zero keeps the engine
	// default.
	MaxConcurrentInstances int64
}

// AgentWeave is the high-level façade aggregating the runner and its
// services.
type AgentWeave struct {
	runner *runner.Runner
}

// New compiles the agent tree and wires it onto an engine with optional
// overrides. Any unset service is initialized with an in-memory
// implementation.
func New(root *agent.Definition, optFns ...func(o *Options)) (*AgentWeave, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	r, err := runner.New(root, func(o *runner.Options) {
		if opts.Gateway != nil {
			o.Gateway = opts.Gateway
		}
		if opts.Engine != nil {
			o.Engine = opts.Engine
		}
		if opts.Transcripts != nil {
			o.Transcripts = opts.Transcripts
		}
		if opts.Logger != nil {
			o.Logger = opts.Logger
		}
		o.MaxConcurrentInstances = opts.MaxConcurrentInstances
	})
	if err != nil {
		return nil, err
	}

	return &AgentWeave{runner: r}, nil
}

// NewFromBlueprint loads a YAML blueprint and builds the weave around it.
func NewFromBlueprint(path string, binder compose.Binder, optFns ...func(o *Options)) (*AgentWeave, error) {
	root, err := compose.LoadFile(path, binder)
	if err != nil {
		return nil, err
	}
	return New(root, optFns...)
}

// Runner exposes the underlying runner for advanced wiring.
func (w *AgentWeave) Runner() *runner.Runner { return w.runner }

// StartSession launches a new conversation against the root agent.
func (w *AgentWeave) StartSession(ctx context.Context, optFns ...func(o *runner.StartOptions)) (*runner.Session, error) {
	return w.runner.StartSession(ctx, optFns...)
}

// Ask runs a single prompt through a fresh session and tears the session
// down again. It is the synchronous convenience for scripts and tests;
// interactive callers keep a Session instead.
func (w *AgentWeave) Ask(ctx context.Context, prompt any) (string, error) {
	session, err := w.StartSession(ctx)
	if err != nil {
		return "", err
	}

	response, err := session.SubmitPrompt(ctx, prompt)
	if err != nil {
		_ = session.Terminate(ctx)
		return "", err
	}

	if err := session.Terminate(ctx); err != nil {
		return response, err
	}
	return response, nil
}

// Close shuts down the engine when the weave owns it.
func (w *AgentWeave) Close() { w.runner.Close() }
