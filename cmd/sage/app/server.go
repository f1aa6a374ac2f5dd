// Package app provides the sage server application.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kart-io/sage/cmd/sage/app/options"
	"github.com/kart-io/sage/pkg/infra/app"
)

const (
	// Name is the name of the application.
	Name = "sage"

	// commandDesc is the description of the command.
	commandDesc = `Sage knowledge base assistant

Sage answers questions strictly from a fixed set of technical documents and
learns what each user is interested in.

This server provides:
  - Two-level chunking with child-chunk search and parent-chunk context
  - Answer generation with chat-history aware query rewriting
  - Per-user interest profiles updated on every answered question
  - Topic recommendations diversified across document sections
  - Support for multiple LLM providers (Ollama, OpenAI, Gemini)`
)

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	application := app.NewApp(
		app.WithName(Name),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
	)

	return application
}

// run contains the main logic for initializing and running the server.
func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		ctx := setupSignalContext()

		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		return server.Run(ctx)
	}
}

// setupSignalContext returns a context that is cancelled on SIGINT or SIGTERM.
// A second signal exits immediately.
func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}
