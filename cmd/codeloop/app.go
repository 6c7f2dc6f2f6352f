package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/martinemde/codeloop/agentloop"
	"github.com/martinemde/codeloop/chat"
	"github.com/martinemde/codeloop/config"
	"github.com/martinemde/codeloop/store"
	"github.com/martinemde/codeloop/testrunner"
	"github.com/martinemde/codeloop/unifiedllm"
	"github.com/martinemde/codeloop/workspace"
)

// app is the wired engine for chat and run.
type app struct {
	engine   *agentloop.Engine
	client   *unifiedllm.Client
	store    *store.SQLiteStore
	ws       *workspace.Workspace
	profiles *agentloop.ProfileSet
	emitter  *agentloop.EventEmitter
	printed  sync.WaitGroup
	out      io.Writer
}

func openStore() (*store.SQLiteStore, error) {
	return store.OpenSQLite(cfg.Store.Path, logger)
}

func newApp() (*app, error) {
	profiles := agentloop.NewProfileSet()
	if cfg.Environments != "" {
		if err := profiles.LoadProfilesFile(cfg.Environments); err != nil {
			return nil, err
		}
	}

	adapterOpts := []unifiedllm.GollmAdapterOption{
		unifiedllm.WithMaxTokens(cfg.Model.MaxTokens),
		unifiedllm.WithTemperature(cfg.Model.Temperature),
	}
	if cfg.Model.Name != "" {
		adapterOpts = append(adapterOpts, unifiedllm.WithModel(cfg.Model.Name))
	}
	client, err := newModelClient(adapterOpts)
	if err != nil {
		return nil, err
	}

	st, err := openStore()
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	a := &app{
		client:   client,
		store:    st,
		ws:       workspace.NewOS(cfg.Workspace.Root),
		profiles: profiles,
		emitter:  agentloop.NewEventEmitter(256),
		out:      os.Stdout,
	}
	a.engine, err = agentloop.NewEngine(agentloop.Options{
		Config:     cfg.EngineConfig(),
		Model:      client,
		FileSystem: a.ws,
		Tests:      testrunner.NewGoRunner(cfg.Workspace.Root, cfg.Tests.Command, cfg.Tests.Timeout, logger),
		Store:      st,
		Profiles:   profiles,
		Emitter:    a.emitter,
		Logger:     logger,
	})
	if err != nil {
		_ = st.Close()
		_ = client.Close()
		return nil, err
	}

	a.printed.Add(1)
	go a.printEvents()
	return a, nil
}

// newModelClient builds the configured provider, or every provider with a
// key in the environment when the provider is "auto".
func newModelClient(adapterOpts []unifiedllm.GollmAdapterOption) (*unifiedllm.Client, error) {
	logging := unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger))
	if cfg.Model.Provider == config.ProviderAuto {
		return unifiedllm.NewClientFromEnv(adapterOpts, logging)
	}
	adapter, err := unifiedllm.NewGollmAdapter(cfg.Model.Provider, cfg.Model.APIKey, adapterOpts...)
	if err != nil {
		return nil, err
	}
	return unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.Model.Provider, adapter),
		unifiedllm.WithDefaultProvider(cfg.Model.Provider),
		logging,
	), nil
}

// printEvents drains the event stream, echoing it when --events is set.
func (a *app) printEvents() {
	defer a.printed.Done()
	for ev := range a.emitter.Events() {
		if !showEvents {
			continue
		}
		fmt.Fprintf(os.Stderr, "· %s %v\n", ev.Kind, ev.Data)
	}
}

// close waits for background summaries so they are persisted before exit.
func (a *app) close() {
	a.engine.Wait()
	a.engine.Close()
	a.emitter.Close()
	a.printed.Wait()
	if err := a.store.Close(); err != nil {
		logger.Warn("close store", zap.Error(err))
	}
	if err := a.client.Close(); err != nil {
		logger.Warn("close model client", zap.Error(err))
	}
}

// conversation resumes --conversation or starts a new one.
func (a *app) conversation(ctx context.Context, title string) (*chat.Conversation, error) {
	if convID != "" {
		conv, err := a.store.Get(ctx, convID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("conversation %s does not exist", convID)
		}
		return conv, err
	}
	env := envTag
	if env == "" {
		env = a.profiles.DetectEnvironment(a.ws)
	} else if !slices.Contains(a.profiles.IDs(), env) {
		return nil, fmt.Errorf("unknown environment %q (known: %s)", env, strings.Join(a.profiles.IDs(), ", "))
	}
	return chat.New(title, env), nil
}

// send runs one turn. SIGINT stops only this turn; the process keeps
// running so the conversation can continue.
func (a *app) send(ctx context.Context, conv *chat.Conversation, text string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigCh:
			logger.Debug("interrupt received; stopping turn", zap.String("conversation_id", conv.ID))
			if a.engine.Running(conv.ID) {
				a.engine.Stop(conv.ID)
			}
		case <-done:
		}
	}()

	before := conv.Len()
	res, err := a.engine.SendMessage(ctx, conv, text, agentloop.SendOptions{
		ActiveFile:  activeFile,
		PinnedFiles: pinnedFiles,
	})
	printMessages(a.out, conv.Messages()[before:])
	if err != nil {
		return err
	}
	logger.Debug("turn result",
		zap.String("reason", string(res.Reason)),
		zap.Int("iterations", res.Iterations),
		zap.Int("tool_calls", res.ToolCalls),
		zap.Int("output_tokens", res.Usage.OutputTokens),
	)
	return nil
}

// printMessages shows what the user should see of a turn: replies and
// status lines. Tool results addressed to the model are omitted.
func printMessages(w io.Writer, msgs []chat.Message) {
	for _, m := range msgs {
		switch m.Role {
		case chat.RoleAssistant:
			fmt.Fprintln(w, strings.TrimSpace(m.Content))
		case chat.RoleStatus:
			fmt.Fprintln(w, "  "+strings.TrimSpace(m.Content))
		}
	}
}

func titleFrom(text string) string {
	text = strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	if r := []rune(text); len(r) > 60 {
		text = string(r[:60]) + "…"
	}
	if text == "" {
		text = "untitled"
	}
	return text
}
