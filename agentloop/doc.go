// Package agentloop implements the turn-by-turn control loop that lets a
// text-only model work on a project.
//
// A turn starts when the user sends a message. The Engine first asks a
// lightweight router whether the message needs the project at all; small
// talk is answered directly. Otherwise a scout pre-loads files likely to be
// relevant, and the executor loop runs: build the prompt, call the model
// (continuing truncated replies), parse the tagged response, validate it,
// and dispatch the decoded action. Handlers report whether the loop should
// continue without new user input.
//
// # Architecture
//
//   - Engine: owns collaborators, per-conversation cancellation and
//     multi-file task state.
//   - turn: the state of one SendMessage call; implements protocol.Handler.
//   - Task: the Idle/Active multi-file plan, keyed by workspace.Key.
//   - ToolRegistry: the read-only tools (list_files, read_file).
//   - EventEmitter: typed event stream for host applications.
//   - knowledgeCache: background summarization into the conversation's
//     long-term knowledge.
//
// # Quick Start
//
//	engine, err := agentloop.NewEngine(agentloop.Options{
//	    Config:     agentloop.DefaultConfig(),
//	    Model:      client,
//	    FileSystem: workspace.NewOS("."),
//	    Tests:      testrunner.NewGoRunner(".", nil, 0, logger),
//	    Logger:     logger,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	conv := chat.New("scratch", "go")
//	result, err := engine.SendMessage(ctx, conv, "Add a Sum function", agentloop.SendOptions{})
package agentloop
