package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Action names carried in the "action" field of the json-data payload.
const (
	ActionTextResponse      = "text_response"
	ActionToolCall          = "tool_call"
	ActionStartMultiFile    = "start_multi_file"
	ActionContinueMultiFile = "continue_multi_file"
	ActionRunTest           = "run_test"
)

// Tool function names a tool_call may request.
const (
	FuncListFiles = "list_files"
	FuncReadFile  = "read_file"
)

// AllTests is the run_test target that selects every test in the project.
const AllTests = "all"

// Action is one decoded model request. The set of implementations is
// closed; Accept routes each variant to the matching Handler method.
type Action interface {
	Name() string
	Accept(ctx context.Context, h Handler) bool
	sealed()
}

// Handler executes actions. Each method reports whether the loop should
// continue without new user input.
type Handler interface {
	HandleTextResponse(ctx context.Context, a *TextResponse) bool
	HandleToolCall(ctx context.Context, a *ToolCall) bool
	HandleStartMultiFile(ctx context.Context, a *StartMultiFile) bool
	HandleContinueMultiFile(ctx context.Context, a *ContinueMultiFile) bool
	HandleRunTest(ctx context.Context, a *RunTest) bool
}

// TextResponse is a plain reply to the user.
type TextResponse struct {
	Message string `json:"message"`
}

// ToolCall is a read-only request for project information.
type ToolCall struct {
	FunctionName string   `json:"function_name"`
	Paths        []string `json:"paths,omitempty"`
}

// StartMultiFile declares a plan and applies its first file.
type StartMultiFile struct {
	Plan      Plan       `json:"plan"`
	FirstFile FileChange `json:"first_file"`
	Tags      []string   `json:"tags,omitempty"`
	Message   string     `json:"message,omitempty"`
}

// ContinueMultiFile applies the next file of the active plan.
type ContinueMultiFile struct {
	NextFile FileChange `json:"next_file"`
	Tags     []string   `json:"tags,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// RunTest asks for a test run against one file or the whole project.
type RunTest struct {
	File string `json:"file,omitempty"`
}

func (*TextResponse) Name() string      { return ActionTextResponse }
func (*ToolCall) Name() string          { return ActionToolCall }
func (*StartMultiFile) Name() string    { return ActionStartMultiFile }
func (*ContinueMultiFile) Name() string { return ActionContinueMultiFile }
func (*RunTest) Name() string           { return ActionRunTest }

func (*TextResponse) sealed()      {}
func (*ToolCall) sealed()          {}
func (*StartMultiFile) sealed()    {}
func (*ContinueMultiFile) sealed() {}
func (*RunTest) sealed()           {}

func (a *TextResponse) Accept(ctx context.Context, h Handler) bool {
	return h.HandleTextResponse(ctx, a)
}

func (a *ToolCall) Accept(ctx context.Context, h Handler) bool {
	return h.HandleToolCall(ctx, a)
}

func (a *StartMultiFile) Accept(ctx context.Context, h Handler) bool {
	return h.HandleStartMultiFile(ctx, a)
}

func (a *ContinueMultiFile) Accept(ctx context.Context, h Handler) bool {
	return h.HandleContinueMultiFile(ctx, a)
}

func (a *RunTest) Accept(ctx context.Context, h Handler) bool {
	return h.HandleRunTest(ctx, a)
}

// Target returns the file to test, or AllTests.
func (a *RunTest) Target() string {
	f := strings.TrimSpace(a.File)
	if f == "" || strings.EqualFold(f, AllTests) {
		return AllTests
	}
	return f
}

// UnknownActionError is returned for an action name outside the closed set.
type UnknownActionError struct {
	Name string
}

func (e *UnknownActionError) Error() string {
	if e.Name == "" {
		return "missing action"
	}
	return fmt.Sprintf("unknown action %q", e.Name)
}

// DecodeError is returned when a payload object has the wrong shape for
// the envelope (for example a string where a list is expected).
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode action payload: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeEnvelope converts a parsed object into an Envelope.
func DecodeEnvelope(obj map[string]any) (*Envelope, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &env, nil
}

// ToAction returns the typed action carried by the envelope. Missing
// optional parts decode to their zero values so that a payload which
// failed validation can still be dispatched.
func (e *Envelope) ToAction() (Action, error) {
	switch e.Action {
	case ActionTextResponse:
		return &TextResponse{Message: e.Message}, nil
	case ActionToolCall:
		tc := &ToolCall{FunctionName: e.FunctionName}
		if e.Args != nil {
			tc.Paths = e.Args.All()
		}
		return tc, nil
	case ActionStartMultiFile:
		a := &StartMultiFile{Tags: e.Tags, Message: e.Message}
		if e.Plan != nil {
			a.Plan = *e.Plan
		}
		if e.FirstFile != nil {
			a.FirstFile = *e.FirstFile
		}
		return a, nil
	case ActionContinueMultiFile:
		a := &ContinueMultiFile{Tags: e.Tags, Message: e.Message}
		if e.NextFile != nil {
			a.NextFile = *e.NextFile
		}
		return a, nil
	case ActionRunTest:
		return &RunTest{File: e.File}, nil
	default:
		return nil, &UnknownActionError{Name: e.Action}
	}
}
