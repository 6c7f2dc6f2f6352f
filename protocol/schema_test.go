package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) *Envelope {
	t.Helper()
	obj, err := Parse(raw)
	require.NoError(t, err)
	env, err := DecodeEnvelope(obj)
	require.NoError(t, err)
	return env
}

func fields(vs []Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Field
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		fields []string
	}{
		{
			name: "text response",
			raw:  `{"action":"text_response","message":"done"}`,
		},
		{
			name: "valid start",
			raw:  `{"action":"start_multi_file","plan":{"files_to_modify":["a.js"]},"first_file":{"path":"a.js","action":"create"}}`,
		},
		{
			name:   "start without first file",
			raw:    `{"action":"start_multi_file","plan":{"files_to_modify":["a.js"]}}`,
			fields: []string{"first_file"},
		},
		{
			name:   "start with empty plan",
			raw:    `{"action":"start_multi_file","plan":{"files_to_modify":[]},"first_file":{"path":"a.js","action":"create"}}`,
			fields: []string{"plan.files_to_modify"},
		},
		{
			name:   "file without path",
			raw:    `{"action":"continue_multi_file","next_file":{"action":"update","content":"x"}}`,
			fields: []string{"next_file.path"},
		},
		{
			name: "noop needs no path",
			raw:  `{"action":"continue_multi_file","next_file":{"action":"noop","is_last_file":true}}`,
		},
		{
			name:   "bad file action",
			raw:    `{"action":"continue_multi_file","next_file":{"path":"a.js","action":"rename"}}`,
			fields: []string{"next_file.action"},
		},
		{
			name:   "tool call without function",
			raw:    `{"action":"tool_call"}`,
			fields: []string{"function_name"},
		},
		{
			name:   "read without paths",
			raw:    `{"action":"tool_call","function_name":"read_file","args":{}}`,
			fields: []string{"args"},
		},
		{
			name: "read single path",
			raw:  `{"action":"tool_call","function_name":"read_file","args":{"path":"a.js"}}`,
		},
		{
			name:   "missing action",
			raw:    `{"message":"hi"}`,
			fields: []string{"action"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := Validate(decode(t, tt.raw))
			assert.ElementsMatch(t, tt.fields, fields(vs))
		})
	}
}

func TestFormatViolations(t *testing.T) {
	msg := FormatViolations([]Violation{{Field: "first_file", Rule: "required", Message: "is required"}})
	assert.Contains(t, msg, "[SYSTEM-ERROR]")
	assert.Contains(t, msg, "- first_file: is required")
}

func TestDecodeEnvelope_WrongType(t *testing.T) {
	_, err := DecodeEnvelope(map[string]any{"action": "start_multi_file", "plan": map[string]any{"files_to_modify": "a.js"}})
	var derr *DecodeError
	assert.ErrorAs(t, err, &derr)
}

func TestToAction_Unknown(t *testing.T) {
	_, err := (&Envelope{Action: "deploy"}).ToAction()
	var uerr *UnknownActionError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "deploy", uerr.Name)
}

type recordingHandler struct {
	got []string
}

func (h *recordingHandler) HandleTextResponse(_ context.Context, a *TextResponse) bool {
	h.got = append(h.got, a.Name()+":"+a.Message)
	return false
}

func (h *recordingHandler) HandleToolCall(_ context.Context, a *ToolCall) bool {
	h.got = append(h.got, a.Name()+":"+a.FunctionName)
	return true
}

func (h *recordingHandler) HandleStartMultiFile(_ context.Context, a *StartMultiFile) bool {
	h.got = append(h.got, a.Name()+":"+a.FirstFile.Path)
	return true
}

func (h *recordingHandler) HandleContinueMultiFile(_ context.Context, a *ContinueMultiFile) bool {
	h.got = append(h.got, a.Name()+":"+a.NextFile.Action)
	return true
}

func (h *recordingHandler) HandleRunTest(_ context.Context, a *RunTest) bool {
	h.got = append(h.got, a.Name()+":"+a.Target())
	return true
}

func TestAccept_RoutesEveryVariant(t *testing.T) {
	payloads := []string{
		`{"action":"text_response","message":"ok"}`,
		`{"action":"tool_call","function_name":"list_files"}`,
		`{"action":"start_multi_file","plan":{"files_to_modify":["a.js"]},"first_file":{"path":"a.js","action":"create"}}`,
		`{"action":"continue_multi_file","next_file":{"action":"noop","is_last_file":true}}`,
		`{"action":"run_test"}`,
	}
	h := &recordingHandler{}
	var conts []bool
	for _, p := range payloads {
		a, err := decode(t, p).ToAction()
		require.NoError(t, err)
		conts = append(conts, a.Accept(context.Background(), h))
	}
	assert.Equal(t, []string{
		"text_response:ok",
		"tool_call:list_files",
		"start_multi_file:a.js",
		"continue_multi_file:noop",
		"run_test:all",
	}, h.got)
	assert.Equal(t, []bool{false, true, true, true, true}, conts)
}

func TestToolCallMergesPaths(t *testing.T) {
	a, err := decode(t, `{"action":"tool_call","function_name":"read_file","args":{"paths":["a.js","b.js"],"path":"c.js"}}`).ToAction()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.js", "b.js", "c.js"}, a.(*ToolCall).Paths)
}

func TestRunTestTarget(t *testing.T) {
	assert.Equal(t, AllTests, (&RunTest{}).Target())
	assert.Equal(t, AllTests, (&RunTest{File: "ALL"}).Target())
	assert.Equal(t, "pkg/a_test.go", (&RunTest{File: " pkg/a_test.go "}).Target())
}

func TestActionSchema(t *testing.T) {
	s := ActionSchema()
	require.NotNil(t, s)
	props, ok := s["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "action")
	assert.Contains(t, props, "first_file")
}
