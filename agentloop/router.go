package agentloop

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/martinemde/codeloop/protocol"
	"github.com/martinemde/codeloop/unifiedllm"
)

// Intent classifies a user message.
type Intent string

const (
	IntentGeneral Intent = "general"
	IntentProject Intent = "project"
)

// RouterResult is the router's classification of one message.
type RouterResult struct {
	Intent Intent `json:"intent" jsonschema:"enum=general,enum=project"`
	Reply  string `json:"reply,omitempty" jsonschema:"description=Complete answer when intent is general"`
}

// Terminal reports whether the turn ends with the router's reply.
func (r RouterResult) Terminal() bool {
	return r.Intent == IntentGeneral && strings.TrimSpace(r.Reply) != ""
}

const routerSystemPrompt = `You triage messages sent to a coding assistant working on a software project.
Classify the message:
- "general": greetings, small talk, or questions answerable without looking at or changing the project. Include a short, friendly "reply".
- "project": anything that needs the project's files, code changes, or tests.
Respond with one JSON object only: {"intent":"general"|"project","reply":"..."}`

// route classifies text with one lightweight model call. Any failure
// other than cancellation defaults to project intent.
func (t *turn) route(ctx context.Context, text string) (RouterResult, error) {
	fallback := RouterResult{Intent: IntentProject}

	result, err := unifiedllm.Generate(ctx, t.e.lightOptions(routerSystemPrompt, text, protocol.SchemaOf(&RouterResult{})))
	if err != nil {
		if unifiedllm.IsAbort(err) || ctx.Err() != nil {
			return fallback, err
		}
		t.log.Warn("router failed; assuming project intent", zap.Error(err))
		return fallback, nil
	}

	rr, err := decodeRouterResult(result.Text)
	if err != nil {
		t.log.Debug("router reply unparseable; assuming project intent", zap.Error(err))
		return fallback, nil
	}
	return rr, nil
}

func decodeRouterResult(text string) (RouterResult, error) {
	obj, err := protocol.ExtractObject(text)
	if err != nil {
		return RouterResult{}, err
	}
	var rr RouterResult
	if err := remarshal(obj, &rr); err != nil {
		return RouterResult{}, err
	}
	switch Intent(strings.ToLower(string(rr.Intent))) {
	case IntentGeneral:
		rr.Intent = IntentGeneral
	default:
		rr.Intent = IntentProject
	}
	return rr, nil
}

// remarshal converts a decoded object into a typed value.
func remarshal(obj map[string]any, v any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
