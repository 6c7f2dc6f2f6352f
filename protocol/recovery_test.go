package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecover_Stages(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strict", `{"intent":"project"}`, "project"},
		{"strict with whitespace", "\n  {\"intent\":\"project\"}\n", "project"},
		{"fenced", "```json\n{\"intent\":\"general\"}\n```", "general"},
		{"prose around", `I think this is {"intent":"general"} for sure`, "general"},
		{"brace inside string", `{"intent":"general","reply":"use {braces}"}`, "general"},
		{"stray tags", `#[json-data] {"intent":"project"`, ""},
		{"tags inside candidate", `{"intent":"project"#[end-json-data]}`, "project"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := Recover(tt.in)
			if tt.want == "" {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, obj["intent"])
		})
	}
}

func TestRecover_CustomStages(t *testing.T) {
	_, err := Recover("{broken", Stage{Name: "strict", Apply: strictObject})
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Len(t, perr.Attempts, 1)
	assert.Equal(t, "strict", perr.Attempts[0].Stage)
	assert.Contains(t, perr.Error(), "strict:")
}

func TestRecover_RejectsNonObject(t *testing.T) {
	_, err := Recover(`["a","b"]`)
	assert.Error(t, err)
	_, err = Recover(`null`)
	assert.Error(t, err)
}

func TestExtractObject_SkipsInvalidCandidates(t *testing.T) {
	obj, err := ExtractObject(`{not json} then {"files":["a.go"]}`)
	require.NoError(t, err)
	assert.Equal(t, []any{"a.go"}, obj["files"])
}

func TestFindJSONCandidates(t *testing.T) {
	got := findJSONCandidates(`a {"x":"}"} b {"y":{"z":1}} c {unterminated`)
	assert.Equal(t, []string{`{"x":"}"}`, `{"y":{"z":1}}`}, got)
}
