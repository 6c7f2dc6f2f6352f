package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_DemoteTransient(t *testing.T) {
	c := New("t", "go")
	c.Append(RoleUser, "hi")
	c.Append(RoleProgress, "reading")
	c.Append(RoleWarning, "careful")
	c.Append(RoleAssistant, "done")

	assert.Equal(t, 2, c.DemoteTransient())
	roles := []Role{}
	for _, m := range c.Messages() {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []Role{RoleUser, RoleStatus, RoleStatus, RoleAssistant}, roles)
	assert.Equal(t, 0, c.DemoteTransient())
}

func TestConversation_SummarizingLifecycle(t *testing.T) {
	c := New("t", "")
	a := c.Append(RoleUser, "one")
	c.Append(RoleStatus, "stopped")
	b := c.Append(RoleAssistant, "two")

	pending := c.Unsummarized()
	require.Len(t, pending, 2)

	require.True(t, c.BeginSummarizing())
	assert.False(t, c.BeginSummarizing(), "second begin must be refused")

	c.AbortSummarizing()
	assert.False(t, c.IsSummarizing())
	assert.Len(t, c.Unsummarized(), 2, "abort leaves flags untouched")

	require.True(t, c.BeginSummarizing())
	c.FinishSummarizing("summary", []string{a.ID, b.ID})
	assert.Empty(t, c.Unsummarized())
	assert.Equal(t, "summary", c.Knowledge())
	assert.False(t, c.IsSummarizing())
}

func TestConversation_JSONRoundTrip(t *testing.T) {
	c := New("title", "node")
	c.Append(RoleUser, "hello")
	c.BeginSummarizing()

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var back Conversation
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, c.ID, back.ID)
	assert.Equal(t, "node", back.Environment)
	require.Len(t, back.Messages(), 1)
	assert.Equal(t, "hello", back.Messages()[0].Content)
	assert.False(t, back.IsSummarizing())
}

func TestRoleTransient(t *testing.T) {
	assert.True(t, RoleProgress.Transient())
	assert.True(t, RoleWarning.Transient())
	assert.False(t, RoleStatus.Transient())
	assert.False(t, RoleUser.Transient())
}
