package agentloop

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/codeloop/workspace"
)

func checkPartition(t *testing.T, s TaskSnapshot) {
	t.Helper()
	assert.Equal(t, len(s.AllFiles), len(s.Completed)+len(s.Remaining))
	seen := map[string]bool{}
	for _, f := range append(append([]string{}, s.Completed...), s.Remaining...) {
		assert.False(t, seen[f], "%s listed twice", f)
		seen[f] = true
	}
	for _, f := range s.AllFiles {
		assert.True(t, seen[f], "%s missing from completed and remaining", f)
	}
}

func TestNewTaskNormalizesPlan(t *testing.T) {
	task := newTask("refactor", []string{"./src/a.js", "src/a.js", "", "/src/b.js", "c.js"}, workspace.NewKey("src/a.js"))
	got := task.Snapshot()
	want := TaskSnapshot{
		Active:      true,
		Description: "refactor",
		AllFiles:    []string{"src/a.js", "src/b.js", "c.js"},
		Completed:   []string{"src/a.js"},
		Remaining:   []string{"src/b.js", "c.js"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	checkPartition(t, got)
}

func TestTaskCompletionOrder(t *testing.T) {
	task := newTask("", []string{"a", "b", "c"}, workspace.NewKey("a"))
	task.complete(workspace.NewKey("c"))
	task.complete(workspace.NewKey("c"))
	task.complete(workspace.NewKey("extra"))

	s := task.Snapshot()
	assert.Equal(t, []string{"a", "c", "extra"}, s.Completed)
	assert.Equal(t, []string{"b"}, s.Remaining)
	assert.Equal(t, []string{"a", "b", "c", "extra"}, s.AllFiles)
	checkPartition(t, s)

	task.complete(workspace.NewKey("b"))
	s = task.Snapshot()
	assert.Empty(t, s.Remaining)
	assert.NotNil(t, s.Remaining)
	checkPartition(t, s)
}

func TestFirstFileOutsidePlanIsAppended(t *testing.T) {
	s := newTask("", []string{"a"}, workspace.NewKey("z")).Snapshot()
	assert.Equal(t, []string{"a", "z"}, s.AllFiles)
	assert.Equal(t, []string{"z"}, s.Completed)
	checkPartition(t, s)
}

func TestTaskTableTransitions(t *testing.T) {
	tt := newTaskTable()
	assert.Equal(t, TaskSnapshot{}, tt.snapshot("c1"))

	_, err := tt.advance("c1", workspace.NewKey("a"))
	assert.ErrorIs(t, err, ErrNoActiveTask)

	snap, err := tt.start("c1", "plan", []string{"a", "b"}, workspace.NewKey("a"))
	require.NoError(t, err)
	assert.True(t, snap.Active)
	assert.True(t, tt.active("c1"))
	assert.False(t, tt.active("c2"), "tasks are per conversation")

	_, err = tt.start("c1", "other", []string{"x"}, workspace.NewKey("x"))
	assert.ErrorIs(t, err, ErrTaskActive)

	snap, err = tt.advance("c1", workspace.NewKey("b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, snap.Completed)

	tt.clear("c1")
	assert.False(t, tt.active("c1"))
}

func TestTaskTableConcurrentConversations(t *testing.T) {
	tt := newTaskTable()
	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := tt.start(id, id, []string{"1", "2", "3"}, workspace.NewKey("1"))
			assert.NoError(t, err)
			for _, f := range []string{"2", "3"} {
				_, err := tt.advance(id, workspace.NewKey(f))
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()
	for _, id := range []string{"a", "b", "c", "d"} {
		s := tt.snapshot(id)
		assert.Equal(t, []string{"1", "2", "3"}, s.Completed)
		checkPartition(t, s)
	}
}
