package thread

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatfind/internal/export"
)

func node(id, parent, role, text string, ts float64) export.Node {
	return export.Node{ID: id, Parent: parent, Role: role, Text: text, CreateTime: ts}
}

func TestReconstructLinearThread(t *testing.T) {
	conv := export.Conversation{
		ID:          "c1",
		Title:       "Linear",
		CurrentNode: "n3",
		Nodes: map[string]export.Node{
			"n1": node("n1", "", "user", "hello", 1),
			"n2": node("n2", "n1", "assistant", "hi there", 2),
			"n3": node("n3", "n2", "user", "thanks", 3),
		},
	}

	th, err := Reconstruct(conv)
	require.NoError(t, err)
	require.Len(t, th.Messages, 3)
	assert.Equal(t, "hello", th.Messages[0].Content)
	assert.Equal(t, "thanks", th.Messages[2].Content)
	assert.False(t, th.UsedFallback)
	assert.False(t, th.OrphanRoot)

	for i, m := range th.Messages {
		assert.Equal(t, i, m.Index)
	}
}

// An edit creates a sibling branch; only the branch under the current
// leaf appears in the thread.
func TestReconstructFollowsCurrentBranch(t *testing.T) {
	conv := export.Conversation{
		ID:          "c2",
		Title:       "Branched",
		CurrentNode: "d",
		Nodes: map[string]export.Node{
			"a": node("a", "", "user", "original question", 1),
			"b": node("b", "a", "assistant", "first answer", 2),
			"c": node("c", "b", "user", "abandoned follow-up", 3),
			"d": node("d", "b", "user", "edited follow-up", 4),
		},
	}

	th, err := Reconstruct(conv)
	require.NoError(t, err)
	require.Len(t, th.Messages, 3)
	assert.Equal(t, "edited follow-up", th.Messages[2].Content)
	for _, m := range th.Messages {
		assert.NotEqual(t, "abandoned follow-up", m.Content)
	}
}

func TestReconstructFallbackLeaf(t *testing.T) {
	conv := export.Conversation{
		ID:          "c3",
		CurrentNode: "missing",
		Nodes: map[string]export.Node{
			"a": node("a", "", "user", "q", 1),
			"b": node("b", "a", "assistant", "old branch", 2),
			"c": node("c", "a", "assistant", "newer branch", 5),
		},
	}

	th, err := Reconstruct(conv)
	require.NoError(t, err)
	assert.True(t, th.UsedFallback)
	require.Len(t, th.Messages, 2)
	assert.Equal(t, "newer branch", th.Messages[1].Content)
}

func TestReconstructFallbackTieBreaksOnID(t *testing.T) {
	conv := export.Conversation{
		ID: "c4",
		Nodes: map[string]export.Node{
			"root": node("root", "", "user", "q", 1),
			"zz":   node("zz", "root", "assistant", "from zz", 2),
			"aa":   node("aa", "root", "assistant", "from aa", 2),
		},
	}

	th, err := Reconstruct(conv)
	require.NoError(t, err)
	assert.Equal(t, "from aa", th.Messages[1].Content)
}

func TestReconstructOrphanedParent(t *testing.T) {
	conv := export.Conversation{
		ID:          "c5",
		CurrentNode: "b",
		Nodes: map[string]export.Node{
			"a": node("a", "gone", "user", "q", 1),
			"b": node("b", "a", "assistant", "a1", 2),
		},
	}

	th, err := Reconstruct(conv)
	require.NoError(t, err)
	assert.True(t, th.OrphanRoot)
	require.Len(t, th.Messages, 2)
	assert.Equal(t, "q", th.Messages[0].Content)
}

func TestReconstructCycleDetected(t *testing.T) {
	conv := export.Conversation{
		ID:          "c6",
		CurrentNode: "a",
		Nodes: map[string]export.Node{
			"a": node("a", "b", "user", "x", 1),
			"b": node("b", "a", "assistant", "y", 2),
		},
	}

	_, err := Reconstruct(conv)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycleDetected))
}

func TestReconstructCycleWithoutCurrentNode(t *testing.T) {
	// Every node has a child, so there is no leaf to fall back to.
	conv := export.Conversation{
		ID: "c7",
		Nodes: map[string]export.Node{
			"a": node("a", "b", "user", "x", 1),
			"b": node("b", "a", "assistant", "y", 2),
		},
	}

	_, err := Reconstruct(conv)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCycleDetected))
}

func TestReconstructFiltersNonDisplayable(t *testing.T) {
	sys := node("sys", "", "system", "internal prompt", 1)
	userSys := node("usys", "sys", "system", "custom instructions", 2)
	userSys.UserSystem = true
	tool := node("tool", "q", "tool", "tool output", 4)
	empty := node("empty", "tool", "assistant", "", 5)

	conv := export.Conversation{
		ID:          "c8",
		CurrentNode: "final",
		Nodes: map[string]export.Node{
			"sys":   sys,
			"usys":  userSys,
			"q":     node("q", "usys", "user", "question", 3),
			"tool":  tool,
			"empty": empty,
			"final": node("final", "empty", "assistant", "answer", 6),
		},
	}

	th, err := Reconstruct(conv)
	require.NoError(t, err)
	require.Len(t, th.Messages, 3)
	assert.Equal(t, "custom instructions", th.Messages[0].Content)
	assert.Equal(t, "question", th.Messages[1].Content)
	assert.Equal(t, "answer", th.Messages[2].Content)
}

func TestReconstructModelSlugFromFirstAssistant(t *testing.T) {
	first := node("b", "a", "assistant", "a1", 2)
	first.ModelSlug = "gpt-4o"
	second := node("d", "c", "assistant", "a2", 4)
	second.ModelSlug = "gpt-4o-mini"

	conv := export.Conversation{
		ID:          "c9",
		CurrentNode: "d",
		Nodes: map[string]export.Node{
			"a": node("a", "", "user", "q1", 1),
			"b": first,
			"c": node("c", "b", "user", "q2", 3),
			"d": second,
		},
	}

	th, err := Reconstruct(conv)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", th.ModelSlug)
}

func TestReconstructEmptyThread(t *testing.T) {
	conv := export.Conversation{
		ID:          "c10",
		CurrentNode: "a",
		Nodes: map[string]export.Node{
			"a": node("a", "", "system", "internal", 1),
		},
	}

	_, err := Reconstruct(conv)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyThread))
}

// Reconstruction must be a pure function of its input.
func TestReconstructDeterministic(t *testing.T) {
	conv := export.Conversation{
		ID: "c11",
		Nodes: map[string]export.Node{
			"a": node("a", "", "user", "q", 1),
			"b": node("b", "a", "assistant", "x", 2),
			"c": node("c", "a", "assistant", "y", 2),
			"d": node("d", "c", "user", "z", 3),
		},
	}

	first, err := Reconstruct(conv)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Reconstruct(conv)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
