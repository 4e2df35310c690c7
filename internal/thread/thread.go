// Package thread rebuilds the canonical linear message sequence of a
// conversation from its raw edit/branch tree. Reconstruction is a pure
// function of its input: identical trees always yield identical threads,
// which re-import idempotency depends on.
package thread

import (
	"errors"
	"fmt"
	"sort"

	"chatfind/internal/export"
)

var (
	// ErrCycleDetected indicates the parent chain did not terminate
	// within the node-count bound. The conversation is malformed.
	ErrCycleDetected = errors.New("cycle detected in node tree")

	// ErrNoCurrentLeaf indicates no node is marked as the current leaf
	// and no timestamp fallback was possible.
	ErrNoCurrentLeaf = errors.New("no current leaf in node tree")

	// ErrEmptyThread indicates the canonical path contains no
	// displayable messages.
	ErrEmptyThread = errors.New("no extractable messages")
)

// Message is one turn in a canonical thread.
type Message struct {
	Index        int     `json:"index"`
	Role         string  `json:"role"`
	Content      string  `json:"content"`
	Timestamp    float64 `json:"timestamp,omitempty"`
	SourceNodeID string  `json:"source_node_id,omitempty"`
}

// Thread is the canonical form of one conversation.
type Thread struct {
	ID         string
	Title      string
	CreateTime float64
	UpdateTime float64
	ModelSlug  string
	Messages   []Message

	// UsedFallback records that no node was marked current and the
	// latest-timestamp leaf was used instead.
	UsedFallback bool

	// OrphanRoot records that the walk ended at a node whose parent id
	// is referenced but absent from the tree.
	OrphanRoot bool
}

// Reconstruct builds the canonical thread for one exported conversation.
func Reconstruct(conv export.Conversation) (*Thread, error) {
	if len(conv.Nodes) == 0 {
		return nil, fmt.Errorf("conversation %s: %w", conv.ID, ErrNoCurrentLeaf)
	}

	t := &Thread{
		ID:         conv.ID,
		Title:      conv.Title,
		CreateTime: conv.CreateTime,
		UpdateTime: conv.UpdateTime,
	}

	leaf := conv.CurrentNode
	if _, ok := conv.Nodes[leaf]; !ok {
		// Fallback policy: no marked current leaf, use the leaf with the
		// latest timestamp. Recorded so the import report can surface it.
		leaf = latestLeaf(conv.Nodes)
		if leaf == "" {
			return nil, fmt.Errorf("conversation %s: %w", conv.ID, ErrNoCurrentLeaf)
		}
		t.UsedFallback = true
	}

	path, orphan, err := walkToRoot(conv.Nodes, leaf)
	if err != nil {
		return nil, fmt.Errorf("conversation %s: %w", conv.ID, err)
	}
	t.OrphanRoot = orphan

	for _, id := range path {
		node := conv.Nodes[id]
		if !includeNode(node) {
			continue
		}
		if node.Role == "assistant" && t.ModelSlug == "" && node.ModelSlug != "" {
			t.ModelSlug = node.ModelSlug
		}
		t.Messages = append(t.Messages, Message{
			Index:        len(t.Messages),
			Role:         node.Role,
			Content:      node.Text,
			Timestamp:    node.CreateTime,
			SourceNodeID: node.ID,
		})
	}

	if len(t.Messages) == 0 {
		return nil, fmt.Errorf("conversation %s: %w", conv.ID, ErrEmptyThread)
	}
	return t, nil
}

// walkToRoot follows parent links from leaf to the root and returns node
// ids in root-to-leaf order. The walk is bounded by the node count; going
// past the bound means the parent links form a cycle. A parent id that is
// referenced but absent ends the walk: the last reachable node is treated
// as the root of an orphaned subtree.
func walkToRoot(nodes map[string]export.Node, leaf string) (path []string, orphan bool, err error) {
	id := leaf
	for steps := 0; ; steps++ {
		if steps > len(nodes) {
			return nil, false, ErrCycleDetected
		}
		node, ok := nodes[id]
		if !ok {
			// Referenced parent missing from the tree.
			return reverse(path), true, nil
		}
		path = append(path, id)
		if node.Parent == "" {
			return reverse(path), false, nil
		}
		id = node.Parent
	}
}

func reverse(ids []string) []string {
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids
}

// latestLeaf returns the id of the leaf node with the latest timestamp.
// Ties break on id so the fallback stays deterministic.
func latestLeaf(nodes map[string]export.Node) string {
	hasChild := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.Parent != "" {
			hasChild[n.Parent] = true
		}
	}

	var leaves []export.Node
	for id, n := range nodes {
		if !hasChild[id] {
			leaves = append(leaves, n)
		}
	}
	if len(leaves) == 0 {
		// Every node has a child: the links are cyclic. Start the walk
		// from the smallest id and let the bounded walk report it.
		var ids []string
		for id := range nodes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return ids[0]
	}

	sort.Slice(leaves, func(i, j int) bool {
		if leaves[i].CreateTime != leaves[j].CreateTime {
			return leaves[i].CreateTime > leaves[j].CreateTime
		}
		return leaves[i].ID < leaves[j].ID
	})
	return leaves[0].ID
}

// includeNode reports whether a node contributes a message to the thread.
// Structural nodes, empty messages, tool output, and non-user system
// markers are dropped; they still participate in the parent walk.
func includeNode(n export.Node) bool {
	if n.Text == "" {
		return false
	}
	switch n.Role {
	case "user":
		return true
	case "assistant":
		return true
	case "system":
		return n.UserSystem
	default:
		return false
	}
}
