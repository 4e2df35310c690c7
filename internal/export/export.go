// Package export reads exported conversation archives and parses the raw
// branching node trees into a strictly typed form. All schema variability
// in the export format is absorbed here; the rest of the system only sees
// Conversation and Node values.
package export

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrInvalidArchive indicates the archive is missing its manifest or the
// manifest is not in the expected shape.
var ErrInvalidArchive = errors.New("invalid export archive")

// manifestName is the conversation manifest inside the export ZIP.
const manifestName = "conversations.json"

// Node is one entry in a conversation's edit/branch tree.
type Node struct {
	ID         string
	Parent     string // empty = root
	Role       string // user, assistant, system, tool; empty for structural nodes
	Text       string
	CreateTime float64 // unix seconds, 0 = unknown
	ModelSlug  string
	UserSystem bool // system message authored by the user
}

// Conversation is one raw conversation from the export: a tree of nodes
// plus the designated current leaf.
type Conversation struct {
	ID          string
	Title       string
	CreateTime  float64
	UpdateTime  float64
	CurrentNode string
	Nodes       map[string]Node
}

// ReadArchive loads the conversation manifest from path. The path may be
// an export ZIP containing conversations.json, or the bare manifest file.
func ReadArchive(path string) ([]Conversation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	if zr, zerr := zip.NewReader(f, info.Size()); zerr == nil {
		return readZip(zr)
	}

	// Not a ZIP; accept a bare conversations.json.
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind archive: %w", err)
	}
	return readManifest(f)
}

func readZip(zr *zip.Reader) ([]Conversation, error) {
	for _, zf := range zr.File {
		if zf.Name != manifestName {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", manifestName, err)
		}
		defer rc.Close()
		return readManifest(rc)
	}
	return nil, fmt.Errorf("%w: no %s in archive", ErrInvalidArchive, manifestName)
}

func readManifest(r io.Reader) ([]Conversation, error) {
	var raw []rawConversation
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: manifest is not a JSON array of conversations: %v", ErrInvalidArchive, err)
	}

	out := make([]Conversation, 0, len(raw))
	for _, rc := range raw {
		out = append(out, rc.typed())
	}
	return out, nil
}

// rawConversation mirrors the export's loose JSON shape.
type rawConversation struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	CreateTime  float64            `json:"create_time"`
	UpdateTime  float64            `json:"update_time"`
	CurrentNode string             `json:"current_node"`
	Mapping     map[string]rawNode `json:"mapping"`
}

type rawNode struct {
	ID      string      `json:"id"`
	Parent  *string     `json:"parent"`
	Message *rawMessage `json:"message"`
}

type rawMessage struct {
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	CreateTime float64 `json:"create_time"`
	Content    struct {
		ContentType string `json:"content_type"`
		Parts       []any  `json:"parts"`
	} `json:"content"`
	Metadata struct {
		IsUserSystemMessage bool   `json:"is_user_system_message"`
		ModelSlug           string `json:"model_slug"`
	} `json:"metadata"`
}

func (rc rawConversation) typed() Conversation {
	conv := Conversation{
		ID:          rc.ID,
		Title:       rc.Title,
		CreateTime:  rc.CreateTime,
		UpdateTime:  rc.UpdateTime,
		CurrentNode: rc.CurrentNode,
		Nodes:       make(map[string]Node, len(rc.Mapping)),
	}
	if conv.Title == "" {
		conv.Title = "Untitled"
	}

	for id, rn := range rc.Mapping {
		n := Node{ID: id}
		if rn.Parent != nil {
			n.Parent = *rn.Parent
		}
		if m := rn.Message; m != nil {
			n.Role = m.Author.Role
			n.Text = extractText(m.Content.Parts)
			n.CreateTime = m.CreateTime
			n.ModelSlug = m.Metadata.ModelSlug
			n.UserSystem = m.Metadata.IsUserSystemMessage
		}
		conv.Nodes[id] = n
	}
	return conv
}

// extractText joins the string parts of a message's content, dropping
// non-string parts (image references and other attachments).
func extractText(parts []any) string {
	var b strings.Builder
	for _, p := range parts {
		s, ok := p.(string)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s)
	}
	return strings.TrimSpace(b.String())
}
