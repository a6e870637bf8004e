// Package adf converts between plain text and the tracker's document format,
// a tree of typed nodes (doc -> paragraph -> text) used by description fields.
package adf

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// Node is one node of a document tree.
type Node struct {
	Type    string         `json:"type"`
	Version int            `json:"version,omitempty"`
	Text    string         `json:"text,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
}

// Encode wraps text in a single paragraph holding a single text node.
// Newlines are kept inside the text node; paragraphs are not split.
func Encode(text string) Node {
	para := Node{Type: "paragraph", Content: []Node{}}
	if text != "" {
		para.Content = append(para.Content, Node{Type: "text", Text: text})
	}
	return Node{
		Type:    "doc",
		Version: 1,
		Content: []Node{para},
	}
}

// blockTypes end with a newline when decoded.
var blockTypes = map[string]bool{
	"paragraph":  true,
	"heading":    true,
	"codeBlock":  true,
	"blockquote": true,
	"rule":       true,
}

// Decode renders a document as plain text. A JSON string is returned as-is,
// null gives "". Nodes with an unexpected shape are skipped; if the input is
// not JSON at all the result is "". Trailing newlines are dropped.
func Decode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		slog.Debug("adf: decode failed", "error", err)
		return ""
	}
	return DecodeValue(v)
}

// DecodeValue is Decode over an already-unmarshalled value.
func DecodeValue(v any) string {
	switch doc := v.(type) {
	case nil:
		return ""
	case string:
		return doc
	case map[string]any:
		var sb strings.Builder
		walk(&sb, doc)
		return strings.TrimRight(sb.String(), "\n")
	default:
		slog.Debug("adf: unexpected document root", "value", v)
		return ""
	}
}

func walk(sb *strings.Builder, node map[string]any) {
	typ, _ := node["type"].(string)
	switch typ {
	case "text":
		if text, ok := node["text"].(string); ok {
			sb.WriteString(text)
		}
		return
	case "hardBreak":
		sb.WriteString("\n")
		return
	case "mention", "emoji":
		if attrs, ok := node["attrs"].(map[string]any); ok {
			if text, ok := attrs["text"].(string); ok {
				sb.WriteString(text)
			}
		}
		return
	}

	if children, ok := node["content"].([]any); ok {
		for _, child := range children {
			if m, ok := child.(map[string]any); ok {
				walk(sb, m)
			}
		}
	}
	if blockTypes[typ] {
		sb.WriteString("\n")
	}
}

// MarshalText encodes text and returns the document as JSON.
func MarshalText(text string) (json.RawMessage, error) {
	return json.Marshal(Encode(text))
}
