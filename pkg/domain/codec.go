package domain

import (
	"fmt"
	"strings"
)

// OmittedDataMarker replaces inline attachment payloads when messages are
// encoded without data.
const OmittedDataMarker = "[omitted]"

// ToMap encodes the message as a JSON-compatible map.
//
// When includeData is false, inline data URIs are replaced by OmittedDataMarker,
// and so is the payload slot of attachments that only live remotely. The
// encoding is deterministic for a given message.
func (m Message) ToMap(includeData bool) map[string]any {
	out := map[string]any{
		"role": string(m.Role),
	}
	if m.Blocks != nil {
		blocks := make([]any, len(m.Blocks))
		for i, b := range m.Blocks {
			blocks[i] = b.ToMap(includeData)
		}
		out["content"] = blocks
	} else {
		out["content"] = m.Content
	}
	if m.Name != "" {
		out["name"] = m.Name
	}
	if m.ToolCallID != "" {
		out["tool_call_id"] = m.ToolCallID
	}
	if len(m.Metadata) > 0 {
		out["metadata"] = CloneMap(m.Metadata)
	}
	if len(m.ToolCalls) > 0 {
		calls := make([]any, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			call := map[string]any{
				"id":   c.ID,
				"type": defaultString(c.Type, "function"),
				"function": map[string]any{
					"name":      c.Name,
					"arguments": c.Arguments,
				},
			}
			if len(c.Metadata) > 0 {
				call["metadata"] = CloneMap(c.Metadata)
			}
			calls[i] = call
		}
		out["tool_calls"] = calls
	}
	if m.Keep {
		out["keep"] = true
	}
	if m.PreserveRole {
		out["preserve_role"] = true
	}
	return out
}

// ToMap encodes the block as a JSON-compatible map.
func (b Block) ToMap(includeData bool) map[string]any {
	out := map[string]any{"type": string(b.Type)}
	if b.Text != "" || b.Type == BlockText {
		out["text"] = b.Text
	}
	if b.Attachment != nil {
		out["attachment"] = b.Attachment.ToMap(includeData)
	}
	if b.Data != nil {
		out["data"] = CloneMap(b.Data)
	}
	return out
}

// ToMap encodes the reference as a JSON-compatible map.
func (r AttachmentRef) ToMap(includeData bool) map[string]any {
	out := map[string]any{"attachment_id": r.AttachmentID}
	setIf := func(key, v string) {
		if v != "" {
			out[key] = v
		}
	}
	setIf("mime_type", r.MimeType)
	setIf("name", r.Name)
	setIf("sha256", r.SHA256)
	setIf("local_path", r.LocalPath)
	setIf("remote_file_id", r.RemoteFileID)
	if r.Size > 0 {
		out["size"] = r.Size
	}
	switch {
	case includeData:
		setIf("data_uri", r.DataURI)
	case r.DataURI != "" || (r.RemoteFileID != "" && r.LocalPath == ""):
		out["data_uri"] = OmittedDataMarker
	}
	if len(r.Metadata) > 0 {
		out["metadata"] = CloneMap(r.Metadata)
	}
	return out
}

// MessageFromMap decodes a map produced by Message.ToMap (or an equivalent
// JSON document). Unknown block types degrade to data blocks that keep the
// original map under Data.
func MessageFromMap(raw map[string]any) (Message, error) {
	role := Role(asString(raw["role"]))
	if !role.Valid() {
		return Message{}, fmt.Errorf("%w: role %q", ErrInvalidMessage, role)
	}
	m := Message{
		Role:         role,
		Name:         asString(raw["name"]),
		ToolCallID:   asString(raw["tool_call_id"]),
		Keep:         asBool(raw["keep"]),
		PreserveRole: asBool(raw["preserve_role"]),
	}
	switch content := raw["content"].(type) {
	case nil:
	case string:
		m.Content = content
	case []any:
		m.Blocks = make([]Block, 0, len(content))
		for _, item := range content {
			bm, ok := item.(map[string]any)
			if !ok {
				m.Blocks = append(m.Blocks, TextBlock(fmt.Sprint(item)))
				continue
			}
			m.Blocks = append(m.Blocks, BlockFromMap(bm))
		}
	case []map[string]any:
		m.Blocks = make([]Block, 0, len(content))
		for _, bm := range content {
			m.Blocks = append(m.Blocks, BlockFromMap(bm))
		}
	default:
		return Message{}, fmt.Errorf("%w: content of type %T", ErrInvalidMessage, content)
	}
	if md, ok := raw["metadata"].(map[string]any); ok {
		m.Metadata = CloneMap(md)
	}
	if calls, ok := raw["tool_calls"].([]any); ok {
		for _, item := range calls {
			cm, ok := item.(map[string]any)
			if !ok {
				continue
			}
			call := ToolCall{
				ID:        asString(cm["id"]),
				Type:      asString(cm["type"]),
				Name:      asString(cm["name"]),
				Arguments: asString(cm["arguments"]),
			}
			if fn, ok := cm["function"].(map[string]any); ok {
				call.Name = asString(fn["name"])
				call.Arguments = asString(fn["arguments"])
			}
			if md, ok := cm["metadata"].(map[string]any); ok {
				call.Metadata = CloneMap(md)
			}
			m.ToolCalls = append(m.ToolCalls, call)
		}
	}
	return m, nil
}

// BlockFromMap decodes one block map.
func BlockFromMap(raw map[string]any) Block {
	t := BlockType(asString(raw["type"]))
	if !t.Valid() {
		return Block{Type: BlockData, Data: CloneMap(raw)}
	}
	b := Block{Type: t, Text: asString(raw["text"])}
	if am, ok := raw["attachment"].(map[string]any); ok {
		ref := AttachmentRefFromMap(am)
		b.Attachment = &ref
	}
	if dm, ok := raw["data"].(map[string]any); ok {
		b.Data = CloneMap(dm)
	}
	return b
}

// AttachmentRefFromMap decodes one attachment reference map. The omitted-data
// marker decodes to an empty data URI.
func AttachmentRefFromMap(raw map[string]any) AttachmentRef {
	ref := AttachmentRef{
		AttachmentID: asString(raw["attachment_id"]),
		MimeType:     asString(raw["mime_type"]),
		Name:         asString(raw["name"]),
		SHA256:       asString(raw["sha256"]),
		LocalPath:    asString(raw["local_path"]),
		RemoteFileID: asString(raw["remote_file_id"]),
		DataURI:      asString(raw["data_uri"]),
		Size:         asInt64(raw["size"]),
	}
	if ref.DataURI == OmittedDataMarker {
		ref.DataURI = ""
	}
	if md, ok := raw["metadata"].(map[string]any); ok {
		ref.Metadata = CloneMap(md)
	}
	return ref
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(t) {
		case "1", "true", "yes":
			return true
		}
	}
	return false
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		return int64(t)
	case int32:
		return int64(t)
	}
	return 0
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
