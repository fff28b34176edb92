package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BlockType is the kind of a single content block.
type BlockType string

const (
	BlockText  BlockType = "text"
	BlockImage BlockType = "image"
	BlockAudio BlockType = "audio"
	BlockVideo BlockType = "video"
	BlockFile  BlockType = "file"
	BlockData  BlockType = "data"
)

// Valid reports whether t is one of the known block types.
func (t BlockType) Valid() bool {
	switch t {
	case BlockText, BlockImage, BlockAudio, BlockVideo, BlockFile, BlockData:
		return true
	}
	return false
}

// IsAttachment reports whether blocks of this type reference an attachment.
func (t BlockType) IsAttachment() bool {
	switch t {
	case BlockImage, BlockAudio, BlockVideo, BlockFile:
		return true
	}
	return false
}

// BlockTypeForMIME maps a MIME type to the block type used to carry it.
// An empty or unrecognised MIME type maps to BlockFile.
func BlockTypeForMIME(mimeType string) BlockType {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mt, "image/"):
		return BlockImage
	case strings.HasPrefix(mt, "audio/"):
		return BlockAudio
	case strings.HasPrefix(mt, "video/"):
		return BlockVideo
	default:
		return BlockFile
	}
}

// Block is one typed piece of message content.
type Block struct {
	Type       BlockType      `json:"type"`
	Text       string         `json:"text,omitempty"`
	Attachment *AttachmentRef `json:"attachment,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// TextBlock builds a text block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// AttachmentBlock builds a block of the given type around ref.
func AttachmentBlock(kind BlockType, ref AttachmentRef) Block {
	r := ref.Clone()
	return Block{Type: kind, Attachment: &r}
}

// Clone returns a deep copy of the block.
func (b Block) Clone() Block {
	if b.Attachment != nil {
		r := b.Attachment.Clone()
		b.Attachment = &r
	}
	b.Data = CloneMap(b.Data)
	return b
}

// Validate checks the per-type invariants of the block.
func (b Block) Validate() error {
	switch {
	case b.Type == BlockText:
		return nil
	case b.Type.IsAttachment():
		if b.Attachment == nil || (b.Attachment.AttachmentID == "" && b.Attachment.RemoteFileID == "" && !b.Attachment.HasLocalPayload()) {
			return fmt.Errorf("%w: %s block without resolvable attachment", ErrInvalidMessage, b.Type)
		}
		return nil
	case b.Type == BlockData:
		return nil
	}
	return fmt.Errorf("%w: unknown block type %q", ErrInvalidMessage, b.Type)
}

// Describe renders the block as a line of plain text.
func (b Block) Describe() string {
	switch {
	case b.Type == BlockText:
		return b.Text
	case b.Type.IsAttachment():
		label := ""
		if b.Attachment != nil {
			label = b.Attachment.Name
			if label == "" {
				label = b.Attachment.AttachmentID
			}
		}
		return fmt.Sprintf("[%s attachment: %s]", b.Type, label)
	case b.Type == BlockData:
		if len(b.Data) == 0 {
			return ""
		}
		raw, err := json.Marshal(b.Data)
		if err != nil {
			return fmt.Sprintf("%v", b.Data)
		}
		return string(raw)
	}
	return b.Text
}
