package executor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/aretw0/weft/pkg/attachment"
	"github.com/aretw0/weft/pkg/domain"
)

// ErrInvalidDataURI is returned for data URIs that cannot be decoded.
var ErrInvalidDataURI = errors.New("invalid data uri")

// DecodeDataURI decodes a data: URI in base64 or percent-encoded form.
func DecodeDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing data: scheme", ErrInvalidDataURI)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing payload separator", ErrInvalidDataURI)
	}
	params := strings.Split(header, ";")
	mimeType := strings.TrimSpace(params[0])
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if mimeType == "" {
		mimeType = "text/plain"
	}
	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
				return nil, "", fmt.Errorf("%w: %w", ErrInvalidDataURI, err)
			}
		}
		return data, mimeType, nil
	}
	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidDataURI, err)
	}
	return []byte(text), mimeType, nil
}

// GeneratedDir is where an agent's attachment outputs are written.
func GeneratedDir(workspace, nodeID string) string {
	return filepath.Join(workspace, "generated", SafeID(nodeID))
}

// persistAttachments registers every attachment block of msg in the run's store
// and points the blocks at the stored records. Blocks that fail keep their ref.
func (a *Agent) persistAttachments(node domain.Node, msg domain.Message) domain.Message {
	if !msg.HasBlocks() || a.rc.Attachments == nil {
		return msg
	}
	out := msg.Clone()
	for i, b := range out.Blocks {
		if !b.Type.IsAttachment() || b.Attachment == nil {
			continue
		}
		rec, err := a.persistRef(node, b.Type, *b.Attachment)
		if err != nil {
			a.rc.logger().Warn("failed to persist model attachment", "node", node.ID, "name", b.Attachment.Name, "err", err)
			a.rc.Log.Warn(node.ID, "attachment persistence failed", map[string]any{"name": b.Attachment.Name, "error": err.Error()})
			continue
		}
		ref := rec.Ref.Clone()
		out.Blocks[i].Attachment = &ref
	}
	return out
}

func (a *Agent) persistRef(node domain.Node, kind domain.BlockType, ref domain.AttachmentRef) (domain.AttachmentRecord, error) {
	store := a.rc.Attachments
	if ref.AttachmentID != "" {
		if rec, ok := store.Get(ref.AttachmentID); ok {
			return rec, nil
		}
	}
	extra := map[string]any{"source_node": node.ID}
	if ref.RemoteFileID != "" && !ref.HasLocalPayload() {
		return store.RegisterRemoteFile(ref.RemoteFileID, ref.Name,
			attachment.WithKind(kind),
			attachment.WithMimeType(ref.MimeType),
			attachment.WithSize(ref.Size),
			attachment.WithExtra(extra),
			attachment.WithPersist(true),
		)
	}

	dir := GeneratedDir(a.rc.Workspace, node.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.AttachmentRecord{}, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	mimeType := ref.MimeType
	var path string
	if ref.DataURI != "" {
		data, mt, err := DecodeDataURI(ref.DataURI)
		switch {
		case err == nil:
			if mimeType == "" {
				mimeType = mt
			}
			path = filepath.Join(dir, generatedName(kind, mimeType))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return domain.AttachmentRecord{}, fmt.Errorf("failed to write %s: %w", path, err)
			}
		case ref.LocalPath == "":
			return domain.AttachmentRecord{}, err
		default:
			a.rc.logger().Warn("data uri decode failed, using local path", "node", node.ID, "err", err)
		}
	}
	if path == "" {
		if mimeType == "" {
			mimeType = attachment.GuessMIME(ref.LocalPath)
		}
		path = filepath.Join(dir, generatedName(kind, mimeType))
		if err := copyLocal(ref.LocalPath, path); err != nil {
			return domain.AttachmentRecord{}, err
		}
	}

	name := ref.Name
	if name == "" {
		name = filepath.Base(path)
	}
	rec, err := store.RegisterFile(path,
		attachment.WithKind(kind),
		attachment.WithName(name),
		attachment.WithMimeType(mimeType),
		attachment.WithCopy(false),
		attachment.WithExtra(extra),
		attachment.WithPersist(true),
	)
	if err != nil {
		return domain.AttachmentRecord{}, err
	}
	if ref.RemoteFileID != "" && rec.Ref.RemoteFileID == "" {
		if err := store.UpdateRemoteFileID(rec.Ref.AttachmentID, ref.RemoteFileID); err == nil {
			rec.Ref.RemoteFileID = ref.RemoteFileID
		}
	}
	return rec, nil
}

func generatedName(kind domain.BlockType, mimeType string) string {
	return fmt.Sprintf("%s-%s%s", kind, strings.ToLower(ulid.Make().String()), attachment.ExtensionForMIME(mimeType))
}

func copyLocal(src, dest string) error {
	if src == "" {
		return fmt.Errorf("%w: attachment has no payload", domain.ErrSourceMissing)
	}
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrSourceMissing, src)
		}
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
