package domain

import "time"

// ChangeType classifies a workspace artifact observation.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// WorkspaceArtifact is one file change observed by the workspace watcher around a node.
type WorkspaceArtifact struct {
	NodeID        string     `json:"node_id"`
	AttachmentID  string     `json:"attachment_id"`
	FileName      string     `json:"file_name"`
	RelativePath  string     `json:"relative_path"`
	AbsolutePath  string     `json:"absolute_path"`
	MimeType      string     `json:"mime_type,omitempty"`
	Size          int64      `json:"size"`
	SHA256        string     `json:"sha256,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ChangeType    ChangeType `json:"change_type"`
	WorkspaceRoot string     `json:"-"`
}

// ArtifactEvent is the subscriber-facing form of a WorkspaceArtifact.
type ArtifactEvent struct {
	NodeID        string         `json:"node_id"`
	AttachmentID  string         `json:"attachment_id"`
	FileName      string         `json:"file_name"`
	RelativePath  string         `json:"relative_path"`
	WorkspacePath string         `json:"workspace_path"`
	MimeType      string         `json:"mime_type,omitempty"`
	Size          int64          `json:"size"`
	SHA256        string         `json:"sha256,omitempty"`
	DataURI       string         `json:"data_uri,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	ChangeType    ChangeType     `json:"change_type"`
	Extra         map[string]any `json:"extra,omitempty"`
}

// ArtifactHookName tags events produced by the workspace scan.
const ArtifactHookName = "workspace_scan"

// Event adapts the artifact into its subscriber-facing event.
func (a WorkspaceArtifact) Event() ArtifactEvent {
	return ArtifactEvent{
		NodeID:        a.NodeID,
		AttachmentID:  a.AttachmentID,
		FileName:      a.FileName,
		RelativePath:  a.RelativePath,
		WorkspacePath: a.AbsolutePath,
		MimeType:      a.MimeType,
		Size:          a.Size,
		SHA256:        a.SHA256,
		CreatedAt:     a.CreatedAt,
		ChangeType:    a.ChangeType,
		Extra: map[string]any{
			"hook":          ArtifactHookName,
			"relative_path": a.RelativePath,
			"node_id":       a.NodeID,
		},
	}
}

// ToMap renders the event as a JSON-compatible map for broadcasters.
func (e ArtifactEvent) ToMap() map[string]any {
	return map[string]any{
		"node_id":        e.NodeID,
		"attachment_id":  e.AttachmentID,
		"file_name":      e.FileName,
		"relative_path":  e.RelativePath,
		"workspace_path": e.WorkspacePath,
		"mime_type":      e.MimeType,
		"size":           e.Size,
		"sha256":         e.SHA256,
		"data_uri":       e.DataURI,
		"created_at":     e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"change_type":    string(e.ChangeType),
		"extra":          CloneMap(e.Extra),
	}
}
