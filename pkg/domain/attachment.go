package domain

// AttachmentRef identifies a file or remote object referenced by a message block.
// Identity within a run is AttachmentID; deduplication compares SHA256.
type AttachmentRef struct {
	AttachmentID string         `json:"attachment_id"`
	MimeType     string         `json:"mime_type,omitempty"`
	Name         string         `json:"name,omitempty"`
	Size         int64          `json:"size,omitempty"`
	SHA256       string         `json:"sha256,omitempty"`
	LocalPath    string         `json:"local_path,omitempty"`
	RemoteFileID string         `json:"remote_file_id,omitempty"`
	DataURI      string         `json:"data_uri,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the reference.
func (r AttachmentRef) Clone() AttachmentRef {
	r.Metadata = CloneMap(r.Metadata)
	return r
}

// HasLocalPayload reports whether the content is available without the remote provider.
func (r AttachmentRef) HasLocalPayload() bool {
	return r.LocalPath != "" || r.DataURI != ""
}

// AttachmentRecord is the store-side wrapper around an AttachmentRef.
type AttachmentRecord struct {
	Ref         AttachmentRef  `json:"ref"`
	Kind        BlockType      `json:"kind"`
	Description string         `json:"description,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep copy of the record.
func (r AttachmentRecord) Clone() AttachmentRecord {
	r.Ref = r.Ref.Clone()
	r.Extra = CloneMap(r.Extra)
	return r
}

// Block renders the record as a message block.
func (r AttachmentRecord) Block() Block {
	kind := r.Kind
	if !kind.IsAttachment() {
		kind = BlockTypeForMIME(r.Ref.MimeType)
	}
	return AttachmentBlock(kind, r.Ref)
}
