/*
Package domain contains the core value types of the weft workflow runtime.

It defines the multimodal message model that flows along graph edges, the
attachment references that messages carry, the graph topology itself, and the
events the runtime emits while it executes. The package is pure: no I/O, no
persistence, no goroutines. Everything else in weft depends on it.

# Key Entities

  - Message: a role-tagged payload whose content is either text or an ordered list of Blocks.
  - Block: one typed piece of content (text, image, audio, video, file, data).
  - AttachmentRef / AttachmentRecord: a file or remote-id reference and its store-side wrapper.
  - Graph / Node / Edge: the workflow topology handed to the graph executor.
  - WorkspaceArtifact / ArtifactEvent: filesystem changes observed around a node.
  - LogEntry: one structured record in a run log.
*/
package domain
