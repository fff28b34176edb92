package attachment

import (
	"mime"
	"path/filepath"
	"strings"
)

// DefaultMIME is used when nothing better is known.
const DefaultMIME = "application/octet-stream"

// Preferred extensions; mime.ExtensionsByType returns them in platform order.
var preferredExt = map[string]string{
	"image/png":        ".png",
	"image/jpeg":       ".jpg",
	"image/gif":        ".gif",
	"image/webp":       ".webp",
	"image/svg+xml":    ".svg",
	"audio/mpeg":       ".mp3",
	"audio/wav":        ".wav",
	"video/mp4":        ".mp4",
	"application/pdf":  ".pdf",
	"application/json": ".json",
	"text/plain":       ".txt",
	"text/markdown":    ".md",
	"text/csv":         ".csv",
	"text/html":        ".html",
	"text/x-python":    ".py",
}

// Types the stdlib table only knows when the host has a mime.types file.
var extraTypes = map[string]string{
	".txt":  "text/plain",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".py":   "text/x-python",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".log":  "text/plain",
}

// GuessMIME guesses a MIME type from a file name, without parameters.
func GuessMIME(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return DefaultMIME
	}
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	t := mime.TypeByExtension(ext)
	if t == "" {
		return DefaultMIME
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

// ExtensionForMIME returns a file extension (with dot) for a MIME type, or ".bin".
func ExtensionForMIME(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	if ext, ok := preferredExt[mt]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mt); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
