// Package content is the boundary to the host's document storage. The
// token and protocol layers never touch bytes directly; they go through
// a Store implementation resolved from configuration.
package content

import (
	"context"
	"errors"
	"mime"
	"path"
	"strings"
	"time"
)

// ErrNotFound is returned when no document exists under the given id.
var ErrNotFound = errors.New("content: file not found")

// FileInfo describes a stored document.
type FileInfo struct {
	// Name is the base file name shown in the editor's title bar.
	Name string

	Size      int64
	ModTime   time.Time
	MediaType string
}

// Store reads and replaces document bytes. Implementations may do disk
// or network I/O; every method takes a context.
type Store interface {
	// Info returns metadata for the document, or ErrNotFound.
	Info(ctx context.Context, fileID string) (*FileInfo, error)

	// Read returns the document's bytes, or ErrNotFound.
	Read(ctx context.Context, fileID string) ([]byte, error)

	// Write replaces the document's bytes, creating it when absent, and
	// returns the resulting metadata. The author is the principal the
	// save is attributed to.
	Write(ctx context.Context, fileID string, data []byte, author string) (*FileInfo, error)
}

// office formats the stdlib mime table doesn't know about
var mediaTypes = map[string]string{
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".odp":  "application/vnd.oasis.opendocument.presentation",
	".odg":  "application/vnd.oasis.opendocument.graphics",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".doc":  "application/msword",
	".xls":  "application/vnd.ms-excel",
	".ppt":  "application/vnd.ms-powerpoint",
}

// MediaTypeFor resolves a file id's extension to a media type, falling
// back to application/octet-stream.
func MediaTypeFor(fileID string) string {
	ext := strings.ToLower(path.Ext(fileID))
	if mt, ok := mediaTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
