package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/stephnangue/wopihost/logger"
)

// FileBackend stores documents as plain files under a root directory.
// File ids are slash-separated relative paths.
type FileBackend struct {
	root   string
	logger logger.Logger
}

var _ Store = (*FileBackend)(nil)

// NewFileBackend creates a backend rooted at conf["path"], creating the
// directory when missing.
func NewFileBackend(conf map[string]string, log logger.Logger) (*FileBackend, error) {
	root, ok := conf["path"]
	if !ok || root == "" {
		return nil, errors.New("'path' must be set")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating content root %s: %w", root, err)
	}
	return &FileBackend{root: root, logger: log}, nil
}

func (b *FileBackend) Info(ctx context.Context, fileID string) (*FileInfo, error) {
	p, err := b.resolve(fileID)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", fileID, err)
	}
	if st.IsDir() {
		return nil, ErrNotFound
	}
	return &FileInfo{
		Name:      filepath.Base(p),
		Size:      st.Size(),
		ModTime:   st.ModTime(),
		MediaType: MediaTypeFor(fileID),
	}, nil
}

func (b *FileBackend) Read(ctx context.Context, fileID string) ([]byte, error) {
	p, err := b.resolve(fileID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", fileID, err)
	}
	return data, nil
}

func (b *FileBackend) Write(ctx context.Context, fileID string, data []byte, author string) (*FileInfo, error) {
	p, err := b.resolve(fileID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("creating parent of %s: %w", fileID, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", fileID, err)
	}
	b.logger.Debug("document saved",
		logger.String("file_id", fileID),
		logger.String("author", author),
		logger.Int("bytes", len(data)),
	)
	return b.Info(ctx, fileID)
}

// resolve maps a file id to an absolute path under the root, rejecting
// ids that would escape it.
func (b *FileBackend) resolve(fileID string) (string, error) {
	if fileID == "" {
		return "", ErrNotFound
	}
	clean := filepath.Clean(filepath.FromSlash(fileID))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("content: id %q escapes the storage root", fileID)
	}
	return filepath.Join(b.root, clean), nil
}
