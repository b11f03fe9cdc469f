package content

import (
	"context"
	"path"
	"sync"
	"time"
)

// Inmem is an in-memory Store for development and tests. Data is not
// expected to be durable.
type Inmem struct {
	mu    sync.RWMutex
	files map[string]*memFile
}

type memFile struct {
	data    []byte
	modTime time.Time
}

var _ Store = (*Inmem)(nil)

func NewInmem() *Inmem {
	return &Inmem{files: make(map[string]*memFile)}
}

func (m *Inmem) Info(ctx context.Context, fileID string) (*FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	return &FileInfo{
		Name:      path.Base(fileID),
		Size:      int64(len(f.data)),
		ModTime:   f.modTime,
		MediaType: MediaTypeFor(fileID),
	}, nil
}

func (m *Inmem) Read(ctx context.Context, fileID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, nil
}

func (m *Inmem) Write(ctx context.Context, fileID string, data []byte, author string) (*FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[fileID] = &memFile{data: stored, modTime: time.Now()}
	return &FileInfo{
		Name:      path.Base(fileID),
		Size:      int64(len(stored)),
		ModTime:   m.files[fileID].modTime,
		MediaType: MediaTypeFor(fileID),
	}, nil
}
