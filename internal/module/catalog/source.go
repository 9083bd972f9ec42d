package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ganesh-swami/prvt-sub003/internal/port/outbound"
)

// StaticSource serves a fixed document.
type StaticSource struct {
	data []byte
}

var _ outbound.CatalogSourcePort = (*StaticSource)(nil)

// NewStaticSource creates a source that always returns data.
func NewStaticSource(data []byte) *StaticSource {
	return &StaticSource{data: data}
}

// Name implements outbound.CatalogSourcePort.
func (s *StaticSource) Name() string { return "static" }

// Fetch implements outbound.CatalogSourcePort.
func (s *StaticSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.data, nil
}

// FileSource reads the document from the local filesystem.
type FileSource struct {
	path   string
	logger *zap.Logger
}

var _ outbound.CatalogSourcePort = (*FileSource)(nil)

// NewFileSource creates a new file source.
func NewFileSource(path string, logger *zap.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

// Name implements outbound.CatalogSourcePort.
func (s *FileSource) Name() string { return "file" }

// Fetch implements outbound.CatalogSourcePort.
func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return data, nil
}

// Watch calls onChange whenever the file is written, created or renamed into place.
// It watches the parent directory so editors that replace the file atomically are seen.
// Watch blocks until ctx is done.
func (s *FileSource) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				s.logger.Info("catalog file changed", zap.String("path", s.path), zap.String("op", event.Op.String()))
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}
