package drivers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// LocalTarget stores archives under a directory on the local filesystem
type LocalTarget struct {
	name     string
	basePath string
	logger   *zap.Logger
}

// NewLocalTarget creates a filesystem target rooted at basePath
func NewLocalTarget(name, basePath string, logger *zap.Logger) *LocalTarget {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalTarget{
		name:     name,
		basePath: basePath,
		logger:   logger.Named("local"),
	}
}

// Name returns the destination name
func (t *LocalTarget) Name() string {
	return t.name
}

func (t *LocalTarget) path(key string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(t.basePath, filepath.FromSlash(key)), nil
}

// Put writes the object, creating parent directories as needed
func (t *LocalTarget) Put(ctx context.Context, key string, data io.Reader) (string, error) {
	fullPath, err := t.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}

	t.logger.Debug("put object",
		zap.String("destination", t.name),
		zap.String("key", key),
		zap.String("fullPath", fullPath))

	// write to a sibling first so readers never see a partial archive
	tmp := fullPath + ".partial"
	file, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(file, &contextReader{ctx: ctx, r: data}); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("copy data: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit file: %w", err)
	}
	return key, nil
}

// Get opens the object for reading
func (t *LocalTarget) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := t.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

// Delete removes the object. Missing objects are not an error.
func (t *LocalTarget) Delete(ctx context.Context, key string) error {
	fullPath, err := t.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Ping ensures the base directory exists and is a directory
func (t *LocalTarget) Ping(ctx context.Context) error {
	if err := os.MkdirAll(t.basePath, 0750); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	info, err := os.Stat(t.basePath)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("health check failed: %s is not a directory", t.basePath)
	}
	return nil
}

// contextReader stops a copy once its context is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
