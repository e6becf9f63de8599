// Package local stores objects as files under a base directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	storage "github.com/tigerroll/chunkbatch/pkg/batch/adaptor/storage"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Type is the storage type handled by this package.
const Type = "local"

func init() {
	storage.Register(Type, func(_ context.Context, name string, cfg config.StorageConfig) (storage.Storage, error) {
		return New(name, cfg)
	})
}

// Storage keeps objects in BaseDir/<bucket>/<objectName>.
type Storage struct {
	name    string
	baseDir string
	bucket  string
}

var _ storage.Storage = (*Storage)(nil)

// New creates a Storage, creating BaseDir when it does not exist.
func New(name string, cfg config.StorageConfig) (*Storage, error) {
	if cfg.BaseDir == "" {
		return nil, errors.New("base_dir must be set for local storage")
	}
	abs, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base_dir '%s': %w", cfg.BaseDir, err)
	}
	info, err := os.Stat(abs)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create base_dir '%s': %w", abs, err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base_dir '%s': %w", abs, err)
	case !info.IsDir():
		return nil, fmt.Errorf("base_dir '%s' is not a directory", abs)
	}
	return &Storage{name: name, baseDir: abs, bucket: cfg.BucketName}, nil
}

func (s *Storage) Close() error { return nil }
func (s *Storage) Type() string { return Type }
func (s *Storage) Name() string { return s.name }

// Upload writes data to a temporary file and renames it into place.
func (s *Storage) Upload(ctx context.Context, bucket, objectName string, data io.Reader, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.resolve(bucket, objectName)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory '%s': %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temporary file in '%s': %w", dir, err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write '%s': %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write '%s': %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("move '%s' into place: %w", path, err)
	}
	logger.Debugf("local storage '%s': uploaded '%s'.", s.name, path)
	return nil
}

func (s *Storage) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(bucket, objectName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open '%s': %w", path, err)
	}
	return f, nil
}

func (s *Storage) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	root, err := s.resolve(bucket, "")
	if err != nil {
		return err
	}
	var names []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list '%s' with prefix '%s': %w", root, prefix, err)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) DeleteObject(_ context.Context, bucket, objectName string) error {
	path, err := s.resolve(bucket, objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete '%s': %w", path, err)
	}
	return nil
}

// resolve maps bucket/objectName below baseDir and rejects paths escaping it.
func (s *Storage) resolve(bucket, objectName string) (string, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	path := filepath.Join(s.baseDir, bucket, filepath.FromSlash(objectName))
	rel, err := filepath.Rel(s.baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object '%s/%s' is outside of '%s'", bucket, objectName, s.baseDir)
	}
	return path, nil
}
