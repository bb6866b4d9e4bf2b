package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Path prefix under which the server serves locally stored objects.
const SERVE_PREFIX = "/storage"

// LocalStore keeps objects on the filesystem under root.
type LocalStore struct {
	root    string
	bucket  string
	baseURL string
	logger  *slog.Logger
}

func NewLocalStore(root, bucket, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob folder: %w", err)
	}
	return &LocalStore{
		root:    root,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/") + SERVE_PREFIX,
		logger:  slog.With("component", "blob", "backend", "local"),
	}, nil
}

func (s *LocalStore) file(objectPath string) (string, error) {
	cleaned, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *LocalStore) Upload(ctx context.Context, objectPath string, r io.Reader, contentType string) (string, error) {
	name, err := s.file(objectPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(name), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return "", err
	}

	s.logger.Debug("Stored object", "path", objectPath, "content_type", contentType)
	return DownloadURL(s.baseURL, s.bucket, objectPath, ""), nil
}

func (s *LocalStore) Delete(ctx context.Context, objectPath string) error {
	name, err := s.file(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(name); errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return nil
}

func (s *LocalStore) Open(ctx context.Context, objectPath string) (*Object, error) {
	name, err := s.file(objectPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Object{Body: f, ContentType: contentType, Size: info.Size()}, nil
}

func (s *LocalStore) Close() error {
	return nil
}
