// Package blob stores rental images. Every backend hands out download URLs
// of the same shape,
//
//	{base}/v0/b/{bucket}/o/{url-escaped object path}?alt=media[&token=...]
//
// so that the object path can always be recovered from a stored URL.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"

	"rental-portal/internal/config"

	firebase "firebase.google.com/go"
	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrInvalidPath = errors.New("invalid blob path")
)

// Folder holding rental images.
const RENTALS_FOLDER = "rentals"

type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

type Store interface {
	// Upload writes the object and returns its download URL.
	Upload(ctx context.Context, objectPath string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, objectPath string) error
	Open(ctx context.Context, objectPath string) (*Object, error)
	Close() error
}

func NewStore(ctx context.Context, cfg *config.Config, app *firebase.App) (Store, error) {
	switch cfg.Blob.Type {
	case "local":
		return NewLocalStore(cfg.Blob.Local.Path, cfg.Blob.Bucket, cfg.BaseURL)
	case "s3":
		return NewS3Store(&cfg.Blob.S3, cfg.Blob.Bucket, cfg.BaseURL)
	case "firebase":
		if app == nil {
			return nil, fmt.Errorf("firebase blob store requires a firebase app")
		}
		return NewFirebaseStore(ctx, app, cfg.Firebase.StorageBucket)
	}
	return nil, fmt.Errorf("unsupported blob type %q", cfg.Blob.Type)
}

// NewRentalImagePath returns rentals/{randomId}_{filename}.
func NewRentalImagePath(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" {
		name = "image"
	}
	return fmt.Sprintf("%s/%s_%s", RENTALS_FOLDER, uuid.NewString(), name)
}

var reObjectPath = regexp.MustCompile(`/o/(.+)\?`)

// PathFromDownloadURL URL-decodes a download URL and returns the segment
// between "/o/" and "?". ok is false when the URL does not have that shape.
func PathFromDownloadURL(downloadURL string) (objectPath string, ok bool) {
	decoded, err := url.PathUnescape(downloadURL)
	if err != nil {
		return "", false
	}
	m := reObjectPath.FindStringSubmatch(decoded)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// DownloadURL builds the download URL of an object. base may be empty for a
// host-relative URL.
func DownloadURL(base, bucket, objectPath, token string) string {
	u := fmt.Sprintf("%s/v0/b/%s/o/%s?alt=media", strings.TrimRight(base, "/"), url.PathEscape(bucket), url.PathEscape(objectPath))
	if token != "" {
		u += "&token=" + url.QueryEscape(token)
	}
	return u
}

// cleanPath rejects absolute paths and paths escaping the store root.
func cleanPath(objectPath string) (string, error) {
	if objectPath == "" || strings.HasPrefix(objectPath, "/") {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(objectPath)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}
