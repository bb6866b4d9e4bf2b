package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	firebase "firebase.google.com/go"
	"github.com/google/uuid"
)

const firebaseDownloadBase = "https://firebasestorage.googleapis.com"

// FirebaseStore writes to the Cloud Storage bucket of the Firebase project.
// Objects get a download token, which makes their URL publicly readable the
// same way the Firebase client SDKs do.
type FirebaseStore struct {
	bucket *gcs.BucketHandle
	name   string
	logger *slog.Logger
}

func NewFirebaseStore(ctx context.Context, app *firebase.App, bucketName string) (*FirebaseStore, error) {
	client, err := app.Storage(ctx)
	if err != nil {
		return nil, fmt.Errorf("app.Storage: %w", err)
	}

	var bucket *gcs.BucketHandle
	if bucketName == "" {
		bucket, err = client.DefaultBucket()
	} else {
		bucket, err = client.Bucket(bucketName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open storage bucket: %w", err)
	}

	attrs, err := bucket.Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read bucket attributes: %w", err)
	}

	return &FirebaseStore{
		bucket: bucket,
		name:   attrs.Name,
		logger: slog.With("component", "blob", "backend", "firebase"),
	}, nil
}

func (s *FirebaseStore) Upload(ctx context.Context, objectPath string, r io.Reader, contentType string) (string, error) {
	key, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}

	token := uuid.NewString()
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"firebaseStorageDownloadTokens": token}

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	s.logger.Debug("Stored object", "path", key)
	return DownloadURL(firebaseDownloadBase, s.name, key, token), nil
}

func (s *FirebaseStore) Delete(ctx context.Context, objectPath string) error {
	key, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	err = s.bucket.Object(key).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return ErrNotFound
	}
	return err
}

func (s *FirebaseStore) Open(ctx context.Context, objectPath string) (*Object, error) {
	key, err := cleanPath(objectPath)
	if err != nil {
		return nil, err
	}
	reader, err := s.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &Object{
		Body:        reader,
		ContentType: reader.Attrs.ContentType,
		Size:        reader.Attrs.Size,
	}, nil
}

func (s *FirebaseStore) Close() error {
	return nil
}
