// Package gcs stores backups in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Store is a backup.Store over one bucket. Object names may be prefixed to
// share a bucket with other data.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// New opens a client with application default credentials, or with the
// service-account file at credentialsFile when it is non-empty.
func New(ctx context.Context, bucket, prefix, credentialsFile string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs: bucket is empty")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}
	return &Store{client: client, bucket: client.Bucket(bucket), prefix: prefix}, nil
}

func (s *Store) Put(ctx context.Context, name string, data []byte, contentType string) error {
	w := s.bucket.Object(s.prefix + name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: close %s: %w", name, err)
	}
	return nil
}

// List returns object names with the prefix removed.
func (s *Store) List(ctx context.Context) ([]string, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: s.prefix})
	var out []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("gcs: list: %w", err)
		}
		out = append(out, attrs.Name[len(s.prefix):])
	}
}

func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.bucket.Object(s.prefix + name).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs: delete %s: %w", name, err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}
