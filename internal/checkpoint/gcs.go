package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSStore keeps snapshots as objects in a bucket. Object writes become
// visible only when the writer closes, so readers never see partial state.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	owned  bool
}

// GCSConfig captures the parameters required to address checkpoints.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore wraps an existing client.
func NewGCSStore(client *storage.Client, cfg GCSConfig) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// OpenGCSStore creates a client from ambient credentials; Close releases it.
func OpenGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	s, err := NewGCSStore(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

func (s *GCSStore) object(name string) string {
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Load reads a snapshot object.
func (s *GCSStore) Load(ctx context.Context, name string) (Snapshot, bool, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object(name)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("open checkpoint object: %w", err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read checkpoint object: %w", err)
	}
	snap, err := Decode(data)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("checkpoint %s: %w", name, err)
	}
	return snap, true, nil
}

// Save uploads a snapshot object.
func (s *GCSStore) Save(ctx context.Context, name string, snap Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	writer := s.client.Bucket(s.bucket).Object(s.object(name)).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write checkpoint object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write checkpoint object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Close releases the client when the store created it.
func (s *GCSStore) Close() error {
	if !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
