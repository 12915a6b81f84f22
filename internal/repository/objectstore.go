package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/sony/gobreaker"
	"google.golang.org/api/option"

	"github.com/aristath/taskgraph/internal/dataset"
)

// ObjectClient transfers whole objects to and from a bucket.
type ObjectClient interface {
	Upload(ctx context.Context, bucket, key string, r io.Reader) error
	Download(ctx context.Context, bucket, key string, w io.Writer) error
}

// GCSClient is an ObjectClient backed by Google Cloud Storage.
type GCSClient struct {
	client *storage.Client
}

// NewGCSClient creates a client. With a credentials file, it is used instead
// of application default credentials.
func NewGCSClient(ctx context.Context, credentialsFile string) (*GCSClient, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSClient{client: client}, nil
}

func (c *GCSClient) Upload(ctx context.Context, bucket, key string, r io.Reader) error {
	w := c.client.Bucket(bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("failed to copy to gs://%s/%s: %w", bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for gs://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (c *GCSClient) Download(ctx context.Context, bucket, key string, w io.Writer) error {
	r, err := c.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to open gs://%s/%s: %w", bucket, key, err)
	}
	defer r.Close()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("failed to read gs://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// Close releases the underlying storage client.
func (c *GCSClient) Close() error {
	return c.client.Close()
}

// ObjectStore stores one Data as one remote object. It encodes exactly like
// LocalFile into a staging file and transfers that file.
type ObjectStore struct {
	client  ObjectClient
	bucket  string
	key     string
	staging *LocalFile
	tmpDir  string
	retry   RetryConfig
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// ObjectStoreOption configures an ObjectStore.
type ObjectStoreOption func(*ObjectStore)

// WithRetry overrides the transfer retry policy.
func WithRetry(cfg RetryConfig) ObjectStoreOption {
	return func(s *ObjectStore) { s.retry = cfg }
}

// WithBreakers draws the store's circuit breaker from reg.
func WithBreakers(reg *BreakerRegistry) ObjectStoreOption {
	return func(s *ObjectStore) { s.breaker = reg.Get(s.bucket) }
}

// WithObjectLogger sets the logger for transfer messages.
func WithObjectLogger(logger *slog.Logger) ObjectStoreOption {
	return func(s *ObjectStore) { s.logger = logger }
}

// NewObjectStore creates a store for rawURL, which has the form
// scheme://bucket/key (gs://my-bucket/path/data.csv).
func NewObjectStore(client ObjectClient, rawURL string, opts ...ObjectStoreOption) (*ObjectStore, error) {
	bucket, key, err := ParseObjectURL(rawURL)
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "taskgraph-object-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	s := &ObjectStore{
		client:  client,
		bucket:  bucket,
		key:     key,
		staging: NewLocalFile(filepath.Join(tmpDir, path.Base(key))),
		tmpDir:  tmpDir,
		retry:   DefaultRetryConfig(),
		breaker: defaultBreakers.Get(bucket),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ParseObjectURL splits scheme://bucket/key.
func ParseObjectURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid object url %q: %w", rawURL, err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid object url %q: want scheme://bucket/key", rawURL)
	}
	return u.Host, key, nil
}

// URL returns the object's location.
func (s *ObjectStore) URL() string { return fmt.Sprintf("gs://%s/%s", s.bucket, s.key) }

// StagingPath returns the local file transfers go through.
func (s *ObjectStore) StagingPath() string { return s.staging.Path() }

// Save encodes d into the staging file and uploads it.
func (s *ObjectStore) Save(ctx context.Context, d dataset.Data) error {
	if err := s.staging.Save(ctx, d); err != nil {
		var unsupported *dataset.UnsupportedDataTypeError
		if errors.As(err, &unsupported) {
			unsupported.Repository = "ObjectStore"
		}
		return err
	}

	s.logger.Debug("object upload", "from", s.staging.Path(), "to", s.URL())
	return withRetry(ctx, s.breaker, s.retry, func() error {
		return s.staging.readWith(func(r io.Reader) error {
			return s.client.Upload(ctx, s.bucket, s.key, r)
		})
	})
}

// Load downloads the object into the staging file and passes its bytes to ctor.
func (s *ObjectStore) Load(ctx context.Context, ctor dataset.Constructor) (dataset.Data, error) {
	s.logger.Debug("object download", "from", s.URL(), "to", s.staging.Path())
	err := withRetry(ctx, s.breaker, s.retry, func() error {
		return s.staging.writeWith(func(w io.Writer) error {
			return s.client.Download(ctx, s.bucket, s.key, w)
		})
	})
	if err != nil {
		return nil, err
	}

	raw, err := s.staging.read(ctx)
	if err != nil {
		return nil, err
	}
	return ctor(s, raw)
}

// Close removes the staging directory.
func (s *ObjectStore) Close() error {
	return os.RemoveAll(s.tmpDir)
}
