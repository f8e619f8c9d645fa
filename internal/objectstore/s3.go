// Package objectstore moves files between the local disk and S3-compatible
// object storage. It backs s3:// flat-file sources and the spill archive.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"
)

// MaxParallelUploads bounds concurrent uploads in UploadAll.
const MaxParallelUploads = 4

// Config holds connection settings for an S3-compatible endpoint.
type Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // e.g. "https://minio.local:9000"; empty means AWS
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

// API is the subset of *s3.Client used here.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store reads and writes objects.
type Store struct {
	api API
}

// New builds a Store over an S3 client configured with static credentials.
func New(cfg Config) *Store {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.PathStyle,
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return &Store{api: s3.New(opts)}
}

// NewWithAPI wraps an existing client; tests pass a fake.
func NewWithAPI(api API) *Store { return &Store{api: api} }

// IsURI reports whether s is an s3:// URI.
func IsURI(s string) bool { return strings.HasPrefix(strings.ToLower(s), "s3://") }

// ParseURI extracts bucket and key from an "s3://bucket/path/to/file" URI.
func ParseURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 path %q: %w", uri, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("expected s3:// scheme, got %q in %q", u.Scheme, uri)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("empty bucket or key in S3 path %q", uri)
	}
	return bucket, key, nil
}

// Open returns a reader over the object at uri. The caller closes it.
func (s *Store) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("objectstore: get %s: %w", uri, err)
	}
	return out.Body, nil
}

// Upload puts the local file at src to bucket/key.
func (s *Store) Upload(ctx context.Context, src, bucket, key string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("objectstore: open %s: %w", src, err)
	}
	defer f.Close()

	if _, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	}); err != nil {
		return fmt.Errorf("objectstore: put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// UploadAll uploads every file under the s3:// prefix, keyed by base name,
// at most MaxParallelUploads at a time. It returns the object URIs in input
// order, or the first error.
func (s *Store) UploadAll(ctx context.Context, files []string, prefix string) ([]string, error) {
	bucket, base, err := splitPrefix(prefix)
	if err != nil {
		return nil, err
	}
	uris := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxParallelUploads)
	for i, f := range files {
		key := path.Join(base, filepath.Base(f))
		uris[i] = "s3://" + bucket + "/" + key
		g.Go(func() error { return s.Upload(gctx, f, bucket, key) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return uris, nil
}

// splitPrefix accepts "s3://bucket" or "s3://bucket/some/prefix".
func splitPrefix(prefix string) (bucket, key string, err error) {
	u, err := url.Parse(prefix)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("objectstore: invalid prefix %q, want s3://bucket[/path]", prefix)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}
