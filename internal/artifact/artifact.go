// Package artifact moves opaque byte blobs (head bundles, curve tables) to and
// from a local path or an S3 object, addressed by a single URI string.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("artifact not found")

// #region store
// Store reads and writes whole objects by key.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Location is a parsed artifact URI.
type Location struct {
	Scheme string // "s3" or "file"
	Bucket string // s3 only
	Key    string // object key or filesystem path
}

// String renders the location back into URI form.
func (l Location) String() string {
	if l.Scheme == "s3" {
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return l.Key
}

// Parse accepts "s3://bucket/key", "file:///abs/path" or a bare path.
func Parse(uri string) (Location, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		rest := strings.TrimPrefix(uri, "s3://")
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return Location{}, fmt.Errorf("parse %q: want s3://bucket/key", uri)
		}
		return Location{Scheme: "s3", Bucket: bucket, Key: key}, nil
	case strings.HasPrefix(uri, "file://"):
		path := strings.TrimPrefix(uri, "file://")
		if path == "" {
			return Location{}, fmt.Errorf("parse %q: empty path", uri)
		}
		return Location{Scheme: "file", Key: path}, nil
	case uri == "":
		return Location{}, errors.New("parse: empty uri")
	default:
		return Location{Scheme: "file", Key: uri}, nil
	}
}

// #endregion store

// #region file-store
// FileStore keeps objects on the local filesystem under Root.
type FileStore struct {
	Root string // "" means keys are used as paths as-is
}

func (f FileStore) path(key string) string {
	if f.Root == "" {
		return key
	}
	return filepath.Join(f.Root, filepath.FromSlash(key))
}

// Put writes data through a temp file and rename.
func (f FileStore) Put(_ context.Context, key string, data []byte) error {
	p := f.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".artifact-*")
	if err != nil {
		return fmt.Errorf("put %s: %w", p, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("put %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("put %s: %w", p, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("put %s: %w", p, err)
	}
	return nil
}

func (f FileStore) Get(_ context.Context, key string) ([]byte, error) {
	p := f.path(key)
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("get %s: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	return data, nil
}

// #endregion file-store

// #region s3-store
// ObjectAPI is the subset of *s3.Client used by S3Store.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config selects the S3 endpoint. Empty Endpoint uses the default AWS
// resolution chain; set it (with static keys) for MinIO and similar.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// S3Store keeps objects in one bucket.
type S3Store struct {
	client ObjectAPI
	bucket string
}

// NewS3Store wraps an existing client.
func NewS3Store(client ObjectAPI, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// ConnectS3 builds an S3 client from cfg.
func ConnectS3(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if cfg.Endpoint != "" {
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return s3.NewFromConfig(aws.Config{Region: region}, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		}), nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(sdkConfig), nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}

// #endregion s3-store

// #region resolve
// Resolver turns URIs into a Store plus key, building the S3 client lazily.
type Resolver struct {
	S3 S3Config

	mu       sync.Mutex
	s3Client ObjectAPI
}

// NewResolver creates a resolver. client may be nil; it is then built from cfg on first use.
func NewResolver(cfg S3Config, client ObjectAPI) *Resolver {
	return &Resolver{S3: cfg, s3Client: client}
}

// Resolve returns the store and key for uri.
func (r *Resolver) Resolve(ctx context.Context, uri string) (Store, string, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, "", err
	}
	if loc.Scheme == "file" {
		return FileStore{}, loc.Key, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s3Client == nil {
		client, err := ConnectS3(ctx, r.S3)
		if err != nil {
			return nil, "", err
		}
		r.s3Client = client
	}
	return NewS3Store(r.s3Client, loc.Bucket), loc.Key, nil
}

// Write stores data at uri.
func (r *Resolver) Write(ctx context.Context, uri string, data []byte) error {
	store, key, err := r.Resolve(ctx, uri)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, data)
}

// Read fetches the object at uri.
func (r *Resolver) Read(ctx context.Context, uri string) ([]byte, error) {
	store, key, err := r.Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, key)
}

// #endregion resolve
