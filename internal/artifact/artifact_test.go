package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObjects struct {
	objects map[string][]byte
	putErr  error
	getErr  error
}

func (m *memObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestParse(t *testing.T) {
	cases := map[string]Location{
		"s3://models/heads/v1.json": {Scheme: "s3", Bucket: "models", Key: "heads/v1.json"},
		"file:///tmp/head.json":     {Scheme: "file", Key: "/tmp/head.json"},
		"data/head.json":            {Scheme: "file", Key: "data/head.json"},
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "s3://", "s3://bucket", "s3://bucket/", "file://"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
	assert.Equal(t, "s3://b/k", Location{Scheme: "s3", Bucket: "b", Key: "k"}.String())
}

func TestFileStore_RoundTrip(t *testing.T) {
	fs := FileStore{Root: t.TempDir()}
	ctx := context.Background()

	require.NoError(t, fs.Put(ctx, "nested/dir/curve.tsv", []byte("tau\n")))
	got, err := fs.Get(ctx, "nested/dir/curve.tsv")
	require.NoError(t, err)
	assert.Equal(t, []byte("tau\n"), got)

	_, err = fs.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store_RoundTrip(t *testing.T) {
	api := &memObjects{objects: map[string][]byte{}}
	store := NewS3Store(api, "models")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "head.json", []byte(`{"format":"x"}`)))
	got, err := store.Get(ctx, "head.json")
	require.NoError(t, err)
	assert.Equal(t, `{"format":"x"}`, string(got))

	_, err = store.Get(ctx, "absent.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store_GenericAPIErrorNotFound(t *testing.T) {
	api := &memObjects{getErr: &smithy.GenericAPIError{Code: "NotFound", Message: "gone"}}
	_, err := NewS3Store(api, "b").Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3Store_OtherErrorsSurface(t *testing.T) {
	boom := errors.New("network down")
	api := &memObjects{getErr: boom, putErr: boom}
	store := NewS3Store(api, "b")
	_, err := store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Put(context.Background(), "k", nil), boom)
}

func TestResolver_RoutesByScheme(t *testing.T) {
	api := &memObjects{objects: map[string][]byte{}}
	r := NewResolver(S3Config{}, api)
	ctx := context.Background()

	require.NoError(t, r.Write(ctx, "s3://bucket/a/b.json", []byte("s3")))
	assert.Contains(t, api.objects, "bucket/a/b.json")

	path := filepath.Join(t.TempDir(), "local.json")
	require.NoError(t, r.Write(ctx, path, []byte("local")))
	got, err := r.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "local", string(got))

	got, err = r.Read(ctx, "s3://bucket/a/b.json")
	require.NoError(t, err)
	assert.Equal(t, "s3", string(got))
}
