package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchPath(t *testing.T) {
	run := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

	assert.Equal(t, "rent_vhc/mysql_export/users_2024-06-01.parquet",
		BatchPath("rent_vhc/mysql_export", "users", run, "parquet"))
	assert.Equal(t, "rent_vhc/users_2024-06-01.parquet", BatchPath("/rent_vhc/", "users", run, "parquet"))
	assert.Equal(t, "users_2024-06-01.parquet", BatchPath("", "users", run, "parquet"))
}

func TestLocalStore_PutOverwrites(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	p := "export/users_2024-06-01.parquet"
	require.NoError(t, s.Put(ctx, p, []byte("first")))
	require.NoError(t, s.Put(ctx, p, []byte("second")))

	got, err := s.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	entries, err := os.ReadDir(filepath.Join(root, "export"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "rerun must not leave extra objects")
}

func TestLocalStore_NotFoundAndEscape(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStore(root)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "missing.parquet")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(context.Background(), "../../escape.bin", []byte("x")))
	_, err = os.Stat(filepath.Join(root, "escape.bin"))
	assert.NoError(t, err, "paths are confined to the root")

	assert.Error(t, s.Put(context.Background(), "", []byte("x")))
}

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Store(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	s := newS3Store(fake, "lake", "raw")
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "users_2024-06-01.parquet", []byte("v1")))
	require.NoError(t, s.Put(ctx, "users_2024-06-01.parquet", []byte("v2")))
	assert.Len(t, fake.objects, 1)
	assert.Equal(t, []byte("v2"), fake.objects["lake/raw/users_2024-06-01.parquet"])

	got, err := s.Get(ctx, "users_2024-06-01.parquet")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	_, err = s.Get(ctx, "nope.parquet")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, "s3://lake/raw/users_2024-06-01.parquet", s.URI("users_2024-06-01.parquet"))

	fake.putErr = errors.New("access denied")
	err = s.Put(ctx, "x.parquet", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewMinioStore_Validation(t *testing.T) {
	_, err := NewMinioStore(MinioOptions{Endpoint: "localhost:9000"})
	assert.Error(t, err)

	s, err := NewMinioStore(MinioOptions{Endpoint: "localhost:9000", Bucket: "lake", Prefix: "raw"})
	require.NoError(t, err)
	assert.Equal(t, "s3://lake/raw/users.parquet", s.URI("users.parquet"))
}
