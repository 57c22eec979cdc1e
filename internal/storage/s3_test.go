package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in memory and pages listings two keys at a time.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	failPuts int // PutObject fails this many times first
	putCalls int
	bare404  bool // report missing keys as a plain 404 response
	listErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) missing() error {
	if f.bare404 {
		return &awshttp.ResponseError{ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusNotFound}},
			Err:      errors.New("not found"),
		}}
	}
	return nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putCalls <= f.failPuts {
		return nil, errors.New("slow down")
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		if err := f.missing(); err != nil {
			return nil, err
		}
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		if err := f.missing(); err != nil {
			return nil, err
		}
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := start + 2
	out := &s3.ListObjectsV2Output{}
	if end < len(keys) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func newFakeStore(f *fakeS3) *S3Storage {
	return newS3Storage(f, S3Config{Bucket: "boundaries", Prefix: "dhis2sql/", RetryBase: time.Millisecond})
}

func TestS3Storage_PutGetDelete(t *testing.T) {
	fake := newFakeS3()
	s := newFakeStore(fake)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "cache/1/2.snappy", []byte("geo")))
	assert.Contains(t, fake.objects, "dhis2sql/cache/1/2.snappy", "keys carry the prefix")

	got, err := s.Get(ctx, "cache/1/2.snappy")
	require.NoError(t, err)
	assert.Equal(t, []byte("geo"), got)

	ok, err := s.Exists(ctx, "cache/1/2.snappy")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "cache/1/2.snappy"))
	_, err = s.Get(ctx, "cache/1/2.snappy")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	ok, err = s.Exists(ctx, "cache/1/2.snappy")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3Storage_Bare404IsNotFound(t *testing.T) {
	fake := newFakeS3()
	fake.bare404 = true
	s := newFakeStore(fake)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	ok, err := s.Exists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3Storage_RetriesTransientFailures(t *testing.T) {
	fake := newFakeS3()
	fake.failPuts = 2
	s := newFakeStore(fake)

	require.NoError(t, s.Put(context.Background(), "a", []byte("x")))
	assert.Equal(t, 3, fake.putCalls)

	fake.failPuts, fake.putCalls = 10, 0
	err := s.Put(context.Background(), "b", []byte("x"))
	assert.ErrorIs(t, err, ErrPutFailed)
	assert.Equal(t, 4, fake.putCalls, "one attempt plus three retries")
}

func TestS3Storage_RetryStopsOnCancel(t *testing.T) {
	fake := newFakeS3()
	fake.failPuts = 10
	s := newS3Storage(fake, S3Config{Bucket: "b", RetryBase: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := s.Put(ctx, "a", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fake.putCalls)
}

func TestS3Storage_ListObjectsPages(t *testing.T) {
	fake := newFakeS3()
	s := newFakeStore(fake)
	ctx := context.Background()

	for _, p := range []string{"cache/1/a", "cache/1/b", "cache/1/c", "cache/2/a", "other"} {
		require.NoError(t, s.Put(ctx, p, []byte(p)))
	}

	paths, err := s.ListObjects(ctx, "cache/1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache/1/a", "cache/1/b", "cache/1/c"}, paths)

	fake.listErr = errors.New("access denied")
	_, err = s.ListObjects(ctx, "")
	assert.Error(t, err)
}

func TestS3Storage_InvalidPaths(t *testing.T) {
	s := newFakeStore(newFakeS3())
	for _, p := range []string{"", "/abs", "a/../b"} {
		assert.ErrorIs(t, s.Put(context.Background(), p, nil), ErrInvalidPath, p)
		_, err := s.Get(context.Background(), p)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestNewS3Storage_RequiresBucket(t *testing.T) {
	_, err := NewS3Storage(context.Background(), S3Config{})
	assert.Error(t, err)
}
