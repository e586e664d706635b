package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tunedb/internal/config"
	"github.com/roach88/tunedb/internal/database/memory"
)

// fakeS3 serves path-style GetObject and PutObject from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.TrimPrefix(req.URL.Path, "/")
	switch req.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		f.objects[key] = body
		f.puts++
		return respond(http.StatusOK, nil, http.Header{"ETag": {`"etag"`}}), nil
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			msg := `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`
			return respond(http.StatusNotFound, []byte(msg), http.Header{"Content-Type": {"application/xml"}}), nil
		}
		return respond(http.StatusOK, body, http.Header{
			"Content-Length": {strconv.Itoa(len(body))},
			"Content-Type":   {"application/x-ndjson"},
		}), nil
	}
	return respond(http.StatusNotImplemented, nil, http.Header{}), nil
}

func respond(status int, body []byte, h http.Header) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: h}
}

// decodeChunked unwraps a single-chunk aws-chunked payload: <hex>\r\n<body>\r\n0\r\n...
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.SplitN(string(b), "\r\n", 3)
	if len(parts) < 3 || !strings.HasPrefix(parts[2], "0") {
		return nil, false
	}
	sz, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || int64(len(parts[1])) != sz {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newTestBucket(t *testing.T, prefix string) (*Bucket, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	cfg := config.ArchiveConfig{
		Bucket:          "dumps",
		Region:          "us-east-1",
		Endpoint:        "https://mock.s3.local",
		Prefix:          prefix,
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
	}
	b, err := NewS3(context.Background(), cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
	})
	require.NoError(t, err)
	return b, fake
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), config.ArchiveConfig{Region: "us-east-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket required")
}

func TestBucketKey(t *testing.T) {
	b, _ := newTestBucket(t, "tunedb/")
	assert.Equal(t, "tunedb/nightly.jsonl", b.Key("nightly.jsonl"))

	bare, _ := newTestBucket(t, "")
	assert.Equal(t, "nightly.jsonl", bare.Key("nightly.jsonl"))
}

func TestBucketUploadDownload(t *testing.T) {
	ctx := context.Background()
	b, fake := newTestBucket(t, "tunedb/")

	payload := []byte(`["workload",["abc","def"]]` + "\n")
	require.NoError(t, b.Upload(ctx, "a.jsonl", payload))
	assert.Equal(t, 1, fake.puts)
	assert.Contains(t, fake.objects, "dumps/tunedb/a.jsonl")

	got, err := b.Download(ctx, "a.jsonl")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestBucketDownloadMissing(t *testing.T) {
	b, _ := newTestBucket(t, "tunedb/")
	_, err := b.Download(context.Background(), "absent.jsonl")
	require.ErrorIs(t, err, ErrNoDump)
}

func TestDumpThroughBucket(t *testing.T) {
	ctx := context.Background()
	src, recs := seeded(t)
	b, _ := newTestBucket(t, "tunedb/")

	var buf bytes.Buffer
	_, err := Write(ctx, src, &buf)
	require.NoError(t, err)
	require.NoError(t, b.Upload(ctx, "dump.jsonl", buf.Bytes()))

	data, err := b.Download(ctx, "dump.jsonl")
	require.NoError(t, err)
	dst := memory.New()
	sum, err := Read(ctx, bytes.NewReader(data), dst)
	require.NoError(t, err)
	assert.Equal(t, len(recs), sum.Records, fmt.Sprintf("dump was %d bytes", len(data)))
}
