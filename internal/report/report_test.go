package report

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castline/internal/config"
	"castline/internal/engine"
)

func sampleReport() engine.IntegrityReport {
	return engine.IntegrityReport{
		GeneratedAt:        "2024-01-01T00:00:00Z",
		SubmissionsScanned: 2,
		RolesScanned:       1,
		Counts:             engine.IntegrityCounts{Valid: 1, OrphanedFixable: 1},
		Fixes:              []engine.ProposedFix{{SubmissionID: "s1", ProjectID: "p1", RoleName: "Extra", FromRoleID: "rX", ToRoleID: "r1"}},
		Unresolved:         []engine.UnresolvedSubmission{},
	}
}

func TestFSSinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	sink := FSSink{Dir: t.TempDir()}
	at := time.Date(2024, 3, 2, 10, 4, 5, 0, time.UTC)

	loc, err := Export(ctx, sink, "integrity", at, sampleReport())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(loc, "integrity-20240302T100405Z.json"))

	rep, err := LoadIntegrity(ctx, sink, Name("integrity", at))
	require.NoError(t, err)
	assert.Equal(t, sampleReport(), rep)

	_, err = sink.Get(ctx, "missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = sink.Put(ctx, "../escape.json", []byte("{}"))
	assert.Error(t, err)
}

func TestDecodeIntegrityRejectsUnknownFields(t *testing.T) {
	_, err := DecodeIntegrity(strings.NewReader(`{"fixes":[],"surprise":true}`))
	assert.Error(t, err)
}

func TestOpenSelectsSink(t *testing.T) {
	sink, err := Open(context.Background(), config.ReportsConfig{Sink: config.SinkFS, Dir: "out"})
	require.NoError(t, err)
	assert.Equal(t, FSSink{Dir: "out"}, sink)

	_, err = Open(context.Background(), config.ReportsConfig{Sink: "ftp"})
	assert.Error(t, err)
}

// fakeS3 is a path-style in-memory bucket for PutObject and GetObject.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
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
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{"ETag": {`"etag"`}}}, nil
	case http.MethodGet:
		if body, ok := f.objects[key]; ok {
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body)), Header: http.Header{
				"Content-Length": {strconv.Itoa(len(body))},
				"Content-Type":   {"application/json"},
			}}, nil
		}
		msg := `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(msg)), Header: http.Header{"Content-Type": {"application/xml"}}}, nil
	}
	return &http.Response{StatusCode: http.StatusNotImplemented, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
}

// decodeChunked unwraps a single-chunk aws-chunked payload.
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.SplitN(string(b), "\r\n", 3)
	if len(parts) < 3 {
		return nil, false
	}
	size, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || int64(len(parts[1])) != size || !strings.HasPrefix(parts[2], "0") {
		return nil, false
	}
	return []byte(parts[1]), true
}

func TestS3SinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	sink, err := NewS3Sink(ctx, config.S3Config{
		Bucket:          "reports",
		Region:          "us-east-1",
		Endpoint:        "http://mock.s3.local",
		PathStyle:       true,
		Prefix:          "castline",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
	}, WithHTTPClient(&http.Client{Transport: fake}))
	require.NoError(t, err)

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	loc, err := Export(ctx, sink, "integrity", at, sampleReport())
	require.NoError(t, err)
	assert.Equal(t, "s3://reports/castline/integrity-20240101T000000Z.json", loc)
	assert.Contains(t, fake.objects, "reports/castline/integrity-20240101T000000Z.json")

	rep, err := LoadIntegrity(ctx, sink, "integrity-20240101T000000Z.json")
	require.NoError(t, err)
	assert.Equal(t, sampleReport().Fixes, rep.Fixes)

	_, err = sink.Get(ctx, "nope.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewS3SinkRequiresBucket(t *testing.T) {
	_, err := NewS3Sink(context.Background(), config.S3Config{})
	assert.Error(t, err)
}
