package connector

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veridia/parley/errors"
	"github.com/veridia/parley/record"
)

type fakeS3 struct {
	objects   map[string]string // key -> body
	pages     [][]string        // listing order, one slice per page
	headErr   error
	getErrs   map[string]error
	listCalls int
	headCalls int
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.headCalls++
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	pageIdx := 0
	if params.ContinuationToken != nil {
		pageIdx = int((*params.ContinuationToken)[0] - '0')
	}
	f.listCalls++

	var contents []s3types.Object
	for _, key := range f.pages[pageIdx] {
		k := key
		contents = append(contents, s3types.Object{Key: &k})
	}
	out := &s3.ListObjectsV2Output{Contents: contents}
	truncated := pageIdx < len(f.pages)-1
	out.IsTruncated = &truncated
	if truncated {
		next := string(rune('0' + pageIdx + 1))
		out.NextContinuationToken = &next
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := *params.Key
	if err := f.getErrs[key]; err != nil {
		return nil, err
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, errors.Newf("no such key %q", key)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func newTestS3(fake *fakeS3) *S3 {
	return &S3{
		name:   "bucket-source",
		bucket: "conversations",
		client: fake,
		guard:  NewFetchGuard(fastGuardConfig()),
		logger: zap.NewNop().Sugar(),
	}
}

func TestS3FetchPaginates(t *testing.T) {
	fake := &fakeS3{
		pages: [][]string{
			{"a.json", "skip.parquet"},
			{"b.json"},
		},
		objects: map[string]string{
			"a.json": `{"id": "rec-a", "rows": []}`,
			"b.json": `{"id": "rec-b", "rows": []}`,
		},
	}
	c := newTestS3(fake)

	out, errs := c.Fetch(context.Background())
	records, fetchErrs := drain(t, out, errs)
	require.Len(t, records, 2)
	assert.Empty(t, fetchErrs)
	assert.Equal(t, 2, fake.listCalls)
	assert.Equal(t, "s3://conversations/a.json", records[0].SourceID)
	assert.Equal(t, "s3://conversations/b.json", records[1].SourceID)
	assert.Equal(t, record.SourceS3, records[0].SourceType)
	assert.Equal(t, int64(1), records[0].Sequence)
	assert.Equal(t, int64(2), records[1].Sequence)
}

func TestS3ContinuesPastFailedObjects(t *testing.T) {
	fake := &fakeS3{
		pages: [][]string{{"broken.json", "ok.json"}},
		objects: map[string]string{
			"ok.json": `{"id": "rec-ok", "rows": []}`,
		},
		getErrs: map[string]error{"broken.json": errors.New("access denied")},
	}
	c := newTestS3(fake)
	c.guard.retries = 0

	out, errs := c.Fetch(context.Background())
	records, fetchErrs := drain(t, out, errs)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-ok", records[0].RawPayload["id"])
	require.Len(t, fetchErrs, 1)
	assert.Contains(t, fetchErrs[0].Error(), "broken.json")
}

func TestS3ConnectFailureIsConnectionError(t *testing.T) {
	fake := &fakeS3{headErr: errors.New("no such bucket")}
	c := newTestS3(fake)
	c.guard.retries = 0

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConnectionError(err))
	assert.Equal(t, 1, fake.headCalls)
}

func TestS3MaxRecordsStopsPagination(t *testing.T) {
	fake := &fakeS3{
		pages: [][]string{
			{"a.json", "b.json"},
			{"c.json"},
		},
		objects: map[string]string{
			"a.json": `{"id": "rec-a"}`,
			"b.json": `{"id": "rec-b"}`,
			"c.json": `{"id": "rec-c"}`,
		},
	}
	c := newTestS3(fake)
	c.maxRecords = 2

	out, errs := c.Fetch(context.Background())
	records, _ := drain(t, out, errs)
	assert.Len(t, records, 2)
	assert.Equal(t, 1, fake.listCalls, "second page must never be requested")
}
