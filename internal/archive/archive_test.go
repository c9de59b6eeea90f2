package archive_test

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/spend-optimizer/internal/archive"
	"github.com/ignite/spend-optimizer/internal/domain"
)

type fakeS3 struct {
	key, encoding string
	body          []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.key = *in.Key
	f.encoding = *in.ContentEncoding
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

type fakeDynamo struct {
	items []map[string]types.AttributeValue
	query *dynamodb.QueryInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items = append(f.items, in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.query = in
	return &dynamodb.QueryOutput{Items: f.items}, nil
}

var cfg = archive.Config{Enabled: true, Bucket: "opt-archive", Prefix: "prod/", Table: "opt-reports"}

func TestArchivePlanGzipped(t *testing.T) {
	objects := &fakeS3{}
	a := archive.NewWithClients(objects, &fakeDynamo{}, cfg)
	plan := &domain.AllocationPlan{ID: "p1", ScopeID: "acct", TotalBudget: 100, GeneratedAt: time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)}

	require.NoError(t, a.ArchivePlan(context.Background(), plan))
	assert.Equal(t, "prod/plans/acct/2026-03-15/p1.json.gz", objects.key)
	assert.Equal(t, "gzip", objects.encoding)

	zr, err := gzip.NewReader(strings.NewReader(string(objects.body)))
	require.NoError(t, err)
	var got domain.AllocationPlan
	require.NoError(t, json.NewDecoder(zr).Decode(&got))
	assert.Equal(t, 100.0, got.TotalBudget)
}

func TestArchiveReportRoundTrip(t *testing.T) {
	items := &fakeDynamo{}
	a := archive.NewWithClients(&fakeS3{}, items, cfg)
	ctx := context.Background()
	evaluated := time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)
	report := domain.TrackingReport{RecordID: "r1", SegmentID: "kw", Score: 31, Recommendation: domain.RecommendKeep, EvaluatedAt: evaluated}

	require.NoError(t, a.ArchiveReport(ctx, "acct", report))
	require.Len(t, items.items, 1)

	var stored archive.ReportItem
	require.NoError(t, attributevalue.UnmarshalMap(items.items[0], &stored))
	assert.Equal(t, "SCOPE#acct", stored.PK)
	assert.Equal(t, "REPORT#2026-03-25T00:00:00Z#r1", stored.SK)
	assert.Equal(t, "keep", stored.Recommendation)
	assert.Greater(t, stored.TTL, time.Now().Unix())

	got, err := a.Reports(ctx, "acct", evaluated.Add(-time.Hour), evaluated.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 31.0, got[0].Score)
	assert.Equal(t, "opt-reports", *items.query.TableName)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, archive.Config{}.Validate())
	assert.Error(t, archive.Config{Enabled: true, Bucket: "b"}.Validate())
	assert.NoError(t, cfg.Validate())
}

func TestNoop(t *testing.T) {
	var n archive.Noop
	assert.NoError(t, n.ArchivePlan(context.Background(), &domain.AllocationPlan{}))
	assert.NoError(t, n.ArchiveReport(context.Background(), "acct", domain.TrackingReport{}))
}
