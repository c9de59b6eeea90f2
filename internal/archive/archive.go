// Package archive keeps long-term copies of generated allocation plans in S3
// and of tracking reports in DynamoDB, outside the transactional store.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/spend-optimizer/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05Z"

// Config selects the archive destinations.
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	Region    string        `yaml:"region"`
	Bucket    string        `yaml:"bucket"`
	Prefix    string        `yaml:"prefix"`
	Table     string        `yaml:"table"`
	ReportTTL time.Duration `yaml:"report_ttl"`
}

// Validate checks the destinations when archiving is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Bucket == "" || c.Table == "" {
		return errors.New("archive: bucket and table are required when enabled")
	}
	return nil
}

// ObjectPutter is the subset of the S3 client used for plans.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ItemStore is the subset of the DynamoDB client used for reports.
type ItemStore interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ReportItem is a tracking report as stored in DynamoDB.
type ReportItem struct {
	PK             string  `dynamodbav:"PK"`
	SK             string  `dynamodbav:"SK"`
	RecordID       string  `dynamodbav:"RecordID"`
	SegmentID      string  `dynamodbav:"SegmentID"`
	Score          float64 `dynamodbav:"Score"`
	Recommendation string  `dynamodbav:"Recommendation"`
	Data           string  `dynamodbav:"Data"`
	Timestamp      string  `dynamodbav:"Timestamp"`
	TTL            int64   `dynamodbav:"TTL,omitempty"`
}

// AWSArchive implements engine.Archiver.
type AWSArchive struct {
	objects ObjectPutter
	items   ItemStore
	cfg     Config
	now     func() time.Time
}

// New loads the default AWS configuration and builds the S3 and DynamoDB
// clients.
func New(ctx context.Context, cfg Config) (*AWSArchive, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewWithClients(s3.NewFromConfig(awsCfg), dynamodb.NewFromConfig(awsCfg), cfg), nil
}

// NewWithClients builds an archive over existing clients.
func NewWithClients(objects ObjectPutter, items ItemStore, cfg Config) *AWSArchive {
	if cfg.ReportTTL == 0 {
		cfg.ReportTTL = 365 * 24 * time.Hour
	}
	return &AWSArchive{objects: objects, items: items, cfg: cfg, now: time.Now}
}

// PlanKey is the object key for a plan.
func (a *AWSArchive) PlanKey(p *domain.AllocationPlan) string {
	return fmt.Sprintf("%splans/%s/%s/%s.json.gz", a.cfg.Prefix, p.ScopeID, p.GeneratedAt.UTC().Format("2006-01-02"), p.ID)
}

// ArchivePlan writes the plan as gzipped JSON.
func (a *AWSArchive) ArchivePlan(ctx context.Context, p *domain.AllocationPlan) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("compressing plan: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compressing plan: %w", err)
	}

	_, err = a.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.cfg.Bucket),
		Key:             aws.String(a.PlanKey(p)),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("putting plan to S3: %w", err)
	}
	return nil
}

// ArchiveReport stores one tracking report under its scope.
func (a *AWSArchive) ArchiveReport(ctx context.Context, scopeID string, r domain.TrackingReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	now := a.now().UTC()
	item := ReportItem{
		PK:             "SCOPE#" + scopeID,
		SK:             fmt.Sprintf("REPORT#%s#%s", r.EvaluatedAt.UTC().Format(timeLayout), r.RecordID),
		RecordID:       r.RecordID,
		SegmentID:      r.SegmentID,
		Score:          r.Score,
		Recommendation: string(r.Recommendation),
		Data:           string(data),
		Timestamp:      now.Format(time.RFC3339),
		TTL:            now.Add(a.cfg.ReportTTL).Unix(),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	_, err = a.items.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(a.cfg.Table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting report to DynamoDB: %w", err)
	}
	return nil
}

// Reports returns the archived reports of a scope evaluated in [from, to].
func (a *AWSArchive) Reports(ctx context.Context, scopeID string, from, to time.Time) ([]domain.TrackingReport, error) {
	out, err := a.items.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(a.cfg.Table),
		KeyConditionExpression: aws.String("PK = :pk AND SK BETWEEN :from AND :to"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: "SCOPE#" + scopeID},
			":from": &types.AttributeValueMemberS{Value: "REPORT#" + from.UTC().Format(timeLayout)},
			":to":   &types.AttributeValueMemberS{Value: "REPORT#" + to.UTC().Format(timeLayout) + "#~"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying DynamoDB: %w", err)
	}

	var reports []domain.TrackingReport
	for _, raw := range out.Items {
		var item ReportItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			continue
		}
		var r domain.TrackingReport
		if err := json.Unmarshal([]byte(item.Data), &r); err != nil {
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Noop discards everything. Used when archiving is disabled.
type Noop struct{}

func (Noop) ArchivePlan(context.Context, *domain.AllocationPlan) error          { return nil }
func (Noop) ArchiveReport(context.Context, string, domain.TrackingReport) error { return nil }
