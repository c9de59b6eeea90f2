package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/spend-optimizer/internal/domain"
	"github.com/ignite/spend-optimizer/internal/pkg/logger"
)

// Config controls notification delivery.
type Config struct {
	Enabled    bool     `yaml:"enabled"`
	Region     string   `yaml:"region"`
	AccessKey  string   `yaml:"access_key"`
	SecretKey  string   `yaml:"secret_key"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`

	// OnlyProblems suppresses batch mails for fully completed batches.
	OnlyProblems bool `yaml:"only_problems"`
}

// Validate checks the delivery settings when e-mail is enabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.From == "" || len(c.Recipients) == 0 {
		return errors.New("notify: from and recipients are required when enabled")
	}
	return nil
}

// EmailSender is the subset of the SES v2 client used here.
type EmailSender interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// NewSESClient builds an SES v2 client from static credentials, falling
// back to the default credential chain when none are configured.
func NewSESClient(ctx context.Context, cfg Config) (*sesv2.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return sesv2.NewFromConfig(awsCfg), nil
}

// EmailNotifier implements engine.Notifier over SES.
type EmailNotifier struct {
	client   EmailSender
	cfg      Config
	renderer *Renderer
	log      *logger.Logger
}

// NewEmailNotifier creates an SES-backed notifier.
func NewEmailNotifier(client EmailSender, cfg Config) *EmailNotifier {
	return &EmailNotifier{client: client, cfg: cfg, renderer: NewRenderer(), log: logger.Component("notify")}
}

func (n *EmailNotifier) BatchFinished(ctx context.Context, sum domain.ExecutionSummary) error {
	if n.cfg.OnlyProblems && sum.Batch.Status == domain.BatchCompleted {
		return nil
	}
	msg, err := n.renderer.BatchMessage(sum)
	if err != nil {
		return err
	}
	return n.send(ctx, msg, "batch_id", sum.Batch.ID)
}

func (n *EmailNotifier) AutoRolledBack(ctx context.Context, rec domain.ExecutionRecord, report domain.TrackingReport) error {
	msg, err := n.renderer.RollbackMessage(rec, report)
	if err != nil {
		return err
	}
	return n.send(ctx, msg, "record_id", rec.ID)
}

func (n *EmailNotifier) send(ctx context.Context, msg Message, tagName, tagValue string) error {
	in := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.cfg.From),
		Destination:      &types.Destination{ToAddresses: n.cfg.Recipients},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{{Name: aws.String(tagName), Value: aws.String(tagValue)}},
	}
	if _, err := n.client.SendEmail(ctx, in); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	redacted := make([]string, len(n.cfg.Recipients))
	for i, r := range n.cfg.Recipients {
		redacted[i] = logger.RedactEmail(r)
	}
	n.log.Info("notification sent", "subject", msg.Subject, "to", strings.Join(redacted, ","))
	return nil
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	renderer *Renderer
	log      *logger.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{renderer: NewRenderer(), log: logger.Component("notify")}
}

func (n *LogNotifier) BatchFinished(_ context.Context, sum domain.ExecutionSummary) error {
	msg, err := n.renderer.BatchMessage(sum)
	if err != nil {
		return err
	}
	n.log.Info(msg.Subject, "batch_id", sum.Batch.ID, "succeeded", sum.Batch.Succeeded, "failed", sum.Batch.Failed)
	return nil
}

func (n *LogNotifier) AutoRolledBack(_ context.Context, rec domain.ExecutionRecord, report domain.TrackingReport) error {
	msg, err := n.renderer.RollbackMessage(rec, report)
	if err != nil {
		return err
	}
	n.log.Warn(msg.Subject, "record_id", rec.ID, "score", report.Score)
	return nil
}
