package audit

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// Archiver copies a rotated log file somewhere durable before it is pruned
type Archiver interface {
	Archive(ctx context.Context, path string) error
}

// ObjectPutter is the subset of the S3 client used for archiving
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures an S3Archiver
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string // For MinIO or other S3-compatible endpoints
	KeyPrefix    string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Archiver uploads rotated files to an S3 bucket under KeyPrefix
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3Archiver creates an archiver with an SDK client built from cfg
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required: %w", sentinel.ErrConfiguration)
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		// Static credentials for MinIO or explicit keys, otherwise the default chain
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3ArchiverWithClient(client, cfg.Bucket, cfg.KeyPrefix), nil
}

// NewS3ArchiverWithClient creates an archiver around an existing client
func NewS3ArchiverWithClient(client ObjectPutter, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key returns the object key used for the file at p
func (a *S3Archiver) Key(p string) string {
	return path.Join(a.prefix, filepath.Base(p))
}

// Archive uploads the file at p
func (a *S3Archiver) Archive(ctx context.Context, p string) error {
	file, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(p), err)
	}
	defer file.Close()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.Key(p)),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s: %w", filepath.Base(p), a.bucket, err)
	}

	return nil
}

// RetentionJanitor prunes rotated files on a cron schedule
type RetentionJanitor struct {
	rotation *RotationManager
	policy   RetentionPolicy
	archiver Archiver
	log      *logrus.Logger
	cron     *cron.Cron
}

// NewRetentionJanitor creates a janitor. The schedule uses the standard five
// field cron syntax, e.g. "0 3 * * *".
func NewRetentionJanitor(rotation *RotationManager, policy RetentionPolicy, archiver Archiver, schedule string, logger *logrus.Logger) (*RetentionJanitor, error) {
	if policy.ArchiveEnabled && archiver == nil {
		return nil, fmt.Errorf("archiving is enabled but no archiver is configured: %w", sentinel.ErrConfiguration)
	}
	if logger == nil {
		logger = logrus.New()
	}

	j := &RetentionJanitor{
		rotation: rotation,
		policy:   policy,
		archiver: archiver,
		log:      logger,
		cron:     cron.New(cron.WithLocation(time.UTC)),
	}

	if _, err := j.cron.AddFunc(schedule, func() { j.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w: %w", schedule, sentinel.ErrConfiguration, err)
	}

	return j, nil
}

// Start runs the schedule in the background
func (j *RetentionJanitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and returns a context that is done once a running prune finishes
func (j *RetentionJanitor) Stop() context.Context {
	return j.cron.Stop()
}

// RunOnce prunes immediately and returns the removed files
func (j *RetentionJanitor) RunOnce(ctx context.Context) []string {
	removed, err := j.rotation.Prune(ctx, j.policy, j.archiver)
	if err != nil {
		j.log.WithError(err).WithField("removed", len(removed)).Error("audit log retention failed")
		return removed
	}
	if len(removed) > 0 {
		j.log.WithFields(logrus.Fields{
			"removed":  len(removed),
			"archived": j.policy.ArchiveEnabled,
		}).Info("pruned rotated audit log files")
	}
	return removed
}
