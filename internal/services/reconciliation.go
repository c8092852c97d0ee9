package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"

	"function-ticketing-platform/internal/config"
)

// ReconciliationRecord documents a payment that was captured without a
// completed registration, for manual follow-up.
type ReconciliationRecord struct {
	RegistrationID string          `json:"registrationId"`
	FunctionID     string          `json:"functionId"`
	ContactEmail   string          `json:"contactEmail"`
	Provider       string          `json:"provider"`
	OrderID        string          `json:"orderId"`
	PaymentID      string          `json:"paymentId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Stage          string          `json:"stage"`
	Cause          string          `json:"cause"`
	RefundError    string          `json:"refundError,omitempty"`
	RecordedAt     time.Time       `json:"recordedAt"`
}

// Key returns the archive key reconciliation/<date>/<registration>.json
func (r *ReconciliationRecord) Key() string {
	id := r.RegistrationID
	if id == "" {
		id = r.PaymentID
	}
	return fmt.Sprintf("reconciliation/%s/%s.json", r.RecordedAt.UTC().Format("2006-01-02"), id)
}

// ReconciliationArchive stores reconciliation records
type ReconciliationArchive interface {
	Archive(ctx context.Context, record *ReconciliationRecord) (string, error)
}

// R2Archive stores records in a Cloudflare R2 bucket
type R2Archive struct {
	client *s3.Client
	bucket string
}

// NewR2Archive creates an R2 archive from configuration
func NewR2Archive(ctx context.Context, cfg config.R2Config) (*R2Archive, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("R2 credentials not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		} else {
			o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
		}
		o.UsePathStyle = true
	})

	return &R2Archive{client: client, bucket: cfg.BucketName}, nil
}

func (a *R2Archive) Archive(ctx context.Context, record *ReconciliationRecord) (string, error) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode reconciliation record: %w", err)
	}

	key := record.Key()
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}
	return key, nil
}

// CheckBucket verifies the bucket exists and the credentials can reach it
func (a *R2Archive) CheckBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		return fmt.Errorf("bucket %s is not reachable: %w", a.bucket, err)
	}
	return nil
}

// EnsureBucket creates the bucket when it does not exist yet
func (a *R2Archive) EnsureBucket(ctx context.Context) error {
	if a.CheckBucket(ctx) == nil {
		return nil
	}
	_, err := a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// ListRecords returns the archive keys recorded on day
func (a *R2Archive) ListRecords(ctx context.Context, day time.Time) ([]string, error) {
	prefix := fmt.Sprintf("reconciliation/%s/", day.UTC().Format("2006-01-02"))
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list reconciliation records: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// LocalArchive writes records under a directory
type LocalArchive struct {
	basePath string
}

// NewLocalArchive creates a local archive rooted at basePath
func NewLocalArchive(basePath string) *LocalArchive {
	return &LocalArchive{basePath: basePath}
}

func (a *LocalArchive) Archive(ctx context.Context, record *ReconciliationRecord) (string, error) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode reconciliation record: %w", err)
	}

	key := strings.TrimPrefix(record.Key(), "/")
	fullPath := filepath.Join(a.basePath, filepath.FromSlash(key))

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(fullPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write file %s: %w", fullPath, err)
	}
	return key, nil
}

// ListRecords returns the archive keys recorded on day
func (a *LocalArchive) ListRecords(ctx context.Context, day time.Time) ([]string, error) {
	dir := filepath.Join(a.basePath, "reconciliation", day.UTC().Format("2006-01-02"))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list reconciliation records: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		keys = append(keys, "reconciliation/"+day.UTC().Format("2006-01-02")+"/"+e.Name())
	}
	return keys, nil
}

// ArchiveWithFallback tries the primary archive and falls back to a second one
type ArchiveWithFallback struct {
	primary  ReconciliationArchive
	fallback ReconciliationArchive
	logger   *slog.Logger
}

// NewArchiveWithFallback creates an archive with fallback capability
func NewArchiveWithFallback(primary, fallback ReconciliationArchive, logger *slog.Logger) *ArchiveWithFallback {
	return &ArchiveWithFallback{primary: primary, fallback: fallback, logger: logger}
}

func (a *ArchiveWithFallback) Archive(ctx context.Context, record *ReconciliationRecord) (string, error) {
	key, err := a.primary.Archive(ctx, record)
	if err == nil {
		return key, nil
	}

	a.logger.Warn("primary reconciliation archive failed, using fallback",
		"registration_id", record.RegistrationID,
		"error", err,
	)
	return a.fallback.Archive(ctx, record)
}

// NewReconciliationArchive picks R2 when credentials are configured, with the
// local directory as fallback.
func NewReconciliationArchive(ctx context.Context, cfg config.R2Config, logger *slog.Logger) ReconciliationArchive {
	local := NewLocalArchive(cfg.LocalDir)

	r2, err := NewR2Archive(ctx, cfg)
	if err != nil {
		logger.Info("reconciliation archive using local storage", "dir", cfg.LocalDir, "reason", err)
		return local
	}
	return NewArchiveWithFallback(r2, local, logger)
}
