package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	gonanoid "github.com/matoous/go-nanoid/v2"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/transfer"
)

// ReportWriter publishes a batch skip report and returns a downloadable
// reference.
type ReportWriter interface {
	WriteSkipReport(ctx context.Context, entries []transfer.SkipEntry) (string, error)
}

// ReportService writes CSV skip reports to R2 storage.
type ReportService struct {
	config config.Config
}

func NewReportService(cfg config.Config) *ReportService {
	return &ReportService{config: cfg}
}

func (r *ReportService) r2Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r.config.R2.AccessKey, r.config.R2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r.config.R2.AccountID))
	}), nil
}

func (r *ReportService) WriteSkipReport(ctx context.Context, entries []transfer.SkipEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"date", "reason", "intended_local_time", "intended_utc_time", "media_url", "note"}); err != nil {
		return "", err
	}
	for _, e := range entries {
		if err := w.Write([]string{e.Date, e.Reason, e.IntendedLocalTime, e.IntendedUTCTime, e.MediaURL, e.Note}); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	salt, err := gonanoid.New(8)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("reports/skipped_%s_%s.csv", time.Now().UTC().Format("20060102_150405"), salt)

	client, err := r.r2Client(ctx)
	if err != nil {
		return "", err
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.config.R2.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	return r.publicURL(key), nil
}

func (r *ReportService) publicURL(key string) string {
	base := strings.TrimSuffix(r.config.R2.PublicBaseURL, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.r2.cloudflarestorage.com/%s", r.config.R2.AccountID, r.config.R2.BucketName)
	}
	return fmt.Sprintf("%s/%s", base, key)
}

// ResolveMediaURL turns a stored media reference into an absolute fetchable
// URL. Absolute references pass through untouched.
func ResolveMediaURL(baseURL, ref string) string {
	if ref == "" {
		return ref
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	base := strings.TrimSuffix(baseURL, "/")
	if strings.HasPrefix(ref, "/") {
		return base + ref
	}
	return base + "/" + ref
}
