// Package archive keeps a copy of finished research reports.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"research-assistant/internal/config"
)

const (
	reportContentType = "text/markdown; charset=utf-8"
	s3Prefix          = "reports/"
)

// Sink stores a report under a job id and returns where it landed.
type Sink interface {
	Store(ctx context.Context, jobID, report string) (string, error)
}

// New picks a sink from configuration: S3 when a bucket is set, a local
// directory when an output dir is set, otherwise nil.
func New(ctx context.Context, cfg config.Config) (Sink, error) {
	switch {
	case cfg.ReportS3Bucket != "":
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &S3Sink{client: client, bucket: cfg.ReportS3Bucket}, nil
	case cfg.ReportOutputDir != "":
		return &LocalSink{BaseDir: cfg.ReportOutputDir}, nil
	default:
		return nil, nil
	}
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ReportS3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ReportS3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.ReportS3Endpoint)
		}
		o.UsePathStyle = cfg.ReportS3PathStyle
	}), nil
}

// reportName keeps job ids from escaping the archive root.
func reportName(jobID string) (string, error) {
	name := filepath.Base(filepath.Clean(jobID))
	if name == "." || name == string(filepath.Separator) || name == ".." || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("invalid job id %q", jobID)
	}
	return name + ".md", nil
}

// LocalSink writes <BaseDir>/<job_id>.md.
type LocalSink struct {
	BaseDir string
}

func (l *LocalSink) Store(_ context.Context, jobID, report string) (string, error) {
	name, err := reportName(jobID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.BaseDir, 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	path := filepath.Join(l.BaseDir, name)
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// S3Sink uploads reports/<job_id>.md to a bucket.
type S3Sink struct {
	client *s3.Client
	bucket string
}

func (s *S3Sink) Store(ctx context.Context, jobID, report string) (string, error) {
	name, err := reportName(jobID)
	if err != nil {
		return "", err
	}
	key := s3Prefix + name
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(report)),
		ContentType: aws.String(reportContentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
