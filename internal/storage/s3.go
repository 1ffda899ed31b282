package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/codebuildervaibhav/call-analyzer/internal/types"
)

// S3Archiver archives transcript metadata as JSON objects in a bucket
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ Archiver = (*S3Archiver)(nil)

// NewS3Archiver loads the default AWS credential chain
func NewS3Archiver(ctx context.Context, region, bucket, prefix string) (*S3Archiver, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	archiver := newS3Archiver(s3.NewFromConfig(awsCfg), bucket, prefix)
	if _, err := archiver.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("bucket %s not accessible: %w", bucket, err)
	}
	return archiver, nil
}

func newS3Archiver(client *s3.Client, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Archiver) Name() string { return "s3" }

// objectKey is <prefix>/<recording id>/<filename>.json
func (s *S3Archiver) objectKey(rec *types.Recording) string {
	return path.Join(strings.Trim(s.prefix, "/"), fmt.Sprintf("%d", rec.ID), sanitizeFilename(rec.Filename)+".json")
}

// Archive uploads the transcript document, replacing the object written by an
// earlier run for the same recording so the stored location stays current.
func (s *S3Archiver) Archive(ctx context.Context, rec *types.Recording, result *types.TranscriptResult) (string, error) {
	key := s.objectKey(rec)
	location := fmt.Sprintf("s3://%s/%s", s.bucket, key)

	doc, err := archiveDocument(rec, result)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(doc),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s (%s): %w", location, errorCode(err), err)
	}
	return location, nil
}

// errorCode extracts the S3 error code for log messages
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return "unknown"
}
