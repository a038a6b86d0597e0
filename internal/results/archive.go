package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by ArchiveStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveStore writes each prediction record as a JSON object to S3.
type ArchiveStore struct {
	bucket   string
	s3Client S3API
}

// NewArchiveStore creates an ArchiveStore. If bucket is empty, Record is a no-op.
func NewArchiveStore(s3Client S3API, bucket string) *ArchiveStore {
	return &ArchiveStore{bucket: bucket, s3Client: s3Client}
}

// Enabled returns true if archival is configured.
func (s *ArchiveStore) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// Record puts the record under a date-partitioned key.
func (s *ArchiveStore) Record(ctx context.Context, rec PredictionRecord) error {
	if !s.Enabled() {
		return nil
	}
	rec.Confidence = rec.RoundedConfidence()
	data, err := json.Marshal(rec)
	if err != nil {
		return rejected("s3", fmt.Errorf("marshal record: %w", err))
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(archiveKey(rec)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return unavailable("s3", err)
	}
	return nil
}

func archiveKey(rec PredictionRecord) string {
	t := rec.CreatedAt.UTC()
	return fmt.Sprintf("predictions/v1/%d/%02d/%02d/%s.json", t.Year(), t.Month(), t.Day(), rec.ID)
}
