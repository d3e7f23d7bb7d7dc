package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/retry"
)

const (
	minPartSize int64 = manager.MinUploadPartSize

	putAttempts = 3
	retryMin    = 250 * time.Millisecond
	retryMax    = 2 * time.Second
)

// Writer uploads run artifacts. Single-request puts are retried; multipart
// uploads rely on the uploader's per-part retries.
type Writer struct {
	api      *s3.Client
	bucket   string
	attempts int
}

// NewWriter returns a Writer for the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{api: c.api, bucket: c.bucket, attempts: putAttempts}
}

// Put uploads data in one PutObject call. The body is buffered so a failed
// attempt can be replayed.
func (w *Writer) Put(ctx context.Context, key string, data io.Reader, contentType string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("s3blob: read %s: %w", key, err)
	}
	return withRetry(ctx, w.attempts, "put "+key, func(ctx context.Context) error {
		_, err := w.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(w.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(body),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(int64(len(body))),
		})
		return err
	})
}

// PutMultipart streams data through the multipart uploader. partSize is
// raised to the S3 minimum of 5 MiB.
func (w *Writer) PutMultipart(ctx context.Context, key string, data io.Reader, partSize int64) error {
	partSize = max(partSize, minPartSize)
	up := manager.NewUploader(w.api, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	_, err := up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		var mu manager.MultiUploadFailure
		if errors.As(err, &mu) {
			return fmt.Errorf("s3blob: multipart %s (upload %s): %w", key, mu.UploadID(), err)
		}
		return fmt.Errorf("s3blob: multipart %s: %w", key, err)
	}
	return nil
}

func withRetry(ctx context.Context, attempts int, op string, fn func(context.Context) error) error {
	b := retry.NewBackoff(retryMin, retryMax)
	var err error
	for i := range max(attempts, 1) {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 || retry.Sleep(ctx, b.Next()) != nil {
			break
		}
	}
	return fmt.Errorf("s3blob: %s: %w", op, err)
}

var _ domain.BlobWriter = (*Writer)(nil)
