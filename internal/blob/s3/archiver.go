package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// RunArchiver uploads one run's artifacts under
// {prefix}/{YYYY-MM-DD}/{runID}/. Artifacts are written once at shutdown.
type RunArchiver struct {
	writer domain.BlobWriter
	prefix string
	runID  string
	start  time.Time
}

// NewRunArchiver creates an archiver for the run that started at start.
func NewRunArchiver(writer domain.BlobWriter, prefix, runID string, start time.Time) *RunArchiver {
	return &RunArchiver{writer: writer, prefix: prefix, runID: runID, start: start.UTC()}
}

// Key returns the object key for an artifact name.
func (a *RunArchiver) Key(name string) string {
	return path.Join(a.prefix, a.start.Format("2006-01-02"), a.runID, name)
}

// UploadJournal uploads the JSONL journal at localPath. Files larger than one
// multipart part go through the multipart uploader.
func (a *RunArchiver) UploadJournal(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("s3blob: open journal: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("s3blob: stat journal: %w", err)
	}

	key := a.Key("journal.jsonl")
	if info.Size() > minPartSize {
		err = a.writer.PutMultipart(ctx, key, f, minPartSize)
	} else {
		err = a.writer.Put(ctx, key, f, "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: upload journal: %w", err)
	}
	return key, nil
}

// UploadJSON uploads v as an indented JSON document named name.
func (a *RunArchiver) UploadJSON(ctx context.Context, name string, v any) (string, error) {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal %s: %w", name, err)
	}
	key := a.Key(name)
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: upload %s: %w", name, err)
	}
	return key, nil
}

// UploadJSONL uploads records as newline-delimited JSON named name. Empty
// input uploads nothing.
func UploadJSONL[T any](ctx context.Context, a *RunArchiver, name string, records []T) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal %s: %w", name, err)
	}
	key := a.Key(name)
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: upload %s: %w", name, err)
	}
	return key, nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
