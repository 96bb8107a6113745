// Package blob archives raw ingested documents in an S3-compatible bucket
// (Supabase Storage, MinIO, S3).
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dotcommander/lore/internal/app"
	"github.com/dotcommander/lore/internal/apperr"
)

const (
	keyPrefix     = "documents"
	maxNameLength = 96
	service       = "blob"
)

// Store is a bucket-scoped document archive.
type Store struct {
	client *minio.Client
	bucket string
	region string
	now    func() time.Time
}

// New connects to the configured endpoint. It does not touch the network;
// call EnsureBucket to verify access.
func New(cfg app.BlobSettings) (*Store, error) {
	if !cfg.Enabled() {
		return nil, &apperr.AppError{
			Code:    apperr.CodeUnavailable,
			Message: "document archive is not configured",
			Hint:    "set blob.endpoint or LORE_BLOB_ENDPOINT",
		}
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, apperr.Validation("blob.bucket", "is required")
	}
	endpoint := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://"), "/")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL || strings.HasPrefix(cfg.Endpoint, "https://"),
		Region: cfg.Region,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "invalid blob endpoint", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, region: cfg.Region, now: time.Now}, nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return blobErr("bucket_exists", err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		// Lost a creation race with another writer.
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return blobErr("make_bucket", err)
	}
	return nil
}

// Put stores content under a content-addressed key derived from name and
// returns the key.
func (s *Store) Put(ctx context.Context, name string, content []byte, contentType string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", apperr.Validation("name", "is required")
	}
	key := ObjectKey(name, content, s.now())
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"original-name": filepath.Base(name)},
	})
	if err != nil {
		return "", blobErr("put", err)
	}
	return key, nil
}

// Get reads an archived object.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, blobErr("get", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, apperr.NotFound("object", key)
		}
		return nil, blobErr("get", err)
	}
	return data, nil
}

// Delete removes an archived object. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return blobErr("delete", err)
	}
	return nil
}

// ObjectKey returns documents/{yyyy}/{mm}/{sha256[:16]}-{sanitized name}.
func ObjectKey(name string, content []byte, now time.Time) string {
	sum := sha256.Sum256(content)
	now = now.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%s-%s", keyPrefix, now.Year(), int(now.Month()), hex.EncodeToString(sum[:])[:16], SanitizeName(name))
}

// SanitizeName reduces a file name to [a-z0-9._-], keeping the extension.
func SanitizeName(name string) string {
	base := strings.ToLower(filepath.Base(strings.ReplaceAll(name, `\`, "/")))
	var b strings.Builder
	lastDash := false
	for _, r := range base {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	out := strings.Trim(b.String(), "-.")
	if len(out) > maxNameLength {
		out = out[len(out)-maxNameLength:]
	}
	if out == "" {
		return "document"
	}
	return out
}

// blobErr classifies a minio error.
func blobErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.External(service, op, 0, err)
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey":
		return apperr.NotFound("object", resp.Key)
	case "NoSuchBucket":
		return &apperr.AppError{
			Code:    apperr.CodeUnavailable,
			Message: "bucket " + resp.BucketName + " does not exist",
			Hint:    "run `lore doctor` to create it",
			Cause:   err,
		}
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusBadGateway
	}
	return apperr.External(service, op, status, err)
}
