package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/mikeyg42/videoscope/internal/config"
	"github.com/mikeyg42/videoscope/internal/report"
)

// MinIOSink uploads reports, and optionally the annotated video, under
// <prefix>/<run_id>/.
type MinIOSink struct {
	client      *minio.Client
	config      config.MinIOConfig
	uploadVideo bool
	logger      *zap.Logger
}

// NewMinIOSink connects to MinIO and makes sure the bucket exists.
func NewMinIOSink(ctx context.Context, cfg config.MinIOConfig, uploadVideo bool) (*MinIOSink, error) {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	s := &MinIOSink{
		client:      client,
		config:      cfg,
		uploadVideo: uploadVideo,
		logger:      zap.L().Named("minio-store"),
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, &StorageError{Op: "bucket_exists", Key: cfg.Bucket, Err: err, StatusCode: statusCode(err)}
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, &StorageError{Op: "make_bucket", Key: cfg.Bucket, Err: err, StatusCode: statusCode(err)}
		}
		s.logger.Info("Created MinIO bucket", zap.String("bucket", cfg.Bucket))
	}
	return s, nil
}

// ReportKey returns the object key of a run's report.
func (s *MinIOSink) ReportKey(runID string) string {
	return objectKey(s.config.Prefix, runID, "report.json")
}

// Persist uploads the report, then the video when enabled.
func (s *MinIOSink) Persist(ctx context.Context, r *report.Report) error {
	data, err := r.MarshalIndent()
	if err != nil {
		return &StorageError{Op: "encode", Key: r.RunID, Err: err}
	}

	key := s.ReportKey(r.RunID)
	if err := s.put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return err
	}
	s.logger.Info("Report uploaded", zap.String("bucket", s.config.Bucket), zap.String("key", key))

	if s.uploadVideo && r.OutputVideo != "" {
		return s.putFile(ctx, objectKey(s.config.Prefix, r.RunID, filepath.Base(r.OutputVideo)), r.OutputVideo)
	}
	return nil
}

func (s *MinIOSink) putFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return &StorageError{Op: "put_file", Key: key, Err: err}
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return &StorageError{Op: "put_file", Key: key, Err: err}
	}
	if err := s.put(ctx, key, file, stat.Size(), contentType(filePath)); err != nil {
		return err
	}
	s.logger.Info("Video uploaded", zap.String("key", key), zap.Int64("size", stat.Size()))
	return nil
}

func (s *MinIOSink) put(ctx context.Context, key string, reader io.ReadSeeker, size int64, ctype string) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	newBackoff := func() backoff.BackOff {
		ebo := backoff.NewExponentialBackOff()
		ebo.InitialInterval = 500 * time.Millisecond
		ebo.Reset()
		return backoff.WithMaxRetries(ebo, uint64(s.config.MaxRetries))
	}

	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 {
			if _, err := reader.Seek(0, io.SeekStart); err != nil {
				return backoff.Permanent(fmt.Errorf("seek reset failed: %w", err))
			}
		}

		info, err := s.client.PutObject(ctx, s.config.Bucket, key, reader, size, minio.PutObjectOptions{ContentType: ctype})
		if err != nil {
			code := statusCode(err)
			if code == http.StatusForbidden || code == http.StatusBadRequest {
				return backoff.Permanent(err)
			}
			s.logger.Warn("Upload attempt failed", zap.String("key", key), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}

		s.logger.Debug("Object uploaded",
			zap.String("key", key),
			zap.Int64("size", info.Size),
			zap.String("etag", info.ETag))
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(newBackoff(), ctx)); err != nil {
		code := statusCode(err)
		return &StorageError{
			Op:         "put",
			Key:        key,
			Err:        err,
			StatusCode: code,
			Retryable:  code != http.StatusForbidden && code != http.StatusBadRequest,
		}
	}
	return nil
}

func objectKey(prefix, runID, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return path.Join(runID, name)
	}
	return path.Join(prefix, runID, name)
}

func contentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp4":
		return "video/mp4"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// statusCode extracts an HTTP status code from a MinIO error
func statusCode(err error) int {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 {
		return resp.StatusCode
	}
	switch resp.Code {
	case "":
		return 0
	case "NoSuchKey", "NoSuchBucket":
		return http.StatusNotFound
	case "AccessDenied":
		return http.StatusForbidden
	case "InvalidArgument":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
