package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Deliverable describes a stored work submission file.
type Deliverable struct {
	URL      string
	Key      string
	FileName string
	Size     int64
}

// Uploader stores deliverable files and returns their shareable location.
type Uploader interface {
	UploadDeliverable(ctx context.Context, workflowID, fileName string, reader io.Reader, size int64, contentType string) (Deliverable, error)
}

// Store keeps work deliverables in an S3-compatible bucket. Objects are
// grouped per workflow so a job's submissions and revisions live together.
type Store struct {
	bucket        string
	publicBaseURL string
	client        *minio.Client
	log           *slog.Logger

	bucketInitOnce sync.Once
	bucketInitErr  error
}

func NewStore(endpoint string, useSSL bool, accessKey, secretKey, bucket, publicBaseURL string, log *slog.Logger) (*Store, error) {
	cleanEndpoint := strings.TrimSpace(endpoint)
	if cleanEndpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	client, err := minio.New(parseEndpoint(cleanEndpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(accessKey), strings.TrimSpace(secretKey), ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	base := strings.TrimSpace(publicBaseURL)
	if base == "" {
		base = cleanEndpoint
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(base, "/"),
		client:        client,
		log:           log,
	}, nil
}

// UploadDeliverable stores the file under the workflow's prefix and returns
// its shareable URL. The object key carries a fresh uuid so re-submissions of
// an identically named file never overwrite the previous revision.
func (s *Store) UploadDeliverable(ctx context.Context, workflowID, fileName string, reader io.Reader, size int64, contentType string) (Deliverable, error) {
	if reader == nil {
		return Deliverable{}, errors.New("s3: reader is required")
	}
	workflowID = strings.TrimSpace(workflowID)
	if workflowID == "" {
		return Deliverable{}, errors.New("s3: workflow id is required")
	}
	fileName = path.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." {
		return Deliverable{}, errors.New("s3: file name is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return Deliverable{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := fmt.Sprintf("deliverables/%s/%s-%s", workflowID, uuid.NewString(), fileName)
	info, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Deliverable{}, fmt.Errorf("s3: put deliverable: %w", err)
	}
	deliverable := Deliverable{
		URL:      s.objectURL(key),
		Key:      key,
		FileName: fileName,
		Size:     info.Size,
	}
	s.log.Info("deliverable stored", "bucket", s.bucket, "key", key, "size", info.Size)
	return deliverable, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	s.bucketInitOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.bucketInitErr = fmt.Errorf("s3: check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			s.bucketInitErr = fmt.Errorf("s3: create bucket: %w", err)
			return
		}
		if err := s.allowPublicRead(ctx); err != nil {
			s.bucketInitErr = err
		}
	})
	return s.bucketInitErr
}

func (s *Store) allowPublicRead(ctx context.Context) error {
	policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, s.bucket)
	if err := s.client.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
		return fmt.Errorf("s3: set bucket policy: %w", err)
	}
	return nil
}

func (s *Store) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, strings.TrimLeft(key, "/"))
}

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

// NoopUploader fails fast when deliverable storage is not configured.
type NoopUploader struct{}

func (NoopUploader) UploadDeliverable(context.Context, string, string, io.Reader, int64, string) (Deliverable, error) {
	return Deliverable{}, errors.New("s3: deliverable storage is not configured")
}

var _ Uploader = (*Store)(nil)
var _ Uploader = NoopUploader{}
