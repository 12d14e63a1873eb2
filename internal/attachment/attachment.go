// Package attachment hands out presigned object-storage URLs for task files.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultRegion = "us-east-1"
	DefaultExpiry = 15 * time.Minute
	maxNameLength = 120
)

var ErrForeignKey = errors.New("attachment: object key does not belong to task")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	Expiry    time.Duration
}

// Upload is a presigned PUT the client uses to upload directly to storage.
type Upload struct {
	Key       string    `json:"key"`
	URL       string    `json:"uploadUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Store struct {
	client *minio.Client
	bucket string
	expiry time.Duration
	logger *log.Logger
	now    func() time.Time
}

func New(cfg Config, logger *log.Logger) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("attachment: endpoint and bucket are required")
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, expiry: cfg.Expiry, logger: logger, now: time.Now}, nil
}

// EnsureBucket creates the bucket on first start.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.WithField("bucket", s.bucket).Info("attachment bucket created")
	return nil
}

func (s *Store) PresignUpload(ctx context.Context, boardID, taskID, filename string) (Upload, error) {
	key := ObjectKey(boardID, taskID, uuid.NewString(), filename)
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, s.expiry)
	if err != nil {
		return Upload{}, fmt.Errorf("presign upload: %w", err)
	}
	return Upload{Key: key, URL: u.String(), ExpiresAt: s.now().Add(s.expiry).UTC()}, nil
}

// PresignDownload signs a GET for key, which must live under the task's prefix.
func (s *Store) PresignDownload(ctx context.Context, boardID, taskID, key string) (string, error) {
	if !strings.HasPrefix(key, taskPrefix(boardID, taskID)) {
		return "", ErrForeignKey
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u.String(), nil
}

func taskPrefix(boardID, taskID string) string {
	return path.Join("boards", boardID, "tasks", taskID) + "/"
}

// ObjectKey builds boards/{board}/tasks/{task}/{nonce}-{name}.
func ObjectKey(boardID, taskID, nonce, filename string) string {
	return taskPrefix(boardID, taskID) + nonce + "-" + SanitizeName(filename)
}

// SanitizeName keeps letters, digits, dot, dash and underscore.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		out = "file"
	}
	if len(out) > maxNameLength {
		out = out[len(out)-maxNameLength:]
	}
	return out
}
