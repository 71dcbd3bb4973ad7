package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/config"
)

// Archiver persists raw source JSON before any transformation, so the exact
// provider payload can be replayed or audited later. Write-only: the pipeline
// never reads archives back.
type Archiver interface {
	Archive(ctx context.Context, clientID, source string, payload []byte) (string, error)
}

// MinioArchiver writes archives to an S3-compatible object store under
// <client_id>/<source>/<timestamp>_<uuid>.json.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	log    zerolog.Logger
}

var _ Archiver = (*MinioArchiver)(nil)

// New connects to the object store configured in cfg.
func New(cfg config.ArchiveConfig, log zerolog.Logger) (*MinioArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to archive store: %w", err)
	}
	return &MinioArchiver{client: client, bucket: cfg.Bucket, log: log}, nil
}

// EnsureBucket creates the archive bucket when it does not exist yet.
func (a *MinioArchiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check archive bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create archive bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Archive stores one raw payload and returns its object key.
func (a *MinioArchiver) Archive(ctx context.Context, clientID, source string, payload []byte) (string, error) {
	key := fmt.Sprintf("%s/%s/%s_%s.json",
		clientID, source, time.Now().UTC().Format("20060102T150405Z"), uuid.NewString())

	_, err := a.client.PutObject(ctx, a.bucket, key,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("archive %s/%s: %w", clientID, source, err)
	}

	a.log.Debug().Str("key", key).Int("bytes", len(payload)).Msg("archived raw payload")
	return key, nil
}

// Noop discards archives. Used when no object store is configured.
type Noop struct{}

var _ Archiver = Noop{}

func (Noop) Archive(context.Context, string, string, []byte) (string, error) { return "", nil }
