package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/radioarchive/trawler/pkg/config"
	"github.com/radioarchive/trawler/pkg/errors"
)

// Minio implements Store against any S3-compatible gateway via minio-go.
type Minio struct {
	client *minio.Client
	region string
	logger *slog.Logger
}

// NewMinio creates a MinIO client from config. Connectivity is not probed
// here; call Ping before relying on it.
func NewMinio(cfg config.ObjectStoreConfig) (*Minio, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("object store credentials are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return &Minio{
		client: client,
		region: cfg.Region,
		logger: slog.Default().With("component", "objectstore"),
	}, nil
}

func (m *Minio) Ping(ctx context.Context) error {
	// Listing buckets exercises both connectivity and credentials.
	if _, err := m.client.ListBuckets(ctx); err != nil {
		return classifyMinioError(err)
	}
	return nil
}

func (m *Minio) EnsureBucket(ctx context.Context, bucket string) error {
	if bucket == "" {
		return fmt.Errorf("bucket name is required")
	}
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return classifyMinioError(err)
	}
	if exists {
		return nil
	}
	err = m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.region})
	if err != nil {
		// Racing trawl passes may both see the bucket missing; owned-by-you
		// on create is success.
		resp := minio.ToErrorResponse(err)
		if resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists" {
			return nil
		}
		return classifyMinioError(err)
	}
	m.logger.Debug("bucket created", "bucket", bucket)
	return nil
}

func (m *Minio) Put(ctx context.Context, bucket, key, localPath string) (int64, error) {
	info, err := m.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return 0, classifyMinioError(err)
	}
	return info.Size, nil
}

func (m *Minio) Get(ctx context.Context, bucket, key, localPath string) error {
	if err := m.client.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return classifyMinioError(err)
	}
	return nil
}

func (m *Minio) ListBucketsMatching(ctx context.Context, keep func(string) bool) ([]string, error) {
	buckets, err := m.client.ListBuckets(ctx)
	if err != nil {
		return nil, classifyMinioError(err)
	}
	var names []string
	for _, b := range buckets {
		if keep == nil || keep(b.Name) {
			names = append(names, b.Name)
		}
	}
	return names, nil
}

// classifyMinioError maps minio-go failures onto the pipeline's sentinels:
// bad credentials and denied access are fatal for the batch, unreachable
// endpoints suspend the trawl loop, anything else is retryable per file.
func classifyMinioError(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %s", errors.ErrAccessDenied, err.Error())
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"i/o timeout",
	} {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %s", errors.ErrConnectivity, err.Error())
		}
	}
	return err
}
