// Package s3 implements the durable object store on Amazon S3.
//
// Uploads stream from an io.Reader through the transfer manager, which
// chunks into bounded parts and aborts the multipart upload on failure,
// so a failed transfer leaves no object visible under the canonical key.
package s3

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"teams_archiver/internal/config"
	"teams_archiver/internal/domain"
)

const partSize = 8 * 1024 * 1024

// API is the subset of the S3 client the store uses. Tests inject a fake.
type API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// Presigner generates time-limited GET URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Store struct {
	client    API
	presigner Presigner
	uploader  *manager.Uploader
	bucket    string
	prefix    string
	ttl       time.Duration
	logger    *slog.Logger
}

// New builds a Store from configuration, using the default AWS credential
// chain unless static credentials are configured. A custom endpoint and
// path-style addressing support localstack and minio setups.
func New(ctx context.Context, cfg config.S3Config, logger *slog.Logger) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return NewWithClient(client, s3.NewPresignClient(client), cfg, logger), nil
}

// NewWithClient wires a Store over an existing client. Used by tests.
func NewWithClient(client API, presigner Presigner, cfg config.S3Config, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		presigner: presigner,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
		}),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		ttl:    cfg.PresignTTL,
		logger: logger.With("component", "s3", "bucket", cfg.Bucket),
	}
}

// Key derives the deterministic canonical key for a descriptor.
func (s *Store) Key(file domain.RemoteFile) string {
	return objectKey(s.prefix, file.Offering.TeamName, file.Offering.ChannelName, file.Name)
}

// Upload streams r into the object at key. The reader is consumed in
// bounded parts; the full object never resides in memory and no local
// intermediate file is written. On failure the multipart upload is
// aborted, so no partial object becomes visible at key.
func (s *Store) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return domain.NewError(domain.StorageWriteError, err)
	}
	s.logger.Debug("uploaded", "key", key, "size", size)
	return nil
}

// Exists reports whether an object is present at key via a HEAD request.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, domain.NewError(domain.StorageWriteError, err)
	}
	return true, nil
}

// Backup server-side copies the object at key to a timestamped backup key
// and returns that key. Backups are safety copies outside the index and
// are never pruned by the pipeline.
func (s *Store) Backup(ctx context.Context, key string, ts time.Time) (string, error) {
	target := backupKey(key, ts)
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + key),
		Key:        aws.String(target),
	})
	if err != nil {
		return "", domain.NewError(domain.StorageWriteError, err)
	}
	s.logger.Info("backed up previous version", "from", key, "to", target)
	return target, nil
}

// Presign returns a time-limited GET URL for key. The URL is generated on
// demand and never persisted.
func (s *Store) Presign(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
