package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	apperrors "github.com/streamvault/backend/internal/errors"
)

// Client provides access to S3-compatible object storage for finished
// artifacts. Uploads go through minio-go; presigned download links go
// through the aws-sdk presign client, which both AWS S3 and MinIO honor.
type Client struct {
	client  *minio.Client
	presign *s3.PresignClient
	bucket  string
}

// Config holds the storage connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// New creates a storage client. The endpoint may carry a scheme prefix;
// minio-go expects host:port.
func New(cfg *Config) (*Client, error) {
	endpoint := cfg.Endpoint
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	s3Client := s3.New(s3.Options{
		Region:       "us-east-1",
		Credentials:  awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		BaseEndpoint: aws.String(fmt.Sprintf("%s://%s", scheme, endpoint)),
		UsePathStyle: true, // required for MinIO
	})

	return &Client{
		client:  mc,
		presign: s3.NewPresignClient(s3Client),
		bucket:  cfg.Bucket,
	}, nil
}

// artifactKey shards objects by job id.
func artifactKey(jobID, filename string) string {
	return fmt.Sprintf("artifacts/%s/%s", jobID, filename)
}

// ArtifactKey returns the object key an uploaded artifact lives under.
func (c *Client) ArtifactKey(jobID, filename string) string {
	return artifactKey(jobID, filename)
}

// UploadArtifact stores a finished download under the job's key and returns
// the object key. The local file is left in place; disk cleanup is a
// retention decision, not an upload side effect.
func (c *Client) UploadArtifact(ctx context.Context, jobID, filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", apperrors.StorageError("failed to open artifact").WithCause(err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", apperrors.StorageError("failed to stat artifact").WithCause(err)
	}

	key := artifactKey(jobID, filepath.Base(filePath))
	upload := func(ctx context.Context) error {
		if _, err := file.Seek(0, 0); err != nil {
			return apperrors.StorageError("failed to rewind artifact").WithCause(err)
		}
		_, err := c.client.PutObject(ctx, c.bucket, key, file, info.Size(), minio.PutObjectOptions{
			ContentType: contentTypeFor(filePath),
		})
		if err != nil {
			return apperrors.StorageError("artifact upload failed").WithCause(err)
		}
		return nil
	}

	if err := apperrors.Retry(ctx, apperrors.StorageRetryConfig(), upload); err != nil {
		return "", err
	}
	return key, nil
}

// PresignDownload returns a time-limited URL for fetching an artifact
// without exposing storage credentials.
func (c *Client) PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", apperrors.StorageError("failed to presign download").WithCause(err)
	}
	return req.URL, nil
}

// ArtifactExists reports whether the object is present. A missing object is
// a definitive answer; transient stat failures are retried like uploads.
func (c *Client) ArtifactExists(ctx context.Context, key string) (bool, error) {
	return apperrors.RetryWithResult(ctx, apperrors.StorageRetryConfig(), func(ctx context.Context) (bool, error) {
		_, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
		if err != nil {
			errResp := minio.ToErrorResponse(err)
			if errResp.Code == "NoSuchKey" {
				return false, nil
			}
			return false, apperrors.StorageError("failed to stat artifact").WithCause(err)
		}
		return true, nil
	})
}

// DeleteArtifact removes an object.
func (c *Client) DeleteArtifact(ctx context.Context, key string) error {
	if err := c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return apperrors.StorageError("failed to delete artifact").WithCause(err)
	}
	return nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return apperrors.StorageError("failed to check bucket existence").WithCause(err)
	}
	if !exists {
		if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return apperrors.StorageError(fmt.Sprintf("failed to create bucket %s", c.bucket)).WithCause(err)
		}
	}
	return nil
}

// Ping checks if the storage is accessible.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.client.BucketExists(ctx, c.bucket)
	return err
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

func contentTypeFor(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
