// Package objstore fetches frame listings from MinIO or other S3-compatible
// object storage so they can be ingested into the catalog.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/pahproject/catalogdb/internal/config"
	"github.com/pahproject/catalogdb/internal/progress"
	"github.com/pahproject/catalogdb/internal/retry"
)

// Scheme is the URL scheme of object references, as in s3://bucket/path/listing.txt
const Scheme = "s3"

// Client handles object storage operations
type Client struct {
	minioClient *minio.Client
	retry       retry.Config
}

// NewClient creates an object storage client from configuration
func NewClient(cfg config.ObjectStoreConfig, policy retry.Config) (*Client, error) {
	logrus.WithFields(logrus.Fields{
		"endpoint":      cfg.Endpoint,
		"accessKey_set": cfg.AccessKey != "",
		"secretKey_set": cfg.SecretKey != "",
	}).Debug("Object store configuration check")

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT is required to fetch s3:// listings")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY or MINIO_ACCESS_KEY_ID environment variable is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("MINIO_SECRET_KEY or MINIO_SECRET_ACCESS_KEY environment variable is required")
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT '%s': %w (expected format: https://hostname:port)", cfg.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT scheme '%s': must be http or https", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid MINIO_ENDPOINT '%s': missing hostname", cfg.Endpoint)
	}

	minioClient, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: u.Scheme == "https",
		Region: "us-east-1",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client for %s: %w", u.Host, err)
	}

	return &Client{
		minioClient: minioClient,
		retry:       policy,
	}, nil
}

// IsObjectURL reports whether s refers to object storage rather than a local file
func IsObjectURL(s string) bool {
	return strings.HasPrefix(s, Scheme+"://")
}

// ParseObjectURL splits s3://bucket/key into bucket and object name
func ParseObjectURL(raw string) (bucket, object string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid object URL: %w", err)
	}
	if u.Scheme != Scheme {
		return "", "", fmt.Errorf("invalid object URL scheme '%s': must be %s", u.Scheme, Scheme)
	}
	object = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || object == "" {
		return "", "", fmt.Errorf("invalid object URL %s: expected %s://bucket/key", raw, Scheme)
	}
	return u.Host, object, nil
}

// FetchListing downloads an object to a temporary file and returns its path.
// Failed downloads are retried from the start according to the retry policy.
func (c *Client) FetchListing(ctx context.Context, objectURL string, reporter progress.Reporter) (string, error) {
	bucket, object, err := ParseObjectURL(objectURL)
	if err != nil {
		return "", err
	}
	if reporter == nil {
		reporter = progress.Nop{}
	}

	tempFile, err := os.CreateTemp("", "catalog-listing-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tempFile.Close() // Close errors are not critical
	}()
	tempPath := tempFile.Name()

	err = retry.WithRetry(ctx, c.retry, func() error {
		return c.download(ctx, bucket, object, tempFile, reporter)
	})
	if err != nil {
		_ = os.Remove(tempPath) // Cleanup errors are not critical
		return "", fmt.Errorf("failed to fetch %s: %w", objectURL, err)
	}

	logrus.WithFields(logrus.Fields{
		"bucket": bucket,
		"object": object,
		"path":   tempPath,
	}).Info("Fetched listing from object storage")
	return tempPath, nil
}

// download performs a single attempt, overwriting anything a previous attempt wrote
func (c *Client) download(ctx context.Context, bucket, object string, dst *os.File, reporter progress.Reporter) error {
	if err := dst.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate temp file: %w", err)
	}
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind temp file: %w", err)
	}

	objInfo, err := c.minioClient.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to stat object: %w", err)
	}
	totalSize := objInfo.Size

	obj, err := c.minioClient.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to get object: %w", err)
	}
	defer func() {
		_ = obj.Close() // Close errors are not critical
	}()

	buffer := make([]byte, 1024*1024)
	var downloaded int64
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		n, err := obj.Read(buffer)
		if n > 0 {
			if _, writeErr := dst.Write(buffer[:n]); writeErr != nil {
				return fmt.Errorf("failed to write to temp file: %w", writeErr)
			}
			downloaded += int64(n)
			reporter.Report(downloaded, totalSize)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read from object storage: %w", err)
		}
	}

	if downloaded != totalSize {
		return fmt.Errorf("download incomplete: got %d bytes, expected %d", downloaded, totalSize)
	}
	return nil
}

// Cleanup removes a temporary file
func (c *Client) Cleanup(tempPath string) error {
	if tempPath != "" {
		if err := os.Remove(tempPath); err != nil {
			return fmt.Errorf("failed to cleanup temp file: %w", err)
		}
	}
	return nil
}
