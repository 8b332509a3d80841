package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"k8s.io/klog/v2"
)

// ObjectDownloader is the part of the S3 transfer manager the store uses
type ObjectDownloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error)
}

// ArtifactStore downloads model weights from object storage or plain URLs
// into local files.
type ArtifactStore struct {
	downloader ObjectDownloader
	httpClient *http.Client
}

// NewArtifactStore creates a store backed by the given S3 client
func NewArtifactStore(client manager.DownloadAPIClient) *ArtifactStore {
	return NewArtifactStoreWithDownloader(manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = 64 * 1024 * 1024
		d.Concurrency = 8
	}), nil)
}

// NewArtifactStoreWithDownloader creates a store from explicit transports.
// A nil httpClient uses a client without an overall timeout, since model
// files can take minutes to download.
func NewArtifactStoreWithDownloader(downloader ObjectDownloader, httpClient *http.Client) *ArtifactStore {
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport}
	}
	return &ArtifactStore{
		downloader: downloader,
		httpClient: httpClient,
	}
}

// FetchObject downloads s3://bucket/key to dst
func (as *ArtifactStore) FetchObject(ctx context.Context, bucket, key, dst string) error {
	if as.downloader == nil {
		return fmt.Errorf("object storage is not configured")
	}
	logger := klog.FromContext(ctx)
	start := time.Now()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer f.Close()

	n, err := as.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", dst, err)
	}

	logger.Info("Downloaded model from object storage", "bucket", bucket, "key", key, "bytes", n, "duration", time.Since(start))
	return nil
}

// FetchURL downloads rawURL to dst
func (as *ArtifactStore) FetchURL(ctx context.Context, rawURL, dst string) error {
	logger := klog.FromContext(ctx)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := as.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("failed after %d bytes: %w", n, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return fmt.Errorf("short download: got %d of %d bytes", n, resp.ContentLength)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", dst, err)
	}

	logger.Info("Downloaded model from url", "url", rawURL, "bytes", n, "duration", time.Since(start))
	return nil
}
