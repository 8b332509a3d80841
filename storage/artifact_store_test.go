package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeDownloader struct {
	body   string
	err    error
	bucket string
	key    string
}

func (d *fakeDownloader) Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error) {
	d.bucket = aws.ToString(input.Bucket)
	d.key = aws.ToString(input.Key)
	if d.err != nil {
		return 0, d.err
	}
	n, err := w.WriteAt([]byte(d.body), 0)
	return int64(n), err
}

func TestFetchObject(t *testing.T) {
	dl := &fakeDownloader{body: "weights"}
	store := NewArtifactStoreWithDownloader(dl, nil)
	dst := filepath.Join(t.TempDir(), "model.bin")

	if err := store.FetchObject(context.Background(), "m", "model.bin", dst); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if dl.bucket != "m" || dl.key != "model.bin" {
		t.Errorf("expected download of (m, model.bin), got (%s, %s)", dl.bucket, dl.key)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "weights" {
		t.Errorf("expected weights, got %q", got)
	}
}

func TestFetchObjectError(t *testing.T) {
	dl := &fakeDownloader{err: errors.New("NoSuchKey")}
	store := NewArtifactStoreWithDownloader(dl, nil)

	err := store.FetchObject(context.Background(), "m", "missing", filepath.Join(t.TempDir(), "x"))
	if err == nil || !errors.Is(err, dl.err) {
		t.Errorf("expected wrapped download error, got %v", err)
	}
}

func TestFetchURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/m.gguf" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("gguf-bytes"))
	}))
	defer srv.Close()

	store := NewArtifactStoreWithDownloader(nil, srv.Client())
	dst := filepath.Join(t.TempDir(), "m.gguf")

	if err := store.FetchURL(context.Background(), srv.URL+"/models/m.gguf", dst); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "gguf-bytes" {
		t.Errorf("expected gguf-bytes, got %q", got)
	}

	if err := store.FetchURL(context.Background(), srv.URL+"/missing", dst); err == nil {
		t.Errorf("expected error for 404")
	}
}

func TestFetchObjectWithoutDownloader(t *testing.T) {
	store := NewArtifactStoreWithDownloader(nil, nil)
	if err := store.FetchObject(context.Background(), "m", "k", filepath.Join(t.TempDir(), "x")); err == nil {
		t.Errorf("expected error without object storage")
	}
}
