package providers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Uploader archives task artifacts and returns a URL for the stored object.
type Uploader interface {
	UploadBytes(ctx context.Context, objectPath string, contentType string, data []byte) (string, error)
}

// HistoryObjectPath is where the raw agent history of one task is stored.
func HistoryObjectPath(runID string, taskNumber int) string {
	return fmt.Sprintf("runs/%s/task-%d.json", url.PathEscape(runID), taskNumber)
}

// localUploader writes artifacts below rootDir. Object paths are confined to
// the root and writes are atomic so readers never see a partial history.
type localUploader struct {
	rootDir string
}

func NewLocalUploader(rootDir string) Uploader {
	return &localUploader{rootDir: rootDir}
}

func (u *localUploader) UploadBytes(ctx context.Context, objectPath string, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rel := strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(objectPath)), "/")
	if rel == "" {
		return "", errors.New("upload: empty object path")
	}
	dst := filepath.Join(u.rootDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("upload %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", rel, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("upload %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", rel, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("upload %s: %w", rel, err)
	}

	abs, err := filepath.Abs(dst)
	if err != nil {
		abs = dst
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}
