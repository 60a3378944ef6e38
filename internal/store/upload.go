package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dmorgan81/stabilitynode/internal/log"
)

type UploadParams struct {
	Name        string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type Uploader interface {
	Upload(context.Context, UploadParams) error
}

// FileUploader writes uploads into Dir, for local runs.
type FileUploader struct {
	Dir string
}

func (u *FileUploader) Upload(ctx context.Context, params UploadParams) error {
	path := filepath.Join(u.Dir, params.Name)
	log.FromContextOrDiscard(ctx).WithGroup("file").Info("writing", "file", path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, params.Data, 0o600)
}

type NopUploader struct{}

func (NopUploader) Upload(context.Context, UploadParams) error { return nil }
