package afero

import (
	"archive/zip"
	"context"
	"fmt"

	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/spf13/afero/zipfs"
)

// ArchiveBackend is a read-only tree over a zip archive.
type ArchiveBackend struct {
	*Backend
	closer *zip.ReadCloser
}

// NewArchive opens a zip archive as a read-only tree.
func NewArchive(ctx context.Context, name, archivePath string, attrs vfs.AttributeStore) (*ArchiveBackend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}

	return &ArchiveBackend{
		Backend: New(name, zipfs.New(&rc.Reader), attrs, true),
		closer:  rc,
	}, nil
}

// Close releases the archive file.
func (a *ArchiveBackend) Close() error {
	return a.closer.Close()
}
