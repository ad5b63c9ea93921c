package afero

import (
	"bytes"
	"io"

	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/spf13/afero"
)

// safeWrite writes data to a sibling temp file, syncs it and renames it over p.
// The temp file is removed on any failure.
func safeWrite(fsys afero.Fs, p string, data []byte) (err error) {
	tmp, err := afero.TempFile(fsys, vfs.Parent(p), tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := vfs.Join(vfs.Parent(p), vfs.Base(tmp.Name()))

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = fsys.Remove(tmpName)
		}
	}()

	if _, err = io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return fsys.Rename(tmpName, p)
}
