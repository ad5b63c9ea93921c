package mime

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"

	"github.com/marmos91/layerfs/pkg/vfs"
)

type fakeSubject struct {
	path    string
	id      uint64
	stamp   atomic.Uint64
	folder  bool
	content []byte
}

func newSubject(id uint64, path string, content string) *fakeSubject {
	return &fakeSubject{path: path, id: id, content: []byte(content)}
}

func (s *fakeSubject) Path() string     { return s.path }
func (s *fakeSubject) Identity() uint64 { return s.id }
func (s *fakeSubject) Stamp() uint64    { return s.stamp.Load() }
func (s *fakeSubject) IsFolder() bool   { return s.folder }

func (s *fakeSubject) Open(context.Context) (io.ReadCloser, error) {
	if s.folder {
		return nil, vfs.NewError(vfs.ErrIsFolder, s.path, "cannot open folder")
	}
	return io.NopCloser(bytes.NewReader(s.content)), nil
}

// counting returns a resolver answering mimeType (if non-empty) and counting
// its invocations.
func counting(id, mimeType string, calls *atomic.Int32) Resolver {
	return ResolverFunc(id, func(context.Context, Subject) (string, bool) {
		calls.Add(1)
		return mimeType, mimeType != ""
	})
}
