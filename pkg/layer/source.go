package layer

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/layerfs/pkg/vfs"
)

// Format names a descriptor syntax.
type Format string

const (
	FormatXML  Format = "xml"
	FormatYAML Format = "yaml"
)

// FormatOf infers the descriptor format from a file extension.
func FormatOf(name string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xml":
		return FormatXML, true
	case ".yaml", ".yml":
		return FormatYAML, true
	default:
		return "", false
	}
}

// Parse decodes data in the given format. baseDir resolves XML url attributes.
func Parse(format Format, data []byte, baseDir string) ([]Record, error) {
	switch format {
	case FormatXML:
		return ParseXML(data, baseDir)
	case FormatYAML:
		return ParseYAML(data)
	default:
		return nil, vfs.NewError(vfs.ErrInvalidArgument, "", "unknown descriptor format %q", format)
	}
}

// FileSource reads a descriptor file from disk on every Records call.
type FileSource struct {
	Path string
}

func (s FileSource) ID() string { return s.Path }

func (s FileSource) Records(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	format, ok := FormatOf(s.Path)
	if !ok {
		return nil, vfs.NewError(vfs.ErrInvalidArgument, s.Path, "cannot infer descriptor format")
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, vfs.WrapError(vfs.ErrIO, s.Path, err)
	}
	return Parse(format, data, filepath.Dir(s.Path))
}

// BytesSource parses an in-memory descriptor.
type BytesSource struct {
	Name   string
	Format Format
	Data   []byte
}

func (s BytesSource) ID() string { return s.Name }

func (s BytesSource) Records(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Parse(s.Format, s.Data, "")
}
