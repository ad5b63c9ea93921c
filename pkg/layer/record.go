// Package layer turns declarative layer descriptors into immutable trees.
//
// A descriptor (XML or YAML) yields an ordered sequence of Records; Build folds
// them into a Layer, a read-only vfs.Backend the union stacks with other trees.
package layer

import (
	"context"
	"fmt"
	"strings"
)

// RecordKind is the kind of a declarative record.
type RecordKind int

const (
	RecordData RecordKind = iota
	RecordFolder

	// RecordMask hides the path in this layer and every lower layer.
	RecordMask
)

func (k RecordKind) String() string {
	switch k {
	case RecordFolder:
		return "folder"
	case RecordMask:
		return "mask"
	default:
		return "data"
	}
}

// ParseRecordKind accepts "data" (or ""), "folder" and "mask".
func ParseRecordKind(s string) (RecordKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "data", "file":
		return RecordData, nil
	case "folder", "dir", "directory":
		return RecordFolder, nil
	case "mask", "hidden", "deleted":
		return RecordMask, nil
	default:
		return RecordData, fmt.Errorf("unknown record kind %q", s)
	}
}

// Record is one (path, kind, attributes) entry of a layer source.
type Record struct {
	Path       string
	Kind       RecordKind
	Attributes map[string]any
	Content    []byte
}

// Source produces the ordered records of one layer.
type Source interface {
	// ID identifies the source; it becomes the layer's tree name.
	ID() string

	// Records parses the source. Each call re-reads it, which is what makes
	// provider refresh observe changes.
	Records(ctx context.Context) ([]Record, error)
}

// RecordsSource is a Source over records built in code.
type RecordsSource struct {
	Name  string
	Items []Record
}

func (s RecordsSource) ID() string { return s.Name }

func (s RecordsSource) Records(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Record, len(s.Items))
	copy(out, s.Items)
	return out, nil
}
