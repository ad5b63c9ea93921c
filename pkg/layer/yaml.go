package layer

import (
	"fmt"

	"github.com/marmos91/layerfs/pkg/vfs"
	"gopkg.in/yaml.v3"
)

// YAML descriptors list entries by path:
//
//	entries:
//	  - path: /Editors
//	    kind: folder
//	    attributes: {position: 100}
//	  - path: /Editors/inline.txt
//	    content: "inline content"
//	  - path: /Editors/legacy.txt
//	    kind: mask
type yamlDescriptor struct {
	Entries []yamlEntry `yaml:"entries"`
}

type yamlEntry struct {
	Path       string         `yaml:"path"`
	Kind       string         `yaml:"kind"`
	Content    string         `yaml:"content"`
	Attributes map[string]any `yaml:"attributes"`
}

// ParseYAML decodes a YAML descriptor.
func ParseYAML(data []byte) ([]Record, error) {
	var doc yamlDescriptor
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse layer YAML: %w", err)
	}

	out := make([]Record, 0, len(doc.Entries))
	for i, e := range doc.Entries {
		if e.Path == "" {
			return nil, vfs.NewError(vfs.ErrInvalidArgument, "", "entry %d has no path", i)
		}
		kind, err := ParseRecordKind(e.Kind)
		if err != nil {
			return nil, vfs.NewError(vfs.ErrInvalidArgument, e.Path, "%v", err)
		}
		p := vfs.Clean(e.Path)
		for _, c := range vfs.Components(p) {
			if err := vfs.ValidateName(c); err != nil {
				return nil, err
			}
		}

		r := Record{Path: p, Kind: kind, Attributes: e.Attributes}
		if e.Content != "" {
			r.Content = []byte(e.Content)
		}
		out = append(out, r)
	}
	return out, nil
}
