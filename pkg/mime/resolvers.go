package mime

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// PatternRule maps a glob over the node name to a MIME type.
type PatternRule struct {
	Glob string `yaml:"glob"`
	Type string `yaml:"type"`
}

// Declarative matches node names against extension and glob tables. Extension
// keys are compared case-insensitively without the leading dot. Patterns are
// tried first, in order, then the extension table.
type Declarative struct {
	Name       string
	Extensions map[string]string
	Patterns   []PatternRule

	// Folders makes the resolver answer for folders too.
	Folders bool
}

// NewExtensionResolver returns a declarative resolver over an extension table.
func NewExtensionResolver(id string, extensions map[string]string) *Declarative {
	table := make(map[string]string, len(extensions))
	for ext, mimeType := range extensions {
		table[normalizeExt(ext)] = mimeType
	}
	return &Declarative{Name: id, Extensions: table}
}

// NewPatternResolver returns a declarative resolver over glob rules.
func NewPatternResolver(id string, rules ...PatternRule) *Declarative {
	return &Declarative{Name: id, Patterns: rules}
}

func (d *Declarative) ID() string { return d.Name }

func (d *Declarative) Resolve(_ context.Context, s Subject) (string, bool) {
	if s.IsFolder() && !d.Folders {
		return "", false
	}

	name := vfs.Base(s.Path())
	for _, rule := range d.Patterns {
		if ok, err := path.Match(rule.Glob, name); err == nil && ok {
			return rule.Type, true
		}
	}

	_, ext := vfs.SplitExt(name)
	if ext == "" {
		return "", false
	}
	mimeType, ok := d.Extensions[normalizeExt(ext)]
	return mimeType, ok
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// DefaultSniffLimit is how many leading bytes the sniffer reads.
const DefaultSniffLimit = 3072

// Sniff detects the type from the node's leading bytes. Generic results
// (application/octet-stream and text/plain) count as no answer so that later
// resolvers, or Default, decide.
type Sniff struct {
	Name  string
	Limit int64
}

func (s *Sniff) ID() string {
	if s.Name == "" {
		return "sniff"
	}
	return s.Name
}

func (s *Sniff) Resolve(ctx context.Context, subject Subject) (string, bool) {
	if subject.IsFolder() {
		return "", false
	}

	r, err := subject.Open(ctx)
	if err != nil {
		logger.Debug("MIME sniff: cannot open %s: %v", subject.Path(), err)
		return "", false
	}
	defer r.Close()

	limit := s.Limit
	if limit <= 0 {
		limit = DefaultSniffLimit
	}

	detected, err := mimetype.DetectReader(io.LimitReader(r, limit))
	if err != nil {
		logger.Debug("MIME sniff: cannot read %s: %v", subject.Path(), err)
		return "", false
	}

	mimeType, _, _ := strings.Cut(detected.String(), ";")
	switch mimeType {
	case "application/octet-stream", "text/plain":
		return "", false
	}
	return mimeType, true
}
