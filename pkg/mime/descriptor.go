package mime

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// descriptorFile is the YAML form of a list of declarative resolvers:
//
//	resolvers:
//	  - id: layers
//	    extensions: {xml: text/xml, yaml: application/yaml}
//	    patterns:
//	      - glob: "*.layer.xml"
//	        type: application/x-layer+xml
//	  - id: sniff
//	    sniff: true
type descriptorFile struct {
	Resolvers []descriptor `yaml:"resolvers"`
}

type descriptor struct {
	ID         string            `yaml:"id"`
	Extensions map[string]string `yaml:"extensions"`
	Patterns   []PatternRule     `yaml:"patterns"`
	Folders    bool              `yaml:"folders"`
	Sniff      bool              `yaml:"sniff"`
	Limit      int64             `yaml:"limit"`
}

// ParseDescriptors decodes declarative resolvers from YAML, in file order.
func ParseDescriptors(data []byte) ([]Resolver, error) {
	var file descriptorFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse resolver descriptors: %w", err)
	}

	seen := make(map[string]bool, len(file.Resolvers))
	resolvers := make([]Resolver, 0, len(file.Resolvers))

	for i, d := range file.Resolvers {
		if d.ID == "" {
			return nil, fmt.Errorf("resolver #%d: id is required", i)
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("resolver %q: duplicate id", d.ID)
		}
		seen[d.ID] = true

		if d.Sniff {
			if len(d.Extensions) > 0 || len(d.Patterns) > 0 {
				return nil, fmt.Errorf("resolver %q: sniff cannot be combined with tables", d.ID)
			}
			resolvers = append(resolvers, &Sniff{Name: d.ID, Limit: d.Limit})
			continue
		}

		if len(d.Extensions) == 0 && len(d.Patterns) == 0 {
			return nil, fmt.Errorf("resolver %q: needs extensions, patterns or sniff", d.ID)
		}
		for _, rule := range d.Patterns {
			if rule.Type == "" {
				return nil, fmt.Errorf("resolver %q: pattern %q has no type", d.ID, rule.Glob)
			}
			if _, err := path.Match(rule.Glob, ""); err != nil {
				return nil, fmt.Errorf("resolver %q: bad pattern %q: %w", d.ID, rule.Glob, err)
			}
		}

		r := NewExtensionResolver(d.ID, d.Extensions)
		r.Patterns = d.Patterns
		r.Folders = d.Folders
		resolvers = append(resolvers, r)
	}

	return resolvers, nil
}

// LoadDescriptors reads and parses a descriptor file.
func LoadDescriptors(file string) ([]Resolver, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read resolver descriptors %s: %w", file, err)
	}
	resolvers, err := ParseDescriptors(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return resolvers, nil
}
