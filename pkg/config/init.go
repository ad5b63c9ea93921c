package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const configHeader = `# layerfs Configuration File
#
# Values can be overridden with LAYERFS_* environment variables,
# e.g. LAYERFS_LOGGING_LEVEL=DEBUG.
`

// InitConfig writes a commented default configuration to the default
// location and returns its path. An existing file is only replaced when force
// is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a commented default configuration to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a comment on every section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	doc := mapping(
		section("logging", "Log output: level DEBUG|INFO|WARN|ERROR, format text|json, output stdout|stderr|<file>",
			scalar("level", cfg.Logging.Level),
			scalar("format", cfg.Logging.Format),
			scalar("output", cfg.Logging.Output),
		),
		section("repository", "The overlay: a writable tree over the layers of every provider.\nLater providers, and later sources within a provider, take precedence.",
			scalar("name", cfg.Repository.Name),
			section("writable", "Writable tree type: memory, filesystem (options: path, read_only) or none",
				scalar("type", cfg.Repository.Writable.Type),
				emptyMap("options"),
			),
			section("attributes", "Attribute persistence: memory or badger (options: db_path, in_memory, block_cache_size_mb)",
				scalar("type", cfg.Repository.Attributes.Type),
				emptyMap("options"),
			),
			commented(emptySeq("providers"), "Layer providers, e.g.\n- name: base\n  sources: [/etc/layerfs/base.xml]\n  watch: true"),
			commented(emptySeq("archives"), "Zip archives exposed as read-only trees: [{name, path}]"),
			commented(emptySeq("s3"), "S3 buckets exposed as trees: [{name, bucket, region, key_prefix, endpoint, credentials}]"),
		),
		section("locks", "Retries of reads failing because the medium is locked",
			scalar("read_retries", strconv.Itoa(cfg.Locks.ReadRetries)),
			scalar("retry_interval", cfg.Locks.RetryInterval.String()),
		),
		section("mime", "MIME resolution: YAML resolver descriptors consulted in order, then content sniffing",
			scalar("cache_size", strconv.Itoa(cfg.MIME.CacheSize)),
			scalar("sniff", strconv.FormatBool(cfg.MIME.Sniff)),
			emptySeq("descriptors"),
		),
		section("gc", "Removal of attributes whose node no longer exists",
			scalar("enabled", strconv.FormatBool(cfg.GC.Enabled)),
			scalar("interval", cfg.GC.Interval.String()),
			scalar("batch_size", strconv.Itoa(cfg.GC.BatchSize)),
			scalar("dry_run", strconv.FormatBool(cfg.GC.DryRun)),
		),
		section("metrics", "Prometheus endpoint served by 'layerfs serve'",
			scalar("enabled", strconv.FormatBool(cfg.Metrics.Enabled)),
			scalar("port", strconv.Itoa(cfg.Metrics.Port)),
		),
	)

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	buf.WriteString("\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{doc}}); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return buf.String(), nil
}

// entry is one key/value pair of a mapping node.
type entry struct {
	key   *yaml.Node
	value *yaml.Node
}

func mapping(entries ...entry) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range entries {
		n.Content = append(n.Content, e.key, e.value)
	}
	return n
}

func section(key, comment string, entries ...entry) entry {
	e := entry{
		key:   &yaml.Node{Kind: yaml.ScalarNode, Value: key},
		value: mapping(entries...),
	}
	return commented(e, comment)
}

func scalar(key, value string) entry {
	return entry{
		key:   &yaml.Node{Kind: yaml.ScalarNode, Value: key},
		value: &yaml.Node{Kind: yaml.ScalarNode, Value: value},
	}
}

func emptyMap(key string) entry {
	return entry{
		key:   &yaml.Node{Kind: yaml.ScalarNode, Value: key},
		value: &yaml.Node{Kind: yaml.MappingNode, Style: yaml.FlowStyle},
	}
}

func emptySeq(key string) entry {
	return entry{
		key:   &yaml.Node{Kind: yaml.ScalarNode, Value: key},
		value: &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle},
	}
}

func commented(e entry, comment string) entry {
	lines := strings.Split(comment, "\n")
	for i, l := range lines {
		lines[i] = "# " + l
	}
	e.key.HeadComment = strings.Join(lines, "\n")
	return e
}
