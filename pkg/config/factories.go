package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/layerfs/internal/logger"
	aferobackend "github.com/marmos91/layerfs/pkg/backend/afero"
	s3backend "github.com/marmos91/layerfs/pkg/backend/s3"
	"github.com/marmos91/layerfs/pkg/lock"
	"github.com/marmos91/layerfs/pkg/metrics"
	"github.com/marmos91/layerfs/pkg/mime"
	"github.com/marmos91/layerfs/pkg/repository"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// CreateWritable creates the overlay's writable tree.
//
// Supported types:
//   - "memory": an in-memory tree, lost on exit
//   - "filesystem": a host directory (options: path, read_only)
//   - "none": no writable tree; the overlay is read-only and CreateWritable returns nil
func CreateWritable(ctx context.Context, name string, cfg WritableConfig, attrs vfs.AttributeStore) (vfs.Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return aferobackend.NewMemory(name, attrs), nil
	case "filesystem":
		var diskCfg aferobackend.DiskBackendConfig
		if err := decodeOptions(cfg.Options, &diskCfg); err != nil {
			return nil, fmt.Errorf("invalid filesystem tree config: %w", err)
		}
		if err := validate.Struct(diskCfg); err != nil {
			return nil, fmt.Errorf("filesystem tree: %w", formatValidationError(err))
		}
		tree, err := aferobackend.NewDisk(ctx, name, diskCfg, attrs)
		if err != nil {
			return nil, err
		}
		return tree, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown writable tree type: %q", cfg.Type)
	}
}

// CreateArchiveTree opens a zip archive as a read-only tree.
func CreateArchiveTree(ctx context.Context, cfg ArchiveConfig, attrs vfs.AttributeStore) (*aferobackend.ArchiveBackend, error) {
	tree, err := aferobackend.NewArchive(ctx, cfg.Name, cfg.Path, attrs)
	if err != nil {
		return nil, err
	}
	logger.Info("Archive tree %s opened: %s", cfg.Name, cfg.Path)
	return tree, nil
}

// CreateS3Tree creates an S3 client from cfg and wraps the bucket as a tree.
func CreateS3Tree(ctx context.Context, cfg S3Config, attrs vfs.AttributeStore) (*s3backend.Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 tree %s: bucket is required", cfg.Name)
	}

	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("S3 tree %s: %w", cfg.Name, err)
	}

	treeCfg := s3backend.Config{
		Client:    client,
		Bucket:    cfg.Bucket,
		KeyPrefix: cfg.KeyPrefix,
		ReadOnly:  cfg.ReadOnly,
	}
	// A nil *S3Metrics must not end up in the interface
	if m := metrics.NewS3Metrics(cfg.Name); m != nil {
		treeCfg.Metrics = m
	}

	tree, err := s3backend.New(ctx, cfg.Name, treeCfg, attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 tree %s: %w", cfg.Name, err)
	}

	logger.Info("S3 tree %s initialized: bucket=%s, region=%s, prefix=%s",
		cfg.Name, cfg.Bucket, cfg.Region, cfg.KeyPrefix)
	return tree, nil
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}

	// Static credentials if provided, otherwise the default credential chain
	if cfg.Credentials.AccessKeyID != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Credentials.AccessKeyID,
				cfg.Credentials.SecretAccessKey,
				cfg.Credentials.SessionToken,
			),
		))
	}

	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxAttempts
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO and Localstack need path-style addressing
		o.UsePathStyle = cfg.ForcePathStyle || cfg.Endpoint != ""
	}), nil
}

// CreateMIMEChain builds the resolution chain: resolvers from every descriptor
// file in order, then the content sniffer when enabled.
func CreateMIMEChain(cfg MIMEConfig, m metrics.OverlayMetrics) (*mime.Chain, error) {
	var resolvers []mime.Resolver
	seen := make(map[string]string)

	for _, file := range cfg.Descriptors {
		loaded, err := mime.LoadDescriptors(file)
		if err != nil {
			return nil, err
		}
		for _, r := range loaded {
			if prev, ok := seen[r.ID()]; ok {
				return nil, fmt.Errorf("resolver %q in %s already declared in %s", r.ID(), file, prev)
			}
			seen[r.ID()] = file
			resolvers = append(resolvers, r)
		}
	}

	if cfg.Sniff {
		if _, ok := seen["sniff"]; !ok {
			resolvers = append(resolvers, &mime.Sniff{Name: "sniff"})
		}
	}

	logger.Debug("MIME chain configured with %d resolver(s)", len(resolvers))
	return mime.NewChain(mime.Config{CacheSize: cfg.CacheSize, Metrics: m}, resolvers...), nil
}

// CreateCoordinator creates the lock and stream coordinator.
func CreateCoordinator(cfg LocksConfig, m metrics.OverlayMetrics) *lock.Coordinator {
	return lock.NewCoordinator(lock.Config{
		ReadRetries:   cfg.ReadRetries,
		RetryInterval: cfg.RetryInterval,
		Metrics:       m,
	})
}

// CreateProviders creates one file provider per entry, in precedence order.
// Providers without watch enabled never refresh on their own.
func CreateProviders(cfgs []ProviderConfig) []repository.Provider {
	out := make([]repository.Provider, 0, len(cfgs))
	for _, c := range cfgs {
		p := repository.NewFileProvider(c.Name, c.Sources...)
		if c.Watch {
			out = append(out, p)
			continue
		}
		out = append(out, unwatched{p})
	}
	return out
}

// unwatched hides a provider's Watch method from the repository.
type unwatched struct {
	repository.Provider
}
