// Package s3 implements vfs.Backend over S3-compatible object storage.
//
// Object keys mirror node paths below an optional prefix. Data nodes are plain
// objects; folders are zero-byte marker objects whose key ends in "/", and a
// folder also exists implicitly when any object lives below it. Node attributes
// are kept in an injected vfs.AttributeStore, since object metadata cannot be
// updated without rewriting the object.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/layerfs/internal/logger"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// Client is the subset of the S3 API the backend uses. *s3.Client satisfies it;
// tests supply an in-process fake.
type Client interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Backend implements vfs.Backend using Amazon S3 or S3-compatible storage.
//
// Thread Safety:
// Safe for concurrent use. Concurrent writes to the same key are last-write-wins.
type Backend struct {
	name      string
	client    Client
	bucket    string
	keyPrefix string
	attrs     vfs.AttributeStore
	readOnly  bool
	metrics   Metrics
}

// Config contains configuration for an S3 tree.
type Config struct {
	// Client is the configured S3 client
	Client Client

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "layers/home/" results in keys like "layers/home/docs/a.txt"
	KeyPrefix string

	// ReadOnly refuses all mutations
	ReadOnly bool

	// Metrics receives operation observations (optional)
	Metrics Metrics
}

// New creates an S3 tree after verifying bucket access. The bucket must exist.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - name: Tree name
//   - cfg: Client, bucket and key layout
//   - attrs: Attribute store for the tree's nodes
//
// Returns:
//   - *Backend: Tree ready for use
//   - error: Error if configuration is incomplete or the bucket is unreachable
func New(ctx context.Context, name string, cfg Config, attrs vfs.AttributeStore) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	prefix := cfg.KeyPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	m := cfg.Metrics
	if m == nil {
		m = noopMetrics{}
	}

	return &Backend{
		name:      name,
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: prefix,
		attrs:     attrs,
		readOnly:  cfg.ReadOnly,
		metrics:   m,
	}, nil
}

func (b *Backend) Name() string                   { return b.name }
func (b *Backend) ReadOnly() bool                 { return b.readOnly }
func (b *Backend) Attributes() vfs.AttributeStore { return b.attrs }

// objectKey maps a node path to its object key: "/docs/a.txt" → "<prefix>docs/a.txt".
func (b *Backend) objectKey(p string) string {
	return b.keyPrefix + strings.TrimPrefix(vfs.Clean(p), "/")
}

// folderKey is the marker key of folder p; for the root it is the bare prefix.
func (b *Backend) folderKey(p string) string {
	p = vfs.Clean(p)
	if p == vfs.Root {
		return b.keyPrefix
	}
	return b.objectKey(p) + "/"
}

// pathOf maps an object key back to a node path.
func (b *Backend) pathOf(key string) string {
	return vfs.Clean(strings.TrimSuffix(strings.TrimPrefix(key, b.keyPrefix), "/"))
}

func (b *Backend) observe(op string, start time.Time, err error) {
	b.metrics.ObserveOperation(op, time.Since(start), err)
}

func (b *Backend) Stat(ctx context.Context, p string) (*vfs.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = vfs.Clean(p)
	if p == vfs.Root {
		return &vfs.Entry{Path: p, Kind: vfs.KindFolder}, nil
	}

	start := time.Now()
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(p)),
	})
	b.observe("HeadObject", start, ignoreNotFound(err))
	if err == nil {
		e := &vfs.Entry{Path: p, Kind: vfs.KindData, Size: aws.ToInt64(out.ContentLength)}
		if out.LastModified != nil {
			e.ModTime = *out.LastModified
		}
		return e, nil
	}
	if !isNotFound(err) {
		return nil, vfs.WrapError(vfs.ErrIO, p, err)
	}

	// Folder: explicit marker or any object below it
	list, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.folderKey(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, vfs.WrapError(vfs.ErrIO, p, err)
	}
	if len(list.Contents) == 0 {
		return nil, vfs.NewError(vfs.ErrNotFound, p, "no such node")
	}
	return &vfs.Entry{Path: p, Kind: vfs.KindFolder}, nil
}

func (b *Backend) List(ctx context.Context, p string) ([]vfs.Entry, error) {
	entry, err := b.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if !entry.IsFolder() {
		return nil, vfs.NewError(vfs.ErrNotFolder, entry.Path, "not a folder")
	}

	prefix := b.folderKey(entry.Path)
	var entries []vfs.Entry

	start := time.Now()
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			b.observe("ListObjectsV2", start, err)
			return nil, vfs.WrapError(vfs.ErrIO, entry.Path, err)
		}
		for _, cp := range page.CommonPrefixes {
			entries = append(entries, vfs.Entry{Path: b.pathOf(aws.ToString(cp.Prefix)), Kind: vfs.KindFolder})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			e := vfs.Entry{Path: b.pathOf(key), Kind: vfs.KindData, Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				e.ModTime = *obj.LastModified
			}
			entries = append(entries, e)
		}
	}
	b.observe("ListObjectsV2", start, nil)

	sortEntries(entries)
	return entries, nil
}

func (b *Backend) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = vfs.Clean(p)

	start := time.Now()
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(p)),
	})
	b.observe("GetObject", start, ignoreNotFound(err))
	if err != nil {
		if isNotFound(err) {
			if entry, statErr := b.Stat(ctx, p); statErr == nil && entry.IsFolder() {
				return nil, vfs.NewError(vfs.ErrIsFolder, p, "cannot read a folder")
			}
			return nil, vfs.NewError(vfs.ErrNotFound, p, "no such node")
		}
		return nil, vfs.WrapError(vfs.ErrIO, p, err)
	}

	return &metricsReadCloser{ReadCloser: out.Body, metrics: b.metrics, operation: "read"}, nil
}

// WriteFile uploads data with a single PutObject; S3 replaces objects atomically.
func (b *Backend) WriteFile(ctx context.Context, p string, data []byte) error {
	if err := b.checkWritable(ctx, p); err != nil {
		return err
	}
	p = vfs.Clean(p)

	if entry, err := b.Stat(ctx, p); err == nil && entry.IsFolder() {
		return vfs.NewError(vfs.ErrIsFolder, p, "cannot write a folder")
	}

	start := time.Now()
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(p)),
		Body:   bytes.NewReader(data),
	})
	b.observe("PutObject", start, err)
	if err != nil {
		return vfs.WrapError(vfs.ErrIO, p, fmt.Errorf("failed to write content to S3: %w", err))
	}
	b.metrics.RecordBytes("write", int64(len(data)))
	return nil
}

// MkdirAll writes marker objects for p and each missing ancestor.
func (b *Backend) MkdirAll(ctx context.Context, p string) error {
	if err := b.checkWritable(ctx, p); err != nil {
		return err
	}
	p = vfs.Clean(p)

	cur := vfs.Root
	for _, c := range vfs.Components(p) {
		cur = vfs.Join(cur, c)
		entry, err := b.Stat(ctx, cur)
		switch {
		case err == nil && entry.IsFolder():
			continue
		case err == nil:
			return vfs.NewError(vfs.ErrAlreadyExists, cur, "a data node exists at this path")
		case !vfs.IsNotFound(err):
			return err
		}
		if _, err := b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(b.folderKey(cur)),
			Body:   bytes.NewReader(nil),
		}); err != nil {
			return vfs.WrapError(vfs.ErrIO, cur, err)
		}
	}
	return nil
}

// Remove deletes the object (or every object below a folder) and the attributes.
func (b *Backend) Remove(ctx context.Context, p string) error {
	if err := b.checkWritable(ctx, p); err != nil {
		return err
	}
	p = vfs.Clean(p)
	if p == vfs.Root {
		return vfs.NewError(vfs.ErrInvalidArgument, p, "cannot remove the root")
	}

	keys, err := b.keysOf(ctx, p)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := b.deleteKey(ctx, key); err != nil {
			return vfs.WrapError(vfs.ErrIO, p, err)
		}
	}
	// The node is gone; leftover attributes are orphans the GC prunes.
	if err := b.attrs.Delete(ctx, p); err != nil {
		logger.Warn("tree %s: attributes of removed %s left for GC: %v", b.name, p, err)
	}
	return nil
}

// Rename copies every object of p to newPath, then deletes the sources. Objects
// are copied before anything is deleted, so a failed copy is rolled back by
// deleting the copies and the original tree is untouched.
func (b *Backend) Rename(ctx context.Context, p, newPath string) error {
	if err := b.checkWritable(ctx, p); err != nil {
		return err
	}
	p, newPath = vfs.Clean(p), vfs.Clean(newPath)

	if _, err := b.Stat(ctx, newPath); err == nil {
		return vfs.NewError(vfs.ErrAlreadyExists, newPath, "rename target exists")
	} else if !vfs.IsNotFound(err) {
		return err
	}
	keys, err := b.keysOf(ctx, p)
	if err != nil {
		return err
	}

	mv, err := b.attrs.BeginMove(ctx, p, newPath)
	if err != nil {
		return err
	}

	var copied []string
	for _, key := range keys {
		dst := b.objectKey(vfs.Rebase(b.pathOf(key), p, newPath))
		if strings.HasSuffix(key, "/") {
			dst += "/"
		}
		start := time.Now()
		_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(b.bucket),
			CopySource: aws.String(b.bucket + "/" + key),
			Key:        aws.String(dst),
		})
		b.observe("CopyObject", start, err)
		if err != nil {
			for _, c := range copied {
				if delErr := b.deleteKey(ctx, c); delErr != nil {
					logger.Warn("tree %s: rollback copy %s: %v", b.name, c, delErr)
				}
			}
			_ = mv.Abort(ctx)
			return vfs.WrapError(vfs.ErrIO, p, err)
		}
		copied = append(copied, dst)
	}

	if err := mv.Commit(ctx); err != nil {
		for _, c := range copied {
			_ = b.deleteKey(ctx, c)
		}
		_ = mv.Abort(ctx)
		return vfs.WrapError(vfs.ErrIO, p, err)
	}

	// A source object left behind keeps the old path visible.
	var lastErr error
	for attempt := 0; attempt < 2 && len(keys) > 0; attempt++ {
		var failed []string
		for _, key := range keys {
			if err := b.deleteKey(ctx, key); err != nil {
				lastErr = err
				failed = append(failed, key)
			}
		}
		keys = failed
	}
	if len(keys) > 0 {
		logger.Warn("tree %s: %d source object(s) of %s left after rename: %v", b.name, len(keys), p, lastErr)
		return vfs.NewError(vfs.ErrIO, p, "renamed to %s but %d source object(s) could not be deleted: %v",
			newPath, len(keys), lastErr)
	}
	return nil
}

// Exists reports whether p is present; used for move recovery.
func (b *Backend) Exists(p string) (bool, error) {
	_, err := b.Stat(context.Background(), p)
	if err == nil {
		return true, nil
	}
	if vfs.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// keysOf returns the object keys making up node p: its own object, or its marker
// and all objects below it.
func (b *Backend) keysOf(ctx context.Context, p string) ([]string, error) {
	entry, err := b.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if !entry.IsFolder() {
		return []string{b.objectKey(p)}, nil
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.folderKey(p)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, vfs.WrapError(vfs.ErrIO, p, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (b *Backend) deleteKey(ctx context.Context, key string) error {
	start := time.Now()
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	b.observe("DeleteObject", start, err)
	return err
}

func (b *Backend) checkWritable(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.readOnly {
		return vfs.NewError(vfs.ErrReadOnly, vfs.Clean(p), "tree %s is read-only", b.name)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func ignoreNotFound(err error) error {
	if isNotFound(err) {
		return nil
	}
	return err
}

var _ vfs.Backend = (*Backend)(nil)
