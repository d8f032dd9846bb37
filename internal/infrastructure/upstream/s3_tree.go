package upstream

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Tree copies whole directory trees out of a bucket
type S3Tree struct {
	bucket string
	prefix string
	client S3API
}

// NewS3Tree creates a tree reader for s3://bucket[/prefix]. A bare bucket
// name is accepted too.
func NewS3Tree(descriptor string, client S3API) (*S3Tree, error) {
	bucket, prefix, err := parseS3Descriptor(descriptor)
	if err != nil {
		return nil, err
	}
	return &S3Tree{bucket: bucket, prefix: prefix, client: client}, nil
}

// Tree creates a tree reader sharing the factory's S3 client
func (f *SourceFactory) Tree(descriptor string) (*S3Tree, error) {
	return NewS3Tree(strings.TrimSpace(descriptor), f.s3())
}

// DownloadTree writes every object below prefix into destDir, keeping the
// relative layout, and returns how many files were written
func (t *S3Tree) DownloadTree(ctx context.Context, prefix, destDir string) (int, error) {
	root := t.prefix + strings.Trim(prefix, "/") + "/"
	paginator := s3.NewListObjectsV2Paginator(t.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(t.bucket),
		Prefix: aws.String(root),
	})

	count := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return count, fmt.Errorf("unable to list s3://%s/%s: %w", t.bucket, root, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, root)
			if rel == "" || strings.HasSuffix(rel, "/") {
				continue
			}
			if !filepath.IsLocal(rel) {
				return count, fmt.Errorf("refusing to write object %s outside %s", key, destDir)
			}
			if err := t.download(ctx, key, filepath.Join(destDir, filepath.FromSlash(rel))); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func (t *S3Tree) download(ctx context.Context, key, dest string) error {
	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("unable to download %s/%s: %w", t.bucket, key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dest), err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	_, err = io.Copy(f, out.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}
