package upstream

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/core/plugin"
)

const s3Scheme = "s3://"

// S3API is the part of the S3 client the bucket source uses
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures the S3 client built for bucket sources
type S3Options struct {
	Region          string `yaml:"region" json:"region"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	PathStyle       bool   `yaml:"path_style,omitempty" json:"path_style,omitempty"`
	AccessKeyID     string `yaml:"-" json:"-"`
	SecretAccessKey string `yaml:"-" json:"-"`
	SessionToken    string `yaml:"-" json:"-"`
}

// DefaultS3Region is used when neither the config nor the environment names a region
const DefaultS3Region = "eu-west-1"

// S3OptionsFromEnv fills unset credentials and region from the standard AWS
// environment variables
func S3OptionsFromEnv(opts S3Options) S3Options {
	if opts.Region == "" {
		opts.Region = firstNonEmpty(os.Getenv("AWS_REGION"), os.Getenv("AWS_DEFAULT_REGION"), DefaultS3Region)
	}
	if opts.AccessKeyID == "" {
		opts.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
		opts.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		opts.SessionToken = os.Getenv("AWS_SESSION_TOKEN")
	}
	return opts
}

// NewS3Client builds an S3 client from static options. Without an access
// key, requests are sent unsigned, which works for public buckets.
func NewS3Client(opts S3Options) *s3.Client {
	o := s3.Options{
		Region:       opts.Region,
		UsePathStyle: opts.PathStyle,
	}
	if opts.AccessKeyID != "" {
		o.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		)
	} else {
		o.Credentials = aws.AnonymousCredentials{}
	}
	if opts.Endpoint != "" {
		o.BaseEndpoint = aws.String(opts.Endpoint)
	}
	return s3.New(o)
}

// S3Source offers the archives stored under a bucket prefix
type S3Source struct {
	bucket string
	prefix string
	client S3API
}

// NewS3Source creates a source for s3://bucket[/prefix]
func NewS3Source(descriptor string, client S3API) (*S3Source, error) {
	bucket, prefix, err := parseS3Descriptor(descriptor)
	if err != nil {
		return nil, err
	}
	return &S3Source{bucket: bucket, prefix: prefix, client: client}, nil
}

func parseS3Descriptor(descriptor string) (string, string, error) {
	rest := strings.TrimPrefix(descriptor, s3Scheme)
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid S3 source %q: missing bucket", descriptor)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix, nil
}

// Descriptor returns s3://bucket/prefix
func (s *S3Source) Descriptor() string {
	return s3Scheme + s.bucket + "/" + s.prefix
}

// Search lists the bucket prefix and returns the named plugin's archives.
// The ETag is used as the content digest.
func (s *S3Source) Search(ctx context.Context, name string) ([]ports.Candidate, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	var candidates []ports.Candidate
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to search bucket %s: %w", s.bucket, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			id, err := plugin.ParseFilename(key)
			if err != nil || id.Name != name {
				continue
			}
			candidates = append(candidates, ports.Candidate{
				ID:       id,
				Source:   s.Descriptor(),
				Location: key,
				Size:     aws.ToInt64(obj.Size),
				Digest:   strings.Trim(aws.ToString(obj.ETag), `"`),
			})
		}
	}
	return candidates, nil
}

// Open downloads the candidate's object
func (s *S3Source) Open(ctx context.Context, c ports.Candidate) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(c.Location),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to download %s/%s: %w", s.bucket, c.Location, err)
	}
	return out.Body, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
