package response

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter is the subset of *s3.Client used by S3Builder.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config describes how to reach the bucket holding the response object.
type S3Config struct {
	Region string

	// Endpoint overrides the S3 endpoint, e.g. for MinIO or LocalStack.
	Endpoint string

	// UsePathStyle addresses buckets as endpoint/bucket/key.
	UsePathStyle bool

	// AccessKeyID and SecretAccessKey are static credentials. When both are
	// empty requests are sent unsigned, which works for public objects.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// NewS3Client builds an S3 client from cfg.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		creds := aws.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			SessionToken:    cfg.SessionToken,
			Source:          "acceptd",
		}
		opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		})
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	return s3.New(opts)
}

// S3Builder serves an object stored in S3.
//
// The object is fetched on the first successful Build and cached. Its
// Content-Type is used for framing unless one was set explicitly.
type S3Builder struct {
	client      ObjectGetter
	bucket      string
	key         string
	contentType string
	maxSize     int64

	mu      sync.Mutex
	payload []byte
}

// DefaultS3MaxSize bounds the object size S3Builder will load.
const DefaultS3MaxSize = 8 << 20

// S3 returns a builder that serves bucket/key as a 200 response.
func S3(client ObjectGetter, bucket, key string) *S3Builder {
	return &S3Builder{
		client:  client,
		bucket:  bucket,
		key:     key,
		maxSize: DefaultS3MaxSize,
	}
}

// WithContentType overrides the object's stored Content-Type.
func (b *S3Builder) WithContentType(ct string) *S3Builder {
	b.contentType = ct
	return b
}

// WithMaxSize sets the largest object accepted, in bytes.
func (b *S3Builder) WithMaxSize(n int64) *S3Builder {
	if n > 0 {
		b.maxSize = n
	}
	return b
}

// Build implements Builder.
func (b *S3Builder) Build(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.payload != nil {
		return b.payload, nil
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		return nil, fmt.Errorf("response: s3 get s3://%s/%s: %w", b.bucket, b.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, b.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("response: s3 read s3://%s/%s: %w", b.bucket, b.key, err)
	}
	if int64(len(data)) > b.maxSize {
		return nil, fmt.Errorf("response: s3 object s3://%s/%s exceeds %d bytes", b.bucket, b.key, b.maxSize)
	}

	ct := b.contentType
	if ct == "" {
		ct = aws.ToString(out.ContentType)
	}
	b.payload = Frame(http.StatusOK, ct, data)
	return b.payload, nil
}
