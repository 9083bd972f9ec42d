package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ganesh-swami/prvt-sub003/internal/port/outbound"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/config"
)

// maxCatalogSize bounds the document read from the bucket.
const maxCatalogSize = 4 << 20

// ErrObjectNotFound indicates the catalog object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectAPI is the subset of the S3 client used by CatalogSource.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewClient creates an S3 client from storage configuration. An endpoint
// selects an S3-compatible service such as R2 or MinIO.
func NewClient(ctx context.Context, cfg *config.StorageConfig) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// CatalogSource reads the pricing catalog from an object. Unchanged objects
// are not downloaded again.
type CatalogSource struct {
	client ObjectAPI
	bucket string
	key    string

	mu   sync.Mutex
	etag string
	data []byte
}

// NewCatalogSource creates a new S3 catalog source.
func NewCatalogSource(client ObjectAPI, bucket, key string) *CatalogSource {
	return &CatalogSource{client: client, bucket: bucket, key: key}
}

// Name implements outbound.CatalogSourcePort.
func (s *CatalogSource) Name() string { return "s3" }

// Fetch implements outbound.CatalogSourcePort.
func (s *CatalogSource) Fetch(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	etag, cached := s.etag, s.data
	s.mu.Unlock()

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	}
	if etag != "" {
		input.IfNoneMatch = aws.String(etag)
	}

	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		var re *awshttp.ResponseError
		if errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotModified && cached != nil {
			return cached, nil
		}
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3://%s/%s: %w", s.bucket, s.key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxCatalogSize+1))
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	if len(data) > maxCatalogSize {
		return nil, fmt.Errorf("catalog object exceeds %d bytes", maxCatalogSize)
	}

	s.mu.Lock()
	s.etag = aws.ToString(out.ETag)
	s.data = data
	s.mu.Unlock()

	return data, nil
}

// Compile-time check
var _ outbound.CatalogSourcePort = (*CatalogSource)(nil)
