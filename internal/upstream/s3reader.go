package upstream

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wincachefs/wincachefs/internal/circuit"
	"github.com/wincachefs/wincachefs/pkg/errors"
	"github.com/wincachefs/wincachefs/pkg/retry"
	"github.com/wincachefs/wincachefs/pkg/types"
)

// S3Reader treats an S3 bucket/prefix as a network share: ListObjectsV2
// drives directory-cache enumeration, GetObject drives ReadAll/ReadRange.
// There is no write path. Every call to the SDK goes through a circuit
// breaker (internal/circuit) wrapped in a retryer (pkg/retry).
type S3Reader struct {
	client  *s3.Client
	bucket  string
	breaker *circuit.Breaker
	retryer *retry.Retryer
}

// S3ReaderConfig configures the S3-backed upstream reader.
type S3ReaderConfig struct {
	Bucket         string
	Region         string
	Endpoint       string
	ForcePathStyle bool
	Retry          retry.Config
	CircuitBreaker circuit.Config
}

// NewS3Reader builds an S3Reader from the default AWS credential chain.
func NewS3Reader(ctx context.Context, cfg S3ReaderConfig) (*S3Reader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "s3 reader requires a bucket").
			WithComponent("upstream.s3")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "load AWS config").
			WithCause(err).WithComponent("upstream.s3")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}

	return &S3Reader{
		client:  client,
		bucket:  cfg.Bucket,
		breaker: circuit.New("upstream.s3", cfg.CircuitBreaker),
		retryer: retry.New(retryCfg),
	}, nil
}

// Breaker exposes the reader's circuit breaker so the metrics collector
// can observe its state transitions.
func (r *S3Reader) Breaker() *circuit.Breaker {
	return r.breaker
}

// ReadAll fetches the whole object named by location (an S3 key).
func (r *S3Reader) ReadAll(ctx context.Context, location types.UpstreamLocation) ([]byte, error) {
	return r.getObject(ctx, location, nil)
}

// ReadRange fetches a byte range, for NeverCache paths served straight
// through without being admitted to the memory cache.
func (r *S3Reader) ReadRange(ctx context.Context, location types.UpstreamLocation, offset, length int64) ([]byte, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	return r.getObject(ctx, location, &rangeHeader)
}

func (r *S3Reader) getObject(ctx context.Context, location types.UpstreamLocation, rng *string) ([]byte, error) {
	key := keyOf(location)

	var data []byte
	err := r.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return r.breaker.Execute(ctx, func(ctx context.Context) error {
			out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(r.bucket),
				Key:    aws.String(key),
				Range:  rng,
			})
			if err != nil {
				return errors.New(errors.ErrCodeUpstreamIO, fmt.Sprintf("get object %s", key)).
					WithCause(err).WithComponent("upstream.s3").WithOperation("GetObject")
			}
			defer out.Body.Close()

			body, err := io.ReadAll(out.Body)
			if err != nil {
				return errors.New(errors.ErrCodeUpstreamIO, fmt.Sprintf("read body %s", key)).
					WithCause(err).WithComponent("upstream.s3").WithOperation("GetObject")
			}
			data = body
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Enumerate lists the objects directly under location's prefix, one
// directory level at a time using the Delimiter option so child
// "directories" surface as common prefixes.
func (r *S3Reader) Enumerate(ctx context.Context, location types.UpstreamLocation) ([]types.ObjectMeta, error) {
	prefix := strings.TrimSuffix(keyOf(location), "/") + "/"
	if prefix == "/" {
		prefix = ""
	}

	var out []types.ObjectMeta
	var token *string
	for {
		var page *s3.ListObjectsV2Output
		listErr := r.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			return r.breaker.Execute(ctx, func(ctx context.Context) error {
				p, err := r.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
					Bucket:            aws.String(r.bucket),
					Prefix:            aws.String(prefix),
					Delimiter:         aws.String("/"),
					ContinuationToken: token,
				})
				if err != nil {
					return errors.New(errors.ErrCodeUpstreamIO, fmt.Sprintf("list %s", prefix)).
						WithCause(err).WithComponent("upstream.s3").WithOperation("Enumerate")
				}
				page = p
				return nil
			})
		})
		if listErr != nil {
			return nil, listErr
		}

		for _, p := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(p.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			out = append(out, types.ObjectMeta{Name: name, Kind: types.KindDirectory})
		}
		for _, o := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(o.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			out = append(out, types.ObjectMeta{
				Name:  name,
				Kind:  types.KindFile,
				Size:  aws.ToInt64(o.Size),
				Times: types.Times{Modified: aws.ToTime(o.LastModified)},
			})
		}

		if page.IsTruncated == nil || !*page.IsTruncated {
			break
		}
		token = page.NextContinuationToken
	}
	return out, nil
}

// ChildLocation composes a child S3 key with '/' separators — S3 keys
// never use '\', unlike a UNC share's ChildLocation.
func (r *S3Reader) ChildLocation(parent types.UpstreamLocation, name string) types.UpstreamLocation {
	p := strings.TrimSuffix(string(parent), "/")
	if p == "" {
		return types.UpstreamLocation(name)
	}
	return types.UpstreamLocation(p + "/" + name)
}

func keyOf(location types.UpstreamLocation) string {
	return strings.TrimPrefix(string(location), "/")
}
