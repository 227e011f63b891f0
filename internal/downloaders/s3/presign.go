package s3

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

const DefaultExpiry = time.Hour

// Presigner turns s3://bucket/key URIs into presigned HTTPS GET URLs so the
// objects go through the regular HTTP download path.
type Presigner struct {
	client *s3.PresignClient
	expiry time.Duration
}

func NewPresigner(ctx context.Context, profile string) (*Presigner, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(profile),
		config.WithRetryMode("adaptive"),
	)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	return NewPresignerFromConfig(cfg, DefaultExpiry), nil
}

func NewPresignerFromConfig(cfg aws.Config, expiry time.Duration) *Presigner {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Presigner{client: s3.NewPresignClient(s3.NewFromConfig(cfg)), expiry: expiry}
}

func IsS3URI(uri string) bool { return strings.HasPrefix(uri, "s3://") }

func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URI: %s", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("s3 URI must name an object: %s", uri)
	}
	return bucket, key, nil
}

func (p *Presigner) Presign(ctx context.Context, uri string) (string, error) {
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return "", fmt.Errorf("error presigning %s: %w", uri, err)
	}
	log.Debug().Str("op", "s3/presign").Str("bucket", bucket).Str("key", key).Msg("Presigned object URL")
	return req.URL, nil
}

// Resolver returns a URI resolver that presigns s3:// URIs and leaves all
// others untouched. The AWS config is only loaded for the first s3 URI.
func Resolver(profile string) func(context.Context, string) (string, error) {
	var mu sync.Mutex
	var presigner *Presigner
	return func(ctx context.Context, uri string) (string, error) {
		if !IsS3URI(uri) {
			return uri, nil
		}
		mu.Lock()
		if presigner == nil {
			p, err := NewPresigner(ctx, profile)
			if err != nil {
				mu.Unlock()
				return "", err
			}
			presigner = p
		}
		mu.Unlock()
		return presigner.Presign(ctx, uri)
	}
}
