package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures the bucket backend. Endpoint selects an
// S3-compatible service and switches to path-style addressing.
type S3Options struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
	Prefix        string
	PresignTTL    time.Duration
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presignPutAPI interface {
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3 stores photos in a bucket.
type S3 struct {
	opts      S3Options
	client    putObjectAPI
	presigner presignPutAPI
	now       func() time.Time
}

// NewS3 loads AWS configuration and builds the bucket client. Static
// credentials are used when both keys are set, otherwise the default chain.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, ErrNotConfigured
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3{
		opts:      opts,
		client:    client,
		presigner: s3.NewPresignClient(client),
		now:       time.Now,
	}, nil
}

// Put uploads data under a fresh key.
func (s *S3) Put(ctx context.Context, contentType string, data []byte) (Object, error) {
	ct, err := CheckContentType(contentType)
	if err != nil {
		return Object{}, err
	}
	key := NewKey(s.opts.Prefix, ct, s.now())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ct),
	})
	if err != nil {
		return Object{}, fmt.Errorf("s3 put %s: %w", key, err)
	}
	return Object{Ref: key, URL: s.URL(key), ContentType: ct, Size: int64(len(data))}, nil
}

// PresignPut signs a PUT for a fresh key. The client must send the same
// Content-Type header.
func (s *S3) PresignPut(ctx context.Context, contentType string) (PresignedUpload, error) {
	ct, err := CheckContentType(contentType)
	if err != nil {
		return PresignedUpload{}, err
	}
	key := NewKey(s.opts.Prefix, ct, s.now())
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(ct),
	}, s3.WithPresignExpires(s.opts.PresignTTL))
	if err != nil {
		return PresignedUpload{}, fmt.Errorf("s3 presign %s: %w", key, err)
	}
	method := req.Method
	if method == "" {
		method = http.MethodPut
	}
	return PresignedUpload{
		Ref:         key,
		URL:         req.URL,
		Method:      method,
		Headers:     map[string]string{"Content-Type": ct},
		ContentType: ct,
		ExpiresAt:   s.now().Add(s.opts.PresignTTL),
	}, nil
}

// URL returns the public address of ref.
func (s *S3) URL(ref string) string {
	if ref == "" {
		return ""
	}
	if s.opts.PublicBaseURL != "" {
		return strings.TrimRight(s.opts.PublicBaseURL, "/") + "/" + ref
	}
	if s.opts.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.opts.Endpoint, "/"), s.opts.Bucket, ref)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.opts.Bucket, s.opts.Region, ref)
}
