package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const uploadPartSize = 10 * 1024 * 1024

// Uploader is the part of manager.Uploader that S3Store needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// ObjectHeader is the part of *s3.Client that S3Store needs to check
// references.
type ObjectHeader interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store uploads files to Bucket under an optional Prefix. References have
// the form "s3://bucket/key".
type S3Store struct {
	Bucket   string
	Prefix   string
	uploader Uploader
	head     ObjectHeader
}

// S3Options configures NewS3Store. Endpoint targets S3-compatible servers
// such as MinIO and switches to path-style addressing.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// NewS3Store loads the default AWS configuration chain (env, shared config,
// instance role) and builds a multipart uploader.
func NewS3Store(ctx context.Context, o S3Options) (*S3Store, error) {
	if o.Bucket == "" {
		return nil, errors.New("S3_BUCKET is required for the s3 upload backend")
	}
	var loadOpts []func(*config.LoadOptions) error
	if o.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.Region))
	}
	sdkConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(sdkConfig, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	})
	up := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = uploadPartSize
	})
	return NewS3StoreWithClients(up, client, o.Bucket, o.Prefix), nil
}

// NewS3StoreWithClients wires a custom uploader and head client (tests,
// shared clients).
func NewS3StoreWithClients(u Uploader, h ObjectHeader, bucket, prefix string) *S3Store {
	return &S3Store{Bucket: bucket, Prefix: strings.Trim(prefix, "/"), uploader: u, head: h}
}

// Save implements Store.
func (s *S3Store) Save(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	key := newKey(filename)
	if s.Prefix != "" {
		key = path.Join(s.Prefix, key)
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
		Body:   r,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, in); err != nil {
		return "", fmt.Errorf("s3 upload: %w", err)
	}
	return "s3://" + s.Bucket + "/" + key, nil
}

// Exists implements Store. Only references to this bucket and prefix count.
func (s *S3Store) Exists(ctx context.Context, ref string) (bool, error) {
	key, ok := strings.CutPrefix(ref, "s3://"+s.Bucket+"/")
	if !ok {
		return false, nil
	}
	rel := key
	if s.Prefix != "" {
		if rel, ok = strings.CutPrefix(key, s.Prefix+"/"); !ok {
			return false, nil
		}
	}
	if !ValidKey(rel) {
		return false, nil
	}
	_, err := s.head.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	var nf *types.NotFound
	switch {
	case errors.As(err, &nf):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("s3 head: %w", err)
	}
	return true, nil
}
