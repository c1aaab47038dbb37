package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var errIncompleteS3 = errors.New("incomplete S3 config")

// S3Config addresses an S3-compatible service such as R2 or MinIO.
type S3Config struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	Bucket         string
	ForcePathStyle bool
	PublicBaseURL  string
}

// newMinioClient connects to cfg.Endpoint. An http:// or https:// scheme on
// the endpoint overrides cfg.UseSSL.
func newMinioClient(cfg S3Config) (*minio.Client, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errIncompleteS3
	}
	endpoint, secure := cfg.Endpoint, cfg.UseSSL
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint, secure = u.Host, u.Scheme == "https"
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	lookup := minio.BucketLookupAuto
	if cfg.ForcePathStyle {
		lookup = minio.BucketLookupPath
	}
	return minio.New(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       region,
		BucketLookup: lookup,
	})
}

// s3Storage keeps profile images in a bucket and also serves block-list
// objects to the word list loader.
type s3Storage struct {
	client     *minio.Client
	bucket     string
	publicBase string
	pathStyle  bool
}

func newS3Storage(cfg S3Config) (*s3Storage, error) {
	if cfg.Bucket == "" {
		return nil, errIncompleteS3
	}
	client, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &s3Storage{client: client, bucket: cfg.Bucket, publicBase: base, pathStyle: cfg.ForcePathStyle}, nil
}

// bounded applies d as a deadline unless ctx already has one.
func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func (s *s3Storage) IsLocal() bool { return false }

func (s *s3Storage) Save(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	ctx, cancel := bounded(ctx, 30*time.Second)
	defer cancel()

	size := int64(-1)
	if br, ok := r.(*bytes.Reader); ok {
		size = int64(br.Len())
	}
	// avatar keys are unique per upload
	opts := minio.PutObjectOptions{ContentType: contentType, CacheControl: "public, max-age=31536000, immutable"}
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, opts); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return s.PublicURL(key), nil
}

func (s *s3Storage) Delete(ctx context.Context, key string) error {
	ctx, cancel := bounded(ctx, 15*time.Second)
	defer cancel()
	return s.client.RemoveObject(ctx, s.bucket, strings.TrimPrefix(key, "/"), minio.RemoveObjectOptions{})
}

// Get reads a whole object; used for block-lists, which are small.
func (s *s3Storage) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := bounded(ctx, 15*time.Second)
	defer cancel()
	obj, err := s.client.GetObject(ctx, s.bucket, strings.TrimPrefix(key, "/"), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (s *s3Storage) PublicURL(key string) string {
	key = strings.TrimPrefix(key, "/")
	if s.publicBase != "" {
		return s.publicBase + "/" + key
	}
	host := s.client.EndpointURL().Host
	if s.pathStyle {
		return "https://" + host + "/" + s.bucket + "/" + key
	}
	return "https://" + s.bucket + "." + host + "/" + key
}
