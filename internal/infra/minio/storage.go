package minio

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const sourceScheme = "s3://"

// Storage fetches creator videos referenced as s3://bucket/key and stores the
// frame thumbnails surfaces point to.
type Storage struct {
	client       *miniogo.Client
	sourceBucket string
	frameBucket  string
	publicURL    string
}

type StorageConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	SourceBucket string
	FrameBucket  string
	// PublicURL prefixes frame object keys in returned URLs. Defaults to the
	// endpoint itself.
	PublicURL string
}

func NewStorage(cfg StorageConfig) (*Storage, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	public := cfg.PublicURL
	if public == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		public = scheme + "://" + cfg.Endpoint
	}

	return &Storage{
		client:       client,
		sourceBucket: cfg.SourceBucket,
		frameBucket:  cfg.FrameBucket,
		publicURL:    strings.TrimRight(public, "/"),
	}, nil
}

func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.sourceBucket, s.frameBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

func (s *Storage) Handles(ref string) bool {
	return strings.HasPrefix(ref, sourceScheme)
}

// FetchSource downloads the object behind ref to destPath. Any failure means
// the video cannot be read and is reported as ErrSourceUnavailable.
func (s *Storage) FetchSource(ctx context.Context, ref string, destPath string) error {
	bucket, key, err := ParseSourceRef(ref, s.sourceBucket)
	if err != nil {
		return fmt.Errorf("%w: %v", entity.ErrSourceUnavailable, err)
	}
	if err := s.client.FGetObject(ctx, bucket, key, destPath, miniogo.GetObjectOptions{}); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: download %s: %v", entity.ErrSourceUnavailable, ref, err)
	}
	return nil
}

func (s *Storage) UploadFrame(ctx context.Context, videoID string, timestamp float64, image []byte) (string, error) {
	key := FrameKey(videoID, timestamp)
	_, err := s.client.PutObject(ctx, s.frameBucket, key, bytes.NewReader(image), int64(len(image)), miniogo.PutObjectOptions{
		ContentType: "image/png",
	})
	if err != nil {
		return "", fmt.Errorf("upload frame: %w", err)
	}
	return s.publicURL + "/" + s.frameBucket + "/" + key, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.frameBucket)
	return err
}

// ParseSourceRef splits s3://bucket/key. A ref without a bucket segment
// (s3:///key) falls back to defaultBucket.
func ParseSourceRef(ref, defaultBucket string) (bucket, key string, err error) {
	if !strings.HasPrefix(ref, sourceScheme) {
		return "", "", fmt.Errorf("not an object reference: %q", ref)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", ref, err)
	}
	bucket = u.Host
	if bucket == "" {
		bucket = defaultBucket
	}
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("incomplete object reference: %q", ref)
	}
	return bucket, key, nil
}

func FrameKey(videoID string, timestamp float64) string {
	return fmt.Sprintf("%s/frame_%08.3f.png", videoID, timestamp)
}
