// Package artifact stores execution byproducts: response snapshots from the
// HTTP poster and screenshots from browser-based adapters. Artifacts land on
// S3 when a bucket is configured, otherwise on the local filesystem.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"

	"postpilot/internal/config"
)

const thumbnailWidth = 320

// Uploader writes one object to the backing storage and returns its location.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Store keys artifacts by job.
type Store struct {
	uploader Uploader
}

// New picks the S3 backend when a bucket is configured, local otherwise.
func New(ctx context.Context, cfg config.Config) (*Store, error) {
	if cfg.ArtifactS3Bucket == "" {
		return &Store{uploader: &localUploader{baseDir: cfg.ArtifactDir}}, nil
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{uploader: &s3Uploader{client: client, bucket: cfg.ArtifactS3Bucket}}, nil
}

// NewWithUploader wires a custom backend; used by tests.
func NewWithUploader(u Uploader) *Store {
	return &Store{uploader: u}
}

// SaveSnapshot stores the raw response body for a job and returns its key.
func (s *Store) SaveSnapshot(ctx context.Context, jobID string, body []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := sanitizeKey(fmt.Sprintf("jobs/%s/response", jobID))
	if _, err := s.uploader.Upload(ctx, key, body, contentType); err != nil {
		return "", fmt.Errorf("save snapshot: %w", err)
	}
	return key, nil
}

// SaveScreenshot stores a screenshot plus a dashboard thumbnail and returns
// the screenshot key.
func (s *Store) SaveScreenshot(ctx context.Context, jobID string, png []byte) (string, error) {
	key := sanitizeKey(fmt.Sprintf("jobs/%s/screenshot.png", jobID))
	if _, err := s.uploader.Upload(ctx, key, png, "image/png"); err != nil {
		return "", fmt.Errorf("save screenshot: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(png))
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}
	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, thumb, imaging.PNG); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	thumbKey := sanitizeKey(fmt.Sprintf("jobs/%s/screenshot_thumb.png", jobID))
	if _, err := s.uploader.Upload(ctx, thumbKey, buf.Bytes(), "image/png"); err != nil {
		return "", fmt.Errorf("save thumbnail: %w", err)
	}
	return key, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArtifactS3Region),
	}
	if cfg.ArtifactS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArtifactS3Endpoint,
					HostnameImmutable: cfg.ArtifactS3PathStyle,
					SigningRegion:     cfg.ArtifactS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArtifactS3PathStyle
	}), nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
