// internal/media/s3.go
// Package media resolves icon and screenshot references to URLs the front-end loads.
// With S3 configured, store media is mirrored into a bucket once and served from there
// through presigned URLs; otherwise the store URL is used as is.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/singleflight"

	"github.com/SnapStoreCommunity/snap-store-go/internal/model"
)

// MaxMediaSize caps the size of a mirrored image.
const MaxMediaSize = 10 << 20

// Mirror resolves a media reference to a loadable URL.
type Mirror interface {
	Thumbnail(ctx context.Context, m model.Media) (string, error)
}

// Passthrough serves media straight from the store.
type Passthrough struct{}

// Thumbnail returns the source URL.
func (Passthrough) Thumbnail(_ context.Context, m model.Media) (string, error) {
	if m.URL == "" {
		return "", fmt.Errorf("media has no URL")
	}
	return m.URL, nil
}

// S3Mirror copies store media into an S3 bucket and hands out presigned GET URLs.
type S3Mirror struct {
	client  *s3.Client // AWS S3 client
	presign *s3.PresignClient
	bucket  string        // S3 bucket name for mirrored media
	hc      *http.Client  // Fetches the source images
	expires time.Duration // Lifetime of returned URLs

	uploads singleflight.Group // One mirror operation per object at a time
}

// NewS3Mirror creates a mirror for an S3 or S3-compatible service such as MinIO.
func NewS3Mirror(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string) (*S3Mirror, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
				}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing for MinIO and other S3-compatible services
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &S3Mirror{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		hc:      &http.Client{Timeout: 30 * time.Second},
		expires: time.Hour,
	}, nil
}

// ObjectKey names the mirrored copy of a source URL.
func ObjectKey(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	ext := strings.ToLower(path.Ext(sourceURL))
	if len(ext) > 5 || strings.ContainsAny(ext, "?#&") {
		ext = ""
	}
	return "media/" + hex.EncodeToString(sum[:]) + ext
}

// Thumbnail mirrors m if the bucket does not hold it yet and returns a presigned URL for it.
func (s *S3Mirror) Thumbnail(ctx context.Context, m model.Media) (string, error) {
	if m.URL == "" {
		return "", fmt.Errorf("media has no URL")
	}
	key := ObjectKey(m.URL)

	_, err, _ := s.uploads.Do(key, func() (any, error) {
		exists, err := s.exists(ctx, key)
		if err != nil || exists {
			return nil, err
		}
		return nil, s.upload(ctx, key, m.URL)
	})
	if err != nil {
		return "", err
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.expires
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return req.URL, nil
}

func (s *S3Mirror) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("failed to get object metadata: %w", err)
}

func (s *S3Mirror) upload(ctx context.Context, key, sourceURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("invalid media URL: %w", err)
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download media: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaSize+1))
	if err != nil {
		return fmt.Errorf("failed to download media: %w", err)
	}
	if len(body) > MaxMediaSize {
		return fmt.Errorf("media exceeds %d bytes", MaxMediaSize)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to store media: %w", err)
	}
	return nil
}

// Resolve turns the icon and screenshots of app into thumbnails.
// Screenshots the mirror cannot resolve fall back to their store URL.
func Resolve(ctx context.Context, mirror Mirror, app model.App) model.MediaResponse {
	resp := model.MediaResponse{Screenshots: make([]model.Thumbnail, 0, len(app.Screenshots))}
	thumb := func(m model.Media, height int) model.Thumbnail {
		url, err := mirror.Thumbnail(ctx, m)
		if err != nil {
			url = m.URL
		}
		w, h := m.ScaledSize(height)
		return model.Thumbnail{Source: m, URL: url, Width: w, Height: h}
	}
	if app.Icon != nil {
		t := thumb(*app.Icon, IconSize)
		resp.Icon = &t
	}
	for _, m := range app.Screenshots {
		resp.Screenshots = append(resp.Screenshots, thumb(m, model.DefaultScreenshotHeight))
	}
	return resp
}

// IconSize is the display height of app icons.
const IconSize = 64
