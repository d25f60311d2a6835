package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"zapblast/config"
)

// Store wraps the S3 client used for campaign media. A Store with no bucket
// configured is valid and reports itself disabled.
type Store struct {
	client    *s3.Client
	bucket    string
	region    string
	endpoint  string
	pathStyle bool
	publicURL string
}

// NewStore builds the media store from configuration. An empty bucket yields
// a disabled store and no error, so deployments without media keep working.
func NewStore(cfg config.S3Config) (*Store, error) {
	if cfg.Bucket == "" {
		return &Store{}, nil
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("S3 credentials not available, set S3_ACCESS_KEY and S3_SECRET_KEY")
	}

	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && strings.Contains(endpoint, cfg.Bucket+".") {
		// Endpoint should not contain the bucket name; a common misconfiguration.
		endpoint = strings.Replace(endpoint, cfg.Bucket+".", "", 1)
		log.Warn().
			Str("original_endpoint", cfg.Endpoint).
			Str("cleaned_endpoint", endpoint).
			Str("bucket", cfg.Bucket).
			Msg("Cleaned bucket name from S3 endpoint")
	}
	if endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               endpoint,
					HostnameImmutable: cfg.PathStyle,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		awsCfg.EndpointResolverWithOptions = resolver
	}

	// Buckets with dots break virtual-hosted TLS, so force path-style for them.
	usePathStyle := cfg.PathStyle
	if strings.Contains(cfg.Bucket, ".") {
		usePathStyle = true
		log.Info().
			Str("bucket", cfg.Bucket).
			Msg("Bucket name contains dots, forcing path-style URLs")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})

	log.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Str("endpoint", endpoint).
		Bool("path_style", usePathStyle).
		Msg("S3 media store initialized")

	return &Store{
		client:    client,
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		endpoint:  endpoint,
		pathStyle: usePathStyle,
		publicURL: cfg.PublicURL,
	}, nil
}

// Enabled reports whether media uploads can be served at all.
func (s *Store) Enabled() bool {
	return s.client != nil
}

// Upload stores one object and returns its public URL.
func (s *Store) Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("media store is not configured")
	}

	contentType := mimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=3600"),
	}
	if strings.HasPrefix(mimeType, "image/") || strings.HasPrefix(mimeType, "video/") || mimeType == "application/pdf" {
		input.ContentDisposition = aws.String("inline")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		log.Error().
			Str("key", key).
			Str("bucket", s.bucket).
			Str("mime_type", mimeType).
			Int("size", len(data)).
			Err(err).
			Msg("Failed to upload file to S3")
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Info().
		Str("key", key).
		Str("bucket", s.bucket).
		Str("mime_type", mimeType).
		Int("size", len(data)).
		Msg("File uploaded to S3")

	return s.PublicURL(key), nil
}

// PublicURL renders the externally reachable URL for a stored object.
func (s *Store) PublicURL(key string) string {
	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.publicURL, "/"), s.bucket, key)
	}

	switch {
	case s.endpoint == "" || strings.Contains(s.endpoint, "amazonaws.com"):
		if s.pathStyle {
			return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", s.region, s.bucket, key)
		}
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
	case s.pathStyle:
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.endpoint, "/"), s.bucket, key)
	default:
		host := strings.TrimPrefix(s.endpoint, "https://")
		host = strings.TrimPrefix(host, "http://")
		return fmt.Sprintf("https://%s.%s/%s", s.bucket, host, key)
	}
}

// TestConnection lists a single object to verify bucket access.
func (s *Store) TestConnection(ctx context.Context) error {
	if !s.Enabled() {
		return fmt.Errorf("media store is not configured")
	}
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	})
	return err
}

// objectKey builds a date-partitioned key under the campaign's prefix.
func objectKey(campaignID, id, ext string) string {
	now := time.Now().UTC()
	return fmt.Sprintf("campaigns/%s/%s/%s/%s/%s%s",
		campaignID,
		now.Format("2006"),
		now.Format("01"),
		now.Format("02"),
		id,
		ext,
	)
}
