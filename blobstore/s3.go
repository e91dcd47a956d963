package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// S3Backend stores blobs in an S3 or S3-compatible bucket, keyed by the hex
// SHA-256 of the content under a configurable prefix.
type S3Backend struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates an S3 storage backend. When accessKey and secretKey
// are empty the client runs unauthenticated, which only works against
// public buckets.
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	} else {
		log.Warn("no S3 credentials provided, uploads may fail", "bucket", bucketName)
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("could not create AWS session: %w", err)
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	return &S3Backend{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      strings.Trim(prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

// Upload puts the ciphertext into the bucket and returns its hex SHA-256 as
// the content address.
func (b *S3Backend) Upload(ctx context.Context, ciphertext []byte) (string, error) {
	hash := sha256.Sum256(ciphertext)
	address := hex.EncodeToString(hash[:])
	key := b.objectKey(address)
	start := time.Now()

	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
		Body:   bytes.NewReader(ciphertext),
	})
	if err != nil {
		return "", fmt.Errorf("could not put object to S3: %w", err)
	}

	b.log.Debug("uploaded blob to S3",
		"bucket", b.bucketName, "key", key, "size", len(ciphertext), "took", time.Since(start))
	return address, nil
}

// Download gets the ciphertext stored at the given content address.
func (b *S3Backend) Download(ctx context.Context, contentAddress string) ([]byte, error) {
	key := b.objectKey(contentAddress)

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("could not get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read object body: %w", err)
	}
	return data, nil
}

// Available checks bucket access with a HEAD request.
func (b *S3Backend) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Debug("S3 backend unavailable", "bucket", b.bucketName, "err", err)
		return false
	}
	return true
}

// Name returns an identifier for logging.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI identifying this backend.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func (b *S3Backend) objectKey(address string) string {
	return path.Join(b.prefix, "blobs", address)
}
