package credstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrBackupNotFound is returned by Get when no bundle exists for a session.
var ErrBackupNotFound = errors.New("credstore: backup not found")

const bundleSuffix = ".bundle"

// S3Backup keeps sealed bundles in an S3-compatible bucket as
// <prefix>/<session id>.bundle.
type S3Backup struct {
	client *s3.Client
	bucket string
	prefix string
	sealer *Sealer
}

// NewS3Client builds an S3 client from the default AWS credential chain.
// If endpoint is non-empty, path-style addressing is enabled (for MinIO and
// similar).
func NewS3Client(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(cfg, s3opts...), nil
}

// NewS3Backup returns a Backup writing to bucket under prefix.
func NewS3Backup(client *s3.Client, bucket, prefix string, sealer *Sealer) (*S3Backup, error) {
	if bucket == "" {
		return nil, errors.New("credstore: backup bucket is empty")
	}
	if sealer == nil {
		return nil, errors.New("credstore: backup sealer is nil")
	}
	return &S3Backup{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		sealer: sealer,
	}, nil
}

// Sealer returns the sealer used for bundles.
func (b *S3Backup) Sealer() *Sealer { return b.sealer }

func (b *S3Backup) key(sessionID string) string {
	if b.prefix == "" {
		return sessionID + bundleSuffix
	}
	return path.Join(b.prefix, sessionID+bundleSuffix)
}

// Put uploads blob as the bundle of sessionID.
func (b *S3Backup) Put(ctx context.Context, sessionID string, blob []byte) error {
	contentType := "application/octet-stream"
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key(sessionID)),
		Body:        bytes.NewReader(blob),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// Get downloads the bundle of sessionID.
func (b *S3Backup) Get(ctx context.Context, sessionID string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(sessionID)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrBackupNotFound
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read object: %w", err)
	}
	return data, nil
}

// Delete removes the bundle of sessionID. Deleting a missing object succeeds.
func (b *S3Backup) Delete(ctx context.Context, sessionID string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(sessionID)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete object: %w", err)
	}
	return nil
}

// List returns the session IDs that have a bundle under the prefix.
func (b *S3Backup) List(ctx context.Context) ([]string, error) {
	listPrefix := ""
	if b.prefix != "" {
		listPrefix = b.prefix + "/"
	}

	var ids []string
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(listPrefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), listPrefix)
			if strings.Contains(name, "/") || !strings.HasSuffix(name, bundleSuffix) {
				continue
			}
			ids = append(ids, strings.TrimSuffix(name, bundleSuffix))
		}
	}
	return ids, nil
}
