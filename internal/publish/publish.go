// Package publish uploads export files to an S3-compatible bucket (AWS S3,
// Cloudflare R2, MinIO).
//
// Keys mirror the output layout: <prefix>/<path relative to the output root>.
// Objects are overwritten on re-publish so a re-run replaces stale files.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"golang.org/x/sync/errgroup"

	"gdbexport/internal/config"
)

const defaultConcurrency = 4

// API is the subset of the S3 client the uploader uses.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader puts files into one bucket under a fixed prefix.
type Uploader struct {
	client      API
	bucket      string
	prefix      string
	concurrency int
}

// New builds an S3 client from cfg and returns an Uploader for it.
func New(ctx context.Context, cfg config.Publish) (*Uploader, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewUploader(client, cfg)
}

// NewClient loads the AWS configuration for cfg. A custom endpoint and
// path-style addressing are applied for S3-compatible services.
func NewClient(ctx context.Context, cfg config.Publish) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("publish: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// NewUploader wraps an existing client.
func NewUploader(client API, cfg config.Publish) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("publish: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("publish: bucket is required")
	}
	n := cfg.Concurrency
	if n <= 0 {
		n = defaultConcurrency
	}
	return &Uploader{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		concurrency: n,
	}, nil
}

// Key returns the object key for file below root.
func (u *Uploader) Key(root, file string) (string, error) {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return "", fmt.Errorf("publish: %s is not below %s: %w", file, root, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
		return "", fmt.Errorf("publish: %s is not below %s", file, root)
	}
	if u.prefix == "" {
		return rel, nil
	}
	return path.Join(u.prefix, rel), nil
}

// Upload puts every file with bounded concurrency and returns how many
// succeeded. The first failure cancels the remaining uploads.
func (u *Uploader) Upload(ctx context.Context, root string, files []string) (int, error) {
	keys := make([]string, len(files))
	for i, f := range files {
		k, err := u.Key(root, f)
		if err != nil {
			return 0, err
		}
		keys[i] = k
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	done := make([]bool, len(files))
	for i := range files {
		g.Go(func() error {
			if err := u.put(ctx, files[i], keys[i]); err != nil {
				return err
			}
			done[i] = true
			return nil
		})
	}
	err := g.Wait()

	n := 0
	for _, ok := range done {
		if ok {
			n++
		}
	}
	if err != nil {
		return n, err
	}
	log.Printf("publish: uploaded %d files to s3://%s/%s", n, u.bucket, u.prefix)
	return n, nil
}

func (u *Uploader) put(ctx context.Context, file, key string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("publish: open %s: %w", file, err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("publish: stat %s: %w", file, err)
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(fi.Size()),
		ContentType:   aws.String(ContentType(file)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("publish: put %s: %s: %s", key, apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return fmt.Errorf("publish: put %s: %w", key, err)
	}
	return nil
}

// ContentType returns the MIME type for an export file.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	case ".gz":
		return "application/gzip"
	case ".zst":
		return "application/zstd"
	default:
		return "application/octet-stream"
	}
}
