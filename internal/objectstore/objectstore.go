// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package objectstore wraps an S3-
// compatible bucket with the narrow surface the rest of the core needs:
// byte/streaming upload-download, text convenience wrappers, existence
// checks, prefix listing, single and batch delete, and presigned GET URLs.
//
// Built on aws-sdk-go-v2's s3 client with an optional custom endpoint
// resolver so MinIO and other S3-compatible stores work unchanged.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Store is the object-store collaborator handed explicitly to every
// component that publishes or fetches artifacts.
type Store struct {
	client    *s3.Client
	uploader  *manager.Uploader
	downloader *manager.Downloader
	presigner *s3.PresignClient
	bucket    string
	urlExpiry time.Duration
}

// Config is the adapter's construction parameters, sourced from
// internal/config.Config.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	URLExpiry       time.Duration
}

// Open constructs a Store against cfg, resolving a custom endpoint (e.g.
// MinIO) when cfg.Endpoint is set.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: true}, nil
		})
		opts = append(opts, config.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})

	urlExpiry := cfg.URLExpiry
	if urlExpiry == 0 {
		urlExpiry = time.Hour
	}

	return &Store{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		presigner:  s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		urlExpiry:  urlExpiry,
	}, nil
}

// Upload streams reader's contents to key, using the multipart manager so
// large files (the input PDF, result.zip) don't need to be buffered
// wholesale.
func (s *Store) Upload(ctx context.Context, key string, reader io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   reader,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// UploadBytes uploads an in-memory byte slice to key.
func (s *Store) UploadBytes(ctx context.Context, key string, data []byte) error {
	return s.Upload(ctx, key, bytes.NewReader(data))
}

// UploadText is a convenience wrapper for text artifacts (result.md).
func (s *Store) UploadText(ctx context.Context, key, text string) error {
	return s.UploadBytes(ctx, key, []byte(text))
}

// Download returns a reader over key's contents; the caller must Close it.
func (s *Store) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return out.Body, nil
}

// DownloadBytes fetches key's full contents into memory.
func (s *Store) DownloadBytes(ctx context.Context, key string) ([]byte, error) {
	r, err := s.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// DownloadText fetches key's contents as a string.
func (s *Store) DownloadText(ctx context.Context, key string) (string, error) {
	b, err := s.DownloadBytes(ctx, key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Exists reports whether key is present in the bucket.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// ObjectInfo is one entry returned by ListByPrefix.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ListByPrefix enumerates every object under prefix, paging transparently.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list prefix %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, ObjectInfo{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)})
		}
	}
	return out, nil
}

// Delete removes a single key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// BatchDelete removes up to 1000 keys in one DeleteObjects call, chunking
// larger batches transparently.
func (s *Store) BatchDelete(ctx context.Context, keys []string) error {
	const maxBatch = 1000
	for start := 0; start < len(keys); start += maxBatch {
		end := start + maxBatch
		if end > len(keys) {
			end = len(keys)
		}
		objs := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objs = append(objs, types.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objs},
		})
		if err != nil {
			return fmt.Errorf("batch delete %d keys: %w", len(objs), err)
		}
	}
	return nil
}

// PresignGet issues a time-limited GET URL for key, good for expiry (or the
// store's configured default when expiry is zero).
func (s *Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = s.urlExpiry
	}
	res, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return res.URL, nil
}
