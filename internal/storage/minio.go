package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// User metadata keys written on every object.
const (
	metaOwnerID    = "Owner-Id"
	metaSharedWith = "Shared-With"
)

// MinioConfig holds connection settings for an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioStore stores objects in an S3-compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and verifies the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", cfg.Bucket)
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads data with its metadata.
func (s *MinioStore) Put(ctx context.Context, objectPath string, data []byte, meta Metadata) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectPath, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  meta.ContentType,
			UserMetadata: userMetadata(meta),
		},
	)
	if err != nil {
		return translateError(objectPath, err)
	}
	return nil
}

// Delete removes the object. Missing objects are not an error.
func (s *MinioStore) Delete(ctx context.Context, objectPath string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectPath, minio.RemoveObjectOptions{}); err != nil {
		err = translateError(objectPath, err)
		if isNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

// Metadata reads the object's content type and access metadata.
func (s *MinioStore) Metadata(ctx context.Context, objectPath string) (Metadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, objectPath, minio.StatObjectOptions{})
	if err != nil {
		return Metadata{}, translateError(objectPath, err)
	}
	meta := Metadata{ContentType: info.ContentType}
	for k, v := range info.UserMetadata {
		switch {
		case strings.EqualFold(k, metaOwnerID):
			meta.OwnerID = v
		case strings.EqualFold(k, metaSharedWith):
			meta.SharedWith = ParseSharedWith(v)
		}
	}
	return meta, nil
}

// SetMetadata rewrites the object's metadata with a server-side self copy.
func (s *MinioStore) SetMetadata(ctx context.Context, objectPath string, meta Metadata) error {
	md := userMetadata(meta)
	if meta.ContentType != "" {
		md["Content-Type"] = meta.ContentType
	}
	dst := minio.CopyDestOptions{
		Bucket:          s.bucket,
		Object:          objectPath,
		UserMetadata:    md,
		ReplaceMetadata: true,
	}
	src := minio.CopySrcOptions{Bucket: s.bucket, Object: objectPath}
	if _, err := s.client.CopyObject(ctx, dst, src); err != nil {
		return translateError(objectPath, err)
	}
	return nil
}

func userMetadata(meta Metadata) map[string]string {
	return map[string]string{
		metaOwnerID:    meta.OwnerID,
		metaSharedWith: FormatSharedWith(meta.SharedWith),
	}
}

// translateError maps S3 error responses onto package errors.
func translateError(objectPath string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, objectPath)
	}
	return fmt.Errorf("object %s: %w", objectPath, err)
}
