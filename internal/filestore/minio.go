// Package filestore holds workspace file contents in an S3-compatible
// object store, one object per workspace file.
package filestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound reports a read or stat of a path that has no object.
var ErrNotFound = errors.New("file not found")

type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and creates the bucket when it does
// not exist yet.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Store{client: client, bucket: bucket}, nil
}

// Read returns the file content and its sha256 hex digest.
func (s *Store) Read(ctx context.Context, workspaceID, path string) (string, string, error) {
	object, err := s.client.GetObject(ctx, s.bucket, objectKey(workspaceID, path), minio.GetObjectOptions{})
	if err != nil {
		return "", "", fmt.Errorf("get object %s: %w", path, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if isNoSuchKey(err) {
			return "", "", ErrNotFound
		}
		return "", "", fmt.Errorf("read object %s: %w", path, err)
	}
	return string(data), HashContent(string(data)), nil
}

func (s *Store) Write(ctx context.Context, workspaceID, path, content string) error {
	reader := bytes.NewReader([]byte(content))
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(workspaceID, path), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", path, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, workspaceID, path string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectKey(workspaceID, path), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", path, err)
	}
	return true, nil
}

func (s *Store) Remove(ctx context.Context, workspaceID, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey(workspaceID, path), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", path, err)
	}
	return nil
}

// List returns the paths of all files stored for a workspace.
func (s *Store) List(ctx context.Context, workspaceID string) ([]string, error) {
	prefix := workspaceID + "/"
	var paths []string
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects for %s: %w", workspaceID, object.Err)
		}
		paths = append(paths, strings.TrimPrefix(object.Key, prefix))
	}
	return paths, nil
}

// HashContent returns the hex sha256 digest used as a patch baseline
// fingerprint.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func objectKey(workspaceID, path string) string {
	return workspaceID + "/" + path
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}
