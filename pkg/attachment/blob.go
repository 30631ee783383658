package attachment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BlobStore is a content-addressed blob backend. Two implementations
// exist: FileStore (local disk, default) and S3Store (ATTACHMENT_BACKEND=s3).
// Issuer does not read or write through a BlobStore: a ref records only
// metadata, including the filepath its caller supplied.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// FileStore is a filesystem-backed content-addressed store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a CAS store at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("attachment: ensure blob dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := sha256.Sum256(data)
	key := hex.EncodeToString(h[:])
	path := filepath.Join(s.baseDir, key+".blob")

	if _, err := os.Stat(path); err == nil {
		return key, nil
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return "", fmt.Errorf("attachment: write blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("attachment: commit blob: %w", err)
	}
	return key, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := hex.DecodeString(key); err != nil {
		return nil, fmt.Errorf("attachment: invalid blob key: %w", err)
	}
	path := filepath.Join(s.baseDir, key+".blob")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("attachment: blob not found: %s", key)
		}
		return nil, fmt.Errorf("attachment: open blob: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// S3Store backs large-blob storage with an S3-compatible bucket, for
// deployments that don't want local disk holding provider-proxy payloads.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store constructs an S3-backed blob store.
func NewS3Store(client *s3.Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func (s *S3Store) Put(ctx context.Context, data []byte) (string, error) {
	h := sha256.Sum256(data)
	key := hex.EncodeToString(h[:])
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("attachment: s3 put: %w", err)
	}
	return key, nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("attachment: s3 get: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
