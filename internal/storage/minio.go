package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"claims-orchestrator/internal/events"
)

const indexPrefix = "index/"

// IndexKey is where the final state of a completed claim is written.
func IndexKey(claimID string) string {
	return indexPrefix + claimID + ".json"
}

type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(endpoint, accessKey, secretKey string, useSSL bool, bucket string) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
	}

	return &MinioStore{client: client, bucket: bucket}, nil
}

// Client exposes the underlying client for bucket notifications.
func (m *MinioStore) Client() *minio.Client {
	return m.client
}

func (m *MinioStore) PutDocument(ctx context.Context, documentID, filename string, content []byte) (string, error) {
	objectKey := events.DocumentKey(documentID, filename)
	if err := m.put(ctx, objectKey, content, "application/octet-stream"); err != nil {
		return "", err
	}
	return objectKey, nil
}

func (m *MinioStore) GetDocument(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data := new(bytes.Buffer)
	if _, err := data.ReadFrom(obj); err != nil {
		return nil, fmt.Errorf("read object %s: %w", objectKey, err)
	}
	return data.Bytes(), nil
}

func (m *MinioStore) PutIndex(ctx context.Context, claimID string, body []byte) (string, error) {
	key := IndexKey(claimID)
	if err := m.put(ctx, key, body, "application/json"); err != nil {
		return "", err
	}
	return key, nil
}

func (m *MinioStore) put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}
