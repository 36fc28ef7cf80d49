package events

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/notification"
)

const objectCreatedEvent = "s3:ObjectCreated:*"

// DocumentPrefix is the object key prefix under which claim documents are
// uploaded. Other prefixes in the bucket (such as the claim index) never
// trigger intake.
const DocumentPrefix = "documents/"

// IntakeEvent announces a claim document that landed in object storage.
type IntakeEvent struct {
	DocumentID string
	Filename   string
	ObjectKey  string
	EventName  string
}

type IntakeEventSource interface {
	Run(ctx context.Context, handler func(context.Context, IntakeEvent) error) error
}

type notificationListener interface {
	ListenBucketNotification(ctx context.Context, bucketName, prefix, suffix string, events []string) <-chan notification.Info
}

type MinioIntakeEventSource struct {
	client notificationListener
	bucket string
	suffix string
}

func NewMinioIntakeEventSource(client *minio.Client, bucket string, suffix string) *MinioIntakeEventSource {
	return &MinioIntakeEventSource{client: client, bucket: bucket, suffix: suffix}
}

func (s *MinioIntakeEventSource) Run(ctx context.Context, handler func(context.Context, IntakeEvent) error) error {
	notificationCh := s.client.ListenBucketNotification(ctx, s.bucket, DocumentPrefix, s.suffix, []string{objectCreatedEvent})
	for {
		select {
		case <-ctx.Done():
			return nil
		case info, ok := <-notificationCh:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("minio notification stream closed")
			}
			if info.Err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("minio notification stream error: %w", info.Err)
			}
			for _, record := range info.Records {
				objectKey, err := decodeObjectKey(record.S3.Object.Key)
				if err != nil {
					continue
				}
				documentID, filename, err := ParseDocumentKey(objectKey)
				if err != nil {
					continue
				}
				event := IntakeEvent{
					DocumentID: documentID,
					Filename:   filename,
					ObjectKey:  objectKey,
					EventName:  record.EventName,
				}
				if err := handler(ctx, event); err != nil {
					return err
				}
			}
		}
	}
}

// DocumentKey builds the object key a document is stored under.
func DocumentKey(documentID, filename string) string {
	return DocumentPrefix + documentID + "/" + filename
}

func decodeObjectKey(encoded string) (string, error) {
	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return "", err
	}
	decoded = strings.TrimSpace(decoded)
	if decoded == "" {
		return "", fmt.Errorf("object key is empty")
	}
	return decoded, nil
}

// ParseDocumentKey splits documents/<document_id>/<filename> into its parts.
func ParseDocumentKey(objectKey string) (string, string, error) {
	cleaned := strings.Trim(strings.ReplaceAll(objectKey, "\\", "/"), "/")
	if !strings.HasPrefix(cleaned, DocumentPrefix) {
		return "", "", fmt.Errorf("object key %q is outside %s", objectKey, DocumentPrefix)
	}
	parts := strings.SplitN(strings.TrimPrefix(cleaned, DocumentPrefix), "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("object key %q does not match documents/document_id/filename", objectKey)
	}
	documentID := strings.TrimSpace(parts[0])
	filename := strings.TrimSpace(parts[1])
	if documentID == "" || filename == "" {
		return "", "", fmt.Errorf("object key %q missing document id or filename", objectKey)
	}
	return documentID, filename, nil
}
