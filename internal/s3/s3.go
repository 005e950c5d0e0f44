package s3

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/kossa56/Jamnik/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Client struct {
	client *minio.Client
	bucket string
}

func NewMinioClient(endpoint, accessKey, secretKey, bucket string) (*Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Client{client: client, bucket: bucket}, nil
}

// EnsureBucket создает бакет снимков, если его нет
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// SnapshotKey путь объекта: папка сеанса, имя файла - номер кадра
func SnapshotKey(sessionID string, seq uint64, ext string) string {
	return fmt.Sprintf("%s/%d.%s", sessionID, seq, strings.TrimPrefix(ext, "."))
}

// SaveSnapshot сохраняет размеченный кадр и детекции рядом
func (c *Client) SaveSnapshot(ctx context.Context, sessionID string, seq uint64, jpeg []byte, detections []models.Detection) error {
	_, err := c.client.PutObject(ctx, c.bucket, SnapshotKey(sessionID, seq, "jpg"),
		bytes.NewReader(jpeg), int64(len(jpeg)),
		minio.PutObjectOptions{ContentType: "image/jpeg"},
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot to S3: %w", err)
	}

	jsonData, err := json.Marshal(detections)
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}
	_, err = c.client.PutObject(ctx, c.bucket, SnapshotKey(sessionID, seq, "json"),
		bytes.NewReader(jsonData), int64(len(jsonData)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return fmt.Errorf("failed to save detections to S3: %w", err)
	}
	return nil
}
