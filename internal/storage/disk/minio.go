package disk

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bigkaa/goartstore/file-manager/internal/config"
)

// MinioDisk — диск в bucket MinIO (или другого S3-совместимого хранилища).
type MinioDisk struct {
	client *minio.Client
	bucket string
}

// NewMinio подключается к MinIO и создаёт bucket, если его нет.
func NewMinio(ctx context.Context, dc config.DiskConfig) (*MinioDisk, error) {
	client, err := minio.New(dc.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(dc.AccessKey, dc.SecretKey, ""),
		Secure: dc.UseSSL,
		Region: dc.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания клиента MinIO: %w", err)
	}

	exists, err := client.BucketExists(ctx, dc.Bucket)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки bucket %s: %w", dc.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, dc.Bucket, minio.MakeBucketOptions{Region: dc.Region}); err != nil {
			return nil, fmt.Errorf("ошибка создания bucket %s: %w", dc.Bucket, err)
		}
	}

	return &MinioDisk{client: client, bucket: dc.Bucket}, nil
}

func (d *MinioDisk) Put(ctx context.Context, p string, r io.Reader, size int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := d.client.PutObject(ctx, d.bucket, p, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return minioErr(err)
}

// Get открывает объект. GetObject ленивый, поэтому наличие проверяется через Stat.
func (d *MinioDisk) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	obj, err := d.client.GetObject(ctx, d.bucket, p, minio.GetObjectOptions{})
	if err != nil {
		return nil, minioErr(err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, minioErr(err)
	}
	return obj, nil
}

func (d *MinioDisk) Exists(ctx context.Context, p string) (bool, error) {
	_, err := d.client.StatObject(ctx, d.bucket, p, minio.StatObjectOptions{})
	if err != nil {
		if err := minioErr(err); IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete удаляет объект. RemoveObject не сообщает об отсутствии, поэтому сначала Stat.
func (d *MinioDisk) Delete(ctx context.Context, p string) error {
	if _, err := d.client.StatObject(ctx, d.bucket, p, minio.StatObjectOptions{}); err != nil {
		return minioErr(err)
	}
	return minioErr(d.client.RemoveObject(ctx, d.bucket, p, minio.RemoveObjectOptions{}))
}

func (d *MinioDisk) URL(p string) string {
	return strings.TrimRight(d.client.EndpointURL().String(), "/") + "/" + d.bucket + "/" + p
}

func (d *MinioDisk) TemporaryURL(ctx context.Context, p string, ttl time.Duration) (string, error) {
	u, err := d.client.PresignedGetObject(ctx, d.bucket, p, ttl, nil)
	if err != nil {
		return "", minioErr(err)
	}
	return u.String(), nil
}

func (d *MinioDisk) Move(ctx context.Context, from, to string) error {
	if err := d.Copy(ctx, from, to); err != nil {
		return err
	}
	return minioErr(d.client.RemoveObject(ctx, d.bucket, from, minio.RemoveObjectOptions{}))
}

func (d *MinioDisk) Copy(ctx context.Context, from, to string) error {
	_, err := d.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: d.bucket, Object: to},
		minio.CopySrcOptions{Bucket: d.bucket, Object: from},
	)
	return minioErr(err)
}

func (d *MinioDisk) List(ctx context.Context, prefix string) ([]string, error) {
	var result []string
	for obj := range d.client.ListObjects(ctx, d.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, minioErr(obj.Err)
		}
		result = append(result, obj.Key)
	}
	return result, nil
}

// minioErr приводит NoSuchKey к ErrNotExist.
func minioErr(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%w: %v", ErrNotExist, err)
	}
	return err
}
