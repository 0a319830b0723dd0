package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/bigkaa/goartstore/file-manager/internal/config"
)

// S3Disk — диск в bucket Amazon S3 или S3-совместимого хранилища.
type S3Disk struct {
	client   s3iface.S3API
	uploader *s3manager.Uploader
	bucket   string
	// publicBase — префикс постоянных ссылок
	publicBase string
}

// NewS3 создаёт клиент S3. Если задан endpoint, используется path-style адресация.
func NewS3(dc config.DiskConfig) (*S3Disk, error) {
	awsCfg := &aws.Config{
		Region: aws.String(dc.Region),
	}
	if dc.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(dc.AccessKey, dc.SecretKey, "")
	}
	if dc.Endpoint != "" {
		awsCfg.Endpoint = aws.String(dc.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
		awsCfg.DisableSSL = aws.Bool(!dc.UseSSL && !strings.HasPrefix(dc.Endpoint, "https://"))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания сессии S3: %w", err)
	}
	client := s3.New(sess)

	publicBase := fmt.Sprintf("https://%s.s3.%s.amazonaws.com", dc.Bucket, dc.Region)
	if dc.Endpoint != "" {
		publicBase = strings.TrimRight(dc.Endpoint, "/") + "/" + dc.Bucket
	}

	return &S3Disk{
		client:     client,
		uploader:   s3manager.NewUploaderWithClient(client),
		bucket:     dc.Bucket,
		publicBase: publicBase,
	}, nil
}

// Put загружает объект через s3manager: тело не обязано поддерживать Seek.
func (d *S3Disk) Put(ctx context.Context, p string, r io.Reader, _ int64, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := d.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(p),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	return s3Err(err)
}

func (d *S3Disk) Get(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := d.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		return nil, s3Err(err)
	}
	return out.Body, nil
}

func (d *S3Disk) Exists(ctx context.Context, p string) (bool, error) {
	_, err := d.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		if err := s3Err(err); IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete удаляет объект. DeleteObject не сообщает об отсутствии, поэтому сначала HeadObject.
func (d *S3Disk) Delete(ctx context.Context, p string) error {
	ok, err := d.Exists(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotExist, p)
	}
	_, err = d.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(p),
	})
	return s3Err(err)
}

func (d *S3Disk) URL(p string) string {
	return d.publicBase + "/" + p
}

func (d *S3Disk) TemporaryURL(_ context.Context, p string, ttl time.Duration) (string, error) {
	req, _ := d.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(p),
	})
	u, err := req.Presign(ttl)
	if err != nil {
		return "", s3Err(err)
	}
	return u, nil
}

func (d *S3Disk) Move(ctx context.Context, from, to string) error {
	if err := d.Copy(ctx, from, to); err != nil {
		return err
	}
	_, err := d.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(from),
	})
	return s3Err(err)
}

func (d *S3Disk) Copy(ctx context.Context, from, to string) error {
	source := (&url.URL{Path: d.bucket + "/" + from}).EscapedPath()
	_, err := d.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(d.bucket),
		CopySource: aws.String(source),
		Key:        aws.String(to),
	})
	return s3Err(err)
}

func (d *S3Disk) List(ctx context.Context, prefix string) ([]string, error) {
	var result []string
	err := d.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			result = append(result, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, s3Err(err)
	}
	return result, nil
}

// s3Err приводит NoSuchKey/NotFound к ErrNotExist.
func s3Err(err error) error {
	if err == nil {
		return nil
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return fmt.Errorf("%w: %v", ErrNotExist, err)
		}
	}
	return err
}
