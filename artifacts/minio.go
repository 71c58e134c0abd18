package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// MinioConfig holds the object storage connection settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// MinioStore caches artifacts in object storage under <jobID>/<key>.
type MinioStore struct {
	client *miniogo.Client
	bucket string
}

// NewMinioStore connects to the endpoint and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create minio client")
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "check bucket %s", cfg.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, miniogo.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrapf(err, "create bucket %s", cfg.Bucket)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func objectName(jobID uuid.UUID, key string) string {
	return fmt.Sprintf("%s/%s", jobID, key)
}

func contentType(key string) string {
	if strings.HasSuffix(key, ".mp4") {
		return "video/mp4"
	}
	return "image/png"
}

// Put uploads one blob.
func (s *MinioStore) Put(ctx context.Context, jobID uuid.UUID, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName(jobID, key),
		bytes.NewReader(data), int64(len(data)),
		miniogo.PutObjectOptions{ContentType: contentType(key)})
	if err != nil {
		return errors.Wrapf(err, "upload blob %s", key)
	}
	return nil
}

// Get downloads one blob; a missing object maps to ErrBlobNotFound.
func (s *MinioStore) Get(ctx context.Context, jobID uuid.UUID, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName(jobID, key), miniogo.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "get blob %s", key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		resp := miniogo.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, ErrBlobNotFound
		}
		return nil, errors.Wrapf(err, "read blob %s", key)
	}
	return data, nil
}

// DeleteAll removes every object under the job's prefix.
func (s *MinioStore) DeleteAll(ctx context.Context, jobID uuid.UUID) error {
	prefix := jobID.String() + "/"
	for obj := range s.client.ListObjects(ctx, s.bucket, miniogo.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return errors.Wrapf(obj.Err, "list artifacts for job %s", jobID)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, miniogo.RemoveObjectOptions{}); err != nil {
			return errors.Wrapf(err, "remove artifact %s", obj.Key)
		}
	}
	return nil
}
