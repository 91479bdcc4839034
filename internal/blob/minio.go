package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"collabrepo/api/internal/apperr"
	"collabrepo/api/internal/util"
)

const (
	metaFileName  = "File-Name"
	metaMD5       = "Content-Md5-Hex"
	metaCreatedBy = "Created-By"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore keeps one object per blob; handle fields ride along as user
// metadata so Stat needs no side table.
type MinioStore struct {
	client *minio.Client
	bucket string
}

func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, in PutInput) (FileHandle, error) {
	handle := describe(util.NewID("blob"), in, time.Now())

	_, err := s.client.PutObject(ctx, s.bucket, handle.ID, bytes.NewReader(in.Data), handle.ContentSize, minio.PutObjectOptions{
		ContentType: handle.ContentType,
		UserMetadata: map[string]string{
			metaFileName:  handle.FileName,
			metaMD5:       handle.ContentMD5,
			metaCreatedBy: strconv.FormatInt(handle.CreatedBy, 10),
		},
	})
	if err != nil {
		return FileHandle{}, fmt.Errorf("put object %s: %w", handle.ID, err)
	}
	return handle, nil
}

func (s *MinioStore) Stat(ctx context.Context, id string) (FileHandle, error) {
	info, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		return FileHandle{}, s.mapError(id, err)
	}
	createdBy, _ := strconv.ParseInt(userMeta(info.UserMetadata, metaCreatedBy), 10, 64)
	return FileHandle{
		ID:          id,
		FileName:    userMeta(info.UserMetadata, metaFileName),
		ContentType: info.ContentType,
		ContentSize: info.Size,
		ContentMD5:  userMeta(info.UserMetadata, metaMD5),
		CreatedBy:   createdBy,
		CreatedOn:   info.LastModified.UTC(),
	}, nil
}

func (s *MinioStore) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	if _, err := s.Stat(ctx, id); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(id, err)
	}
	return obj, nil
}

func (s *MinioStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Stat(ctx, id); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, id, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", id, err)
	}
	return nil
}

func (s *MinioStore) mapError(id string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return apperr.Wrap(apperr.KindNotFound, err, "blob %s", id)
	}
	return fmt.Errorf("stat object %s: %w", id, err)
}

// userMeta looks a key up case-insensitively; servers differ in how they
// canonicalize x-amz-meta-* names.
func userMeta(meta map[string]string, key string) string {
	for k, v := range meta {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
