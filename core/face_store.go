package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/samber/oops"
)

// FaceImageStore keeps one JPEG per account, keyed by the account user id.
type FaceImageStore interface {
	Put(ctx context.Context, userID string, jpeg []byte) error
	Get(ctx context.Context, userID string) ([]byte, error)
	Delete(ctx context.Context, userID string) error
}

func faceObjectKey(userID string) (string, error) {
	if !IsUserID(userID) {
		return "", ErrNotFound
	}
	return userID + ".jpg", nil
}

// NewFaceImageStore builds the store selected by cfg.FaceStore.
func NewFaceImageStore(ctx context.Context, cfg Config) (FaceImageStore, error) {
	switch cfg.FaceStore {
	case FaceStoreS3:
		return NewS3FaceStore(ctx, cfg)
	default:
		return NewLocalFaceStore(cfg.FaceImageDir)
	}
}

// LocalFaceStore writes <dir>/<user_id>.jpg.
type LocalFaceStore struct {
	dir string
}

func NewLocalFaceStore(dir string) (*LocalFaceStore, error) {
	if dir == "" {
		return nil, errors.New("empty face image dir")
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create face image dir %s: %w", dir, err)
	}
	return &LocalFaceStore{dir: dir}, nil
}

func (s *LocalFaceStore) path(userID string) (string, error) {
	key, err := faceObjectKey(userID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, key), nil
}

func (s *LocalFaceStore) Put(_ context.Context, userID string, jpeg []byte) error {
	p, err := s.path(userID)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, jpeg, 0o644); err != nil {
		return oops.With("operation", "write face image").With("user_id", userID).Wrap(err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return oops.With("operation", "write face image").With("user_id", userID).Wrap(err)
	}
	return nil
}

func (s *LocalFaceStore) Get(_ context.Context, userID string) ([]byte, error) {
	p, err := s.path(userID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, oops.With("operation", "read face image").With("user_id", userID).Wrap(err)
	}
	return data, nil
}

// Delete is a no-op when the image does not exist.
func (s *LocalFaceStore) Delete(_ context.Context, userID string) error {
	p, err := s.path(userID)
	if err != nil {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return oops.With("operation", "delete face image").With("user_id", userID).Wrap(err)
	}
	return nil
}

// s3API is the part of *s3.Client used by S3FaceStore.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3FaceStore keeps images in an S3-compatible bucket (AWS, MinIO).
type S3FaceStore struct {
	client s3API
	bucket string
}

// NewS3FaceStore configures a client from the s3_* settings. Static
// credentials are used when both keys are set, the default chain otherwise.
func NewS3FaceStore(ctx context.Context, cfg Config) (*S3FaceStore, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3FaceStore{client: client, bucket: cfg.S3Bucket}, nil
}

func (s *S3FaceStore) Put(ctx context.Context, userID string, jpeg []byte) error {
	key, err := faceObjectKey(userID)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(jpeg),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		return oops.With("operation", "put face object").With("key", key).Wrap(err)
	}
	return nil
}

func (s *S3FaceStore) Get(ctx context.Context, userID string) ([]byte, error) {
	key, err := faceObjectKey(userID)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, oops.With("operation", "get face object").With("key", key).Wrap(err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, oops.With("operation", "read face object").With("key", key).Wrap(err)
	}
	return data, nil
}

func (s *S3FaceStore) Delete(ctx context.Context, userID string) error {
	key, err := faceObjectKey(userID)
	if err != nil {
		return nil
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return oops.With("operation", "delete face object").With("key", key).Wrap(err)
	}
	return nil
}
