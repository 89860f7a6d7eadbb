package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

const (
	keyPrefix     = "attachments/"
	metaFileName  = "file-name"
	metaCreatedBy = "created-by"
	metaSHA256    = "sha256"
)

// S3Store keeps each blob as one object under attachments/<id>. File name,
// uploader and hash travel as user metadata.
type S3Store struct {
	client S3API
	bucket string
}

func NewS3Store(client S3API, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func (s *S3Store) key(id string) *string {
	return aws.String(keyPrefix + id)
}

func (s *S3Store) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	if err := Validate(meta); err != nil {
		return nil, err
	}
	data, err := readLimited(&meta, content)
	if err != nil {
		return nil, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           s.key(meta.ID),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(meta.ContentType),
		ContentLength: aws.Int64(meta.Size),
		Metadata: map[string]string{
			metaFileName:  meta.FileName,
			metaCreatedBy: meta.CreatedBy,
			metaSHA256:    meta.Hash,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("s3 put %s: %w", meta.ID, err)
	}
	return &meta, nil
}

func (s *S3Store) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(id),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("s3 get %s: %w", id, err)
	}

	meta := metadataFrom(id, out.Metadata, out.ContentType, out.ContentLength, out.LastModified)
	return out.Body, meta, nil
}

func (s *S3Store) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(id),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("s3 head %s: %w", id, err)
	}
	return metadataFrom(id, out.Metadata, out.ContentType, out.ContentLength, out.LastModified), nil
}

// Delete removes the object. S3 deletes are idempotent, so the existence
// check keeps the ErrBlobNotFound contract of the in-memory store.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    s.key(id),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", id, err)
	}
	return nil
}

func metadataFrom(id string, md map[string]string, contentType *string, size *int64, modified *time.Time) *BlobMetadata {
	meta := &BlobMetadata{
		ID:          id,
		FileName:    md[metaFileName],
		CreatedBy:   md[metaCreatedBy],
		Hash:        md[metaSHA256],
		ContentType: aws.ToString(contentType),
		Size:        aws.ToInt64(size),
	}
	if modified != nil {
		meta.CreatedAt = modified.UTC()
	}
	return meta
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
