package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/BaSui01/pipeflow/state"
)

// ObjectStore keeps one object per run in an S3-compatible bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
	enc    *Encoder
}

// NewObjectStore wraps a minio client. The bucket must exist; see EnsureBucket.
func NewObjectStore(client *minio.Client, bucket, prefix string, codec Codec) (*ObjectStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: object store requires a bucket", ErrInvalidInput)
	}
	enc, err := NewEncoder(codec)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "checkpoints/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ObjectStore{client: client, bucket: bucket, prefix: prefix, enc: enc}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *ObjectStore) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return storageErr("ensure_bucket", "", err)
	}
	if exists {
		return nil
	}
	return storageErr("ensure_bucket", "", s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}))
}

func (s *ObjectStore) key(runID string) string {
	return s.prefix + runID + fileExt
}

func (s *ObjectStore) Save(ctx context.Context, runID string, rs *state.RunState) error {
	if err := validate(runID, rs); err != nil {
		return err
	}
	b, err := s.enc.Encode(rs)
	if err != nil {
		return storageErr("save", runID, err)
	}
	contentType := "application/json"
	if s.enc.Codec() == CodecMsgpack {
		contentType = "application/msgpack"
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.key(runID), bytes.NewReader(b), int64(len(b)),
		minio.PutObjectOptions{ContentType: contentType})
	return storageErr("save", runID, err)
}

func (s *ObjectStore) Load(ctx context.Context, runID string) (*state.RunState, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(runID), minio.GetObjectOptions{})
	if err != nil {
		return nil, storageErr("load", runID, s.translate(err))
	}
	defer obj.Close()
	b, err := io.ReadAll(obj)
	if err != nil {
		return nil, storageErr("load", runID, s.translate(err))
	}
	rs, err := s.enc.Decode(b)
	if err != nil {
		return nil, storageErr("load", runID, err)
	}
	return rs, nil
}

func (s *ObjectStore) Delete(ctx context.Context, runID string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(runID), minio.RemoveObjectOptions{})
	if err != nil && s.translate(err) == ErrNotFound {
		return nil
	}
	return storageErr("delete", runID, err)
}

func (s *ObjectStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, storageErr("list", "", obj.Err)
		}
		name := strings.TrimPrefix(obj.Key, s.prefix)
		if strings.HasSuffix(name, fileExt) {
			ids = append(ids, strings.TrimSuffix(name, fileExt))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *ObjectStore) Close() error { return nil }

func (s *ObjectStore) translate(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}
