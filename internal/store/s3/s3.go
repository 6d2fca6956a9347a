package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/loykin/logdrain/internal/store"
)

// Object implements store.Store as one JSON object in an S3 compatible bucket.
type Object struct {
	client *minio.Client
	bucket string
	key    string
	region string
}

// New parses a DSN of the form
//
//	s3://ACCESS_KEY:SECRET_KEY@host:port/bucket/optional/prefix?secure=false&region=us-east-1
//
// and stores the document at <prefix>/<key>.json.
func New(dsn, key string) (*Object, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid s3 dsn: %w", err)
	}
	if u.Host == "" {
		return nil, errors.New("s3 dsn requires a host")
	}
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if parts[0] == "" {
		return nil, errors.New("s3 dsn requires a bucket")
	}
	if key == "" {
		key = store.DefaultKey
	}
	prefix := ""
	if len(parts) == 2 {
		prefix = parts[1]
	}

	access := u.User.Username()
	secret, _ := u.User.Password()
	if access == "" || secret == "" {
		return nil, errors.New("s3 dsn requires credentials")
	}
	q := u.Query()
	secure := q.Get("secure") != "false"
	region := q.Get("region")

	client, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &Object{
		client: client,
		bucket: parts[0],
		key:    path.Join(prefix, key+".json"),
		region: region,
	}, nil
}

// EnsureSchema creates the bucket when it does not exist.
func (o *Object) EnsureSchema(ctx context.Context) error {
	exists, err := o.client.BucketExists(ctx, o.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return o.client.MakeBucket(ctx, o.bucket, minio.MakeBucketOptions{Region: o.region})
}

func (o *Object) Read(ctx context.Context) ([]byte, error) {
	obj, err := o.client.GetObject(ctx, o.bucket, o.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (o *Object) Write(ctx context.Context, data []byte) error {
	_, err := o.client.PutObject(ctx, o.bucket, o.key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func (o *Object) Close() error { return nil }
