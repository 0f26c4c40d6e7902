package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/synthex/internal/domain"
)

// minPartSize is the smallest part S3 accepts in a multipart upload.
const minPartSize int64 = 5 << 20

// Content types written by the journal.
const (
	ContentTypeJSON  = "application/json"
	ContentTypeJSONL = "application/x-ndjson"
)

// Store implements domain.ArchiveStore on one bucket.
type Store struct {
	api    *s3.Client
	bucket *string
}

// NewStore binds a Store to c's bucket.
func NewStore(c *Client) *Store {
	return &Store{api: c.S3(), bucket: aws.String(c.Bucket())}
}

// Upload uses PutObject, or the SDK upload manager when partSize > 0.
func (s *Store) Upload(ctx context.Context, key string, body io.Reader, contentType string, partSize int64) error {
	in := &s3.PutObjectInput{
		Bucket:      s.bucket,
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if partSize <= 0 {
		if _, err := s.api.PutObject(ctx, in); err != nil {
			return fmt.Errorf("s3blob: upload %s: %w", key, err)
		}
		return nil
	}

	up := manager.NewUploader(s.api, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := up.Upload(ctx, in); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}

// Open streams an object; the caller closes the body.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: s.bucket, Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("s3blob: open %s: %w", key, notFound(err))
	}
	return out.Body, nil
}

// Stat reads object metadata with HeadObject.
func (s *Store) Stat(ctx context.Context, key string) (domain.ArchiveObject, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: s.bucket, Key: aws.String(key)})
	if err != nil {
		return domain.ArchiveObject{}, fmt.Errorf("s3blob: stat %s: %w", key, notFound(err))
	}
	obj := domain.ArchiveObject{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}
	if out.LastModified != nil {
		obj.ModifiedAt = out.LastModified.UTC()
	}
	return obj, nil
}

// Objects pages through ListObjectsV2 under prefix. Folder placeholder keys
// (ending in "/") are skipped.
func (s *Store) Objects(ctx context.Context, prefix string) ([]domain.ArchiveObject, error) {
	pages := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: s.bucket,
		Prefix: aws.String(prefix),
	})

	var objs []domain.ArchiveObject
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			obj := domain.ArchiveObject{Key: key, Size: aws.ToInt64(o.Size)}
			if o.LastModified != nil {
				obj.ModifiedAt = o.LastModified.UTC()
			}
			objs = append(objs, obj)
		}
	}
	slices.SortFunc(objs, func(a, b domain.ArchiveObject) int { return strings.Compare(a.Key, b.Key) })
	return objs, nil
}

// notFound maps the SDK's missing-object errors onto domain.ErrNotFound.
// HeadObject has no body, so some providers only surface the status code.
func notFound(err error) error {
	var (
		noKey  *types.NoSuchKey
		absent *types.NotFound
		status interface{ HTTPStatusCode() int }
	)
	switch {
	case errors.As(err, &noKey), errors.As(err, &absent):
		return domain.ErrNotFound
	case errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound:
		return domain.ErrNotFound
	}
	return err
}

var _ domain.ArchiveStore = (*Store)(nil)
