package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

// Reader reads monthly archive objects back so a later run can extend them.
type Reader struct {
	client *s3.Client
	bucket string
}

func NewReader(c *Client) *Reader {
	return &Reader{client: c.S3(), bucket: c.Bucket()}
}

// Get returns the archive body. The caller closes it.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	switch {
	case err == nil:
		return out.Body, nil
	case missing(err):
		return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
	default:
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
}

// Exists reports whether an archive object is already present at path.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	if err == nil {
		return true, nil
	}
	if missing(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3blob: head %s: %w", path, err)
}

type statusCoder interface {
	HTTPStatusCode() int
}

// missing matches the typed S3 errors and, for providers that send only a
// status, a plain 404.
func missing(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	var sc statusCoder
	switch {
	case errors.As(err, &noKey), errors.As(err, &notFound):
		return true
	case errors.As(err, &sc):
		return sc.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}
