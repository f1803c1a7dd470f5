package domain

import (
	"context"
	"io"
)

// ContentTypeJSONL is the media type of archived trade history.
const ContentTypeJSONL = "application/x-ndjson"

// BlobWriter uploads one archive object. An existing object at path is
// replaced.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader fetches archive objects. Get on a missing path returns
// ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}
