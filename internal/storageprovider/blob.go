package storageprovider

import (
	"context"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/getsentry/proxyprof/internal/storageutil"
)

// Blob implements storageutil.ObjectHandler on top of a gocloud bucket, which
// covers GCS (gs://), the local filesystem (file://) and memory (mem://).
type Blob struct {
	Bucket *blob.Bucket
}

var _ storageutil.ObjectHandler = (*Blob)(nil)

// Open opens the bucket behind url. The driver for the URL scheme has to be
// linked in by the caller.
func Open(ctx context.Context, url string) (*Blob, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Blob{Bucket: b}, nil
}

// Put writes a file to the storage provider with name being the path.
func (b *Blob) Put(ctx context.Context, name string) (io.WriteCloser, error) {
	return b.Bucket.NewWriter(ctx, name, nil)
}

// Get reads a file from the storage provider with name being the path.
// If a key was not found, it will return ErrObjectNotFound.
func (b *Blob) Get(ctx context.Context, name string) (storageutil.ReadSizeCloser, error) {
	r, err := b.Bucket.NewReader(ctx, name, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, storageutil.ErrObjectNotFound
		}
		return nil, err
	}
	return r, nil
}

func (b *Blob) Close() error {
	return b.Bucket.Close()
}
