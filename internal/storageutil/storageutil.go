package storageutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/pierrec/lz4/v4"
)

// ErrObjectNotFound indicates an object was not found.
var ErrObjectNotFound = errors.New("object not found")

// Timeout bounds a single compressed read or write.
const Timeout = 5 * time.Second

type ReadSizeCloser interface {
	io.Reader
	io.Closer
	Size() int64
}

// ObjectHandler provides common interface for multiple storage providers.
type ObjectHandler interface {
	// Put writes a file to the storage provider with name being the path.
	Put(ctx context.Context, name string) (io.WriteCloser, error)
	// Get reads a file from the storage provider with name being the path.
	// If a key was not found, it will return ErrObjectNotFound.
	Get(ctx context.Context, name string) (ReadSizeCloser, error)
}

// CompressedWrite encodes d as JSON, compresses it with lz4 and stores it
// under objectName.
func CompressedWrite(ctx context.Context, h ObjectHandler, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	ow, err := h.Put(ctx, objectName)
	if err != nil {
		return fmt.Errorf("storageutil: opening %s: %w", objectName, err)
	}
	zw := lz4.NewWriter(ow)
	_ = zw.Apply(lz4.CompressionLevelOption(lz4.Level9))
	if err := gojson.NewEncoder(zw).Encode(d); err != nil {
		_ = ow.Close()
		return fmt.Errorf("storageutil: encoding %s: %w", objectName, err)
	}
	if err := zw.Close(); err != nil {
		_ = ow.Close()
		return err
	}
	return ow.Close()
}

// UnmarshalCompressed reads an object written by CompressedWrite into d.
func UnmarshalCompressed(ctx context.Context, h ObjectHandler, objectName string, d interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	or, err := h.Get(ctx, objectName)
	if err != nil {
		return err
	}
	defer or.Close()
	return gojson.NewDecoder(lz4.NewReader(or)).Decode(d)
}
