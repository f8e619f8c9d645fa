// Package datasource opens the raw inputs of file sources. Local paths and
// s3:// URIs are both served through the Opener interface; inputs named
// *.gz are decompressed on the fly.
package datasource

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"mergeflow/internal/datasource/file"
	"mergeflow/internal/objectstore"
)

// Opener opens one input for reading.
type Opener interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Object opens an object storage URI.
type Object struct {
	Store *objectstore.Store
	URI   string
}

func (o Object) Open(ctx context.Context) (io.ReadCloser, error) { return o.Store.Open(ctx, o.URI) }

// Gzip decompresses what Inner opens.
type Gzip struct{ Inner Opener }

func (g Gzip) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, err := g.Inner.Open(ctx)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return gzipReader{Reader: zr, raw: rc}, nil
}

type gzipReader struct {
	*gzip.Reader
	raw io.Closer
}

func (g gzipReader) Close() error { return errors.Join(g.Reader.Close(), g.raw.Close()) }

// Compressed reports whether path names a gzip input.
func Compressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(strings.SplitN(path, "?", 2)[0]), ".gz")
}

// For returns the opener for path: an Object for s3:// URIs (store must be
// non-nil then), a file.Local otherwise, wrapped in Gzip for *.gz.
func For(path string, store *objectstore.Store) Opener {
	var o Opener
	if objectstore.IsURI(path) {
		o = Object{Store: store, URI: path}
	} else {
		o = file.NewLocal(path)
	}
	if Compressed(path) {
		o = Gzip{Inner: o}
	}
	return o
}
