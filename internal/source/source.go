// Package source opens phenotype and showcase inputs for streaming.
//
// Inputs are local paths or s3://bucket/key URLs. Every Input counts the raw
// bytes consumed (for progress reporting) and fingerprints them with xxh3 so a
// run can record exactly what it ingested. A leading byte-order mark is removed
// before the caller sees the first header token.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zeebo/xxh3"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Input is an open, streaming input. It is not safe for concurrent reads, but
// Offset may be called from any goroutine.
type Input struct {
	// Name is the path or URL the input was opened from.
	Name string
	// Size is the total byte length, or -1 when unknown.
	Size int64

	body   io.ReadCloser
	r      io.Reader
	offset atomic.Int64
	hash   *xxh3.Hasher
}

// NewInput wraps an already-open body. Size may be -1.
func NewInput(name string, body io.ReadCloser, size int64) *Input {
	in := &Input{Name: name, Size: size, body: body, hash: xxh3.New()}
	in.r = transform.NewReader(rawReader{in}, unicode.BOMOverride(transform.Nop))
	return in
}

// Read implements io.Reader over the BOM-stripped stream.
func (in *Input) Read(p []byte) (int, error) {
	return in.r.Read(p)
}

// Offset reports how many raw bytes have been read from the underlying body.
func (in *Input) Offset() int64 {
	return in.offset.Load()
}

// Digest returns the xxh3 hash of the raw bytes read so far.
func (in *Input) Digest() uint64 {
	return in.hash.Sum64()
}

// Close releases the underlying body.
func (in *Input) Close() error {
	return in.body.Close()
}

type rawReader struct{ in *Input }

func (r rawReader) Read(p []byte) (int, error) {
	n, err := r.in.body.Read(p)
	if n > 0 {
		_, _ = r.in.hash.Write(p[:n])
		r.in.offset.Add(int64(n))
	}
	return n, err
}

// Opener resolves input names to Inputs. The zero value opens local files and
// builds an S3 client from the environment on first use.
type Opener struct {
	S3 S3Config

	once    sync.Once
	client  ObjectGetter
	initErr error
}

// NewOpener returns an Opener that reads S3 objects through client.
func NewOpener(client ObjectGetter) *Opener {
	o := &Opener{client: client}
	o.once.Do(func() {})
	return o
}

// Open opens name for streaming.
func (o *Opener) Open(ctx context.Context, name string) (*Input, error) {
	if strings.HasPrefix(name, "s3://") {
		return o.openS3(ctx, name)
	}
	return openLocal(name)
}

var defaultOpener = &Opener{S3: S3ConfigFromEnv()}

// Default returns the process-wide Opener configured from the environment.
func Default() *Opener {
	return defaultOpener
}

// Open opens name with the process-wide default Opener.
func Open(ctx context.Context, name string) (*Input, error) {
	return defaultOpener.Open(ctx, name)
}

func openLocal(path string) (*Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w. Please check you have the correct input", path, err)
	}
	size := int64(-1)
	if st, err := f.Stat(); err == nil && st.Mode().IsRegular() {
		size = st.Size()
	}
	return NewInput(path, f, size), nil
}

// Exists reports whether a local path exists. S3 names are assumed present and
// fail later at Open if they are not.
func Exists(name string) bool {
	if strings.HasPrefix(name, "s3://") {
		return true
	}
	_, err := os.Stat(name)
	return err == nil
}
