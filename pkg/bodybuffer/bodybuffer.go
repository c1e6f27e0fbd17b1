// Package bodybuffer makes request bodies re-readable. Small bodies are kept
// in pooled memory buffers; bodies above the threshold spill to a temporary
// file so large payloads do not pin big heap allocations for the lifetime of
// a request.
package bodybuffer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/afero"
)

// DefaultThreshold is the largest body kept in memory.
const DefaultThreshold int64 = 30 * 1024

// Body is a fully buffered request body that can be rewound any number of
// times until it is closed.
type Body interface {
	io.ReadSeekCloser
	// Size reports the number of buffered bytes.
	Size() int64
	// Text returns the whole body and leaves the read position at the start.
	Text() (string, error)
}

// Pool owns the buffers and the spill location used by Buffer. A Pool is
// created once and injected wherever bodies need buffering.
type Pool struct {
	fs        afero.Fs
	dir       string
	threshold int64
	buffers   sync.Pool
}

// Option configures a Pool.
type Option func(*Pool)

// WithThreshold sets the in-memory size limit.
func WithThreshold(n int64) Option {
	return func(p *Pool) {
		if n > 0 {
			p.threshold = n
		}
	}
}

// WithFs sets the filesystem used for spilled bodies.
func WithFs(fs afero.Fs) Option {
	return func(p *Pool) {
		p.fs = fs
	}
}

// WithTempDir sets the directory spilled bodies are written to. An empty
// dir means os.TempDir().
func WithTempDir(dir string) Option {
	return func(p *Pool) {
		p.dir = dir
	}
}

// NewPool creates a buffer pool backed by the OS filesystem unless WithFs is given.
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		fs:        afero.NewOsFs(),
		threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.dir == "" {
		p.dir = os.TempDir()
	}
	p.buffers.New = func() any {
		return new(bytes.Buffer)
	}
	return p
}

// Threshold reports the in-memory size limit.
func (p *Pool) Threshold() int64 {
	return p.threshold
}

// Buffer drains r into a re-readable Body. The caller must Close the result.
func (p *Pool) Buffer(ctx context.Context, r io.Reader) (Body, error) {
	if r == nil {
		r = bytes.NewReader(nil)
	}
	r = &contextReader{ctx: ctx, r: r}

	buf := p.getBuffer()
	n, err := io.CopyN(buf, r, p.threshold+1)
	if err != nil && err != io.EOF {
		p.putBuffer(buf)
		return nil, fmt.Errorf("buffer request body: %w", err)
	}
	if n <= p.threshold {
		return &memoryBody{pool: p, buf: buf, r: bytes.NewReader(buf.Bytes())}, nil
	}

	f, err := afero.TempFile(p.fs, p.dir, "request-body-*")
	if err != nil {
		p.putBuffer(buf)
		return nil, fmt.Errorf("create body spill file: %w", err)
	}
	body := &fileBody{fs: p.fs, f: f}

	_, err = f.Write(buf.Bytes())
	p.putBuffer(buf)
	if err == nil {
		_, err = io.Copy(f, r)
	}
	if err == nil {
		body.size, err = f.Seek(0, io.SeekCurrent)
	}
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		_ = body.Close()
		return nil, fmt.Errorf("spill request body: %w", err)
	}
	return body, nil
}

func (p *Pool) getBuffer() *bytes.Buffer {
	buf := p.buffers.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func (p *Pool) putBuffer(buf *bytes.Buffer) {
	// Oversized buffers are left to the GC.
	if int64(buf.Cap()) > 4*p.threshold {
		return
	}
	buf.Reset()
	p.buffers.Put(buf)
}

type memoryBody struct {
	pool   *Pool
	buf    *bytes.Buffer
	r      *bytes.Reader
	closed bool
}

func (b *memoryBody) Read(p []byte) (int, error) {
	if b.closed {
		return 0, os.ErrClosed
	}
	return b.r.Read(p)
}

func (b *memoryBody) Seek(offset int64, whence int) (int64, error) {
	if b.closed {
		return 0, os.ErrClosed
	}
	return b.r.Seek(offset, whence)
}

func (b *memoryBody) Size() int64 {
	return b.r.Size()
}

func (b *memoryBody) Text() (string, error) {
	if b.closed {
		return "", os.ErrClosed
	}
	if _, err := b.r.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return b.buf.String(), nil
}

func (b *memoryBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.pool.putBuffer(b.buf)
	b.buf = nil
	return nil
}

type fileBody struct {
	fs     afero.Fs
	f      afero.File
	size   int64
	closed bool
}

func (b *fileBody) Read(p []byte) (int, error) {
	return b.f.Read(p)
}

func (b *fileBody) Seek(offset int64, whence int) (int64, error) {
	return b.f.Seek(offset, whence)
}

func (b *fileBody) Size() int64 {
	return b.size
}

func (b *fileBody) Text() (string, error) {
	if _, err := b.f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(b.f)
	if err != nil {
		return "", err
	}
	if _, err := b.f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return string(data), nil
}

func (b *fileBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	name := b.f.Name()
	closeErr := b.f.Close()
	if err := b.fs.Remove(name); err != nil {
		return err
	}
	return closeErr
}

// contextReader stops reading once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
