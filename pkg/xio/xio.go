package xio

import (
	"context"
	"hash"
	"io"
	"sync"
)

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Copy copies src to dst and gives up between reads once ctx is done.
func Copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, ctxReader{ctx: ctx, r: src})
}

// ProgressWriter counts the bytes written through it and reports them
// together with the expected total. When a hash is set every chunk is
// also fed into it so the digest is ready once the copy is done.
type ProgressWriter struct {
	mu       sync.Mutex
	total    int64
	written  int64
	hash     hash.Hash
	callback func(written, total int64)
}

func NewProgressWriter(total int64, h hash.Hash, callback func(written, total int64)) *ProgressWriter {
	return &ProgressWriter{
		total:    total,
		hash:     h,
		callback: callback,
	}
}

func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n := len(p)
	if pw.hash != nil {
		var err error
		n, err = pw.hash.Write(p)
		if err != nil {
			return n, err
		}
	}

	pw.mu.Lock()
	pw.written += int64(n)
	written, total := pw.written, pw.total
	pw.mu.Unlock()

	if pw.callback != nil {
		pw.callback(written, total)
	}
	return n, nil
}

func (pw *ProgressWriter) Written() int64 {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.written
}
