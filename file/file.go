//go:build linux

// Package file provides positioned file I/O carried out through a
// uring.Runner. A File satisfies io.ReaderAt, io.WriterAt and io.Closer.
package file

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	uring "github.com/ehrlich-b/go-uring"
)

// maxChunk caps a single READ or WRITE; the SQE length field is 32 bits.
const maxChunk = 1 << 30

// File is an open file whose reads, writes, syncs and close are
// submitted to a shared runner. It is safe for concurrent use.
type File struct {
	runner *uring.Runner
	name   string
	fd     int

	mu     sync.RWMutex
	closed bool

	reads        atomic.Uint64
	writes       atomic.Uint64
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// Open opens the named file with the given flags (O_RDONLY etc.).
// O_CLOEXEC is always added.
func Open(r *uring.Runner, name string, flag int, perm os.FileMode) (*File, error) {
	fd, err := unix.Open(name, flag|unix.O_CLOEXEC, uint32(perm.Perm()))
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}
	return &File{runner: r, name: name, fd: fd}, nil
}

// Name returns the name the file was opened with.
func (f *File) Name() string {
	return f.name
}

// Fd returns the file descriptor.
func (f *File) Fd() int {
	return f.fd
}

// ReadAt implements io.ReaderAt
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.ReadAtContext(context.Background(), p, off)
}

// ReadAtContext reads len(p) bytes at off, issuing further reads after
// a short one. It returns io.EOF if the file ends first.
func (f *File) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, f.pathErr("read", uring.ErrInvalid)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return 0, f.pathErr("read", os.ErrClosed)
	}

	n := 0
	for n < len(p) {
		chunk := p[n:]
		if len(chunk) > maxChunk {
			chunk = chunk[:maxChunk]
		}
		m, err := f.runner.Read(ctx, f.fd, chunk, off+int64(n))
		f.reads.Add(1)
		f.bytesRead.Add(uint64(m))
		if err != nil {
			return n, f.pathErr("read", err)
		}
		if m == 0 {
			return n, io.EOF
		}
		n += m
	}
	return n, nil
}

// WriteAt implements io.WriterAt
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	return f.WriteAtContext(context.Background(), p, off)
}

// WriteAtContext writes all of p at off, issuing further writes after
// a short one.
func (f *File) WriteAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, f.pathErr("write", uring.ErrInvalid)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return 0, f.pathErr("write", os.ErrClosed)
	}

	n := 0
	for n < len(p) {
		chunk := p[n:]
		if len(chunk) > maxChunk {
			chunk = chunk[:maxChunk]
		}
		m, err := f.runner.Write(ctx, f.fd, chunk, off+int64(n))
		f.writes.Add(1)
		f.bytesWritten.Add(uint64(m))
		if err != nil {
			return n, f.pathErr("write", err)
		}
		if m == 0 {
			return n, f.pathErr("write", io.ErrShortWrite)
		}
		n += m
	}
	return n, nil
}

// Size returns the current file size.
func (f *File) Size() (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return 0, f.pathErr("stat", os.ErrClosed)
	}
	var st unix.Stat_t
	if err := unix.Fstat(f.fd, &st); err != nil {
		return 0, f.pathErr("stat", err)
	}
	return st.Size, nil
}

// Sync flushes file data and metadata to stable storage.
func (f *File) Sync() error {
	return f.sync(context.Background(), false)
}

// Datasync flushes file data, skipping metadata not needed to read it.
func (f *File) Datasync() error {
	return f.sync(context.Background(), true)
}

func (f *File) sync(ctx context.Context, datasync bool) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return f.pathErr("sync", os.ErrClosed)
	}
	if err := f.runner.Fsync(ctx, f.fd, datasync); err != nil {
		return f.pathErr("sync", err)
	}
	return nil
}

// Close waits for in-progress calls and closes the descriptor. Falls
// back to close(2) when the ring cannot close files.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return f.pathErr("close", os.ErrClosed)
	}
	f.closed = true

	var err error
	if f.runner.Supports(uring.OpClose) {
		err = f.runner.CloseFD(context.Background(), f.fd)
	} else {
		err = unix.Close(f.fd)
	}
	if err != nil {
		return f.pathErr("close", err)
	}
	return nil
}

// Stats returns I/O counters for this file
func (f *File) Stats() map[string]interface{} {
	size, _ := f.Size()
	return map[string]interface{}{
		"name":          f.name,
		"size":          size,
		"reads":         f.reads.Load(),
		"writes":        f.writes.Load(),
		"bytes_read":    f.bytesRead.Load(),
		"bytes_written": f.bytesWritten.Load(),
	}
}

func (f *File) pathErr(op string, err error) error {
	return &os.PathError{Op: op, Path: f.name, Err: err}
}

// Compile-time interface checks
var (
	_ io.ReaderAt = (*File)(nil)
	_ io.WriterAt = (*File)(nil)
	_ io.Closer   = (*File)(nil)
)
