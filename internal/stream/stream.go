// Package stream provides the random-access byte stream an archive lives
// in. Streams are backed by afero files so archives can be kept on disk or
// in memory.
package stream

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/ossyrian/xpack/internal/format"
)

// Stream is a resizable random-access byte store.
type Stream interface {
	Name() string
	Size() (int64, error)
	Resize(size int64) error
	ReadAt(p []byte, off int64) error
	WriteAt(p []byte, off int64) error
	Flush() error
	Close() error
	ReadOnly() bool
}

// FileStream implements Stream over an afero file.
type FileStream struct {
	f        afero.File
	readOnly bool
	unlock   func() error
}

var _ Stream = (*FileStream)(nil)

// Open opens an existing file at path on fs. Both modes take an advisory
// lock where the platform supports it: shared for readers, exclusive for
// writers.
func Open(fs afero.Fs, path string, readOnly bool) (*FileStream, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	return open(fs, path, flag, readOnly)
}

// Create opens path for reading and writing, creating it if needed.
func Create(fs afero.Fs, path string) (*FileStream, error) {
	return open(fs, path, os.O_RDWR|os.O_CREATE, false)
}

func open(fs afero.Fs, path string, flag int, readOnly bool) (*FileStream, error) {
	f, err := fs.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", format.ErrIO, path, err)
	}

	unlock, err := lock(f, readOnly)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: failed to lock %s: %w", format.ErrIO, path, err)
	}

	return &FileStream{f: f, readOnly: readOnly, unlock: unlock}, nil
}

func (s *FileStream) Name() string {
	return s.f.Name()
}

func (s *FileStream) ReadOnly() bool {
	return s.readOnly
}

func (s *FileStream) Size() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to stat stream: %w", format.ErrIO, err)
	}
	return fi.Size(), nil
}

func (s *FileStream) Resize(size int64) error {
	if s.readOnly {
		return fmt.Errorf("%w: resize on read-only stream", format.ErrReadOnly)
	}
	if err := s.f.Truncate(size); err != nil {
		return fmt.Errorf("%w: failed to resize stream to %d: %w", format.ErrIO, size, err)
	}
	return nil
}

// ReadAt fills p from off. Reading past the end of the stream is an error.
func (s *FileStream) ReadAt(p []byte, off int64) error {
	if len(p) == 0 {
		return nil
	}
	n, err := s.f.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: failed to read %d bytes at %d: %w", format.ErrIO, len(p), off, err)
}

func (s *FileStream) WriteAt(p []byte, off int64) error {
	if s.readOnly {
		return fmt.Errorf("%w: write on read-only stream", format.ErrReadOnly)
	}
	if len(p) == 0 {
		return nil
	}
	if _, err := s.f.WriteAt(p, off); err != nil {
		return fmt.Errorf("%w: failed to write %d bytes at %d: %w", format.ErrIO, len(p), off, err)
	}
	return nil
}

func (s *FileStream) Flush() error {
	if s.readOnly {
		return nil
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("%w: failed to sync stream: %w", format.ErrIO, err)
	}
	return nil
}

func (s *FileStream) Close() error {
	var unlockErr error
	if s.unlock != nil {
		unlockErr = s.unlock()
		s.unlock = nil
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("%w: failed to close stream: %w", format.ErrIO, err)
	}
	if unlockErr != nil {
		return fmt.Errorf("%w: failed to unlock stream: %w", format.ErrIO, unlockErr)
	}
	return nil
}
