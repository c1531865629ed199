package archive_test

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"

	"github.com/ossyrian/xpack/internal/archive"
)

// trackingFs counts the files it has open so tests can check that every
// handle is released.
type trackingFs struct {
	afero.Fs
	open atomic.Int64
}

type trackedFile struct {
	afero.File
	fs     *trackingFs
	closed atomic.Bool
}

func (f *trackedFile) Close() error {
	if f.closed.CompareAndSwap(false, true) {
		f.fs.open.Add(-1)
	}
	return f.File.Close()
}

func (fs *trackingFs) track(f afero.File, err error) (afero.File, error) {
	if err != nil {
		return nil, err
	}
	fs.open.Add(1)
	return &trackedFile{File: f, fs: fs}, nil
}

func (fs *trackingFs) Create(name string) (afero.File, error) {
	return fs.track(fs.Fs.Create(name))
}

func (fs *trackingFs) Open(name string) (afero.File, error) {
	return fs.track(fs.Fs.Open(name))
}

func (fs *trackingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	return fs.track(fs.Fs.OpenFile(name, flag, perm))
}

// newTestFs returns an in-memory filesystem that fails the test if any
// file is still open when the test ends.
func newTestFs(t *testing.T) *trackingFs {
	t.Helper()
	fs := &trackingFs{Fs: afero.NewMemMapFs()}
	t.Cleanup(func() {
		if n := fs.open.Load(); n != 0 {
			t.Errorf("%d files left open", n)
		}
	})
	return fs
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(fs afero.Fs, extra ...archive.Option) []archive.Option {
	return append([]archive.Option{
		archive.WithFs(fs),
		archive.WithLogger(quietLogger()),
	}, extra...)
}
