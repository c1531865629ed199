package archive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/opencontainers/go-digest"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/ossyrian/xpack/internal/format"
)

// StatusFunc reports the outcome for one entry. Returning false stops the
// operation.
type StatusFunc func(name string, err error) bool

// Merge adds every entry of src to dst, keeping each entry's compression
// and encryption. With force, entries already in dst are replaced;
// otherwise they fail with ErrAlreadyExists. The returned error joins
// every failure.
func Merge(dst, src *Package, force bool, status StatusFunc) error {
	var errs []error
	for _, name := range src.Names() {
		err := copyEntry(dst, src, name, force)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to merge %s: %w", name, err))
		}
		if status != nil && !status(name, err) {
			break
		}
	}
	return errors.Join(errs...)
}

func copyEntry(dst, src *Package, name string, force bool) error {
	info, err := src.Info(name)
	if err != nil {
		return err
	}
	data, err := src.Entry(name)
	if err != nil {
		return err
	}
	if force && dst.Exists(name) {
		if err := dst.RemoveEntry(name); err != nil {
			return err
		}
	}
	return dst.AddEntry(name, data,
		info.Flags.Has(format.HashEncrypted),
		info.Flags.Has(format.HashCompressed),
	)
}

// ExtractOptions controls ExtractTo.
type ExtractOptions struct {
	// Force overwrites files that already exist.
	Force bool
	// Jobs bounds the number of files written at once. Values below 1
	// write one file at a time.
	Jobs int
	// Match selects the entries to extract. Nil extracts everything.
	Match func(name string) bool
	// Status is called after each file is written. Calls are serialized.
	Status StatusFunc
}

// ExtractTo writes the entries of p as files under dir on fs. Entries are
// read one at a time from p; files are written concurrently.
func ExtractTo(ctx context.Context, p *Package, fs afero.Fs, dir string, opts ExtractOptions) error {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create %s: %w", format.ErrIO, dir, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Jobs, 1))

	var (
		mu      sync.Mutex
		stopped bool
	)
	report := func(name string, err error) error {
		mu.Lock()
		defer mu.Unlock()
		if opts.Status != nil && !stopped && !opts.Status(name, err) {
			stopped = true
		}
		return err
	}

	for _, name := range p.Names() {
		if ctx.Err() != nil {
			break
		}
		if opts.Match != nil && !opts.Match(name) {
			continue
		}
		mu.Lock()
		halt := stopped
		mu.Unlock()
		if halt {
			break
		}

		if !filepath.IsLocal(filepath.FromSlash(name)) {
			err := fmt.Errorf("%w: entry name %q escapes %s", format.ErrFormat, name, dir)
			g.Go(func() error { return report(name, err) })
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(name))
		data, err := p.Entry(name)
		if err != nil {
			g.Go(func() error { return report(name, err) })
			continue
		}

		g.Go(func() error {
			return report(name, writeFile(fs, target, data, opts.Force))
		})
	}
	return g.Wait()
}

func writeFile(fs afero.Fs, path string, data []byte, force bool) error {
	if !force {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return fmt.Errorf("%w: failed to stat %s: %w", format.ErrIO, path, err)
		}
		if exists {
			return fmt.Errorf("%w: %s", format.ErrAlreadyExists, path)
		}
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: failed to create %s: %w", format.ErrIO, filepath.Dir(path), err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("%w: failed to write %s: %w", format.ErrIO, path, err)
	}
	return nil
}

// Optimize rebuilds the archive at path without free space. The new copy
// is written to a temporary file next to path and renamed over it. Any
// host data in front of the archive is kept.
func Optimize(path string, opts ...Option) (err error) {
	o := newOptions(opts)
	src, err := Open(path, append(slices.Clone(opts), WithReadOnly(true))...)
	if err != nil {
		return err
	}
	defer func() {
		if src != nil {
			err = errors.Join(err, src.Close())
		}
	}()

	tmp, err := afero.TempFile(o.fs, filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temporary file: %w", format.ErrIO, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = o.fs.Remove(tmpPath)
		}
	}()

	if base := src.Offset(); base > 0 {
		host := make([]byte, base)
		if err := src.ctx.stream.ReadAt(host, 0); err != nil {
			tmp.Close()
			return err
		}
		if _, err := tmp.Write(host); err != nil {
			tmp.Close()
			return fmt.Errorf("%w: failed to copy host data: %w", format.ErrIO, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close temporary file: %w", format.ErrIO, err)
	}

	dstOpts := append(slices.Clone(opts), WithCodec(src.Codec()), WithReadOnly(false), WithShrink(true))
	dst, err := OpenNew(tmpPath, dstOpts...)
	if err != nil {
		return err
	}
	if err := Merge(dst, src, false, nil); err != nil {
		return errors.Join(err, dst.Close())
	}
	if err := dst.Close(); err != nil {
		return err
	}

	before := src.Size()
	err = src.Close()
	src = nil
	if err != nil {
		return err
	}
	if err := o.fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("%w: failed to replace %s: %w", format.ErrIO, path, err)
	}
	committed = true
	o.logger.Info("optimized archive", "archive", path, "before", before, "after", dst.Size())
	return nil
}

// DiffStatus classifies one name in a Diff.
type DiffStatus int

const (
	DiffSame DiffStatus = iota
	DiffChanged
	DiffLeftOnly
	DiffRightOnly
)

func (s DiffStatus) String() string {
	switch s {
	case DiffSame:
		return "same"
	case DiffChanged:
		return "changed"
	case DiffLeftOnly:
		return "left-only"
	case DiffRightOnly:
		return "right-only"
	default:
		return "unknown"
	}
}

// DiffEntry is one line of a Diff.
type DiffEntry struct {
	Name   string
	Status DiffStatus
}

// Diff compares the entries of two archives by name. Entries present on
// both sides are compared by size and CRC, and with content also by the
// digest of their bytes.
func Diff(left, right *Package, content bool) ([]DiffEntry, error) {
	leftNames, rightNames := left.Names(), right.Names()
	inLeftSet, inRightSet := lo.Keyify(leftNames), lo.Keyify(rightNames)
	names := lo.Uniq(append(slices.Clone(leftNames), rightNames...))
	slices.Sort(names)

	out := make([]DiffEntry, 0, len(names))
	for _, name := range names {
		_, inLeft := inLeftSet[name]
		_, inRight := inRightSet[name]
		switch {
		case !inRight:
			out = append(out, DiffEntry{Name: name, Status: DiffLeftOnly})
			continue
		case !inLeft:
			out = append(out, DiffEntry{Name: name, Status: DiffRightOnly})
			continue
		}
		same, err := sameEntry(left, right, name, content)
		if err != nil {
			return nil, fmt.Errorf("failed to compare %s: %w", name, err)
		}
		status := DiffChanged
		if same {
			status = DiffSame
		}
		out = append(out, DiffEntry{Name: name, Status: status})
	}
	return out, nil
}

func sameEntry(left, right *Package, name string, content bool) (bool, error) {
	li, err := left.Info(name)
	if err != nil {
		return false, err
	}
	ri, err := right.Info(name)
	if err != nil {
		return false, err
	}
	if li.CRC != ri.CRC || li.OriginalSize != ri.OriginalSize {
		return false, nil
	}
	if !content {
		return true, nil
	}
	ld, err := EntryDigest(left, name)
	if err != nil {
		return false, err
	}
	rd, err := EntryDigest(right, name)
	if err != nil {
		return false, err
	}
	return ld == rd, nil
}

// EntryDigest returns the sha256 digest of the original bytes of name.
func EntryDigest(p *Package, name string) (digest.Digest, error) {
	data, err := p.Entry(name)
	if err != nil {
		return "", err
	}
	return digest.FromBytes(data), nil
}
