package archive

import (
	"log/slog"

	"github.com/spf13/afero"

	"github.com/ossyrian/xpack/internal/codec"
	"github.com/ossyrian/xpack/internal/format"
)

type options struct {
	fs          afero.Fs
	logger      *slog.Logger
	hash        format.HashFunc
	contentKey  []byte
	metadataKey []byte
	codec       format.Codec
	verifyCRC   bool
	shrink      bool
	readOnly    bool
}

// Option configures a Package.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{
		fs:          afero.NewOsFs(),
		logger:      slog.Default(),
		hash:        format.HashName,
		contentKey:  codec.ContentKey,
		metadataKey: codec.MetadataKey,
		codec:       format.CodecZlib,
		verifyCRC:   true,
		shrink:      true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithFs sets the filesystem archives are opened on. The default is the
// host filesystem.
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHashFunc replaces the name hash. An archive must always be opened
// with the hash it was written with.
func WithHashFunc(h format.HashFunc) Option {
	return func(o *options) {
		o.hash = h
	}
}

// WithContentKey sets the key for entries added or read with encryption.
func WithContentKey(key []byte) Option {
	return func(o *options) {
		o.contentKey = key
	}
}

// WithMetadataKey sets the key the header and tables are encrypted with.
func WithMetadataKey(key []byte) Option {
	return func(o *options) {
		o.metadataKey = key
	}
}

// WithCodec sets the compressor recorded by OpenNew. Existing archives
// keep the codec in their header.
func WithCodec(c format.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithCRCVerify controls whether Entry checks content against its CRC.
func WithCRCVerify(verify bool) Option {
	return func(o *options) {
		o.verifyCRC = verify
	}
}

// WithShrink controls whether Flush truncates the stream to the end of the
// archive.
func WithShrink(shrink bool) Option {
	return func(o *options) {
		o.shrink = shrink
	}
}

func WithReadOnly(readOnly bool) Option {
	return func(o *options) {
		o.readOnly = readOnly
	}
}
