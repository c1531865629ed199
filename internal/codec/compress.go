package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/ossyrian/xpack/internal/format"
)

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll
// and expensive to build, so one of each is shared.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
)

// Compress returns src compressed with c.
func Compress(c format.Codec, src []byte) ([]byte, error) {
	switch c {
	case format.CodecZlib:
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, zlib.DefaultCompression)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create zlib writer: %w", format.ErrCompress, err)
		}
		if _, err := w.Write(src); err != nil {
			return nil, fmt.Errorf("%w: failed to deflate: %w", format.ErrCompress, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("%w: failed to finish deflate: %w", format.ErrCompress, err)
		}
		return buf.Bytes(), nil
	case format.CodecZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create zstd encoder: %w", format.ErrCompress, err)
		}
		return enc.EncodeAll(src, nil), nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", format.ErrCompress, c)
	}
}

// Decompress reverses Compress. size is the expected decompressed length;
// output of any other length is an error.
func Decompress(c format.Codec, src []byte, size int) ([]byte, error) {
	var out []byte
	switch c {
	case format.CodecZlib:
		r, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open zlib stream: %w", format.ErrCompress, err)
		}
		defer r.Close()
		out = make([]byte, 0, size)
		buf := bytes.NewBuffer(out)
		// one extra byte detects streams longer than size
		if _, err := io.Copy(buf, io.LimitReader(r, int64(size)+1)); err != nil {
			return nil, fmt.Errorf("%w: failed to inflate: %w", format.ErrCompress, err)
		}
		out = buf.Bytes()
	case format.CodecZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create zstd decoder: %w", format.ErrCompress, err)
		}
		out, err = dec.DecodeAll(src, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode zstd: %w", format.ErrCompress, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", format.ErrCompress, c)
	}
	if len(out) != size {
		return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", format.ErrCompress, len(out), size)
	}
	return out, nil
}
