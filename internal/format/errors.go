package format

import "errors"

// Error kinds. Every error returned by the archive satisfies errors.Is
// against exactly one of these.
var (
	// ErrIO is returned when the underlying stream fails to read or write.
	ErrIO = errors.New("xpack: io error")

	// ErrMemory is returned when a size exceeds what the format can address.
	ErrMemory = errors.New("xpack: memory error")

	// ErrFormat is returned when a signature, header, or table is invalid.
	ErrFormat = errors.New("xpack: invalid archive")

	// ErrVersion is returned for an unsupported signature version.
	ErrVersion = errors.New("xpack: version not supported")

	// ErrCRC is returned when entry content fails its checksum.
	ErrCRC = errors.New("xpack: crc check failed")

	// ErrAlreadyExists is returned when adding a name that is present.
	ErrAlreadyExists = errors.New("xpack: entry already exists")

	// ErrNotExists is returned when a name is not present.
	ErrNotExists = errors.New("xpack: entry does not exist")

	// ErrCompress is returned when the codec fails.
	ErrCompress = errors.New("xpack: compression failed")

	// ErrReadOnly is returned when mutating a read-only archive.
	ErrReadOnly = errors.New("xpack: archive is read-only")

	// ErrClosed is returned when using a closed archive.
	ErrClosed = errors.New("xpack: archive is closed")
)
