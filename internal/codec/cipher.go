// Package codec holds the leaf transforms applied to archive bytes: the
// CRC32 checksum, the symmetric stream cipher used for metadata and entry
// content, and the entry compressors.
package codec

import (
	"crypto/rc4"
	"encoding/binary"
	"fmt"
)

// MaxKeySize is the longest key the stream cipher accepts.
const MaxKeySize = 256

// MetadataKey encrypts the header, block table, hash table and name blob.
var MetadataKey = wordsToKey(0x43415058, 0x77073096, 0x0EDB8832, 0x79DCB8A4, 0xE0D5E91E, 0x97D2D988)

// ContentKey is the default key for entries flagged Encrypted.
var ContentKey = wordsToKey(0x43415058, 0x72073096, 0x0EDB97D2, 0x09ADB8A4, 0xE0D5B8A4, 0x97D2EDB9)

func wordsToKey(words ...uint32) []byte {
	key := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(key[i*4:], w)
	}
	return key
}

// Cipher is an RC4 stream cipher that restarts its key schedule on every
// call, so the same call both encrypts and decrypts.
//
// RC4 is kept for format compatibility. It provides obfuscation, not
// confidentiality.
type Cipher struct {
	key []byte
}

// NewCipher returns a cipher for key, which must be 1 to MaxKeySize bytes.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) == 0 || len(key) > MaxKeySize {
		return nil, fmt.Errorf("invalid cipher key length: %d", len(key))
	}
	return &Cipher{key: append([]byte(nil), key...)}, nil
}

// MustCipher is NewCipher for keys known to be valid.
func MustCipher(key []byte) *Cipher {
	c, err := NewCipher(key)
	if err != nil {
		panic(err)
	}
	return c
}

// Apply XORs src with a fresh key stream into dst. dst and src may be the
// same slice; dst must be at least len(src) bytes.
func (c *Cipher) Apply(dst, src []byte) {
	if len(src) == 0 {
		return
	}
	s, err := rc4.NewCipher(c.key)
	if err != nil {
		// key length is checked in NewCipher
		panic(fmt.Sprintf("failed to create RC4 cipher: %v", err))
	}
	s.XORKeyStream(dst, src)
}

// InPlace runs the cipher over b.
func (c *Cipher) InPlace(b []byte) {
	c.Apply(b, b)
}

// Copy returns the cipher output for src in a new slice.
func (c *Cipher) Copy(src []byte) []byte {
	out := make([]byte, len(src))
	c.Apply(out, src)
	return out
}
